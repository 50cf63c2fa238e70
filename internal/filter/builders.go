package filter

import (
	"slices"

	"github.com/roach88/liveview/internal/ir"
)

// New returns a filter with the given condition and no explicit ordering.
func New(where Condition) Filter {
	return Filter{Where: where}
}

// OrderBy returns a copy of f with an ordering term appended.
func (f Filter) OrderBy(column string, dir Direction) Filter {
	f.Ordering = append(slices.Clone(f.Ordering), Order{Column: column, Direction: dir})
	return f
}

// MatchAll returns the filter matching every row, ordered by id.
func MatchAll() Filter {
	return Filter{Where: Always{}}
}

// All returns the condition matching every row.
func All() Condition { return Always{} }

func Eq(column string, v ir.Value) Condition  { return Compare{Column: column, Op: OpEq, Value: v} }
func Ne(column string, v ir.Value) Condition  { return Compare{Column: column, Op: OpNe, Value: v} }
func Lt(column string, v ir.Value) Condition  { return Compare{Column: column, Op: OpLt, Value: v} }
func Lte(column string, v ir.Value) Condition { return Compare{Column: column, Op: OpLte, Value: v} }
func Gt(column string, v ir.Value) Condition  { return Compare{Column: column, Op: OpGt, Value: v} }
func Gte(column string, v ir.Value) Condition { return Compare{Column: column, Op: OpGte, Value: v} }

func In(column string, values ...ir.Value) Condition {
	return InSet{Column: column, Values: slices.Clone(values)}
}

func NotIn(column string, values ...ir.Value) Condition {
	return InSet{Column: column, Values: slices.Clone(values), Negate: true}
}

func IsNull(column string) Condition    { return NullCheck{Column: column} }
func IsNotNull(column string) Condition { return NullCheck{Column: column, Negate: true} }

func Like(column, pattern string) Condition {
	return LikeMatch{Column: column, Pattern: pattern}
}

func NotLike(column, pattern string) Condition {
	return LikeMatch{Column: column, Pattern: pattern, Negate: true}
}

func And(conds ...Condition) Condition { return AllOf{Conditions: slices.Clone(conds)} }
func Or(conds ...Condition) Condition  { return AnyOf{Conditions: slices.Clone(conds)} }
