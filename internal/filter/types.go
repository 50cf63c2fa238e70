package filter

import "github.com/roach88/liveview/internal/ir"

// Condition is a node of a filter's condition tree.
//
// This is a sealed interface - only types in this package implement it.
// Both value and pointer forms are accepted wherever a Condition is consumed.
type Condition interface {
	conditionNode()
}

// Always matches every row.
type Always struct{}

func (Always) conditionNode() {}

// Op is a binary comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
)

// Compare is <column> <op> <value>. Value must be a non-null scalar;
// use Null to test for nullness.
type Compare struct {
	Column string
	Op     Op
	Value  ir.Value
}

func (Compare) conditionNode() {}

// InSet is set membership: <column> [NOT] IN (<values>).
// Values must be non-empty and contain no nulls.
type InSet struct {
	Column string
	Values []ir.Value
	Negate bool
}

func (InSet) conditionNode() {}

// NullCheck is <column> IS [NOT] NULL.
type NullCheck struct {
	Column string
	Negate bool
}

func (NullCheck) conditionNode() {}

// LikeMatch is <column> [NOT] LIKE <pattern>.
type LikeMatch struct {
	Column  string
	Pattern string
	Negate  bool
}

func (LikeMatch) conditionNode() {}

// AllOf is a conjunction (AND). Must have at least one child.
type AllOf struct {
	Conditions []Condition
}

func (AllOf) conditionNode() {}

// AnyOf is a disjunction (OR). Must have at least one child.
type AnyOf struct {
	Conditions []Condition
}

func (AnyOf) conditionNode() {}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Order is one ordering term.
type Order struct {
	Column    string
	Direction Direction
}

// Filter is a condition tree plus ordering. A nil Where matches all rows.
// Ties are always broken by id ascending.
type Filter struct {
	Where    Condition
	Ordering []Order
}

// deref normalizes pointer forms to values.
func deref(c Condition) Condition {
	switch n := c.(type) {
	case *Always:
		return Always{}
	case *Compare:
		return *n
	case *InSet:
		return *n
	case *NullCheck:
		return *n
	case *LikeMatch:
		return *n
	case *AllOf:
		return *n
	case *AnyOf:
		return *n
	}
	return c
}

// where returns the filter's condition with nil normalized to Always.
func (f Filter) where() Condition {
	if f.Where == nil {
		return Always{}
	}
	return deref(f.Where)
}

func normDirection(d Direction) Direction {
	if d == "" {
		return Asc
	}
	return d
}
