package filter

import (
	"fmt"
	"strings"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/ir"
)

// Validate checks that f is well formed. When schema is non-nil, every
// referenced column must exist and every literal must match the column type.
//
// Rules:
//  1. Column names are non-empty and contain no double quote or NUL
//  2. Compare values are non-null scalars; ops are one of eq..gte
//  3. InSet lists are non-empty and null-free
//  4. AllOf/AnyOf have at least one child
//  5. Ordering directions are asc, desc or empty (asc)
//
// Violations are programming errors and yield a VALIDATION error.
// Validate is a pure function with no side effects.
func Validate(f Filter, schema *ir.Schema) error {
	v := &validator{schema: schema}
	if err := v.condition(f.where(), "where"); err != nil {
		return err
	}
	for i, o := range f.Ordering {
		path := fmt.Sprintf("order[%d]", i)
		if err := v.column(o.Column, path); err != nil {
			return err
		}
		switch normDirection(o.Direction) {
		case Asc, Desc:
		default:
			return v.fail(path, "unknown direction %q", o.Direction)
		}
	}
	return nil
}

type validator struct {
	schema *ir.Schema
}

func (v *validator) fail(path, format string, args ...any) error {
	err := dberr.Validation("filter %s: %s", path, fmt.Sprintf(format, args...))
	if v.schema != nil {
		err.Table = v.schema.Table.Name
	}
	return err
}

func (v *validator) column(name, path string) error {
	if name == "" {
		return v.fail(path, "empty column name")
	}
	if strings.ContainsAny(name, "\"\x00") {
		return v.fail(path, "invalid column name %q", name)
	}
	if v.schema != nil {
		if _, ok := v.schema.Column(name); !ok {
			return v.fail(path, "unknown column %q", name)
		}
	}
	return nil
}

// literal checks a comparison literal against the column's type.
func (v *validator) literal(column string, val ir.Value, path string) error {
	if ir.IsNull(val) {
		return v.fail(path, "comparison against null on %q (use IsNull)", column)
	}
	if !ir.IsScalar(val) {
		return v.fail(path, "%T is not a scalar", val)
	}
	if v.schema != nil {
		col, _ := v.schema.Column(column)
		if !col.Type.Accepts(val) {
			return v.fail(path, "column %q is %s, got %T", column, col.Type, val)
		}
	}
	return nil
}

func (v *validator) condition(c Condition, path string) error {
	switch n := deref(c).(type) {
	case nil:
		return v.fail(path, "nil condition")
	case Always:
		return nil
	case Compare:
		switch n.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		default:
			return v.fail(path, "unknown operator %q", n.Op)
		}
		if err := v.column(n.Column, path); err != nil {
			return err
		}
		return v.literal(n.Column, n.Value, path)
	case InSet:
		if err := v.column(n.Column, path); err != nil {
			return err
		}
		if len(n.Values) == 0 {
			return v.fail(path, "empty IN list on %q", n.Column)
		}
		for i, val := range n.Values {
			if err := v.literal(n.Column, val, fmt.Sprintf("%s.values[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case NullCheck:
		return v.column(n.Column, path)
	case LikeMatch:
		return v.column(n.Column, path)
	case AllOf:
		return v.children(n.Conditions, path, "AND")
	case AnyOf:
		return v.children(n.Conditions, path, "OR")
	default:
		return v.fail(path, "unsupported condition type %T", c)
	}
}

func (v *validator) children(conds []Condition, path, kind string) error {
	if len(conds) == 0 {
		return v.fail(path, "empty %s", kind)
	}
	for i, c := range conds {
		if err := v.condition(c, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}
