package filter

import (
	"fmt"
	"slices"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/ir"
)

// Descriptor is the compiled, serializable form of a filter.
//
// Canonical is RFC 8785 JSON and Key is its domain-separated SHA-256.
// Two filters share a table view iff their Keys are equal.
type Descriptor struct {
	Canonical []byte
	Key       string
}

// String returns the canonical JSON.
func (d Descriptor) String() string {
	return string(d.Canonical)
}

// Compile validates f (without a schema) and produces its descriptor.
//
// Encoding:
//
//	{"order":[{"column":"name","dir":"asc"}],"where":<node>}
//	node = {"op":"all"}
//	     | {"op":"eq"|"ne"|"lt"|"lte"|"gt"|"gte","column":c,"value":v}
//	     | {"op":"in"|"not_in","column":c,"values":[v...]}
//	     | {"op":"is_null"|"is_not_null","column":c}
//	     | {"op":"like"|"not_like","column":c,"pattern":p}
//	     | {"op":"and"|"or","conditions":[node...]}
//
// An empty direction is encoded as "asc" and a nil Where as {"op":"all"},
// so filters that evaluate identically in those respects share a key.
func Compile(f Filter) (Descriptor, error) {
	if err := Validate(f, nil); err != nil {
		return Descriptor{}, err
	}
	obj := Encode(f)
	canonical, err := ir.MarshalCanonical(obj)
	if err != nil {
		return Descriptor{}, dberr.Validation("filter: %v", err)
	}
	return Descriptor{Canonical: canonical, Key: ir.FilterKey(canonical)}, nil
}

// MustCompile is like Compile but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCompile(f Filter) Descriptor {
	d, err := Compile(f)
	if err != nil {
		panic(err)
	}
	return d
}

// Encode converts f to its descriptor object. f is assumed valid.
func Encode(f Filter) ir.Object {
	order := make(ir.Array, len(f.Ordering))
	for i, o := range f.Ordering {
		order[i] = ir.Object{
			"column": ir.String(o.Column),
			"dir":    ir.String(normDirection(o.Direction)),
		}
	}
	return ir.Object{
		"where": encodeCondition(f.where()),
		"order": order,
	}
}

func encodeCondition(c Condition) ir.Object {
	switch n := deref(c).(type) {
	case Compare:
		return ir.Object{"op": ir.String(n.Op), "column": ir.String(n.Column), "value": n.Value}
	case InSet:
		op := "in"
		if n.Negate {
			op = "not_in"
		}
		return ir.Object{"op": ir.String(op), "column": ir.String(n.Column), "values": ir.Array(slices.Clone(n.Values))}
	case NullCheck:
		op := "is_null"
		if n.Negate {
			op = "is_not_null"
		}
		return ir.Object{"op": ir.String(op), "column": ir.String(n.Column)}
	case LikeMatch:
		op := "like"
		if n.Negate {
			op = "not_like"
		}
		return ir.Object{"op": ir.String(op), "column": ir.String(n.Column), "pattern": ir.String(n.Pattern)}
	case AllOf:
		return ir.Object{"op": ir.String("and"), "conditions": encodeChildren(n.Conditions)}
	case AnyOf:
		return ir.Object{"op": ir.String("or"), "conditions": encodeChildren(n.Conditions)}
	default:
		return ir.Object{"op": ir.String("all")}
	}
}

func encodeChildren(conds []Condition) ir.Array {
	out := make(ir.Array, len(conds))
	for i, c := range conds {
		out[i] = encodeCondition(c)
	}
	return out
}

// ParseDescriptor decodes descriptor JSON back into a Filter and validates it.
// Unknown keys, missing keys and wrongly typed values are VALIDATION errors.
func ParseDescriptor(data []byte) (Filter, error) {
	v, err := ir.UnmarshalValue(data)
	if err != nil {
		return Filter{}, dberr.Validation("descriptor: %v", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return Filter{}, dberr.Validation("descriptor: expected object, got %T", v)
	}
	f, err := Decode(obj)
	if err != nil {
		return Filter{}, err
	}
	if err := Validate(f, nil); err != nil {
		return Filter{}, err
	}
	return f, nil
}

// Decode converts a descriptor object into a Filter without validating it.
// "order" and "where" are both optional.
func Decode(obj ir.Object) (Filter, error) {
	d := decoder{}
	if err := d.keys(obj, "descriptor", "where", "order"); err != nil {
		return Filter{}, err
	}

	var f Filter
	if w, ok := obj["where"]; ok {
		c, err := d.condition(w, "where")
		if err != nil {
			return Filter{}, err
		}
		f.Where = c
	}
	if o, ok := obj["order"]; ok {
		arr, ok := o.(ir.Array)
		if !ok {
			return Filter{}, d.fail("order", "expected array, got %T", o)
		}
		for i, elem := range arr {
			path := fmt.Sprintf("order[%d]", i)
			term, ok := elem.(ir.Object)
			if !ok {
				return Filter{}, d.fail(path, "expected object, got %T", elem)
			}
			if err := d.keys(term, path, "column", "dir"); err != nil {
				return Filter{}, err
			}
			col, err := d.str(term, "column", path, true)
			if err != nil {
				return Filter{}, err
			}
			dir, err := d.str(term, "dir", path, false)
			if err != nil {
				return Filter{}, err
			}
			f.Ordering = append(f.Ordering, Order{Column: col, Direction: Direction(dir)})
		}
	}
	return f, nil
}

type decoder struct{}

func (decoder) fail(path, format string, args ...any) error {
	return dberr.Validation("descriptor %s: %s", path, fmt.Sprintf(format, args...))
}

// keys rejects keys outside allowed.
func (d decoder) keys(obj ir.Object, path string, allowed ...string) error {
	for _, k := range obj.SortedKeys() {
		if !slices.Contains(allowed, k) {
			return d.fail(path, "unknown key %q", k)
		}
	}
	return nil
}

func (d decoder) str(obj ir.Object, key, path string, required bool) (string, error) {
	v, ok := obj[key]
	if !ok {
		if required {
			return "", d.fail(path, "missing %q", key)
		}
		return "", nil
	}
	s, ok := v.(ir.String)
	if !ok {
		return "", d.fail(path, "%q must be a string, got %T", key, v)
	}
	return string(s), nil
}

func (d decoder) condition(v ir.Value, path string) (Condition, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, d.fail(path, "expected object, got %T", v)
	}
	op, err := d.str(obj, "op", path, true)
	if err != nil {
		return nil, err
	}

	switch op {
	case "all":
		if err := d.keys(obj, path, "op"); err != nil {
			return nil, err
		}
		return Always{}, nil

	case "eq", "ne", "lt", "lte", "gt", "gte":
		if err := d.keys(obj, path, "op", "column", "value"); err != nil {
			return nil, err
		}
		col, err := d.str(obj, "column", path, true)
		if err != nil {
			return nil, err
		}
		val, ok := obj["value"]
		if !ok {
			return nil, d.fail(path, "missing %q", "value")
		}
		return Compare{Column: col, Op: Op(op), Value: val}, nil

	case "in", "not_in":
		if err := d.keys(obj, path, "op", "column", "values"); err != nil {
			return nil, err
		}
		col, err := d.str(obj, "column", path, true)
		if err != nil {
			return nil, err
		}
		vals, ok := obj["values"].(ir.Array)
		if !ok {
			return nil, d.fail(path, "%q must be an array", "values")
		}
		return InSet{Column: col, Values: slices.Clone([]ir.Value(vals)), Negate: op == "not_in"}, nil

	case "is_null", "is_not_null":
		if err := d.keys(obj, path, "op", "column"); err != nil {
			return nil, err
		}
		col, err := d.str(obj, "column", path, true)
		if err != nil {
			return nil, err
		}
		return NullCheck{Column: col, Negate: op == "is_not_null"}, nil

	case "like", "not_like":
		if err := d.keys(obj, path, "op", "column", "pattern"); err != nil {
			return nil, err
		}
		col, err := d.str(obj, "column", path, true)
		if err != nil {
			return nil, err
		}
		pat, err := d.str(obj, "pattern", path, true)
		if err != nil {
			return nil, err
		}
		return LikeMatch{Column: col, Pattern: pat, Negate: op == "not_like"}, nil

	case "and", "or":
		if err := d.keys(obj, path, "op", "conditions"); err != nil {
			return nil, err
		}
		arr, ok := obj["conditions"].(ir.Array)
		if !ok {
			return nil, d.fail(path, "%q must be an array", "conditions")
		}
		children := make([]Condition, len(arr))
		for i, elem := range arr {
			c, err := d.condition(elem, fmt.Sprintf("%s.conditions[%d]", path, i))
			if err != nil {
				return nil, err
			}
			children[i] = c
		}
		if op == "and" {
			return AllOf{Conditions: children}, nil
		}
		return AnyOf{Conditions: children}, nil

	default:
		return nil, d.fail(path, "unknown op %q", op)
	}
}
