package ir

import (
	"encoding/json"
	"fmt"
	"maps"
)

// TableRef identifies a relation in the store. Stable for process lifetime.
type TableRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (t TableRef) String() string {
	return t.Name
}

// Row is one entity's column values. ID is carried out of band and is
// unique within the row's table; Values never contains an "id" key.
type Row struct {
	ID     int64
	Values map[string]Value
}

// NewRow builds a row from column values. An "id" entry, if present,
// is ignored; use the id argument.
func NewRow(id int64, values map[string]Value) Row {
	r := Row{ID: id, Values: make(map[string]Value, len(values))}
	for k, v := range values {
		if k == "id" {
			continue
		}
		r.Values[k] = v
	}
	return r
}

// Get returns the value of a column. "id" yields Int(ID); absent columns
// read as Null.
func (r Row) Get(column string) Value {
	if column == "id" {
		return Int(r.ID)
	}
	if v, ok := r.Values[column]; ok && v != nil {
		return v
	}
	return Null{}
}

// Clone returns a copy whose Values map is independent of r's.
func (r Row) Clone() Row {
	return Row{ID: r.ID, Values: maps.Clone(r.Values)}
}

// With returns a copy of r with the given columns overwritten.
func (r Row) With(patch map[string]Value) Row {
	out := r.Clone()
	if out.Values == nil {
		out.Values = make(map[string]Value, len(patch))
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		out.Values[k] = v
	}
	return out
}

// Equal reports whether two rows have the same id and column values.
// A missing column equals an explicit Null.
func (r Row) Equal(o Row) bool {
	if r.ID != o.ID {
		return false
	}
	for k, v := range r.Values {
		if !Equal(v, o.Get(k)) {
			return false
		}
	}
	for k, v := range o.Values {
		if !Equal(v, r.Get(k)) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the row as a flat object including "id".
func (r Row) MarshalJSON() ([]byte, error) {
	obj := make(Object, len(r.Values)+1)
	for k, v := range r.Values {
		obj[k] = v
	}
	obj["id"] = Int(r.ID)
	return obj.MarshalJSON()
}

// UnmarshalJSON decodes a flat object. A missing or null "id" leaves ID zero.
func (r *Row) UnmarshalJSON(data []byte) error {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	row, err := RowFromObject(obj)
	if err != nil {
		return err
	}
	*r = row
	return nil
}

// RowFromObject splits the "id" entry out of a flat object.
func RowFromObject(obj Object) (Row, error) {
	var row Row
	switch id := obj["id"].(type) {
	case nil, Null:
	case Int:
		row.ID = int64(id)
	default:
		return Row{}, fmt.Errorf("row id must be an integer, got %T", id)
	}
	row.Values = make(map[string]Value, len(obj))
	for k, v := range obj {
		if k == "id" {
			continue
		}
		if !IsScalar(v) {
			return Row{}, fmt.Errorf("column %q: %T is not a scalar", k, v)
		}
		row.Values[k] = v
	}
	return row, nil
}
