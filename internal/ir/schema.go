package ir

import (
	"fmt"
	"maps"
	"slices"
)

// ColumnType is the scalar type a column holds.
type ColumnType string

const (
	TypeString ColumnType = "string"
	TypeInt    ColumnType = "int"
	TypeBool   ColumnType = "bool"
)

// Accepts reports whether a non-null value can be stored in the column type.
func (t ColumnType) Accepts(v Value) bool {
	switch v.(type) {
	case String:
		return t == TypeString
	case Int:
		return t == TypeInt
	case Bool:
		return t == TypeBool
	default:
		return false
	}
}

// SQLType returns the SQLite column affinity for the type.
func (t ColumnType) SQLType() string {
	switch t {
	case TypeString:
		return "TEXT"
	case TypeInt, TypeBool:
		return "INTEGER"
	default:
		return "BLOB"
	}
}

// Column describes one non-id column. References names a table whose id
// the column must hold (a foreign key); only int columns may reference.
type Column struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	Nullable   bool       `json:"nullable,omitempty"`
	References string     `json:"references,omitempty"`
}

// Schema describes the shape of a table's rows. The "id" column is implicit.
type Schema struct {
	Table   TableRef `json:"table"`
	Columns []Column `json:"columns"`
}

// Column looks up a column by name. "id" is reported as a non-null int.
func (s *Schema) Column(name string) (Column, bool) {
	if name == "id" {
		return Column{Name: "id", Type: TypeInt}, true
	}
	i := slices.IndexFunc(s.Columns, func(c Column) bool { return c.Name == name })
	if i < 0 {
		return Column{}, false
	}
	return s.Columns[i], true
}

// ColumnNames returns the non-id column names in declaration order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// ValidateRow checks a full row: every value must belong to a declared
// column and match its type; non-nullable columns must be present and
// non-null. The returned error describes the first violation.
func (s *Schema) ValidateRow(r Row) error {
	if err := s.ValidatePatch(r.Values); err != nil {
		return err
	}
	for _, c := range s.Columns {
		if !c.Nullable && IsNull(r.Get(c.Name)) {
			return fmt.Errorf("%s.%s: null in non-nullable column", s.Table.Name, c.Name)
		}
	}
	return nil
}

// ValidatePatch checks a partial set of column values.
func (s *Schema) ValidatePatch(values map[string]Value) error {
	for _, name := range slices.Sorted(maps.Keys(values)) {
		v := values[name]
		if name == "id" {
			return fmt.Errorf("%s: id cannot be set as a column", s.Table.Name)
		}
		c, ok := s.Column(name)
		if !ok {
			return fmt.Errorf("%s: unknown column %q", s.Table.Name, name)
		}
		if IsNull(v) {
			if !c.Nullable {
				return fmt.Errorf("%s.%s: null in non-nullable column", s.Table.Name, name)
			}
			continue
		}
		if !c.Type.Accepts(v) {
			return fmt.Errorf("%s.%s: expected %s, got %T", s.Table.Name, name, c.Type, v)
		}
	}
	return nil
}

// Catalog indexes table schemas by name and id.
type Catalog struct {
	byName map[string]*Schema
	byID   map[int64]*Schema
	order  []string
}

// NewCatalog builds a catalog. Duplicate names or ids are rejected.
func NewCatalog(schemas ...Schema) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]*Schema, len(schemas)),
		byID:   make(map[int64]*Schema, len(schemas)),
	}
	for i := range schemas {
		s := schemas[i]
		if s.Table.Name == "" {
			return nil, fmt.Errorf("schema %d: empty table name", i)
		}
		if _, dup := c.byName[s.Table.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", s.Table.Name)
		}
		if _, dup := c.byID[s.Table.ID]; dup {
			return nil, fmt.Errorf("duplicate table id %d (%s)", s.Table.ID, s.Table.Name)
		}
		seen := map[string]bool{}
		for _, col := range s.Columns {
			if col.Name == "" || col.Name == "id" || seen[col.Name] {
				return nil, fmt.Errorf("%s: invalid or duplicate column %q", s.Table.Name, col.Name)
			}
			seen[col.Name] = true
			if col.References != "" && col.Type != TypeInt {
				return nil, fmt.Errorf("%s.%s: only int columns may reference a table", s.Table.Name, col.Name)
			}
		}
		c.byName[s.Table.Name] = &s
		c.byID[s.Table.ID] = &s
		c.order = append(c.order, s.Table.Name)
	}
	for _, s := range c.byName {
		for _, col := range s.Columns {
			if col.References != "" {
				if _, ok := c.byName[col.References]; !ok {
					return nil, fmt.Errorf("%s.%s: references unknown table %q", s.Table.Name, col.Name, col.References)
				}
			}
		}
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCatalog(schemas ...Schema) *Catalog {
	c, err := NewCatalog(schemas...)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the schema for a table name.
func (c *Catalog) Lookup(name string) (*Schema, bool) {
	if c == nil {
		return nil, false
	}
	s, ok := c.byName[name]
	return s, ok
}

// LookupID returns the schema for a table id.
func (c *Catalog) LookupID(id int64) (*Schema, bool) {
	if c == nil {
		return nil, false
	}
	s, ok := c.byID[id]
	return s, ok
}

// Schemas returns all schemas in registration order.
func (c *Catalog) Schemas() []*Schema {
	if c == nil {
		return nil
	}
	out := make([]*Schema, len(c.order))
	for i, name := range c.order {
		out[i] = c.byName[name]
	}
	return out
}
