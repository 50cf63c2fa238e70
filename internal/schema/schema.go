// Package schema loads table catalogs from CUE.
//
// A catalog file declares each table under "table" with a unique positive
// id, its columns in order, and optional foreign keys:
//
//	table: edges: {
//		id: 2
//		columns: {
//			source: int
//			label:  string | null
//		}
//		references: source: "nodes"
//	}
//
// Column types are string, int and bool; "| null" makes a column nullable.
// The id column is implicit. Floats are rejected.
package schema

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/liveview/internal/ir"
)

//go:embed tables.cue
var defaultTables []byte

// Default returns the built-in catalog.
func Default() *ir.Catalog {
	c, err := Parse("tables.cue", defaultTables)
	if err != nil {
		panic(fmt.Sprintf("schema: built-in catalog: %v", err))
	}
	return c
}

// Load reads a catalog from a .cue file or from the CUE package in a
// directory.
func Load(path string) (*ir.Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		return Parse(path, src)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, fmt.Errorf("schema: no CUE instances in %s", path)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("schema: loading %s: %w", path, formatCUEError(err))
	}
	v := cuecontext.New().BuildInstance(instances[0])
	return compile(v)
}

// Parse compiles catalog source. filename is used in error positions.
func Parse(filename string, src []byte) (*ir.Catalog, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	return compile(v)
}

func compile(v cue.Value) (*ir.Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	schemas, err := CompileTables(v)
	if err != nil {
		return nil, err
	}
	c, err := ir.NewCatalog(schemas...)
	if err != nil {
		return nil, &CompileError{Field: "table", Message: err.Error(), Pos: v.Pos()}
	}
	return c, nil
}

// CompileTables extracts the schemas declared under "table" in
// declaration order.
func CompileTables(v cue.Value) ([]ir.Schema, error) {
	tables := v.LookupPath(cue.ParsePath("table"))
	if !tables.Exists() {
		return nil, &CompileError{Field: "table", Message: "no tables declared", Pos: v.Pos()}
	}
	iter, err := tables.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ir.Schema
	for iter.Next() {
		s, err := compileTable(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func compileTable(name string, v cue.Value) (ir.Schema, error) {
	field := "table." + name

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return ir.Schema{}, &CompileError{Field: field + ".id", Message: "id is required", Pos: v.Pos()}
	}
	id, err := idVal.Int64()
	if err != nil {
		return ir.Schema{}, formatCUEError(err)
	}
	if id <= 0 {
		return ir.Schema{}, &CompileError{Field: field + ".id", Message: "id must be positive", Pos: idVal.Pos()}
	}

	s := ir.Schema{Table: ir.TableRef{ID: id, Name: name}}

	cols := v.LookupPath(cue.ParsePath("columns"))
	if cols.Exists() {
		iter, err := cols.Fields()
		if err != nil {
			return ir.Schema{}, formatCUEError(err)
		}
		for iter.Next() {
			col, err := compileColumn(field+".columns."+iter.Label(), iter.Label(), iter.Value())
			if err != nil {
				return ir.Schema{}, err
			}
			s.Columns = append(s.Columns, col)
		}
	}

	refs := v.LookupPath(cue.ParsePath("references"))
	if refs.Exists() {
		iter, err := refs.Fields()
		if err != nil {
			return ir.Schema{}, formatCUEError(err)
		}
		for iter.Next() {
			target, err := iter.Value().String()
			if err != nil {
				return ir.Schema{}, formatCUEError(err)
			}
			i := columnIndex(s.Columns, iter.Label())
			if i < 0 {
				return ir.Schema{}, &CompileError{
					Field:   field + ".references." + iter.Label(),
					Message: "no such column",
					Pos:     iter.Value().Pos(),
				}
			}
			s.Columns[i].References = target
		}
	}
	return s, nil
}

func compileColumn(field, name string, v cue.Value) (ir.Column, error) {
	kind := v.IncompleteKind()
	col := ir.Column{Name: name, Nullable: kind&cue.NullKind != 0}

	switch kind &^ cue.NullKind {
	case cue.StringKind:
		col.Type = ir.TypeString
	case cue.IntKind:
		col.Type = ir.TypeInt
	case cue.BoolKind:
		col.Type = ir.TypeBool
	case cue.FloatKind, cue.NumberKind:
		return ir.Column{}, &CompileError{
			Field:   field,
			Message: "float columns are not supported, use int",
			Pos:     v.Pos(),
		}
	default:
		return ir.Column{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported column kind: %v", kind),
			Pos:     v.Pos(),
		}
	}
	return col, nil
}

func columnIndex(cols []ir.Column, name string) int {
	for i, c := range cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}
