package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/testutil"
)

func TestDefault_MatchesFixtureCatalog(t *testing.T) {
	got := Default()
	want := testutil.Catalog()
	require.Len(t, got.Schemas(), len(want.Schemas()))
	for i, s := range want.Schemas() {
		assert.Equal(t, *s, *got.Schemas()[i])
	}
}

func TestDefault_Golden(t *testing.T) {
	data, err := json.MarshalIndent(Default().Schemas(), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "default_catalog", data)
}

func TestParse(t *testing.T) {
	c, err := Parse("test.cue", []byte(`
table: tags: {
	id: 7
	columns: {
		label:  string
		parent: int | null
		hidden: bool
	}
	references: parent: "tags"
}
`))
	require.NoError(t, err)

	s, ok := c.LookupID(7)
	require.True(t, ok)
	assert.Equal(t, ir.Schema{
		Table: ir.TableRef{ID: 7, Name: "tags"},
		Columns: []ir.Column{
			{Name: "label", Type: ir.TypeString},
			{Name: "parent", Type: ir.TypeInt, Nullable: true, References: "tags"},
			{Name: "hidden", Type: ir.TypeBool},
		},
	}, *s)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no tables", `x: 1`, "no tables declared"},
		{"missing id", `table: a: columns: n: string`, "id is required"},
		{"zero id", `table: a: {id: 0, columns: n: string}`, "id must be positive"},
		{"float column", `table: a: {id: 1, columns: n: float}`, "float columns are not supported"},
		{"list column", `table: a: {id: 1, columns: n: [...int]}`, "unsupported column kind"},
		{"bad reference", `table: a: {id: 1, columns: n: int, references: m: "a"}`, "no such column"},
		{"unknown target", `table: a: {id: 1, columns: n: int, references: n: "b"}`, "references unknown table"},
		{"duplicate id", `table: a: {id: 1}, table: b: {id: 1}`, "duplicate table id"},
		{"syntax", `table: {`, "test.cue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test.cue", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	_, err := Parse("pos.cue", []byte("table: a: {\n\tid: 1\n\tcolumns: n: number\n}\n"))
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "table.a.columns.n", ce.Field)
	assert.Contains(t, err.Error(), "pos.cue:3:")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tables.cue")
	require.NoError(t, os.WriteFile(file, defaultTables, 0o644))

	fromFile, err := Load(file)
	require.NoError(t, err)
	fromDir, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, fromFile.Schemas(), fromDir.Schemas())

	_, err = Load(filepath.Join(dir, "missing.cue"))
	assert.Error(t, err)
}
