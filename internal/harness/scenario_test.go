package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: basic
description: one step
views:
  - name: all
    table: nodes
flow:
  - op: create
    table: nodes
    rows:
      - {name: a, done: false}
  - op: undo
    expect: SKIPPED:NOT_FOUND
assertions:
  - type: view_ids
    view: all
    ids: [1]
`))
	require.NoError(t, err)
	assert.Equal(t, "basic", s.Name)
	require.Len(t, s.Flow, 2)
	assert.Equal(t, OpCreate, s.Flow[0].Op)
	assert.Equal(t, map[string]any{"name": "a", "done": false}, s.Flow[0].Rows[0])
	assert.Equal(t, "SKIPPED:NOT_FOUND", s.Flow[1].Expect)
	assert.Equal(t, []int64{1}, s.Assertions[0].IDs)
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: x\nflow: [{op: undo}]\nbogus: 1\n", "field bogus not found"},
		{"missing name", "flow: [{op: undo}]\n", "name is required"},
		{"empty flow", "name: x\n", "at least one step"},
		{"unknown op", "name: x\nflow: [{op: explode}]\n", `unknown op "explode"`},
		{"create without rows", "name: x\nflow: [{op: create, table: nodes}]\n", "requires table and rows"},
		{"create_one with two rows", "name: x\nflow: [{op: create_one, table: nodes, rows: [{}, {}]}]\n", "exactly one row"},
		{"patch without set", "name: x\nflow: [{op: patch, table: nodes, id: 1}]\n", "requires table, id and set"},
		{"release unknown view", "name: x\nflow: [{op: release, view: v}]\n", `unknown view "v"`},
		{"duplicate view", "name: x\nviews: [{name: v, table: t}, {name: v, table: t}]\nflow: [{op: undo}]\n", "duplicate view"},
		{"unknown assertion", "name: x\nflow: [{op: undo}]\nassertions: [{type: vibes}]\n", "unknown assertion type"},
		{"row without values", "name: x\nflow: [{op: undo}]\nassertions: [{type: row, table: t, id: 1}]\n", "requires table, id and values"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_ResolvesSchemaPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nschema: tables.cue\nflow: [{op: undo}]\n"), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tables.cue"), s.Schema)

	_, err = LoadScenario(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}
