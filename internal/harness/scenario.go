package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted session against the stack.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Schema is a .cue catalog file or directory, relative to the scenario
	// file. Empty means the built-in catalog.
	Schema string `yaml:"schema,omitempty"`

	// Setup seeds tables directly; it is not undoable and its
	// notifications are delivered before the flow starts.
	Setup []SeedStep `yaml:"setup,omitempty"`

	// Views are opened after setup and stay open unless released.
	Views []ViewSpec `yaml:"views,omitempty"`

	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// SeedStep inserts rows into a table.
type SeedStep struct {
	Table string           `yaml:"table"`
	Rows  []map[string]any `yaml:"rows"`
}

// ViewSpec names a table view. Filter uses the descriptor shape:
//
//	filter:
//	  where: {op: eq, column: done, value: false}
//	  order: [{column: name, dir: asc}]
//
// An absent filter matches every row.
type ViewSpec struct {
	Name   string         `yaml:"name"`
	Table  string         `yaml:"table"`
	Filter map[string]any `yaml:"filter,omitempty"`
}

// Step operations.
const (
	OpCreate         = "create"
	OpCreateOne      = "create_one"
	OpUpdate         = "update"
	OpPatch          = "patch"
	OpDelete         = "delete"
	OpUndo           = "undo"
	OpRedo           = "redo"
	OpClearHistory   = "clear_history"
	OpExternalCreate = "external_create"
	OpExternalUpdate = "external_update"
	OpExternalDelete = "external_delete"
	OpClearColumn    = "clear_column"
	OpDisconnect     = "disconnect"
	OpReconnect      = "reconnect"
	OpRelease        = "release"
)

// Step is one flow action. Which fields apply depends on Op:
//
//	create, create_one, external_create   table, rows
//	update, external_update               table, rows (id plus changed columns)
//	patch                                 table, id, set
//	delete, external_delete               table, ids
//	clear_column                          table, column, where
//	release                               view
type Step struct {
	Op          string           `yaml:"op"`
	Table       string           `yaml:"table,omitempty"`
	Description string           `yaml:"description,omitempty"`
	Rows        []map[string]any `yaml:"rows,omitempty"`
	ID          int64            `yaml:"id,omitempty"`
	IDs         []int64          `yaml:"ids,omitempty"`
	Set         map[string]any   `yaml:"set,omitempty"`
	Column      string           `yaml:"column,omitempty"`
	Where       map[string]any   `yaml:"where,omitempty"`
	View        string           `yaml:"view,omitempty"`

	// Expect is the error code the step must fail with; empty means it
	// must succeed.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion types.
const (
	AssertViewIDs     = "view_ids"
	AssertRow         = "row"
	AssertRowMissing  = "row_missing"
	AssertTableCount  = "table_count"
	AssertUndoHistory = "undo_history"
	AssertRedoHistory = "redo_history"
)

// Assertion checks final state.
type Assertion struct {
	Type string `yaml:"type"`

	View string  `yaml:"view,omitempty"`
	IDs  []int64 `yaml:"ids,omitempty"`

	Table string `yaml:"table,omitempty"`
	ID    int64  `yaml:"id,omitempty"`

	// Values is a subset match against the row.
	Values map[string]any `yaml:"values,omitempty"`

	Count int `yaml:"count,omitempty"`

	// Descriptions lists history entries, most recent first.
	Descriptions []string `yaml:"descriptions,omitempty"`
}

// LoadScenario reads a scenario file. Unknown fields are rejected and a
// relative schema path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Schema != "" && !filepath.IsAbs(s.Schema) {
		s.Schema = filepath.Join(filepath.Dir(path), s.Schema)
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}

	for i, seed := range s.Setup {
		if seed.Table == "" {
			return fmt.Errorf("setup[%d]: table is required", i)
		}
	}

	views := make(map[string]bool, len(s.Views))
	for i, v := range s.Views {
		if v.Name == "" || v.Table == "" {
			return fmt.Errorf("views[%d]: name and table are required", i)
		}
		if views[v.Name] {
			return fmt.Errorf("views[%d]: duplicate view %q", i, v.Name)
		}
		views[v.Name] = true
	}

	for i, step := range s.Flow {
		if err := validateStep(step, views); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, views); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, views map[string]bool) error {
	switch step.Op {
	case OpCreate, OpCreateOne, OpExternalCreate, OpUpdate, OpExternalUpdate:
		if step.Table == "" || len(step.Rows) == 0 {
			return fmt.Errorf("%s requires table and rows", step.Op)
		}
		if step.Op == OpCreateOne && len(step.Rows) != 1 {
			return fmt.Errorf("create_one takes exactly one row")
		}
	case OpPatch:
		if step.Table == "" || step.ID <= 0 || len(step.Set) == 0 {
			return fmt.Errorf("patch requires table, id and set")
		}
	case OpDelete, OpExternalDelete:
		if step.Table == "" || len(step.IDs) == 0 {
			return fmt.Errorf("%s requires table and ids", step.Op)
		}
	case OpClearColumn:
		if step.Table == "" || step.Column == "" {
			return fmt.Errorf("clear_column requires table and column")
		}
	case OpRelease:
		if !views[step.View] {
			return fmt.Errorf("release of unknown view %q", step.View)
		}
	case OpUndo, OpRedo, OpClearHistory, OpDisconnect, OpReconnect:
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func validateAssertion(a Assertion, views map[string]bool) error {
	switch a.Type {
	case AssertViewIDs:
		if !views[a.View] {
			return fmt.Errorf("view_ids on unknown view %q", a.View)
		}
	case AssertRow:
		if a.Table == "" || a.ID <= 0 || len(a.Values) == 0 {
			return fmt.Errorf("row requires table, id and values")
		}
	case AssertRowMissing:
		if a.Table == "" || a.ID <= 0 {
			return fmt.Errorf("row_missing requires table and id")
		}
	case AssertTableCount:
		if a.Table == "" || a.Count < 0 {
			return fmt.Errorf("table_count requires table and a non-negative count")
		}
	case AssertUndoHistory, AssertRedoHistory:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
