package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/undo"
)

// AssertionError is a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// evaluateAssertions checks every assertion against the final state and
// returns the failure messages.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertViewIDs:
		return h.assertViewIDs(a)
	case AssertRow:
		return h.assertRow(ctx, a)
	case AssertRowMissing:
		return h.assertRowMissing(ctx, a)
	case AssertTableCount:
		return h.assertTableCount(ctx, a)
	case AssertUndoHistory:
		return assertHistory(a, h.history.UndoHistory())
	case AssertRedoHistory:
		return assertHistory(a, h.history.RedoHistory())
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertViewIDs checks a view's ids in order.
func (h *Harness) assertViewIDs(a Assertion) error {
	nv, ok := h.views[a.View]
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("open view %q", a.View),
			Actual:   "view was released",
		}
	}
	ids, err := nv.view.IDs()
	if err != nil {
		return err
	}
	want := a.IDs
	if want == nil {
		want = []int64{}
	}
	if ids == nil {
		ids = []int64{}
	}
	if !slices.Equal(want, ids) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s ids %v", a.View, want),
			Actual:   fmt.Sprintf("%v", ids),
		}
	}
	return nil
}

// assertRow checks that the stored row has the given values (subset match).
func (h *Harness) assertRow(ctx context.Context, a Assertion) error {
	row, err := h.db.SelectByID(ctx, a.Table, a.ID)
	if dberr.IsNotFound(err) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s/%d to exist", a.Table, a.ID),
			Actual:   "not found",
		}
	}
	if err != nil {
		return err
	}

	want, err := toValues(a.Values)
	if err != nil {
		return err
	}
	for _, name := range slices.Sorted(maps.Keys(want)) {
		if got := row.Get(name); !ir.Equal(got, want[name]) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s/%d %s = %v", a.Table, a.ID, name, want[name]),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

func (h *Harness) assertRowMissing(ctx context.Context, a Assertion) error {
	ok, err := h.db.Exists(ctx, a.Table, filter.New(filter.Eq("id", ir.Int(a.ID))))
	if err != nil {
		return err
	}
	if ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s/%d not to exist", a.Table, a.ID),
			Actual:   "found",
		}
	}
	return nil
}

func (h *Harness) assertTableCount(ctx context.Context, a Assertion) error {
	n, err := h.db.Count(ctx, a.Table, filter.MatchAll())
	if err != nil {
		return err
	}
	if n != int64(a.Count) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.Table),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// assertHistory compares entry descriptions, most recent first.
func assertHistory(a Assertion, entries []undo.Entry) error {
	got := make([]string, len(entries))
	for i, e := range entries {
		got[i] = e.Description
	}
	want := a.Descriptions
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%q", want),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}
