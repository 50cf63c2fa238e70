package crud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/db"
	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/host"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/testutil"
	"github.com/roach88/liveview/internal/undo"
	"github.com/roach88/liveview/internal/view"
)

type fixture struct {
	host    *host.Host
	db      *db.DB
	history *undo.Manager
	crud    *Helpers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := testutil.NewHost(t, nil)
	d := db.New(testutil.Connect(t, h), db.WithCatalog(h.Catalog()), db.WithLogger(testutil.DiscardLogger()))
	m := undo.NewManager(undo.WithLogger(testutil.DiscardLogger()), undo.WithClock(testutil.NewDeterministicClock()))
	return &fixture{host: h, db: d, history: m, crud: New(d, m)}
}

// other returns a Facade for a second actor on the same store.
func (f *fixture) other(t *testing.T) *db.DB {
	t.Helper()
	return db.New(testutil.Connect(t, f.host), db.WithCatalog(f.host.Catalog()))
}

func (f *fixture) snapshot(t *testing.T, table string) []ir.Row {
	t.Helper()
	rows, err := f.db.Select(context.Background(), table, filter.MatchAll())
	require.NoError(t, err)
	return rows
}

func TestHelpers_UndoRedoRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := []struct {
		name   string
		mutate func(t *testing.T)
	}{
		{"create many", func(t *testing.T) {
			_, err := f.crud.CreateMany(ctx, "nodes", []ir.Row{
				testutil.Node(0, "a", 1, false),
				testutil.Node(0, "b", nil, true),
				testutil.Node(0, "c", 3, false),
			}, "Create nodes")
			require.NoError(t, err)
		}},
		{"create one", func(t *testing.T) {
			_, err := f.crud.CreateOne(ctx, "nodes", testutil.Node(0, "d", 4, false), "Create node")
			require.NoError(t, err)
		}},
		{"update one", func(t *testing.T) {
			old := f.snapshot(t, "nodes")[0]
			_, err := f.crud.UpdateOne(ctx, "nodes", old, old.With(map[string]ir.Value{"name": ir.String("A")}), "Rename node")
			require.NoError(t, err)
		}},
		{"update many", func(t *testing.T) {
			old := f.snapshot(t, "nodes")[1:3]
			updated := make([]ir.Row, len(old))
			for i, r := range old {
				updated[i] = r.With(map[string]ir.Value{"done": ir.Bool(true), "weight": ir.Int(9)})
			}
			_, err := f.crud.UpdateMany(ctx, "nodes", old, updated, "Complete nodes")
			require.NoError(t, err)
		}},
		{"update partial", func(t *testing.T) {
			_, err := f.crud.UpdatePartial(ctx, "nodes", 2,
				map[string]ir.Value{"note": ir.Null{}},
				map[string]ir.Value{"note": ir.String("hi")},
				"Edit note")
			require.NoError(t, err)
		}},
		{"delete many", func(t *testing.T) {
			require.NoError(t, f.crud.DeleteMany(ctx, "nodes", []int64{3, 1, 3}, "Delete nodes"))
		}},
	}

	for i, step := range steps {
		before := f.snapshot(t, "nodes")
		step.mutate(t)
		after := f.snapshot(t, "nodes")
		require.NotEqual(t, before, after, step.name)
		require.Equal(t, i+1, f.history.UndoCount(), "%s registers exactly one undoable", step.name)

		require.NoError(t, f.history.Undo(ctx), step.name)
		assert.Equal(t, before, f.snapshot(t, "nodes"), "undo %s", step.name)
		require.NoError(t, f.history.Redo(ctx), step.name)
		if step.name == "create one" {
			// Recreated under a fresh id.
			got := f.snapshot(t, "nodes")
			require.Len(t, got, len(after))
			assert.Equal(t, after[len(after)-1].Values, got[len(got)-1].Values)
			continue
		}
		assert.Equal(t, after, f.snapshot(t, "nodes"), "redo %s", step.name)
	}
}

func TestHelpers_FailedMutationRegistersNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rows, err := f.crud.CreateMany(ctx, "nodes", []ir.Row{testutil.Node(0, "a", 1, false), testutil.Node(0, "b", 2, false)}, "Create")
	require.NoError(t, err)
	before := f.snapshot(t, "nodes")

	missing := testutil.Node(99, "x", 1, false)
	_, err = f.crud.UpdateMany(ctx, "nodes",
		[]ir.Row{rows[0], missing},
		[]ir.Row{rows[0].With(map[string]ir.Value{"name": ir.String("changed")}), missing},
		"Update")
	assert.True(t, dberr.IsNotFound(err))

	err = f.crud.DeleteMany(ctx, "nodes", []int64{1, 99}, "Delete")
	assert.True(t, dberr.IsNotFound(err))

	_, err = f.crud.UpdateMany(ctx, "nodes", rows, rows[:1], "Mismatch")
	assert.True(t, dberr.IsValidation(err))

	_, err = f.crud.UpdatePartial(ctx, "nodes", 1, map[string]ir.Value{"name": ir.String("a")}, map[string]ir.Value{"note": ir.String("x")}, "Mismatch")
	assert.True(t, dberr.IsValidation(err))

	assert.Equal(t, before, f.snapshot(t, "nodes"), "no partial effect")
	assert.Equal(t, 1, f.history.UndoCount())
}

func TestHelpers_UndoIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.crud.CreateMany(ctx, "nodes", []ir.Row{
		testutil.Node(0, "a", 1, false),
		testutil.Node(0, "b", 2, false),
		testutil.Node(0, "c", 3, false),
	}, "Create nodes")
	require.NoError(t, err)

	// Another actor deletes one of the rows; undoing the create must not
	// delete the other two.
	require.NoError(t, f.other(t).Delete(ctx, "nodes", 2))
	before := f.snapshot(t, "nodes")

	err = f.history.Undo(ctx)
	var skipped *undo.SkippedError
	require.ErrorAs(t, err, &skipped)
	assert.Equal(t, "Create nodes", skipped.Description)
	assert.Equal(t, before, f.snapshot(t, "nodes"))
	assert.Zero(t, f.history.UndoCount())
	assert.Zero(t, f.history.RedoCount())
}

func TestHelpers_SkipOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C"} {
		_, err := f.crud.CreateOne(ctx, "nodes", testutil.Node(0, name, 1, false), "Create "+name)
		require.NoError(t, err)
	}
	require.NoError(t, f.other(t).Delete(ctx, "nodes", 3))

	err := f.history.Undo(ctx)
	assert.True(t, dberr.IsNotFound(err))
	assert.Equal(t, "Create B", f.history.NextUndoDescription())

	require.NoError(t, f.history.Undo(ctx))
	assert.Equal(t, []int64{1}, testutil.IDs(f.snapshot(t, "nodes")))
	assert.Equal(t, "Create A", f.history.NextUndoDescription())
	assert.Equal(t, 1, f.history.RedoCount())
}

func TestHelpers_ViewsFollowUndo(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cache := view.NewCache(f.db, view.WithLogger(testutil.DiscardLogger()))
	done := make(chan error, 1)
	go func() { done <- cache.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	v, err := cache.FetchTable(ctx, "nodes", filter.New(filter.Eq("done", ir.Bool(false))).OrderBy("name", filter.Asc))
	require.NoError(t, err)
	waitFor := func(want []int64) {
		t.Helper()
		require.Eventually(t, func() bool {
			got, err := v.IDs()
			return err == nil && assert.ObjectsAreEqual(want, append([]int64{}, got...))
		}, 2*time.Second, 5*time.Millisecond, "want %v", want)
	}

	_, err = f.crud.CreateMany(ctx, "nodes", []ir.Row{testutil.Node(0, "b", 1, false), testutil.Node(0, "a", 2, false)}, "Create")
	require.NoError(t, err)
	waitFor([]int64{2, 1})

	require.NoError(t, f.crud.DeleteMany(ctx, "nodes", []int64{2}, "Delete a"))
	waitFor([]int64{1})

	require.NoError(t, f.history.Undo(ctx))
	waitFor([]int64{2, 1})

	require.NoError(t, f.history.Undo(ctx))
	waitFor([]int64{})

	require.NoError(t, f.history.Redo(ctx))
	waitFor([]int64{2, 1})
	require.NoError(t, cache.Release(v))
}
