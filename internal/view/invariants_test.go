package view

import (
	"context"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/testutil"
	"github.com/roach88/liveview/internal/transport"
)

// expected evaluates f against the model the way a fresh select would.
func expected(model map[int64]ir.Row, f filter.Filter) []int64 {
	var rows []ir.Row
	for _, r := range model {
		if f.Matches(r) {
			rows = append(rows, r)
		}
	}
	slices.SortFunc(rows, f.Compare)
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestCache_ViewsTrackRandomNotifications(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	filters := []filter.Filter{
		filter.MatchAll(),
		filter.New(filter.Eq("done", ir.Bool(true))).OrderBy("weight", filter.Desc),
		filter.New(filter.Or(filter.IsNull("weight"), filter.Lt("weight", ir.Int(4)))).OrderBy("weight", filter.Asc),
		filter.New(filter.Like("name", "b%")).OrderBy("name", filter.Asc).OrderBy("weight", filter.Desc),
		filter.New(filter.And(filter.NotIn("name", ir.String("a"), ir.String("c")), filter.IsNotNull("note"))),
	}
	views := make([]*TableView, len(filters))
	for i, flt := range filters {
		views[i] = f.fetch(t, "nodes", flt)
	}

	names := []string{"a", "b", "ba", "B", "c"}
	randomRow := func(id int64) ir.Row {
		var weight any
		if rng.IntN(4) > 0 {
			weight = rng.IntN(8)
		}
		row := testutil.Node(id, names[rng.IntN(len(names))], weight, rng.IntN(2) == 0)
		if rng.IntN(2) == 0 {
			row.Values["note"] = ir.String(names[rng.IntN(len(names))])
		}
		return row
	}

	model := make(map[int64]ir.Row)
	for step := range 500 {
		id := int64(rng.IntN(12) + 1)
		var n transport.Notification
		switch _, exists := model[id]; {
		case exists && rng.IntN(4) == 0:
			n = transport.Notification{Seq: int64(step + 1), Table: "nodes", Change: transport.Delete, Row: ir.Row{ID: id}}
			delete(model, id)
		case exists:
			n = transport.Notification{Seq: int64(step + 1), Table: "nodes", Change: transport.Update, Row: randomRow(id)}
			model[id] = n.Row
		default:
			n = transport.Notification{Seq: int64(step + 1), Table: "nodes", Change: transport.Insert, Row: randomRow(id)}
			model[id] = n.Row
		}
		require.NoError(t, f.cache.Apply(ctx, n))

		owned := make(map[int64]bool)
		for i, v := range views {
			rows, err := v.Rows()
			require.NoError(t, err)
			ids := make([]int64, len(rows))
			for j, rv := range rows {
				ids[j] = rv.ID()
				owned[rv.ID()] = true
				value, err := rv.Value()
				require.NoError(t, err)
				require.True(t, value.Equal(model[rv.ID()]), "step %d view %d row %d is stale", step, i, rv.ID())
			}
			require.Equal(t, expected(model, filters[i]), ids, "step %d view %d", step, i)
		}
		_, rowViews := f.cache.Stats()
		require.Equal(t, len(owned), rowViews, "step %d: only owned rows stay cached", step)
	}
	assert.Equal(t, int64(500), f.cache.LastSeq())
}

func TestCache_SharedRowViewsAcrossViews(t *testing.T) {
	f := newFixture(t, nil)
	asc := f.fetch(t, "nodes", filter.MatchAll().OrderBy("weight", filter.Asc))
	desc := f.fetch(t, "nodes", filter.MatchAll().OrderBy("weight", filter.Desc))

	f.notify(t, transport.Insert, "nodes", testutil.Node(1, "a", 1, false))
	f.notify(t, transport.Insert, "nodes", testutil.Node(2, "b", 2, false))

	a, err := asc.Rows()
	require.NoError(t, err)
	d, err := desc.Rows()
	require.NoError(t, err)
	assert.Same(t, a[0], d[1])
	assert.Same(t, a[1], d[0])

	var updates recorder[RowEvent]
	a[0].Subscribe(updates.record)
	f.notify(t, transport.Update, "nodes", testutil.Node(1, "a", 3, false))
	assert.Len(t, updates.take(), 1, "one update per notification, not per view")
	assert.Equal(t, []int64{2, 1}, viewIDs(t, asc))
	assert.Equal(t, []int64{1, 2}, viewIDs(t, desc))
}
