package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/transport"
)

func TestOpenMemoryAndCreateTableSQL(t *testing.T) {
	h, err := Open(":memory:", testCatalog())
	require.NoError(t, err)
	defer h.Close()

	s, _ := testCatalog().Lookup("edges")
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS \"edges\" (\n"+
		"\t\"id\" INTEGER PRIMARY KEY AUTOINCREMENT,\n"+
		"\t\"source\" INTEGER NOT NULL REFERENCES \"nodes\"(\"id\"),\n"+
		"\t\"label\" TEXT\n)", createTableSQL(s))

	_, err = Open(":memory:", nil)
	require.Error(t, err)
}

func TestPragmasApplied(t *testing.T) {
	h := createTestHost(t)

	var fk int
	require.NoError(t, h.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, h.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestInsertAssignsIDsAndRoundTripsTypes(t *testing.T) {
	h := createTestHost(t)
	c := connect(t, h)

	rows := insert(t, c, "nodes", node(0, "a", 3, true), node(0, "b", nil, false))
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].ID)
	assert.Equal(t, int64(2), rows[1].ID)
	assert.Equal(t, ir.Bool(true), rows[0].Get("done"))
	assert.Equal(t, ir.Int(3), rows[0].Get("weight"))
	assert.Equal(t, ir.Null{}, rows[1].Get("weight"))

	// Explicit ids restore deleted rows with their original identity.
	rows = insert(t, c, "nodes", node(10, "c", 1, false))
	assert.Equal(t, int64(10), rows[0].ID)

	ns := drain(t, c)
	require.Len(t, ns, 3)
	for i, n := range ns {
		assert.Equal(t, int64(i+1), n.Seq)
		assert.Equal(t, transport.Insert, n.Change)
		assert.Equal(t, c.ID(), n.Origin)
	}
}

func TestInsertErrors(t *testing.T) {
	h := createTestHost(t)
	c := connect(t, h)
	ctx := context.Background()
	insert(t, c, "nodes", node(1, "a", 1, false))

	tests := []struct {
		name string
		m    transport.Mutation
		is   func(error) bool
	}{
		{"duplicate id", transport.Mutation{Op: transport.OpInsert, Table: "nodes", Rows: []ir.Row{node(1, "dup", 1, false)}}, dberr.IsConflict},
		{"dangling reference", transport.Mutation{Op: transport.OpInsert, Table: "edges", Rows: []ir.Row{ir.NewRow(0, map[string]ir.Value{"source": ir.Int(99)})}}, dberr.IsConflict},
		{"missing column", transport.Mutation{Op: transport.OpInsert, Table: "nodes", Rows: []ir.Row{ir.NewRow(0, map[string]ir.Value{"name": ir.String("x")})}}, dberr.IsValidation},
		{"unknown table", transport.Mutation{Op: transport.OpInsert, Table: "nope"}, dberr.IsValidation},
		{"unknown op", transport.Mutation{Op: "upsert", Table: "nodes"}, dberr.IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Mutate(ctx, tt.m)
			require.Error(t, err)
			assert.True(t, tt.is(err), "unexpected error class: %v", err)
		})
	}
}

func TestSelectFiltersAndOrders(t *testing.T) {
	h := createTestHost(t)
	c := connect(t, h)
	insert(t, c, "nodes",
		node(0, "b", 2, false),
		node(0, "a", nil, true),
		node(0, "c", 2, true),
		node(0, "a", 1, false),
	)

	rows, err := c.Select(context.Background(), transport.Query{
		Table:  "nodes",
		Filter: descriptor(filter.New(filter.Ne("name", ir.String("c"))).OrderBy("weight", filter.Desc)),
	})
	require.NoError(t, err)

	var ids []int64
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{1, 4, 2}, ids)

	n, err := c.Count(context.Background(), transport.Query{Table: "nodes", Filter: descriptor(filter.New(filter.Eq("done", ir.Bool(true))))})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSelectRejectsMistypedFilter(t *testing.T) {
	h := createTestHost(t)
	c := connect(t, h)

	_, err := c.Select(context.Background(), transport.Query{
		Table:  "nodes",
		Filter: descriptor(filter.New(filter.Eq("weight", ir.String("5")))),
	})
	require.Error(t, err)
	assert.True(t, dberr.IsValidation(err))

	_, err = c.Select(context.Background(), transport.Query{Table: "nodes", Filter: []byte(`{"where":{"op":"zz"}}`)})
	assert.True(t, dberr.IsValidation(err))
}

func TestUpdatePatchDelete(t *testing.T) {
	h := createTestHost(t)
	c := connect(t, h)
	ctx := context.Background()
	insert(t, c, "nodes", node(0, "a", 1, false))
	drain(t, c)

	res, err := c.Mutate(ctx, transport.Mutation{Op: transport.OpUpdate, Table: "nodes", Rows: []ir.Row{node(1, "z", nil, true)}})
	require.NoError(t, err)
	assert.Equal(t, ir.String("z"), res.Rows[0].Get("name"))

	res, err = c.Mutate(ctx, transport.Mutation{Op: transport.OpPatch, Table: "nodes", ID: 1, Patch: map[string]ir.Value{"note": ir.String("hi")}})
	require.NoError(t, err)
	assert.Equal(t, ir.String("hi"), res.Rows[0].Get("note"))
	assert.Equal(t, ir.String("z"), res.Rows[0].Get("name"))

	_, err = c.Mutate(ctx, transport.Mutation{Op: transport.OpPatch, Table: "nodes", ID: 7, Patch: map[string]ir.Value{"note": ir.String("x")}})
	assert.True(t, dberr.IsNotFound(err))

	_, err = c.Mutate(ctx, transport.Mutation{Op: transport.OpUpdate, Table: "nodes", Rows: []ir.Row{node(8, "q", 1, false)}})
	assert.True(t, dberr.IsNotFound(err))

	res, err = c.Mutate(ctx, transport.Mutation{Op: transport.OpDelete, Table: "nodes", IDs: []int64{1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)

	_, err = c.Mutate(ctx, transport.Mutation{Op: transport.OpDelete, Table: "nodes", IDs: []int64{1}})
	assert.True(t, dberr.IsNotFound(err))

	ns := drain(t, c)
	require.Len(t, ns, 3)
	assert.Equal(t, transport.Update, ns[0].Change)
	assert.Equal(t, transport.Update, ns[1].Change)
	assert.Equal(t, transport.Delete, ns[2].Change)
	assert.Equal(t, ir.String("hi"), ns[2].Row.Get("note"), "delete carries the last row")
}

func TestDeleteReferencedRowConflicts(t *testing.T) {
	h := createTestHost(t)
	c := connect(t, h)
	insert(t, c, "nodes", node(0, "a", 1, false))
	insert(t, c, "edges", ir.NewRow(0, map[string]ir.Value{"source": ir.Int(1)}))

	_, err := c.Mutate(context.Background(), transport.Mutation{Op: transport.OpDelete, Table: "nodes", IDs: []int64{1}})
	require.Error(t, err)
	assert.True(t, dberr.IsConflict(err))
}

func TestTransactionPublishesOnCommitOnly(t *testing.T) {
	h := createTestHost(t)
	writer := connect(t, h)
	observer := connect(t, h)
	ctx := context.Background()

	tx, err := writer.Begin(ctx)
	require.NoError(t, err)
	_, err = writer.Mutate(ctx, transport.Mutation{Op: transport.OpInsert, Table: "nodes", Rows: []ir.Row{node(0, "a", 1, false)}, Tx: tx})
	require.NoError(t, err)

	rows, err := writer.Select(ctx, transport.Query{Table: "nodes", Tx: tx})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "transaction sees its own writes")
	assert.Zero(t, observer.Pending())

	require.NoError(t, writer.Commit(ctx, tx))
	ns := drain(t, observer)
	require.Len(t, ns, 1)
	assert.Equal(t, writer.ID(), ns[0].Origin)

	tx, err = writer.Begin(ctx)
	require.NoError(t, err)
	_, err = writer.Mutate(ctx, transport.Mutation{Op: transport.OpInsert, Table: "nodes", Rows: []ir.Row{node(0, "b", 1, false)}, Tx: tx})
	require.NoError(t, err)
	require.NoError(t, writer.Rollback(ctx, tx))

	assert.Zero(t, observer.Pending())
	n, err := writer.Count(ctx, transport.Query{Table: "nodes"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = writer.Commit(ctx, tx)
	assert.True(t, dberr.IsUseAfterDispose(err))
	_, err = writer.Select(ctx, transport.Query{Table: "nodes", Tx: tx})
	assert.True(t, dberr.IsUseAfterDispose(err))
}

func TestFailedMutationInsideTransactionLeavesNoTrace(t *testing.T) {
	h := createTestHost(t)
	c := connect(t, h)
	ctx := context.Background()
	insert(t, c, "nodes", node(5, "taken", 1, false))
	drain(t, c)

	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	_, err = c.Mutate(ctx, transport.Mutation{
		Op:    transport.OpInsert,
		Table: "nodes",
		Rows:  []ir.Row{node(0, "first", 1, false), node(5, "dup", 1, false)},
		Tx:    tx,
	})
	require.Error(t, err)
	require.NoError(t, c.Commit(ctx, tx))

	n, err := c.Count(ctx, transport.Query{Table: "nodes"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, drain(t, c))
}

func TestBulkOperationsPublishAlter(t *testing.T) {
	h := createTestHost(t)
	c := connect(t, h)
	ctx := context.Background()
	insert(t, c, "nodes", node(0, "alpha", 1, false), node(0, "beta", 2, false), node(0, "alphabet", 3, true))
	for _, id := range []int64{1, 2, 3} {
		_, err := c.Mutate(ctx, transport.Mutation{Op: transport.OpPatch, Table: "nodes", ID: id, Patch: map[string]ir.Value{"note": ir.String("n")}})
		require.NoError(t, err)
	}
	drain(t, c)

	res, err := c.Mutate(ctx, transport.Mutation{
		Op: transport.OpReplace, Table: "nodes", Column: "name", Search: "alpha", Replace: "gamma",
		Filter: descriptor(filter.MatchAll()),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Affected)

	res, err = c.Mutate(ctx, transport.Mutation{
		Op: transport.OpClearColumn, Table: "nodes", Column: "note",
		Filter: descriptor(filter.New(filter.Eq("done", ir.Bool(false)))),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Affected)

	_, err = c.Mutate(ctx, transport.Mutation{Op: transport.OpClearColumn, Table: "nodes", Column: "name"})
	assert.True(t, dberr.IsValidation(err))

	res, err = c.Mutate(ctx, transport.Mutation{
		Op: transport.OpDeleteWhere, Table: "nodes",
		Filter: descriptor(filter.New(filter.Like("name", "gamma%"))),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Affected)

	res, err = c.Mutate(ctx, transport.Mutation{
		Op: transport.OpDeleteWhere, Table: "nodes",
		Filter: descriptor(filter.New(filter.Eq("name", ir.String("nobody")))),
	})
	require.NoError(t, err)
	assert.Zero(t, res.Affected)

	ns := drain(t, c)
	require.Len(t, ns, 3, "no-op bulk changes are not published")
	for _, n := range ns {
		assert.Equal(t, transport.Alter, n.Change)
		assert.Equal(t, "nodes", n.Table)
	}

	rows, err := c.Select(ctx, transport.Query{Table: "nodes"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ir.String("beta"), rows[0].Get("name"))
	assert.Equal(t, ir.Null{}, rows[0].Get("note"))
}

func TestClosedConnectionAndHost(t *testing.T) {
	h := createTestHost(t)
	c := connect(t, h)
	ctx := context.Background()

	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Select(ctx, transport.Query{Table: "nodes"})
	assert.True(t, dberr.IsTransport(err))
	_, err = c.Notifications().Next(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)

	other := connect(t, h)
	assert.True(t, dberr.IsUseAfterDispose(other.Commit(ctx, tx)), "disconnect rolls back open transactions")

	require.NoError(t, h.Close())
	_, err = other.Count(ctx, transport.Query{Table: "nodes"})
	assert.True(t, dberr.IsTransport(err))
	_, err = h.Connect()
	assert.True(t, dberr.IsTransport(err))
}
