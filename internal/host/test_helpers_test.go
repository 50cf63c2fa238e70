package host

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/transport"
)

func testCatalog() *ir.Catalog {
	return ir.MustCatalog(
		ir.Schema{
			Table: ir.TableRef{ID: 1, Name: "nodes"},
			Columns: []ir.Column{
				{Name: "name", Type: ir.TypeString},
				{Name: "weight", Type: ir.TypeInt, Nullable: true},
				{Name: "done", Type: ir.TypeBool},
				{Name: "note", Type: ir.TypeString, Nullable: true},
			},
		},
		ir.Schema{
			Table: ir.TableRef{ID: 2, Name: "edges"},
			Columns: []ir.Column{
				{Name: "source", Type: ir.TypeInt, References: "nodes"},
				{Name: "label", Type: ir.TypeString, Nullable: true},
			},
		},
	)
}

// createTestHost opens a file-backed host in a temp dir.
func createTestHost(t *testing.T) *Host {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	h, err := Open(path, testCatalog(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func connect(t *testing.T, h *Host) *Conn {
	t.Helper()
	c, err := h.Connect()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func node(id int64, name string, weight any, done bool) ir.Row {
	w, err := ir.FromGo(weight)
	if err != nil {
		panic(err)
	}
	return ir.NewRow(id, map[string]ir.Value{
		"name":   ir.String(name),
		"weight": w,
		"done":   ir.Bool(done),
	})
}

func descriptor(f filter.Filter) []byte {
	return filter.MustCompile(f).Canonical
}

func insert(t *testing.T, c *Conn, table string, rows ...ir.Row) []ir.Row {
	t.Helper()
	res, err := c.Mutate(context.Background(), transport.Mutation{Op: transport.OpInsert, Table: table, Rows: rows})
	require.NoError(t, err)
	return res.Rows
}

// drain collects every notification currently queued on c.
func drain(t *testing.T, c *Conn) []transport.Notification {
	t.Helper()
	var out []transport.Notification
	for c.Pending() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		n, err := c.Notifications().Next(ctx)
		cancel()
		require.NoError(t, err)
		out = append(out, n)
	}
	return out
}
