// Package testutil holds shared fixtures for package tests: a deterministic
// clock, a catalog, reference-host helpers and a fault-injecting transport.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/host"
	"github.com/roach88/liveview/internal/ir"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Catalog returns the fixture catalog:
//
//	nodes(name string, weight int?, done bool, note string?)
//	edges(source int -> nodes, label string?)
//	locale_principal(principal int)
func Catalog() *ir.Catalog {
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
		ir.Schema{
			Table: ir.TableRef{ID: 3, Name: "locale_principal"},
			Columns: []ir.Column{
				{Name: "principal", Type: ir.TypeInt},
			},
		},
	)
}

// NewHost opens a file-backed reference host in a temp dir, closed on
// cleanup. A nil catalog means Catalog().
func NewHost(t testing.TB, catalog *ir.Catalog) *host.Host {
	t.Helper()
	if catalog == nil {
		catalog = Catalog()
	}
	h, err := host.Open(filepath.Join(t.TempDir(), "store.db"), catalog, host.WithLogger(DiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// Connect opens a connection to h, closed on cleanup.
func Connect(t testing.TB, h *host.Host) *host.Conn {
	t.Helper()
	c, err := h.Connect()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// R builds a row from alternating column/value pairs. Values go through
// ir.FromGo, so plain Go literals work: R(1, "name", "a", "weight", nil).
func R(id int64, kv ...any) ir.Row {
	if len(kv)%2 != 0 {
		panic("testutil.R: odd number of arguments")
	}
	values := make(map[string]ir.Value, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("testutil.R: column name %v is not a string", kv[i]))
		}
		v, err := ir.FromGo(kv[i+1])
		if err != nil {
			panic(fmt.Sprintf("testutil.R: %s: %v", name, err))
		}
		values[name] = v
	}
	return ir.NewRow(id, values)
}

// Node builds a fixture nodes row.
func Node(id int64, name string, weight any, done bool) ir.Row {
	return R(id, "name", name, "weight", weight, "done", done)
}

// IDs returns the ids of rows in order.
func IDs(rows []ir.Row) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}
