// Package crud provides generic table mutations with undo support.
//
// Each helper performs its mutation through the Facade, inside one
// transaction when it touches more than one row, and registers exactly one
// Undoable whose actions are transactional the same way. A failed mutation
// registers nothing.
package crud

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/liveview/internal/db"
	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/undo"
)

// Helpers binds a Facade to the history its mutations are recorded in.
type Helpers struct {
	db      *db.DB
	history *undo.Manager
}

// New creates Helpers over d recording into history.
func New(d *db.DB, history *undo.Manager) *Helpers {
	return &Helpers{db: d, history: history}
}

// UpdateOne replaces one row. old is the row before the change and is what
// undo restores.
func (h *Helpers) UpdateOne(ctx context.Context, table string, old, updated ir.Row, description string) (ir.Row, error) {
	rows, err := h.UpdateMany(ctx, table, []ir.Row{old}, []ir.Row{updated}, description)
	if err != nil {
		return ir.Row{}, err
	}
	return rows[0], nil
}

// UpdateMany replaces rows. old and updated are parallel slices naming the
// same ids in the same order.
func (h *Helpers) UpdateMany(ctx context.Context, table string, old, updated []ir.Row, description string) ([]ir.Row, error) {
	if len(old) != len(updated) {
		return nil, dberr.Validation("%s: %d old rows for %d updated rows", table, len(old), len(updated))
	}
	for i := range old {
		if old[i].ID != updated[i].ID {
			return nil, dberr.Validation("%s: row %d: old id %d does not match updated id %d", table, i, old[i].ID, updated[i].ID)
		}
	}

	out, err := h.db.UpdateRows(ctx, table, updated)
	if err != nil {
		return nil, err
	}

	before := cloneRows(old)
	after := cloneRows(updated)
	h.history.Register(undo.NewUpdate(description,
		func(ctx context.Context) error {
			_, err := h.db.UpdateRows(ctx, table, before)
			return err
		},
		func(ctx context.Context) error {
			_, err := h.db.UpdateRows(ctx, table, after)
			return err
		},
	))
	return out, nil
}

// UpdatePartial sets the columns in patch on row id. old holds the prior
// values of the same columns and is what undo restores.
func (h *Helpers) UpdatePartial(ctx context.Context, table string, id int64, old, patch map[string]ir.Value, description string) (ir.Row, error) {
	if !slices.Equal(slices.Sorted(maps.Keys(old)), slices.Sorted(maps.Keys(patch))) {
		return ir.Row{}, dberr.Validation("%s: old values and patch name different columns", table)
	}

	out, err := h.db.UpdatePartial(ctx, table, id, patch)
	if err != nil {
		return ir.Row{}, err
	}

	before := maps.Clone(old)
	after := maps.Clone(patch)
	h.history.Register(undo.NewUpdate(description,
		func(ctx context.Context) error {
			_, err := h.db.UpdatePartial(ctx, table, id, before)
			return err
		},
		func(ctx context.Context) error {
			_, err := h.db.UpdatePartial(ctx, table, id, after)
			return err
		},
	))
	return out, nil
}

// CreateOne inserts row. Undo deletes it; redo inserts it again under a
// new id.
func (h *Helpers) CreateOne(ctx context.Context, table string, row ir.Row, description string) (ir.Row, error) {
	rows, err := h.db.CreateRows(ctx, table, []ir.Row{row})
	if err != nil {
		return ir.Row{}, err
	}
	created := rows[0]

	template := row.Clone()
	template.ID = 0
	h.history.Register(undo.NewCreate(description,
		func(ctx context.Context, id int64) error {
			return h.db.Delete(ctx, table, id)
		},
		func(ctx context.Context) (int64, error) {
			rows, err := h.db.CreateRows(ctx, table, []ir.Row{template})
			if err != nil {
				return 0, err
			}
			return rows[0].ID, nil
		},
		created.ID,
	))
	return created, nil
}

// CreateMany inserts rows in one transaction. Undo deletes them; redo
// restores them under the ids they were first assigned.
func (h *Helpers) CreateMany(ctx context.Context, table string, rows []ir.Row, description string) ([]ir.Row, error) {
	out, err := h.db.CreateRows(ctx, table, rows)
	if err != nil {
		return nil, err
	}

	created := cloneRows(out)
	ids := rowIDs(created)
	h.history.Register(undo.New(description,
		func(ctx context.Context) error {
			return h.db.DeleteMany(ctx, table, ids)
		},
		func(ctx context.Context) error {
			_, err := h.db.CreateRows(ctx, table, created)
			return err
		},
	))
	return out, nil
}

// DeleteMany deletes ids in one transaction, capturing the rows first.
// Undo restores them with their original ids; redo deletes them again.
func (h *Helpers) DeleteMany(ctx context.Context, table string, ids []int64, description string) error {
	if len(ids) == 0 {
		return nil
	}
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))

	var snapshot []ir.Row
	err := h.db.Transaction(ctx, func(tx *db.Tx) error {
		values := make([]ir.Value, len(ids))
		for i, id := range ids {
			values[i] = ir.Int(id)
		}
		rows, err := tx.Select(ctx, table, filter.New(filter.In("id", values...)))
		if err != nil {
			return err
		}
		if len(rows) != len(ids) {
			missing := slices.DeleteFunc(slices.Clone(ids), func(id int64) bool {
				return slices.ContainsFunc(rows, func(r ir.Row) bool { return r.ID == id })
			})
			return dberr.NotFound(table, missing[0])
		}
		snapshot = rows
		return tx.DeleteMany(ctx, table, ids)
	})
	if err != nil {
		return fmt.Errorf("delete %d rows from %s: %w", len(ids), table, err)
	}

	deleted := slices.Clone(ids)
	h.history.Register(undo.NewDelete(description,
		func(ctx context.Context) error {
			_, err := h.db.CreateRows(ctx, table, snapshot)
			return err
		},
		func(ctx context.Context) error {
			return h.db.DeleteMany(ctx, table, deleted)
		},
	))
	return nil
}

func cloneRows(rows []ir.Row) []ir.Row {
	out := make([]ir.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

func rowIDs(rows []ir.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}
