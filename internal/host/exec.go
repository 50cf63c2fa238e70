package host

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/transport"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (h *Host) schema(table string) (*ir.Schema, error) {
	s, ok := h.catalog.Lookup(table)
	if !ok {
		return nil, dberr.Validation("unknown table %q", table)
	}
	return s, nil
}

// parseFilter decodes a descriptor and validates it against the schema.
// An empty descriptor matches all rows.
func parseFilter(s *ir.Schema, descriptor []byte) (filter.Filter, error) {
	if len(descriptor) == 0 {
		return filter.MatchAll(), nil
	}
	f, err := filter.ParseDescriptor(descriptor)
	if err != nil {
		return filter.Filter{}, err
	}
	if err := filter.Validate(f, s); err != nil {
		return filter.Filter{}, err
	}
	return f, nil
}

// reader returns the querier for a read: the open transaction or the pool.
func (h *Host) reader(tx transport.TxID) (querier, error) {
	if tx == "" {
		return h.db, nil
	}
	st, err := h.lookupTx(tx)
	if err != nil {
		return nil, err
	}
	return st.tx, nil
}

func (h *Host) selectRows(ctx context.Context, q transport.Query) ([]ir.Row, error) {
	s, err := h.schema(q.Table)
	if err != nil {
		return nil, err
	}
	f, err := parseFilter(s, q.Filter)
	if err != nil {
		return nil, err
	}
	stmt, err := filter.ToSQL(q.Table, f)
	if err != nil {
		return nil, err
	}
	db, err := h.reader(q.Tx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, stmt.Text, stmt.Params...)
	if err != nil {
		return nil, mapError(q.Table, 0, err)
	}
	defer rows.Close()
	return scanRows(rows, s)
}

func (h *Host) count(ctx context.Context, q transport.Query) (int64, error) {
	s, err := h.schema(q.Table)
	if err != nil {
		return 0, err
	}
	f, err := parseFilter(s, q.Filter)
	if err != nil {
		return 0, err
	}
	where, err := filter.WhereSQL(f)
	if err != nil {
		return 0, err
	}
	db, err := h.reader(q.Tx)
	if err != nil {
		return 0, err
	}

	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", filter.QuoteIdent(q.Table), where.Text)
	if err := db.QueryRowContext(ctx, query, where.Params...).Scan(&n); err != nil {
		return 0, mapError(q.Table, 0, err)
	}
	return n, nil
}

// mutate runs m inside the named transaction, or inside a private
// transaction that is committed (and published) immediately.
func (h *Host) mutate(ctx context.Context, origin string, m transport.Mutation) (transport.Result, error) {
	s, err := h.schema(m.Table)
	if err != nil {
		return transport.Result{}, err
	}

	if m.Tx != "" {
		st, err := h.lookupTx(m.Tx)
		if err != nil {
			return transport.Result{}, err
		}
		// A savepoint keeps a failed mutation from leaving partial effects
		// in a transaction that the caller may still commit.
		if _, err := st.tx.ExecContext(ctx, "SAVEPOINT mutation"); err != nil {
			return transport.Result{}, mapError(m.Table, 0, err)
		}
		res, ns, err := h.apply(ctx, st.tx, s, origin, m)
		if err != nil {
			cleanup := context.WithoutCancel(ctx)
			if _, rbErr := st.tx.ExecContext(cleanup, "ROLLBACK TO mutation"); rbErr != nil {
				h.logger.Warn("rollback to savepoint failed", "tx", m.Tx, "error", rbErr)
			}
			_, _ = st.tx.ExecContext(cleanup, "RELEASE mutation")
			return transport.Result{}, err
		}
		if _, err := st.tx.ExecContext(ctx, "RELEASE mutation"); err != nil {
			return transport.Result{}, mapError(m.Table, 0, err)
		}
		h.mu.Lock()
		st.pending = append(st.pending, ns...)
		h.mu.Unlock()
		return res, nil
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return transport.Result{}, mapError(m.Table, 0, err)
	}
	res, ns, err := h.apply(ctx, tx, s, origin, m)
	if err != nil {
		_ = tx.Rollback()
		return transport.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return transport.Result{}, mapError(m.Table, 0, err)
	}
	h.publish(ns)
	return res, nil
}

// apply executes one mutation and returns the notifications it produces.
func (h *Host) apply(ctx context.Context, q querier, s *ir.Schema, origin string, m transport.Mutation) (transport.Result, []transport.Notification, error) {
	note := func(change transport.ChangeType, row ir.Row) transport.Notification {
		return transport.Notification{Table: s.Table.Name, Change: change, Row: row, Origin: origin}
	}

	switch m.Op {
	case transport.OpInsert:
		var res transport.Result
		var ns []transport.Notification
		for _, r := range m.Rows {
			stored, err := insertRow(ctx, q, s, r)
			if err != nil {
				return transport.Result{}, nil, err
			}
			res.Rows = append(res.Rows, stored)
			ns = append(ns, note(transport.Insert, stored))
		}
		res.Affected = int64(len(res.Rows))
		return res, ns, nil

	case transport.OpUpdate:
		var res transport.Result
		var ns []transport.Notification
		for _, r := range m.Rows {
			if err := s.ValidateRow(r); err != nil {
				return transport.Result{}, nil, dberr.ValidationCause(s.Table.Name, err)
			}
			values := make(map[string]ir.Value, len(s.Columns))
			for _, c := range s.Columns {
				values[c.Name] = r.Get(c.Name)
			}
			stored, err := updateRow(ctx, q, s, r.ID, values)
			if err != nil {
				return transport.Result{}, nil, err
			}
			res.Rows = append(res.Rows, stored)
			ns = append(ns, note(transport.Update, stored))
		}
		res.Affected = int64(len(res.Rows))
		return res, ns, nil

	case transport.OpPatch:
		if err := s.ValidatePatch(m.Patch); err != nil {
			return transport.Result{}, nil, dberr.ValidationCause(s.Table.Name, err)
		}
		stored, err := updateRow(ctx, q, s, m.ID, m.Patch)
		if err != nil {
			return transport.Result{}, nil, err
		}
		return transport.Result{Rows: []ir.Row{stored}, Affected: 1}, []transport.Notification{note(transport.Update, stored)}, nil

	case transport.OpDelete:
		var ns []transport.Notification
		for _, id := range m.IDs {
			old, err := readRow(ctx, q, s, id)
			if err != nil {
				return transport.Result{}, nil, err
			}
			query := fmt.Sprintf(`DELETE FROM %s WHERE "id" = ?`, filter.QuoteIdent(s.Table.Name))
			if _, err := q.ExecContext(ctx, query, id); err != nil {
				return transport.Result{}, nil, mapError(s.Table.Name, id, err)
			}
			ns = append(ns, note(transport.Delete, old))
		}
		return transport.Result{Affected: int64(len(ns))}, ns, nil

	case transport.OpDeleteWhere, transport.OpClearColumn, transport.OpReplace:
		n, err := bulkUpdate(ctx, q, s, m)
		if err != nil {
			return transport.Result{}, nil, err
		}
		res := transport.Result{Affected: n}
		if n == 0 {
			return res, nil, nil
		}
		return res, []transport.Notification{note(transport.Alter, ir.Row{})}, nil

	default:
		return transport.Result{}, nil, dberr.Validation("unknown mutation op %q", m.Op)
	}
}

func insertRow(ctx context.Context, q querier, s *ir.Schema, r ir.Row) (ir.Row, error) {
	if r.ID < 0 {
		return ir.Row{}, dberr.Validation("%s: negative id %d", s.Table.Name, r.ID)
	}
	if err := s.ValidateRow(r); err != nil {
		return ir.Row{}, dberr.ValidationCause(s.Table.Name, err)
	}

	var cols, marks []string
	var args []any
	if r.ID != 0 {
		cols = append(cols, `"id"`)
		marks = append(marks, "?")
		args = append(args, r.ID)
	}
	for _, c := range s.Columns {
		v, ok := r.Values[c.Name]
		if !ok {
			continue
		}
		p, err := ir.ToGo(v)
		if err != nil {
			return ir.Row{}, dberr.ValidationCause(s.Table.Name, err)
		}
		cols = append(cols, filter.QuoteIdent(c.Name))
		marks = append(marks, "?")
		args = append(args, p)
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", filter.QuoteIdent(s.Table.Name))
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			filter.QuoteIdent(s.Table.Name), strings.Join(cols, ", "), strings.Join(marks, ", "))
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return ir.Row{}, mapError(s.Table.Name, r.ID, err)
	}
	id := r.ID
	if id == 0 {
		if id, err = res.LastInsertId(); err != nil {
			return ir.Row{}, mapError(s.Table.Name, 0, err)
		}
	}
	return readRow(ctx, q, s, id)
}

// updateRow sets the given columns on row id and returns the stored row.
func updateRow(ctx context.Context, q querier, s *ir.Schema, id int64, values map[string]ir.Value) (ir.Row, error) {
	if id <= 0 {
		return ir.Row{}, dberr.Validation("%s: update requires a row id", s.Table.Name)
	}
	if len(values) == 0 {
		return readRow(ctx, q, s, id)
	}

	var sets []string
	var args []any
	for _, c := range s.Columns {
		v, ok := values[c.Name]
		if !ok {
			continue
		}
		p, err := ir.ToGo(v)
		if err != nil {
			return ir.Row{}, dberr.ValidationCause(s.Table.Name, err)
		}
		sets = append(sets, filter.QuoteIdent(c.Name)+" = ?")
		args = append(args, p)
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE "id" = ?`, filter.QuoteIdent(s.Table.Name), strings.Join(sets, ", "))
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return ir.Row{}, mapError(s.Table.Name, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ir.Row{}, mapError(s.Table.Name, id, err)
	}
	if n == 0 {
		return ir.Row{}, dberr.NotFound(s.Table.Name, id)
	}
	return readRow(ctx, q, s, id)
}

// bulkUpdate runs a filter-scoped delete, clear or replace.
func bulkUpdate(ctx context.Context, q querier, s *ir.Schema, m transport.Mutation) (int64, error) {
	f, err := parseFilter(s, m.Filter)
	if err != nil {
		return 0, err
	}
	where, err := filter.WhereSQL(f)
	if err != nil {
		return 0, err
	}
	table := filter.QuoteIdent(s.Table.Name)

	var query string
	args := where.Params
	switch m.Op {
	case transport.OpDeleteWhere:
		query = fmt.Sprintf("DELETE FROM %s WHERE %s", table, where.Text)

	case transport.OpClearColumn:
		c, ok := s.Column(m.Column)
		if !ok || m.Column == "id" {
			return 0, dberr.Validation("%s: unknown column %q", s.Table.Name, m.Column)
		}
		if !c.Nullable {
			return 0, dberr.Validation("%s.%s: cannot clear a non-nullable column", s.Table.Name, c.Name)
		}
		col := filter.QuoteIdent(c.Name)
		query = fmt.Sprintf("UPDATE %s SET %s = NULL WHERE (%s) AND %s IS NOT NULL", table, col, where.Text, col)

	case transport.OpReplace:
		c, ok := s.Column(m.Column)
		if !ok || c.Type != ir.TypeString {
			return 0, dberr.Validation("%s: search and replace needs a string column, got %q", s.Table.Name, m.Column)
		}
		if m.Search == "" {
			return 0, dberr.Validation("%s: empty search string", s.Table.Name)
		}
		col := filter.QuoteIdent(c.Name)
		query = fmt.Sprintf("UPDATE %s SET %s = replace(%s, ?, ?) WHERE (%s) AND instr(%s, ?) > 0",
			table, col, col, where.Text, col)
		args = append([]any{m.Search, m.Replace}, where.Params...)
		args = append(args, m.Search)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(s.Table.Name, 0, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(s.Table.Name, 0, err)
	}
	return n, nil
}

func readRow(ctx context.Context, q querier, s *ir.Schema, id int64) (ir.Row, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE "id" = ?`, filter.QuoteIdent(s.Table.Name))
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return ir.Row{}, mapError(s.Table.Name, id, err)
	}
	defer rows.Close()

	out, err := scanRows(rows, s)
	if err != nil {
		return ir.Row{}, err
	}
	if len(out) == 0 {
		return ir.Row{}, dberr.NotFound(s.Table.Name, id)
	}
	return out[0], nil
}

// scanRows converts result rows using the schema to restore Bool columns,
// which SQLite stores as 0/1.
func scanRows(rows *sql.Rows, s *ir.Schema) ([]ir.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, mapError(s.Table.Name, 0, err)
	}

	var out []ir.Row
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, mapError(s.Table.Name, 0, err)
		}
		r := ir.Row{Values: make(map[string]ir.Value, len(cols))}
		for i, name := range cols {
			if name == "id" {
				id, ok := raw[i].(int64)
				if !ok {
					return nil, fmt.Errorf("%s: non-integer id %T", s.Table.Name, raw[i])
				}
				r.ID = id
				continue
			}
			c, ok := s.Column(name)
			if !ok {
				continue
			}
			v, err := fromSQL(c, raw[i])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", s.Table.Name, name, err)
			}
			r.Values[name] = v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(s.Table.Name, 0, err)
	}
	return out, nil
}

func fromSQL(c ir.Column, v any) (ir.Value, error) {
	switch val := v.(type) {
	case nil:
		return ir.Null{}, nil
	case int64:
		if c.Type == ir.TypeBool {
			return ir.Bool(val != 0), nil
		}
		return ir.Int(val), nil
	case string:
		return ir.String(val), nil
	case []byte:
		return ir.String(val), nil
	default:
		return nil, fmt.Errorf("unsupported stored type %T", v)
	}
}
