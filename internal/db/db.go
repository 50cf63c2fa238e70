package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/transport"
)

// Querier is the set of operations available both outside a transaction
// (*DB) and inside one (*Tx).
type Querier interface {
	Select(ctx context.Context, table string, f filter.Filter) ([]ir.Row, error)
	SelectByID(ctx context.Context, table string, id int64) (ir.Row, error)
	Count(ctx context.Context, table string, f filter.Filter) (int64, error)
	Exists(ctx context.Context, table string, f filter.Filter) (bool, error)

	CreateRows(ctx context.Context, table string, rows []ir.Row) ([]ir.Row, error)
	UpdateRows(ctx context.Context, table string, rows []ir.Row) ([]ir.Row, error)
	UpdatePartial(ctx context.Context, table string, id int64, patch map[string]ir.Value) (ir.Row, error)
	Delete(ctx context.Context, table string, id int64) error
	DeleteMany(ctx context.Context, table string, ids []int64) error

	DeleteWhere(ctx context.Context, table string, f filter.Filter) (int64, error)
	ClearColumnWhere(ctx context.Context, table, column string, f filter.Filter) (int64, error)
	SearchAndReplace(ctx context.Context, table string, f filter.Filter, column, search, replace string) (int64, error)
}

var (
	_ Querier = (*DB)(nil)
	_ Querier = (*Tx)(nil)
)

// DB is the Facade over a Transport.
type DB struct {
	scope
	transport transport.Transport
	catalog   *ir.Catalog
	logger    *slog.Logger
}

// Tx is a transaction scope handed to a DB.Transaction callback.
type Tx struct {
	scope
	id transport.TxID
}

// Option configures a DB.
type Option func(*DB)

// WithCatalog enables schema validation of every request.
func WithCatalog(c *ir.Catalog) Option {
	return func(db *DB) {
		db.catalog = c
	}
}

// WithLogger sets the logger used for rollback failures.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) {
		db.logger = l
	}
}

// New creates a Facade over t.
func New(t transport.Transport, opts ...Option) *DB {
	db := &DB{
		transport: t,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.scope = scope{db: db}
	return db
}

// Tables returns the configured catalog, or nil.
func (db *DB) Tables() *ir.Catalog {
	return db.catalog
}

// Notifications returns the transport's push stream.
func (db *DB) Notifications() transport.Stream {
	return db.transport.Notifications()
}

// Transaction runs fn inside one remote transaction. The transaction commits
// when fn returns nil. When fn returns an error or panics it is rolled back;
// the error is returned and the panic re-raised. tx must not be used after
// fn returns.
//
// The transaction holds the store until it ends: fn must issue its requests
// through tx, not through db.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	id, err := db.transport.Begin(ctx)
	if err != nil {
		return err
	}
	tx := &Tx{scope: scope{db: db, tx: id, done: new(atomic.Bool)}, id: id}

	defer func() {
		if p := recover(); p != nil {
			tx.done.Store(true)
			db.rollback(ctx, id)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.done.Store(true)
		db.rollback(ctx, id)
		return err
	}
	tx.done.Store(true)
	return db.transport.Commit(ctx, id)
}

func (db *DB) rollback(ctx context.Context, id transport.TxID) {
	if err := db.transport.Rollback(context.WithoutCancel(ctx), id); err != nil {
		db.logger.Warn("rollback failed", "tx", id, "error", err)
	}
}

// CreateRows inserts rows and returns them with assigned ids. More than one
// row is inserted inside a transaction.
func (db *DB) CreateRows(ctx context.Context, table string, rows []ir.Row) ([]ir.Row, error) {
	if len(rows) <= 1 {
		return db.scope.CreateRows(ctx, table, rows)
	}
	var out []ir.Row
	err := db.Transaction(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.CreateRows(ctx, table, rows)
		return err
	})
	return out, err
}

// UpdateRows replaces rows by id. More than one row is updated inside a
// transaction.
func (db *DB) UpdateRows(ctx context.Context, table string, rows []ir.Row) ([]ir.Row, error) {
	if len(rows) <= 1 {
		return db.scope.UpdateRows(ctx, table, rows)
	}
	var out []ir.Row
	err := db.Transaction(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.UpdateRows(ctx, table, rows)
		return err
	})
	return out, err
}

// DeleteMany deletes ids. More than one id is deleted inside a transaction.
func (db *DB) DeleteMany(ctx context.Context, table string, ids []int64) error {
	if len(ids) <= 1 {
		return db.scope.DeleteMany(ctx, table, ids)
	}
	return db.Transaction(ctx, func(tx *Tx) error {
		return tx.DeleteMany(ctx, table, ids)
	})
}

// ID returns the remote transaction id.
func (tx *Tx) ID() transport.TxID {
	return tx.id
}

// scope implements Querier for a transaction id ("" for auto-commit).
type scope struct {
	db   *DB
	tx   transport.TxID
	done *atomic.Bool
}

// check fails once a transaction scope has ended.
func (s scope) check() error {
	if s.done != nil && s.done.Load() {
		return dberr.UseAfterDispose(fmt.Sprintf("transaction %s", s.tx))
	}
	return nil
}

func (s scope) schema(table string) (*ir.Schema, error) {
	if table == "" {
		return nil, dberr.Validation("empty table name")
	}
	if s.db.catalog == nil {
		return nil, nil
	}
	sch, ok := s.db.catalog.Lookup(table)
	if !ok {
		return nil, dberr.Validation("unknown table %q", table)
	}
	return sch, nil
}

// descriptor validates f against the table and returns its canonical form.
func (s scope) descriptor(table string, f filter.Filter) ([]byte, error) {
	sch, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	if err := filter.Validate(f, sch); err != nil {
		return nil, err
	}
	d, err := filter.Compile(f)
	if err != nil {
		return nil, err
	}
	return d.Canonical, nil
}

func (s scope) query(table string, f filter.Filter) (transport.Query, error) {
	if err := s.check(); err != nil {
		return transport.Query{}, err
	}
	d, err := s.descriptor(table, f)
	if err != nil {
		return transport.Query{}, err
	}
	return transport.Query{Table: table, Filter: d, Tx: s.tx}, nil
}

func (s scope) mutate(ctx context.Context, m transport.Mutation) (transport.Result, error) {
	if err := s.check(); err != nil {
		return transport.Result{}, err
	}
	m.Tx = s.tx
	return s.db.transport.Mutate(ctx, m)
}

// Select returns the rows of table matching f, in f's order.
func (s scope) Select(ctx context.Context, table string, f filter.Filter) ([]ir.Row, error) {
	q, err := s.query(table, f)
	if err != nil {
		return nil, err
	}
	return s.db.transport.Select(ctx, q)
}

// SelectByID returns one row, or a NOT_FOUND error.
func (s scope) SelectByID(ctx context.Context, table string, id int64) (ir.Row, error) {
	rows, err := s.Select(ctx, table, filter.New(filter.Eq("id", ir.Int(id))))
	if err != nil {
		return ir.Row{}, err
	}
	if len(rows) == 0 {
		return ir.Row{}, dberr.NotFound(table, id)
	}
	return rows[0], nil
}

// Count returns the number of rows matching f.
func (s scope) Count(ctx context.Context, table string, f filter.Filter) (int64, error) {
	q, err := s.query(table, f)
	if err != nil {
		return 0, err
	}
	return s.db.transport.Count(ctx, q)
}

// Exists reports whether any row matches f.
func (s scope) Exists(ctx context.Context, table string, f filter.Filter) (bool, error) {
	n, err := s.Count(ctx, table, f)
	return n > 0, err
}

// CreateRows inserts rows. A row with a non-zero id is inserted with it.
func (s scope) CreateRows(ctx context.Context, table string, rows []ir.Row) ([]ir.Row, error) {
	if err := s.validateRows(table, rows, false); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, s.check()
	}
	res, err := s.mutate(ctx, transport.Mutation{Op: transport.OpInsert, Table: table, Rows: rows})
	return res.Rows, err
}

// UpdateRows replaces every column of each row, matched by id.
func (s scope) UpdateRows(ctx context.Context, table string, rows []ir.Row) ([]ir.Row, error) {
	if err := s.validateRows(table, rows, true); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, s.check()
	}
	res, err := s.mutate(ctx, transport.Mutation{Op: transport.OpUpdate, Table: table, Rows: rows})
	return res.Rows, err
}

// UpdatePartial sets the columns in patch on row id.
func (s scope) UpdatePartial(ctx context.Context, table string, id int64, patch map[string]ir.Value) (ir.Row, error) {
	sch, err := s.schema(table)
	if err != nil {
		return ir.Row{}, err
	}
	if id <= 0 {
		return ir.Row{}, dberr.Validation("%s: update requires a row id", table)
	}
	if sch != nil {
		if err := sch.ValidatePatch(patch); err != nil {
			return ir.Row{}, dberr.ValidationCause(table, err)
		}
	}
	res, err := s.mutate(ctx, transport.Mutation{Op: transport.OpPatch, Table: table, ID: id, Patch: patch})
	if err != nil {
		return ir.Row{}, err
	}
	return res.Rows[0], nil
}

// Delete deletes one row.
func (s scope) Delete(ctx context.Context, table string, id int64) error {
	return s.DeleteMany(ctx, table, []int64{id})
}

// DeleteMany deletes every id; it fails with NOT_FOUND if any is missing.
func (s scope) DeleteMany(ctx context.Context, table string, ids []int64) error {
	if _, err := s.schema(table); err != nil {
		return err
	}
	for _, id := range ids {
		if id <= 0 {
			return dberr.Validation("%s: invalid row id %d", table, id)
		}
	}
	if len(ids) == 0 {
		return s.check()
	}
	_, err := s.mutate(ctx, transport.Mutation{Op: transport.OpDelete, Table: table, IDs: ids})
	return err
}

// DeleteWhere deletes every row matching f and returns how many were
// deleted. Views over the table reload.
func (s scope) DeleteWhere(ctx context.Context, table string, f filter.Filter) (int64, error) {
	return s.bulk(ctx, transport.Mutation{Op: transport.OpDeleteWhere, Table: table}, f)
}

// ClearColumnWhere sets column to NULL on every row matching f.
func (s scope) ClearColumnWhere(ctx context.Context, table, column string, f filter.Filter) (int64, error) {
	return s.bulk(ctx, transport.Mutation{Op: transport.OpClearColumn, Table: table, Column: column}, f)
}

// SearchAndReplace replaces every occurrence of search in column, on rows
// matching f.
func (s scope) SearchAndReplace(ctx context.Context, table string, f filter.Filter, column, search, replace string) (int64, error) {
	if search == "" {
		return 0, dberr.Validation("%s: empty search string", table)
	}
	return s.bulk(ctx, transport.Mutation{
		Op:      transport.OpReplace,
		Table:   table,
		Column:  column,
		Search:  search,
		Replace: replace,
	}, f)
}

func (s scope) bulk(ctx context.Context, m transport.Mutation, f filter.Filter) (int64, error) {
	d, err := s.descriptor(m.Table, f)
	if err != nil {
		return 0, err
	}
	if m.Column != "" {
		if err := s.checkColumn(m); err != nil {
			return 0, err
		}
	}
	m.Filter = d
	res, err := s.mutate(ctx, m)
	return res.Affected, err
}

func (s scope) checkColumn(m transport.Mutation) error {
	sch, err := s.schema(m.Table)
	if err != nil || sch == nil {
		return err
	}
	c, ok := sch.Column(m.Column)
	if !ok || c.Name == "id" {
		return dberr.Validation("%s: unknown column %q", m.Table, m.Column)
	}
	switch m.Op {
	case transport.OpClearColumn:
		if !c.Nullable {
			return dberr.Validation("%s.%s: cannot clear a non-nullable column", m.Table, c.Name)
		}
	case transport.OpReplace:
		if c.Type != ir.TypeString {
			return dberr.Validation("%s.%s: search and replace needs a string column", m.Table, c.Name)
		}
	}
	return nil
}

func (s scope) validateRows(table string, rows []ir.Row, needID bool) error {
	sch, err := s.schema(table)
	if err != nil {
		return err
	}
	for i, r := range rows {
		if needID && r.ID <= 0 {
			return dberr.Validation("%s: rows[%d] has no id", table, i)
		}
		if r.ID < 0 {
			return dberr.Validation("%s: rows[%d] has negative id %d", table, i, r.ID)
		}
		if sch == nil {
			continue
		}
		if err := sch.ValidateRow(r); err != nil {
			return dberr.ValidationCause(table, fmt.Errorf("rows[%d]: %w", i, err))
		}
	}
	return nil
}
