package host

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/transport"
)

// Host owns the SQLite database, open transactions and client connections.
type Host struct {
	db      *sql.DB
	catalog *ir.Catalog
	logger  *slog.Logger
	clock   clock

	mu     sync.Mutex
	conns  map[string]*Conn
	txs    map[transport.TxID]*txState
	closed bool
}

// txState is an open transaction and the notifications it will publish.
type txState struct {
	tx      *sql.Tx
	origin  string
	pending []transport.Notification
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// Open creates or opens a SQLite database at path (":memory:" for a
// transient store) and creates the catalog's tables if missing.
func Open(path string, catalog *ir.Catalog, opts ...Option) (*Host, error) {
	if catalog == nil {
		return nil, fmt.Errorf("open host: nil catalog")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has one writer; a single pooled connection also keeps an
	// in-memory database alive for the host's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db, catalog); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	h := &Host{
		db:      db,
		catalog: catalog,
		logger:  slog.Default(),
		conns:   make(map[string]*Conn),
		txs:     make(map[transport.TxID]*txState),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Close rolls back open transactions, closes every connection's stream and
// closes the database. Safe to call more than once.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	txs := h.txs
	h.txs = make(map[transport.TxID]*txState)
	conns := h.conns
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	for id, st := range txs {
		if err := st.tx.Rollback(); err != nil {
			h.logger.Warn("rollback on close failed", "tx", id, "error", err)
		}
	}
	for _, c := range conns {
		c.queue.Close()
	}
	return h.db.Close()
}

// Catalog returns the host's table catalog.
func (h *Host) Catalog() *ir.Catalog {
	return h.catalog
}

// Seq returns the sequence number of the last published notification.
func (h *Host) Seq() int64 {
	return h.clock.current()
}

// Connect registers a new client. Each connection receives every
// notification published after it connects, including its own.
func (h *Host) Connect() (*Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, dberr.Transport(nil, "host closed")
	}
	c := &Conn{
		id:    uuid.Must(uuid.NewV7()).String(),
		host:  h,
		queue: transport.NewQueue(),
	}
	h.conns[c.id] = c
	return c, nil
}

func (h *Host) disconnect(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	var orphaned []transport.TxID
	for id, st := range h.txs {
		if st.origin == c.id {
			orphaned = append(orphaned, id)
		}
	}
	h.mu.Unlock()

	for _, id := range orphaned {
		if err := h.rollback(id); err != nil {
			h.logger.Warn("rollback on disconnect failed", "tx", id, "error", err)
		}
	}
	c.queue.Close()
}

// publish stamps and delivers notifications to every live connection.
func (h *Host) publish(ns []transport.Notification) {
	if len(ns) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, n := range ns {
		n.Seq = h.clock.next()
		for _, c := range h.conns {
			c.queue.Push(n)
		}
	}
}

func (h *Host) checkOpen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return dberr.Transport(nil, "host closed")
	}
	return nil
}

// begin opens a transaction owned by origin.
func (h *Host) begin(ctx context.Context, origin string) (transport.TxID, error) {
	if err := h.checkOpen(); err != nil {
		return "", err
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return "", dberr.Transport(err, "begin")
	}
	id := transport.TxID(uuid.Must(uuid.NewV7()).String())

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = tx.Rollback()
		return "", dberr.Transport(nil, "host closed")
	}
	h.txs[id] = &txState{tx: tx, origin: origin}
	return id, nil
}

// take removes and returns an open transaction.
func (h *Host) take(id transport.TxID) (*txState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.txs[id]
	if !ok {
		return nil, dberr.UseAfterDispose("transaction " + string(id))
	}
	delete(h.txs, id)
	return st, nil
}

func (h *Host) commit(id transport.TxID) error {
	st, err := h.take(id)
	if err != nil {
		return err
	}
	if err := st.tx.Commit(); err != nil {
		return mapError("", 0, err)
	}
	h.publish(st.pending)
	return nil
}

func (h *Host) rollback(id transport.TxID) error {
	st, err := h.take(id)
	if err != nil {
		return err
	}
	if err := st.tx.Rollback(); err != nil {
		return dberr.Transport(err, "rollback")
	}
	return nil
}

// lookupTx returns an open transaction without removing it.
func (h *Host) lookupTx(id transport.TxID) (*txState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, dberr.Transport(nil, "host closed")
	}
	st, ok := h.txs[id]
	if !ok {
		return nil, dberr.UseAfterDispose("transaction " + string(id))
	}
	return st, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates one table per catalog schema. Idempotent.
func applySchema(db *sql.DB, catalog *ir.Catalog) error {
	for _, s := range catalog.Schemas() {
		if _, err := db.Exec(createTableSQL(s)); err != nil {
			return fmt.Errorf("create %s: %w", s.Table.Name, err)
		}
	}
	return nil
}

// createTableSQL renders the DDL for a schema. AUTOINCREMENT keeps deleted
// ids from being reassigned, so an undone delete can restore its id.
func createTableSQL(s *ir.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t\"id\" INTEGER PRIMARY KEY AUTOINCREMENT", filter.QuoteIdent(s.Table.Name))
	for _, c := range s.Columns {
		fmt.Fprintf(&b, ",\n\t%s %s", filter.QuoteIdent(c.Name), c.Type.SQLType())
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if c.Type == ir.TypeBool {
			fmt.Fprintf(&b, " CHECK (%s IN (0, 1))", filter.QuoteIdent(c.Name))
		}
		if c.References != "" {
			fmt.Fprintf(&b, " REFERENCES %s(\"id\")", filter.QuoteIdent(c.References))
		}
	}
	b.WriteString("\n)")
	return b.String()
}
