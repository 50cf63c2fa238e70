package view

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/liveview/internal/db"
	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/transport"
)

type viewKey struct {
	table  string
	filter string
}

type rowKey struct {
	table string
	id    int64
}

// Cache multiplexes table subscriptions over one Facade and keeps them in
// sync with the push-notification stream.
//
// All state sits behind one mutex. Notifications are processed one at a
// time by Run (or direct Apply calls) in delivery order; transport round
// trips happen outside the lock and subscriber callbacks run after it is
// released.
type Cache struct {
	db      *db.DB
	logger  *slog.Logger
	metrics *Metrics

	mu        sync.Mutex
	views     map[viewKey]*TableView
	byTable   map[string][]*TableView
	rows      map[rowKey]*RowView
	connected bool
	nextView  int64
	seq       int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for notification-processing failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithMetrics sets the cache's collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// NewCache creates a connected cache over d. When d has a catalog,
// notifications for tables outside it are ignored and rows are validated.
func NewCache(d *db.DB, opts ...Option) *Cache {
	c := &Cache{
		db:        d,
		logger:    slog.Default(),
		views:     make(map[viewKey]*TableView),
		byTable:   make(map[string][]*TableView),
		rows:      make(map[rowKey]*RowView),
		connected: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

// FetchTable returns the shared view of table under f, creating and loading
// it on first use. Every successful call must be paired with Release.
func (c *Cache) FetchTable(ctx context.Context, table string, f filter.Filter) (*TableView, error) {
	var sch *ir.Schema
	if catalog := c.db.Tables(); catalog != nil {
		s, ok := catalog.Lookup(table)
		if !ok {
			return nil, dberr.Validation("unknown table %q", table)
		}
		sch = s
	}
	if err := filter.Validate(f, sch); err != nil {
		return nil, err
	}
	d, err := filter.Compile(f)
	if err != nil {
		return nil, err
	}
	// Evaluate locally on the literals the store receives (NFC), not the
	// caller's.
	local, err := filter.ParseDescriptor(d.Canonical)
	if err != nil {
		return nil, err
	}
	key := viewKey{table: table, filter: d.Key}

	c.mu.Lock()
	if v, ok := c.views[key]; ok {
		v.refs++
		c.mu.Unlock()
		return c.await(ctx, v)
	}

	v := newTableView(c, table, local, d)
	v.refs = 1
	c.nextView++
	v.seq = c.nextView
	c.views[key] = v
	c.byTable[table] = append(c.byTable[table], v)
	c.metrics.TableViews.Inc()

	if !c.connected {
		// Loaded on reconnect.
		close(v.ready)
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	if err := c.load(ctx, v); err != nil {
		var out dispatch
		c.mu.Lock()
		v.err = err
		if !v.released {
			c.drop(v, &out)
		}
		c.mu.Unlock()
		close(v.ready)
		out.run()
		return nil, err
	}
	close(v.ready)
	return v, nil
}

// await waits for another caller's initial load of v.
func (c *Cache) await(ctx context.Context, v *TableView) (*TableView, error) {
	select {
	case <-v.ready:
	case <-ctx.Done():
		_ = c.Release(v)
		return nil, dberr.Transport(ctx.Err(), "fetch %s", v.table)
	}
	if v.err != nil {
		return nil, v.err
	}
	return v, nil
}

// Release drops one reference to v. The last release removes the view from
// the cache and lets go of its row views synchronously. Releasing a view
// with no references left is a USE_AFTER_DISPOSE error.
func (c *Cache) Release(v *TableView) error {
	var out dispatch
	c.mu.Lock()
	if v.released || v.refs <= 0 {
		c.mu.Unlock()
		return dberr.UseAfterDispose("table view " + v.String())
	}
	v.refs--
	if v.refs == 0 {
		c.drop(v, &out)
	}
	c.mu.Unlock()

	out.run()
	return nil
}

// drop removes v from the cache. Caller holds c.mu.
func (c *Cache) drop(v *TableView, out *dispatch) {
	delete(c.views, v.key)
	c.byTable[v.table] = slices.DeleteFunc(c.byTable[v.table], func(o *TableView) bool { return o == v })
	if len(c.byTable[v.table]) == 0 {
		delete(c.byTable, v.table)
	}
	v.released = true
	v.buffer = nil
	for _, rv := range v.rows {
		c.disown(v, rv, out)
	}
	v.rows = nil
	v.index = make(map[int64]*RowView)
	c.metrics.TableViews.Dec()
}

// GetRowView returns the row view for (table, id) with one external hold,
// selecting the row when it is not cached. Pair with RowView.Unhold.
func (c *Cache) GetRowView(ctx context.Context, table string, id int64) (*RowView, error) {
	key := rowKey{table: table, id: id}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, dberr.Transport(nil, "not connected")
	}
	if rv, ok := c.rows[key]; ok {
		rv.holds++
		c.mu.Unlock()
		return rv, nil
	}
	c.mu.Unlock()

	row, err := c.db.SelectByID(ctx, table, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// The cached snapshot, if one appeared meanwhile, is kept current by
	// notifications and wins over the select.
	rv, ok := c.rows[key]
	if !ok {
		rv = c.newRowView(table, row)
	}
	rv.holds++
	return rv, nil
}

// Principal returns the single row of a singleton-like view, or NOT_FOUND
// when the view holds zero or several rows.
func (c *Cache) Principal(v *TableView) (*RowView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.released {
		return nil, dberr.UseAfterDispose("table view " + v.String())
	}
	if len(v.rows) != 1 {
		return nil, dberr.NotFound(v.table, 0)
	}
	return v.rows[0], nil
}

// Connected reports the cache's connection state.
func (c *Cache) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetConnected records a connection change. Disconnecting empties every
// view and disposes every row view; reconnecting reloads all views.
func (c *Cache) SetConnected(ctx context.Context, connected bool) error {
	var out dispatch
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = connected
	views := c.allViews()

	if connected {
		c.mu.Unlock()
		return c.reload(ctx, views)
	}

	for _, v := range views {
		for _, rv := range v.rows {
			delete(rv.owners, v)
		}
		v.rows = nil
		v.index = make(map[int64]*RowView)
		v.buffer = nil
		if v.loading {
			v.stale = true
		}
		v.subs.emit(&out, ViewEvent{Kind: ViewCleared})
	}
	for _, rv := range c.sortedRows() {
		c.dispose(rv, &out)
	}
	c.mu.Unlock()

	out.run()
	return nil
}

// ReloadAll re-selects every live view.
func (c *Cache) ReloadAll(ctx context.Context) error {
	c.mu.Lock()
	views := c.allViews()
	c.mu.Unlock()
	return c.reload(ctx, views)
}

func (c *Cache) reload(ctx context.Context, views []*TableView) error {
	var errs []error
	for _, v := range views {
		if err := c.load(ctx, v); err != nil {
			c.logger.Warn("view reload failed", "table", v.table, "view", v.String(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LastSeq returns the sequence number of the last notification processed.
func (c *Cache) LastSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Stats reports the live table and row view counts.
func (c *Cache) Stats() (tableViews, rowViews int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.views), len(c.rows)
}

// Run processes the Facade's notification stream until ctx is done or the
// stream closes. A notification that fails to apply is logged and skipped.
func (c *Cache) Run(ctx context.Context) error {
	stream := c.db.Notifications()
	for {
		n, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		if err := c.Apply(ctx, n); err != nil {
			c.logger.Error("notification not applied",
				"seq", n.Seq,
				"table", n.Table,
				"change", n.Change,
				"id", n.Row.ID,
				"error", err,
			)
		}
	}
}

// allViews returns live views in creation order. Caller holds c.mu.
func (c *Cache) allViews() []*TableView {
	out := make([]*TableView, 0, len(c.views))
	for _, v := range c.views {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *TableView) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// sortedRows returns live row views in (table, id) order. Caller holds c.mu.
func (c *Cache) sortedRows() []*RowView {
	out := make([]*RowView, 0, len(c.rows))
	for _, rv := range c.rows {
		out = append(out, rv)
	}
	slices.SortFunc(out, func(a, b *RowView) int {
		if n := cmp.Compare(a.key.table, b.key.table); n != 0 {
			return n
		}
		return cmp.Compare(a.key.id, b.key.id)
	})
	return out
}
