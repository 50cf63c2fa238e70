package view

import (
	"context"
	"slices"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/transport"
)

// Apply processes one push notification. Notifications for tables outside
// the catalog are ignored. A notification for a known table whose row has
// no id or fails validation is rejected with a VALIDATION error and changes
// nothing. An alter notification reloads every view on the table before
// Apply returns.
func (c *Cache) Apply(ctx context.Context, n transport.Notification) error {
	var out dispatch
	c.mu.Lock()
	reload, err := c.apply(n, &out)
	c.mu.Unlock()
	out.run()

	if err != nil {
		c.metrics.notification(resultRejected)
		return err
	}
	return c.reload(ctx, reload)
}

// apply updates state for n and returns the views an alter invalidated.
// Caller holds c.mu.
func (c *Cache) apply(n transport.Notification, out *dispatch) ([]*TableView, error) {
	if !c.connected {
		c.metrics.notification(resultIgnored)
		return nil, nil
	}

	var sch *ir.Schema
	if catalog := c.db.Tables(); catalog != nil {
		s, ok := catalog.Lookup(n.Table)
		if !ok {
			c.metrics.notification(resultIgnored)
			return nil, nil
		}
		sch = s
	}

	switch n.Change {
	case transport.Insert, transport.Update:
		if n.Row.ID <= 0 {
			return nil, dberr.Validation("%s notification for %s: row has no id", n.Change, n.Table)
		}
		if sch != nil {
			if err := sch.ValidateRow(n.Row); err != nil {
				return nil, dberr.ValidationCause(n.Table, err)
			}
		}
		c.track(n)
		c.bufferPending(n)
		c.upsert(n.Table, n.Row, out)

	case transport.Delete:
		if n.Row.ID <= 0 {
			return nil, dberr.Validation("delete notification for %s: row has no id", n.Table)
		}
		c.track(n)
		c.bufferPending(n)
		c.remove(n.Table, n.Row.ID, out)

	case transport.Alter:
		c.track(n)
		var reload []*TableView
		for _, v := range c.byTable[n.Table] {
			if v.loading {
				v.stale = true
				continue
			}
			reload = append(reload, v)
		}
		c.metrics.notification(resultApplied)
		return reload, nil

	default:
		return nil, dberr.Validation("unknown change type %q", n.Change)
	}

	c.metrics.notification(resultApplied)
	return nil, nil
}

func (c *Cache) track(n transport.Notification) {
	if n.Seq > c.seq {
		c.seq = n.Seq
	}
}

// bufferPending queues n on views of its table whose select is in flight;
// they replay it once the select lands.
func (c *Cache) bufferPending(n transport.Notification) {
	for _, v := range c.byTable[n.Table] {
		if v.loading {
			v.buffer = append(v.buffer, n)
		}
	}
}

// upsert records row as the latest known data and re-evaluates every ready
// view on the table. Caller holds c.mu.
func (c *Cache) upsert(table string, row ir.Row, out *dispatch) {
	rv, ok := c.rows[rowKey{table: table, id: row.ID}]
	if ok {
		if !rv.deleted && rv.row.Equal(row) {
			// Views are already consistent with this snapshot.
			return
		}
		rv.set(row, out)
	}
	for _, v := range c.byTable[table] {
		if v.loading {
			continue
		}
		c.place(v, row, out)
	}
}

// place brings row's membership and position in v in line with its latest
// data.
func (c *Cache) place(v *TableView, row ir.Row, out *dispatch) {
	match := v.filter.Matches(row)
	i := v.position(row.ID)

	switch {
	case match && i < 0:
		rv := c.attach(v, row)
		j := v.insert(rv)
		v.subs.emit(out, ViewEvent{Kind: RowInserted, ID: row.ID, Row: rv, Index: j})

	case match:
		if v.inOrder(i) {
			return
		}
		rv := v.removeAt(i)
		j := v.insert(rv)
		v.subs.emit(out, ViewEvent{Kind: RowMoved, ID: row.ID, Row: rv, From: i, Index: j})

	case i >= 0:
		rv := v.removeAt(i)
		v.subs.emit(out, ViewEvent{Kind: RowRemoved, ID: row.ID, Row: rv, Index: i})
		c.disown(v, rv, out)
	}
}

// remove handles a delete: the row leaves every ready view and its shared
// view is marked deleted.
func (c *Cache) remove(table string, id int64, out *dispatch) {
	rv, ok := c.rows[rowKey{table: table, id: id}]
	if ok {
		rv.markDeleted(out)
	}
	for _, v := range c.byTable[table] {
		if v.loading {
			continue
		}
		if i := v.position(id); i >= 0 {
			rv := v.removeAt(i)
			v.subs.emit(out, ViewEvent{Kind: RowRemoved, ID: id, Row: rv, Index: i})
			c.disown(v, rv, out)
		}
	}
}

// attach returns the shared row view for row, creating it when needed, and
// records v as an owner.
func (c *Cache) attach(v *TableView, row ir.Row) *RowView {
	rv, ok := c.rows[rowKey{table: v.table, id: row.ID}]
	if !ok {
		rv = c.newRowView(v.table, row)
	}
	rv.owners[v] = struct{}{}
	return rv
}

func (c *Cache) newRowView(table string, row ir.Row) *RowView {
	rv := &RowView{
		cache:   c,
		key:     rowKey{table: table, id: row.ID},
		row:     row.Clone(),
		version: 1,
		owners:  make(map[*TableView]struct{}),
	}
	c.rows[rv.key] = rv
	c.metrics.RowViews.Inc()
	return rv
}

func (c *Cache) disown(v *TableView, rv *RowView, out *dispatch) {
	delete(rv.owners, v)
	c.collect(rv, out)
}

// collect disposes rv when nothing references it.
func (c *Cache) collect(rv *RowView, out *dispatch) {
	if len(rv.owners) == 0 && rv.holds == 0 {
		c.dispose(rv, out)
	}
}

func (c *Cache) dispose(rv *RowView, out *dispatch) {
	if rv.disposed {
		return
	}
	rv.disposed = true
	rv.owners = nil
	rv.holds = 0
	delete(c.rows, rv.key)
	c.metrics.RowViews.Dec()
	rv.subs.emit(out, RowEvent{Kind: RowDisposed, Row: rv.row.Clone(), Version: rv.version})
}

// load selects v's rows and installs them. Notifications arriving while the
// select is in flight are buffered on v; an alter among them restarts the
// select.
func (c *Cache) load(ctx context.Context, v *TableView) error {
	for {
		c.mu.Lock()
		if v.released {
			c.mu.Unlock()
			return nil
		}
		v.loading = true
		v.stale = false
		v.buffer = nil
		c.mu.Unlock()

		rows, err := c.db.Select(ctx, v.table, v.filter)

		var out dispatch
		c.mu.Lock()
		switch {
		case v.released:
			c.mu.Unlock()
			return nil

		case !c.connected:
			// Disconnect emptied the view; reconnect loads it again.
			v.loading = false
			v.buffer = nil
			c.mu.Unlock()
			return err

		case err != nil:
			// Keep the last known state and catch up on what arrived.
			buffered := v.buffer
			v.buffer = nil
			v.loading = false
			for _, n := range buffered {
				c.replay(v, n, &out)
			}
			c.mu.Unlock()
			out.run()
			return err

		case v.stale:
			c.mu.Unlock()
			continue
		}

		c.install(v, rows, &out)
		c.metrics.Loads.Inc()
		c.mu.Unlock()
		out.run()
		return nil
	}
}

// install reconciles v with a select result and the notifications buffered
// while it was in flight. Buffered notifications are newer knowledge than
// the select for the rows they name; every other selected row refreshes the
// shared snapshot. Caller holds c.mu.
func (c *Cache) install(v *TableView, rows []ir.Row, out *dispatch) {
	latest := make(map[int64]ir.Row, len(rows))
	for _, r := range rows {
		latest[r.ID] = r
	}
	touched := make(map[int64]bool)
	for _, n := range v.buffer {
		switch n.Change {
		case transport.Insert, transport.Update:
			latest[n.Row.ID] = n.Row
			touched[n.Row.ID] = true
		case transport.Delete:
			delete(latest, n.Row.ID)
			touched[n.Row.ID] = true
		}
	}
	v.buffer = nil

	// v is still loading, so upsert leaves it alone.
	for _, r := range rows {
		if !touched[r.ID] {
			c.upsert(v.table, r, out)
		}
	}

	next := make([]*RowView, 0, len(latest))
	keep := make(map[int64]bool, len(latest))
	for id, r := range latest {
		if !v.filter.Matches(r) {
			continue
		}
		keep[id] = true
		next = append(next, c.attach(v, r))
	}
	slices.SortFunc(next, func(a, b *RowView) int { return v.filter.Compare(a.row, b.row) })

	changed := len(next) != len(v.rows)
	for i, rv := range v.rows {
		if !keep[rv.key.id] {
			c.disown(v, rv, out)
			changed = true
		} else if !changed && next[i] != rv {
			changed = true
		}
	}

	v.rows = next
	v.index = make(map[int64]*RowView, len(next))
	for _, rv := range next {
		v.index[rv.key.id] = rv
	}
	v.loading = false

	if changed {
		v.subs.emit(out, ViewEvent{Kind: ViewReloaded})
	}
}

// replay applies a buffered notification to v alone; the shared snapshot
// was already updated when it arrived.
func (c *Cache) replay(v *TableView, n transport.Notification, out *dispatch) {
	switch n.Change {
	case transport.Insert, transport.Update:
		row := n.Row
		if rv, ok := c.rows[rowKey{table: v.table, id: n.Row.ID}]; ok {
			row = rv.row
		}
		c.place(v, row, out)
	case transport.Delete:
		if i := v.position(n.Row.ID); i >= 0 {
			rv := v.removeAt(i)
			v.subs.emit(out, ViewEvent{Kind: RowRemoved, ID: n.Row.ID, Row: rv, Index: i})
			c.disown(v, rv, out)
		}
	}
}
