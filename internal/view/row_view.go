package view

import (
	"fmt"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/ir"
)

// RowView is a shared reactive handle on one row's current data. It is
// owned by the TableViews that include the row and by external holders
// (GetRowView, Hold). Only the cache writes its snapshot.
//
// A RowView is disposed once it has neither owners nor holders, and is never
// revived: a later fetch of the same id yields a new instance.
type RowView struct {
	cache *Cache
	key   rowKey

	// Guarded by cache.mu.
	row      ir.Row
	version  int64
	owners   map[*TableView]struct{}
	holds    int
	deleted  bool
	disposed bool

	subs observers[RowEvent]
}

// Table returns the row's table name.
func (rv *RowView) Table() string { return rv.key.table }

// ID returns the row id.
func (rv *RowView) ID() int64 { return rv.key.id }

func (rv *RowView) String() string {
	return fmt.Sprintf("%s/%d", rv.key.table, rv.key.id)
}

// Value returns a copy of the current snapshot. Reading a disposed view is
// a USE_AFTER_DISPOSE error.
func (rv *RowView) Value() (ir.Row, error) {
	rv.cache.mu.Lock()
	defer rv.cache.mu.Unlock()
	if rv.disposed {
		return ir.Row{}, dberr.UseAfterDispose("row view " + rv.String())
	}
	return rv.row.Clone(), nil
}

// Version increments on every snapshot change, starting at 1.
func (rv *RowView) Version() int64 {
	rv.cache.mu.Lock()
	defer rv.cache.mu.Unlock()
	return rv.version
}

// Disposed reports whether the view has been disposed.
func (rv *RowView) Disposed() bool {
	rv.cache.mu.Lock()
	defer rv.cache.mu.Unlock()
	return rv.disposed
}

// Deleted reports whether the row was deleted remotely after this view
// last saw it.
func (rv *RowView) Deleted() bool {
	rv.cache.mu.Lock()
	defer rv.cache.mu.Unlock()
	return rv.deleted
}

// Hold attaches an external holder, keeping the view alive after every
// owning TableView lets go of it.
func (rv *RowView) Hold() error {
	rv.cache.mu.Lock()
	defer rv.cache.mu.Unlock()
	if rv.disposed {
		return dberr.UseAfterDispose("row view " + rv.String())
	}
	rv.holds++
	return nil
}

// Unhold detaches one external holder. The view is disposed when this was
// the last reference. Unhold on an already disposed view is a no-op.
func (rv *RowView) Unhold() error {
	var out dispatch
	rv.cache.mu.Lock()
	if rv.disposed {
		rv.cache.mu.Unlock()
		return nil
	}
	if rv.holds == 0 {
		rv.cache.mu.Unlock()
		return dberr.UseAfterDispose("row view " + rv.String() + " hold")
	}
	rv.holds--
	rv.cache.collect(rv, &out)
	rv.cache.mu.Unlock()

	out.run()
	return nil
}

// Subscribe registers fn for this view's events and returns the
// unsubscribe function. Callbacks run after the cache lock is released,
// in registration order, and must not block.
func (rv *RowView) Subscribe(fn func(RowEvent)) func() {
	return rv.subs.add(fn)
}

// set replaces the snapshot. Caller holds cache.mu.
func (rv *RowView) set(row ir.Row, out *dispatch) {
	rv.row = row.Clone()
	rv.version++
	rv.deleted = false
	rv.subs.emit(out, RowEvent{Kind: RowUpdated, Row: rv.row.Clone(), Version: rv.version})
}

// markDeleted records a remote delete. Caller holds cache.mu.
func (rv *RowView) markDeleted(out *dispatch) {
	if rv.deleted {
		return
	}
	rv.deleted = true
	rv.version++
	rv.subs.emit(out, RowEvent{Kind: RowDeleted, Row: rv.row.Clone(), Version: rv.version})
}
