package view

import (
	"fmt"
	"slices"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/transport"
)

// TableView is a live, ordered, filtered subscription over one table. It is
// shared by every FetchTable call with an equivalent filter and released
// through Cache.Release.
type TableView struct {
	cache  *Cache
	key    viewKey
	seq    int64
	table  string
	filter filter.Filter
	desc   filter.Descriptor

	// ready is closed when the initial load finishes; err is set before.
	ready chan struct{}
	err   error

	// Guarded by cache.mu.
	rows     []*RowView
	index    map[int64]*RowView
	refs     int
	released bool
	loading  bool
	stale    bool
	buffer   []transport.Notification

	subs observers[ViewEvent]
}

func newTableView(c *Cache, table string, f filter.Filter, d filter.Descriptor) *TableView {
	return &TableView{
		cache:  c,
		key:    viewKey{table: table, filter: d.Key},
		table:  table,
		filter: f,
		desc:   d,
		ready:  make(chan struct{}),
		index:  make(map[int64]*RowView),
	}
}

// Table returns the table name.
func (v *TableView) Table() string { return v.table }

// Filter returns the filter the view evaluates: the caller's filter as
// decoded from its canonical descriptor, so string literals are NFC.
func (v *TableView) Filter() filter.Filter { return v.filter }

// Descriptor returns the canonical descriptor that identifies the view.
func (v *TableView) Descriptor() filter.Descriptor { return v.desc }

func (v *TableView) String() string {
	return fmt.Sprintf("%s[%s]", v.table, v.desc.Key[:12])
}

// Rows returns the current ordered row views.
func (v *TableView) Rows() ([]*RowView, error) {
	v.cache.mu.Lock()
	defer v.cache.mu.Unlock()
	if v.released {
		return nil, dberr.UseAfterDispose("table view " + v.String())
	}
	return slices.Clone(v.rows), nil
}

// IDs returns the current ordered row ids.
func (v *TableView) IDs() ([]int64, error) {
	v.cache.mu.Lock()
	defer v.cache.mu.Unlock()
	if v.released {
		return nil, dberr.UseAfterDispose("table view " + v.String())
	}
	ids := make([]int64, len(v.rows))
	for i, rv := range v.rows {
		ids[i] = rv.key.id
	}
	return ids, nil
}

// Values returns snapshots of the current rows in order.
func (v *TableView) Values() ([]ir.Row, error) {
	v.cache.mu.Lock()
	defer v.cache.mu.Unlock()
	if v.released {
		return nil, dberr.UseAfterDispose("table view " + v.String())
	}
	out := make([]ir.Row, len(v.rows))
	for i, rv := range v.rows {
		out[i] = rv.row.Clone()
	}
	return out, nil
}

// Len returns the number of rows.
func (v *TableView) Len() int {
	v.cache.mu.Lock()
	defer v.cache.mu.Unlock()
	return len(v.rows)
}

// Contains reports whether row id is in the view.
func (v *TableView) Contains(id int64) bool {
	v.cache.mu.Lock()
	defer v.cache.mu.Unlock()
	_, ok := v.index[id]
	return ok
}

// Refs returns the reference count.
func (v *TableView) Refs() int {
	v.cache.mu.Lock()
	defer v.cache.mu.Unlock()
	return v.refs
}

// Released reports whether the last reference was released.
func (v *TableView) Released() bool {
	v.cache.mu.Lock()
	defer v.cache.mu.Unlock()
	return v.released
}

// Subscribe registers fn for structural changes and returns the
// unsubscribe function. Callbacks run after the cache lock is released,
// in registration order, and must not block.
func (v *TableView) Subscribe(fn func(ViewEvent)) func() {
	return v.subs.add(fn)
}

// position returns the index of id, or -1.
func (v *TableView) position(id int64) int {
	if _, ok := v.index[id]; !ok {
		return -1
	}
	return slices.IndexFunc(v.rows, func(rv *RowView) bool { return rv.key.id == id })
}

// insert places rv by binary search and returns its index.
func (v *TableView) insert(rv *RowView) int {
	i, _ := slices.BinarySearchFunc(v.rows, rv, func(e, target *RowView) int {
		return v.filter.Compare(e.row, target.row)
	})
	v.rows = slices.Insert(v.rows, i, rv)
	v.index[rv.key.id] = rv
	return i
}

// removeAt drops the row at i and returns it.
func (v *TableView) removeAt(i int) *RowView {
	rv := v.rows[i]
	v.rows = slices.Delete(v.rows, i, i+1)
	delete(v.index, rv.key.id)
	return rv
}

// inOrder reports whether the row at i sits correctly between its
// neighbours.
func (v *TableView) inOrder(i int) bool {
	if i > 0 && v.filter.Compare(v.rows[i-1].row, v.rows[i].row) > 0 {
		return false
	}
	if i < len(v.rows)-1 && v.filter.Compare(v.rows[i].row, v.rows[i+1].row) > 0 {
		return false
	}
	return true
}
