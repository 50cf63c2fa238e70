package view

import (
	"sync"

	"github.com/roach88/liveview/internal/ir"
)

// ViewEventKind is the kind of structural change a TableView reports.
type ViewEventKind int

const (
	// RowInserted: Row entered the view at Index.
	RowInserted ViewEventKind = iota + 1
	// RowRemoved: the row at Index left the view.
	RowRemoved
	// RowMoved: Row moved from From to Index because an ordering column
	// changed.
	RowMoved
	// ViewReloaded: the whole sequence was replaced by a fresh select.
	ViewReloaded
	// ViewCleared: the view was emptied on disconnect.
	ViewCleared
)

func (k ViewEventKind) String() string {
	switch k {
	case RowInserted:
		return "inserted"
	case RowRemoved:
		return "removed"
	case RowMoved:
		return "moved"
	case ViewReloaded:
		return "reloaded"
	case ViewCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// ViewEvent is delivered to TableView subscribers. In-place data changes
// are not view events; they reach the affected RowView's subscribers only.
type ViewEvent struct {
	Kind  ViewEventKind
	ID    int64
	Row   *RowView
	Index int
	From  int
}

// RowEventKind is the kind of change a RowView reports.
type RowEventKind int

const (
	// RowUpdated: the snapshot changed.
	RowUpdated RowEventKind = iota + 1
	// RowDeleted: the row was deleted remotely. The last snapshot stays
	// readable while the view is held.
	RowDeleted
	// RowDisposed: the view was disposed and must not be read again.
	RowDisposed
)

func (k RowEventKind) String() string {
	switch k {
	case RowUpdated:
		return "updated"
	case RowDeleted:
		return "deleted"
	case RowDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// RowEvent is delivered to RowView subscribers.
type RowEvent struct {
	Kind    RowEventKind
	Row     ir.Row
	Version int64
}

// observers is a subscriber list delivered in registration order.
type observers[E any] struct {
	mu   sync.Mutex
	next int
	list []observer[E]
}

type observer[E any] struct {
	id int
	fn func(E)
}

// add registers fn and returns its idempotent unsubscribe.
func (o *observers[E]) add(fn func(E)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	id := o.next
	o.list = append(o.list, observer[E]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, ob := range o.list {
				if ob.id == id {
					o.list = append(o.list[:i:i], o.list[i+1:]...)
					return
				}
			}
		})
	}
}

func (o *observers[E]) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.list)
}

// emit queues delivery of e to the current subscribers.
func (o *observers[E]) emit(out *dispatch, e E) {
	o.mu.Lock()
	fns := make([]func(E), len(o.list))
	for i, ob := range o.list {
		fns[i] = ob.fn
	}
	o.mu.Unlock()

	for _, fn := range fns {
		out.add(func() { fn(e) })
	}
}

// dispatch collects callbacks while the cache lock is held; run delivers
// them after it is released.
type dispatch []func()

func (d *dispatch) add(fn func()) {
	*d = append(*d, fn)
}

func (d dispatch) run() {
	for _, fn := range d {
		fn()
	}
}
