package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Stream.Next once the stream is closed and drained.
var ErrClosed = errors.New("notification stream closed")

// Queue is a thread-safe unbounded FIFO of notifications implementing Stream.
//
// The queue is unbounded so that a store publishing a large transaction
// never blocks on a slow consumer. A buffered signal channel of size 1
// enables context-aware waiting in Next.
type Queue struct {
	mu     sync.Mutex
	items  []Notification
	closed bool
	signal chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		items:  make([]Notification, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Push appends a notification. Returns false if the queue is closed.
// Thread-safe: may be called from any goroutine.
func (q *Queue) Push(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, n)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryPop removes and returns the front notification without blocking.
func (q *Queue) TryPop() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Notification{}, false
	}

	n := q.items[0]
	// Clear the slot so the row's value map can be collected.
	q.items[0] = Notification{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return n, true
}

// Next implements Stream.
func (q *Queue) Next(ctx context.Context) (Notification, error) {
	for {
		if n, ok := q.TryPop(); ok {
			return n, nil
		}

		q.mu.Lock()
		done := q.closed && len(q.items) == 0
		q.mu.Unlock()
		if done {
			return Notification{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting notifications and wakes blocked readers.
// Already queued notifications can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
