package undo

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/liveview/internal/dberr"
)

// DefaultLimit is the default undo stack capacity. Registering beyond it
// drops the oldest entry.
const DefaultLimit = 100

// Operation names the action in flight.
type Operation string

const (
	// OpNone means no action is running.
	OpNone Operation = ""
	// OpUndo is an undo in flight.
	OpUndo Operation = "undo"
	// OpRedo is a redo in flight.
	OpRedo Operation = "redo"
)

const (
	resultApplied = "applied"
	resultSkipped = "skipped"
	resultRefused = "refused"
)

// Clock supplies registration timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Entry is a history item as displayed to the user.
type Entry struct {
	Description  string
	RegisteredAt time.Time
}

// State is a snapshot of the manager delivered to subscribers.
type State struct {
	UndoCount     int
	RedoCount     int
	Busy          bool
	BusyOperation Operation
	CanUndo       bool
	CanRedo       bool
	NextUndo      string
	NextRedo      string
}

type entry struct {
	u  *Undoable
	at time.Time
}

// Manager is the two-stack undo/redo history.
//
// Undo and Redo each pop their entry before running its action and hold a
// busy flag until it completes, so at most one action is in flight. A failed
// action discards its entry. Register and ClearHistory are allowed while an
// action is in flight; the in-flight entry is then dropped even when its
// action succeeds, so it never lands on a history it no longer belongs to.
type Manager struct {
	limit     int
	clock     Clock
	notifier  Notifier
	connected func() bool
	metrics   *Metrics

	mu      sync.Mutex
	undos   []entry // most recent last
	redos   []entry // most recent last
	busy    Operation
	gen     uint64 // bumped by Register and ClearHistory
	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id int
	fn func(State)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLimit caps the undo stack. Values below 1 are ignored.
func WithLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithClock sets the registration clock.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithNotifier sets where user-facing messages go.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithLogger routes messages to a LogNotifier on l.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.notifier = LogNotifier{Logger: l}
	}
}

// WithConnected sets the connection probe consulted before undo and redo.
func WithConnected(fn func() bool) Option {
	return func(m *Manager) {
		m.connected = fn
	}
}

// WithMetrics sets the manager's collectors.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates an empty history.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		limit:     DefaultLimit,
		clock:     systemClock{},
		notifier:  LogNotifier{},
		connected: func() bool { return true },
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	return m
}

// Register pushes u onto the undo stack and clears the redo stack.
func (m *Manager) Register(u *Undoable) {
	m.mu.Lock()
	m.undos = m.pushUndo(m.undos, entry{u: u, at: m.clock.Now()})
	m.redos = nil
	m.gen++
	m.publish()
}

// pushUndo appends e and trims the oldest entries past the limit.
func (m *Manager) pushUndo(stack []entry, e entry) []entry {
	stack = append(stack, e)
	if over := len(stack) - m.limit; over > 0 {
		stack = slices.Delete(stack, 0, over)
	}
	return stack
}

// Undo reverses the most recent entry. It returns a sentinel error when
// nothing was attempted and a *SkippedError when the action failed and the
// entry was discarded.
func (m *Manager) Undo(ctx context.Context) error {
	return m.step(ctx, OpUndo)
}

// Redo re-applies the most recently undone entry. Errors mirror Undo.
func (m *Manager) Redo(ctx context.Context) error {
	return m.step(ctx, OpRedo)
}

func (m *Manager) step(ctx context.Context, op Operation) error {
	if !m.connected() {
		m.metrics.record(op, resultRefused)
		m.notifier.Warning(fmt.Sprintf("Cannot %s: No database connection", op), "")
		return ErrNotConnected
	}

	m.mu.Lock()
	if m.busy != OpNone {
		inFlight := m.busy
		m.mu.Unlock()
		m.metrics.record(op, resultRefused)
		if inFlight == OpUndo {
			m.notifier.Info("Undo already in progress")
		} else {
			m.notifier.Info("Redo already in progress")
		}
		return ErrBusy
	}

	stack := &m.undos
	if op == OpRedo {
		stack = &m.redos
	}
	if len(*stack) == 0 {
		m.mu.Unlock()
		m.metrics.record(op, resultRefused)
		if op == OpUndo {
			m.notifier.Info("Nothing to undo")
			return ErrNothingToUndo
		}
		m.notifier.Info("Nothing to redo")
		return ErrNothingToRedo
	}

	e := (*stack)[len(*stack)-1]
	*stack = (*stack)[:len(*stack)-1]
	m.busy = op
	gen := m.gen
	m.publish()

	var err error
	if op == OpUndo {
		err = e.u.Undo(ctx)
	} else {
		err = e.u.Redo(ctx)
	}

	m.mu.Lock()
	m.busy = OpNone
	if err == nil && m.gen == gen {
		if op == OpUndo {
			m.redos = append(m.redos, e)
		} else {
			m.undos = m.pushUndo(m.undos, e)
		}
	}
	m.publish()

	if err == nil {
		m.metrics.record(op, resultApplied)
		return nil
	}

	m.metrics.record(op, resultSkipped)
	if dberr.IsRemoteModification(err) {
		m.notifier.Info(fmt.Sprintf("Cannot %s \"%s\" - data was modified by another user", op, e.u.Description()))
	} else if op == OpUndo {
		m.notifier.Warning("Undo failed", err.Error())
	} else {
		m.notifier.Warning("Redo failed", err.Error())
	}
	return &SkippedError{Op: op, Description: e.u.Description(), Err: err}
}

// ClearHistory empties both stacks. An action in flight still completes but
// its entry is dropped.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	m.undos = nil
	m.redos = nil
	m.gen++
	m.publish()
}

// State returns the current snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state()
}

// CanUndo reports whether Undo would run an action now.
func (m *Manager) CanUndo() bool { return m.State().CanUndo }

// CanRedo reports whether Redo would run an action now.
func (m *Manager) CanRedo() bool { return m.State().CanRedo }

// UndoCount returns the depth of the undo stack.
func (m *Manager) UndoCount() int { return m.State().UndoCount }

// RedoCount returns the depth of the redo stack.
func (m *Manager) RedoCount() int { return m.State().RedoCount }

// Busy reports whether an action is in flight.
func (m *Manager) Busy() bool { return m.State().Busy }

// BusyOperation returns the operation in flight, or OpNone.
func (m *Manager) BusyOperation() Operation { return m.State().BusyOperation }

// NextUndoDescription returns the description Undo would act on.
func (m *Manager) NextUndoDescription() string { return m.State().NextUndo }

// NextRedoDescription returns the description Redo would act on.
func (m *Manager) NextRedoDescription() string { return m.State().NextRedo }

// UndoHistory returns the undo stack, most recent first.
func (m *Manager) UndoHistory() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return history(m.undos)
}

// RedoHistory returns the redo stack, most recent first.
func (m *Manager) RedoHistory() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return history(m.redos)
}

func history(stack []entry) []Entry {
	out := make([]Entry, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, Entry{Description: stack[i].u.Description(), RegisteredAt: stack[i].at})
	}
	return out
}

// Subscribe registers fn for state changes and returns the unsubscribe
// function. fn runs synchronously after each change with the lock released
// and must not call Undo or Redo.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.subs = slices.DeleteFunc(m.subs, func(s subscriber) bool { return s.id == id })
		})
	}
}

// state builds the snapshot. Caller holds m.mu.
func (m *Manager) state() State {
	s := State{
		UndoCount:     len(m.undos),
		RedoCount:     len(m.redos),
		Busy:          m.busy != OpNone,
		BusyOperation: m.busy,
	}
	if n := len(m.undos); n > 0 {
		s.NextUndo = m.undos[n-1].u.Description()
	}
	if n := len(m.redos); n > 0 {
		s.NextRedo = m.redos[n-1].u.Description()
	}
	connected := m.connected()
	s.CanUndo = connected && !s.Busy && s.UndoCount > 0
	s.CanRedo = connected && !s.Busy && s.RedoCount > 0
	return s
}

// publish snapshots the state, releases m.mu and delivers the snapshot.
// Caller holds m.mu.
func (m *Manager) publish() {
	s := m.state()
	subs := slices.Clone(m.subs)
	m.metrics.depth(s.UndoCount, s.RedoCount)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.fn(s)
	}
}
