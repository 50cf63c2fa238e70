package undo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/testutil"
)

type message struct {
	level  string
	text   string
	detail string
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []message
}

func (n *recordingNotifier) Info(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message{level: "info", text: text})
}

func (n *recordingNotifier) Warning(text, detail string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message{level: "warning", text: text, detail: detail})
}

func (n *recordingNotifier) take() []message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.msgs
	n.msgs = nil
	return out
}

// counter is a toy store: undo decrements, redo increments.
type counter struct {
	mu    sync.Mutex
	value int
	log   []string
}

func (c *counter) undoable(name string, fail func() error) *Undoable {
	c.mu.Lock()
	c.value++
	c.mu.Unlock()
	return New(name,
		func(context.Context) error {
			if fail != nil {
				if err := fail(); err != nil {
					return err
				}
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			c.value--
			c.log = append(c.log, "undo "+name)
			return nil
		},
		func(context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.value++
			c.log = append(c.log, "redo "+name)
			return nil
		},
	)
}

func newTestManager(opts ...Option) (*Manager, *recordingNotifier) {
	n := &recordingNotifier{}
	opts = append([]Option{WithNotifier(n), WithClock(testutil.NewDeterministicClock())}, opts...)
	return NewManager(opts...), n
}

func TestManager_UndoRedoRoundTrip(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	var c counter

	m.Register(c.undoable("A", nil))
	m.Register(c.undoable("B", nil))
	assert.Equal(t, 2, c.value)
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())
	assert.Equal(t, "B", m.NextUndoDescription())

	require.NoError(t, m.Undo(ctx))
	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, 0, c.value)
	assert.Equal(t, 2, m.RedoCount())
	assert.Equal(t, "A", m.NextRedoDescription())

	require.NoError(t, m.Redo(ctx))
	assert.Equal(t, 1, c.value)
	assert.Equal(t, []string{"undo B", "undo A", "redo A"}, c.log)
	assert.Equal(t, "A", m.NextUndoDescription())
	assert.Equal(t, "B", m.NextRedoDescription())
}

func TestManager_RegisterClearsRedo(t *testing.T) {
	m, _ := newTestManager()
	var c counter
	m.Register(c.undoable("A", nil))
	require.NoError(t, m.Undo(context.Background()))
	require.Equal(t, 1, m.RedoCount())

	m.Register(c.undoable("B", nil))
	assert.Zero(t, m.RedoCount())
	assert.False(t, m.CanRedo())
}

func TestManager_SkipOnFailure(t *testing.T) {
	m, notes := newTestManager()
	ctx := context.Background()
	var c counter

	m.Register(c.undoable("A", nil))
	m.Register(c.undoable("B", nil))
	m.Register(c.undoable("C", func() error { return dberr.NotFound("nodes", 3) }))

	err := m.Undo(ctx)
	var skipped *SkippedError
	require.ErrorAs(t, err, &skipped)
	assert.Equal(t, OpUndo, skipped.Op)
	assert.Equal(t, "C", skipped.Description)
	assert.True(t, dberr.IsNotFound(err))
	assert.Equal(t, []message{{level: "info", text: `Cannot undo "C" - data was modified by another user`}}, notes.take())

	// C is gone from both stacks; A and B are intact.
	assert.Equal(t, []string{"B", "A"}, descriptions(m.UndoHistory()))
	assert.Empty(t, m.RedoHistory())
	assert.False(t, m.Busy())

	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, []string{"undo B"}, c.log)
}

func TestManager_FailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want message
	}{
		{"not found", dberr.NotFound("nodes", 1), message{level: "info", text: `Cannot redo "X" - data was modified by another user`}},
		{"conflict", dberr.Conflict("edges", 2, errors.New("FOREIGN KEY constraint failed")), message{level: "info", text: `Cannot redo "X" - data was modified by another user`}},
		{"transport", dberr.Transport(nil, "closed"), message{level: "warning", text: "Redo failed", detail: "TRANSPORT: closed"}},
		{"other", errors.New("boom"), message{level: "warning", text: "Redo failed", detail: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, notes := newTestManager()
			ctx := context.Background()
			m.Register(New("X",
				func(context.Context) error { return nil },
				func(context.Context) error { return tt.err },
			))
			require.NoError(t, m.Undo(ctx))

			err := m.Redo(ctx)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, []message{tt.want}, notes.take())
			assert.Zero(t, m.UndoCount())
			assert.Zero(t, m.RedoCount())
		})
	}
}

func TestManager_Preconditions(t *testing.T) {
	connected := true
	m, notes := newTestManager(WithConnected(func() bool { return connected }))
	ctx := context.Background()

	assert.ErrorIs(t, m.Undo(ctx), ErrNothingToUndo)
	assert.ErrorIs(t, m.Redo(ctx), ErrNothingToRedo)
	assert.Equal(t, []message{
		{level: "info", text: "Nothing to undo"},
		{level: "info", text: "Nothing to redo"},
	}, notes.take())

	var c counter
	m.Register(c.undoable("A", nil))
	connected = false
	assert.False(t, m.CanUndo())
	assert.ErrorIs(t, m.Undo(ctx), ErrNotConnected)
	assert.Equal(t, []message{{level: "warning", text: "Cannot undo: No database connection"}}, notes.take())
	assert.Equal(t, 1, m.UndoCount())
}

func TestManager_BusyRejectsReentry(t *testing.T) {
	m, notes := newTestManager()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	m.Register(New("slow",
		func(context.Context) error {
			close(started)
			<-release
			return nil
		},
		func(context.Context) error { return nil },
	))
	m.Register(New("next", func(context.Context) error { return nil }, func(context.Context) error { return nil }))
	require.NoError(t, m.Undo(ctx)) // "next" onto redo

	// Undo "slow" in the background.
	done := make(chan error, 1)
	go func() { done <- m.Undo(ctx) }()
	<-started

	assert.True(t, m.Busy())
	assert.Equal(t, OpUndo, m.BusyOperation())
	assert.False(t, m.CanUndo())
	assert.False(t, m.CanRedo())
	assert.ErrorIs(t, m.Redo(ctx), ErrBusy)
	assert.ErrorIs(t, m.Undo(ctx), ErrBusy)
	assert.Equal(t, []message{
		{level: "info", text: "Undo already in progress"},
		{level: "info", text: "Undo already in progress"},
	}, notes.take())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, m.Busy())
	assert.Equal(t, OpNone, m.BusyOperation())
	assert.Equal(t, []string{"slow", "next"}, descriptions(m.RedoHistory()))
}

func TestManager_LimitDropsOldest(t *testing.T) {
	m, _ := newTestManager(WithLimit(3))
	var c counter
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		m.Register(c.undoable(name, nil))
	}
	assert.Equal(t, []string{"E", "D", "C"}, descriptions(m.UndoHistory()))

	d, _ := newTestManager()
	for range DefaultLimit + 5 {
		d.Register(c.undoable("x", nil))
	}
	assert.Equal(t, DefaultLimit, d.UndoCount())
}

func TestManager_HistoryTimestamps(t *testing.T) {
	m, _ := newTestManager()
	var c counter
	m.Register(c.undoable("A", nil))
	m.Register(c.undoable("B", nil))

	h := m.UndoHistory()
	require.Len(t, h, 2)
	assert.Equal(t, testutil.Epoch.Add(time.Second), h[0].RegisteredAt)
	assert.Equal(t, testutil.Epoch, h[1].RegisteredAt)
}

func TestManager_ClearHistory(t *testing.T) {
	m, _ := newTestManager()
	var c counter
	m.Register(c.undoable("A", nil))
	m.Register(c.undoable("B", nil))
	require.NoError(t, m.Undo(context.Background()))

	m.ClearHistory()
	assert.Zero(t, m.UndoCount())
	assert.Zero(t, m.RedoCount())
	assert.Empty(t, m.NextUndoDescription())
}

func TestManager_HistoryChangeDropsInFlightEntry(t *testing.T) {
	tests := []struct {
		name     string
		change   func(m *Manager)
		wantUndo []string
	}{
		{"clear", func(m *Manager) { m.ClearHistory() }, []string{}},
		{"register", func(m *Manager) {
			m.Register(New("fresh", func(context.Context) error { return nil }, func(context.Context) error { return nil }))
		}, []string{"fresh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager()
			ctx := context.Background()

			started := make(chan struct{})
			release := make(chan struct{})
			m.Register(New("stale",
				func(context.Context) error {
					close(started)
					<-release
					return nil
				},
				func(context.Context) error { return nil },
			))

			done := make(chan error, 1)
			go func() { done <- m.Undo(ctx) }()
			<-started
			tt.change(m)
			close(release)

			require.NoError(t, <-done)
			assert.False(t, m.Busy())
			assert.Equal(t, tt.wantUndo, descriptions(m.UndoHistory()))
			assert.Empty(t, m.RedoHistory())
		})
	}
}

func TestManager_Subscribe(t *testing.T) {
	m, _ := newTestManager()
	var states []State
	unsubscribe := m.Subscribe(func(s State) { states = append(states, s) })

	var c counter
	m.Register(c.undoable("A", nil))
	require.NoError(t, m.Undo(context.Background()))

	require.Len(t, states, 3)
	assert.Equal(t, State{UndoCount: 1, CanUndo: true, NextUndo: "A"}, states[0])
	assert.Equal(t, State{Busy: true, BusyOperation: OpUndo}, states[1])
	assert.Equal(t, State{RedoCount: 1, CanRedo: true, NextRedo: "A"}, states[2])

	unsubscribe()
	unsubscribe()
	m.ClearHistory()
	assert.Len(t, states, 3)
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := newTestManager(WithMetrics(NewMetrics(reg)))
	ctx := context.Background()

	m.Register(New("A", func(context.Context) error { return nil }, func(context.Context) error { return errors.New("gone") }))
	require.NoError(t, m.Undo(ctx))
	require.Error(t, m.Redo(ctx))
	require.ErrorIs(t, m.Redo(ctx), ErrNothingToRedo)

	ops := m.metrics.Operations
	assert.Equal(t, 1.0, promtest.ToFloat64(ops.WithLabelValues("undo", resultApplied)))
	assert.Equal(t, 1.0, promtest.ToFloat64(ops.WithLabelValues("redo", resultSkipped)))
	assert.Equal(t, 1.0, promtest.ToFloat64(ops.WithLabelValues("redo", resultRefused)))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.metrics.Depth.WithLabelValues("redo")))
}

func TestNewCreate_TracksRecreatedID(t *testing.T) {
	ctx := context.Background()
	var deleted []int64
	next := int64(10)
	u := NewCreate("Create node",
		func(_ context.Context, id int64) error {
			deleted = append(deleted, id)
			return nil
		},
		func(context.Context) (int64, error) {
			next++
			return next, nil
		},
		7,
	)

	require.NoError(t, u.Undo(ctx))
	require.NoError(t, u.Redo(ctx))
	require.NoError(t, u.Undo(ctx))
	assert.Equal(t, []int64{7, 11}, deleted)
	assert.Equal(t, "Create node", u.Description())
}

func descriptions(h []Entry) []string {
	out := make([]string, len(h))
	for i, e := range h {
		out[i] = e.Description
	}
	return out
}
