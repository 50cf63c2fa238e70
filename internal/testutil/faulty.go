package testutil

import (
	"context"
	"sync"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/transport"
)

// FaultyTransport wraps a Transport, records the requests passing through
// it and fails the ones a hook selects.
type FaultyTransport struct {
	transport.Transport

	mu        sync.Mutex
	failSel   func(transport.Query) error
	failMut   func(transport.Mutation) error
	selects   []transport.Query
	mutations []transport.Mutation
	begins    int
}

var _ transport.Transport = (*FaultyTransport)(nil)

// NewFaultyTransport wraps inner with no faults installed.
func NewFaultyTransport(inner transport.Transport) *FaultyTransport {
	return &FaultyTransport{Transport: inner}
}

// FailSelects installs a hook consulted before every Select and Count. A
// non-nil result is returned instead of forwarding. nil removes the hook.
func (f *FaultyTransport) FailSelects(fn func(transport.Query) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSel = fn
}

// FailMutations installs a hook consulted before every Mutate.
func (f *FaultyTransport) FailMutations(fn func(transport.Mutation) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMut = fn
}

// Selects returns the queries forwarded or failed so far.
func (f *FaultyTransport) Selects() []transport.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Query(nil), f.selects...)
}

// Mutations returns the mutations forwarded or failed so far.
func (f *FaultyTransport) Mutations() []transport.Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Mutation(nil), f.mutations...)
}

// Begins returns how many transactions were opened.
func (f *FaultyTransport) Begins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins
}

func (f *FaultyTransport) query(q transport.Query) error {
	f.mu.Lock()
	f.selects = append(f.selects, q)
	hook := f.failSel
	f.mu.Unlock()

	// Hooks may block to hold a request in flight.
	if hook != nil {
		return hook(q)
	}
	return nil
}

// Select implements transport.Transport.
func (f *FaultyTransport) Select(ctx context.Context, q transport.Query) ([]ir.Row, error) {
	if err := f.query(q); err != nil {
		return nil, err
	}
	return f.Transport.Select(ctx, q)
}

// Count implements transport.Transport.
func (f *FaultyTransport) Count(ctx context.Context, q transport.Query) (int64, error) {
	if err := f.query(q); err != nil {
		return 0, err
	}
	return f.Transport.Count(ctx, q)
}

// Mutate implements transport.Transport.
func (f *FaultyTransport) Mutate(ctx context.Context, m transport.Mutation) (transport.Result, error) {
	f.mu.Lock()
	f.mutations = append(f.mutations, m)
	hook := f.failMut
	f.mu.Unlock()

	if hook != nil {
		if err := hook(m); err != nil {
			return transport.Result{}, err
		}
	}
	return f.Transport.Mutate(ctx, m)
}

// Begin implements transport.Transport.
func (f *FaultyTransport) Begin(ctx context.Context) (transport.TxID, error) {
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()
	return f.Transport.Begin(ctx)
}
