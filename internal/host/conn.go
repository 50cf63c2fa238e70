package host

import (
	"context"
	"sync/atomic"

	"github.com/roach88/liveview/internal/dberr"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/transport"
)

// Conn is one client's session with the host. It implements
// transport.Transport; its notification stream receives every change
// committed after Connect, by any client.
type Conn struct {
	id     string
	host   *Host
	queue  *transport.Queue
	closed atomic.Bool
}

var _ transport.Transport = (*Conn)(nil)

// ID returns the connection id (a UUIDv7). Notifications caused by this
// connection carry it as Origin.
func (c *Conn) ID() string {
	return c.id
}

// Close disconnects the client, rolls back its open transactions and
// closes its notification stream. Safe to call more than once.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.host.disconnect(c)
	return nil
}

func (c *Conn) check() error {
	if c.closed.Load() {
		return dberr.Transport(nil, "connection closed")
	}
	return c.host.checkOpen()
}

// Select implements transport.Transport.
func (c *Conn) Select(ctx context.Context, q transport.Query) ([]ir.Row, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.host.selectRows(ctx, q)
}

// Count implements transport.Transport.
func (c *Conn) Count(ctx context.Context, q transport.Query) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.host.count(ctx, q)
}

// Mutate implements transport.Transport.
func (c *Conn) Mutate(ctx context.Context, m transport.Mutation) (transport.Result, error) {
	if err := c.check(); err != nil {
		return transport.Result{}, err
	}
	return c.host.mutate(ctx, c.id, m)
}

// Begin implements transport.Transport.
func (c *Conn) Begin(ctx context.Context) (transport.TxID, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	return c.host.begin(ctx, c.id)
}

// Commit implements transport.Transport.
func (c *Conn) Commit(ctx context.Context, tx transport.TxID) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.host.commit(tx)
}

// Rollback implements transport.Transport.
func (c *Conn) Rollback(ctx context.Context, tx transport.TxID) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.host.rollback(tx)
}

// Notifications implements transport.Transport.
func (c *Conn) Notifications() transport.Stream {
	return c.queue
}

// Pending returns the number of undelivered notifications.
func (c *Conn) Pending() int {
	return c.queue.Len()
}
