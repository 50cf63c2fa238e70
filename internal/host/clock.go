package host

import "sync/atomic"

// clock stamps notifications with strictly increasing sequence numbers.
// Safe for concurrent use; the host assigns seqs under its publish lock so
// seq order equals delivery order on every connection.
type clock struct {
	seq atomic.Int64
}

func (c *clock) next() int64 {
	return c.seq.Add(1)
}

func (c *clock) current() int64 {
	return c.seq.Load()
}
