// Package transport defines the contract between the liveview core and the
// remote store: an asynchronous request/response channel plus an independent
// stream of push notifications.
//
// The production bridge lives outside this module. internal/host provides an
// in-process SQLite implementation used by tests and the CLI.
//
// Every error returned by a Transport is a *dberr.Error.
package transport

import (
	"context"

	"github.com/roach88/liveview/internal/ir"
)

// TxID identifies an open remote transaction. The empty TxID means
// auto-commit.
type TxID string

// ChangeType is the kind of change a notification describes.
type ChangeType string

const (
	Insert ChangeType = "insert"
	Update ChangeType = "update"
	Delete ChangeType = "delete"

	// Alter reports a bulk change whose affected rows are not enumerated.
	// Views over the table must reload.
	Alter ChangeType = "alter"
)

// Notification is an unsolicited server-to-client message describing one
// committed change. Row is the full post-change row for insert and update,
// the last known row (at least its id) for delete, and zero for alter.
type Notification struct {
	Seq    int64      `json:"seq"`
	Table  string     `json:"table"`
	Change ChangeType `json:"change"`
	Row    ir.Row     `json:"row"`
	Origin string     `json:"origin,omitempty"`
}

// Query is a read request. Filter is a canonical filter descriptor
// (filter.Descriptor.Canonical).
type Query struct {
	Table  string
	Filter []byte
	Tx     TxID
}

// MutationOp names a mutation request.
type MutationOp string

const (
	// OpInsert inserts Rows. A row with a non-zero ID is inserted with that id.
	OpInsert MutationOp = "insert"
	// OpUpdate replaces every column of each of Rows.
	OpUpdate MutationOp = "update"
	// OpPatch sets the columns in Patch on row ID.
	OpPatch MutationOp = "patch"
	// OpDelete deletes IDs.
	OpDelete MutationOp = "delete"
	// OpDeleteWhere deletes every row matching Filter.
	OpDeleteWhere MutationOp = "delete_where"
	// OpClearColumn sets Column to NULL on every row matching Filter.
	OpClearColumn MutationOp = "clear_column"
	// OpReplace replaces Search with Replace inside Column on every row
	// matching Filter.
	OpReplace MutationOp = "replace"
)

// Mutation is a write request. Which fields apply depends on Op.
type Mutation struct {
	Op      MutationOp
	Table   string
	Rows    []ir.Row
	IDs     []int64
	ID      int64
	Patch   map[string]ir.Value
	Filter  []byte
	Column  string
	Search  string
	Replace string
	Tx      TxID
}

// Result is the response to a mutation. Rows holds the stored rows for
// insert, update and patch (inserts carry their assigned ids). Affected
// counts the rows touched.
type Result struct {
	Rows     []ir.Row
	Affected int64
}

// Transport is the abstract asynchronous channel to the remote store.
type Transport interface {
	// Select returns the rows matching the query in filter order.
	Select(ctx context.Context, q Query) ([]ir.Row, error)

	// Count returns how many rows match the query.
	Count(ctx context.Context, q Query) (int64, error)

	// Mutate applies a mutation. Notifications are published when the
	// enclosing transaction (or the mutation itself, in auto-commit) commits.
	Mutate(ctx context.Context, m Mutation) (Result, error)

	// Begin opens a transaction.
	Begin(ctx context.Context) (TxID, error)

	// Commit commits a transaction.
	Commit(ctx context.Context, tx TxID) error

	// Rollback aborts a transaction. Its changes are never notified.
	Rollback(ctx context.Context, tx TxID) error

	// Notifications returns the push stream. There is exactly one stream
	// per Transport; notifications arrive in commit order.
	Notifications() Stream
}

// Stream delivers push notifications in order.
type Stream interface {
	// Next blocks until a notification is available, the context is done,
	// or the stream is closed and drained (ErrClosed).
	Next(ctx context.Context) (Notification, error)
}
