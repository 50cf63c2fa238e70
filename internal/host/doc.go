// Package host is an in-process SQLite store implementing transport.Transport.
//
// The host plays the part of the remote relational store: it evaluates
// filter descriptors with SQLite, assigns row ids, scopes transactions, and
// publishes push notifications to every connected client on commit.
//
// Tables are generated from an ir.Catalog. The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement (Column.References)
//
// The pool holds a single connection, so auto-commit requests wait while a
// transaction is open. A client must not issue auto-commit requests from
// inside its own transaction callback.
//
// Error mapping:
//   - missing rows → NOT_FOUND
//   - SQLite constraint violations → CONFLICT
//   - malformed descriptors, rows or patches → VALIDATION
//   - closed host or connection → TRANSPORT
//   - unknown or finished transaction ids → USE_AFTER_DISPOSE
package host
