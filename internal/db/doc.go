// Package db is the Database Facade: the single entry point for queries and
// mutations against the remote store.
//
// A *DB issues auto-commit requests. DB.Transaction opens a remote
// transaction and hands the callback a *Tx whose operations run inside it;
// the *Tx is valid only until the callback returns. Both types implement
// Querier, so helpers can be written once and run in either scope.
//
// The Facade never waits for the push notification a mutation produces and
// never retries. Errors are *dberr.Error values.
//
// Multi-row CreateRows, UpdateRows and DeleteMany issued on a *DB are wrapped
// in a transaction of their own, so they apply all-or-nothing.
//
// When a catalog is configured (WithCatalog), tables, rows, patches and
// filters are validated against it before anything is sent.
package db
