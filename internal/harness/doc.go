// Package harness runs YAML scenarios against the full stack: a reference
// host, a Facade, a view cache and an undo manager wired with the crud
// helpers.
//
// A scenario seeds tables, opens named views, then runs a flow of steps:
// undoable mutations, undo and redo, mutations by a second actor, and
// connection changes. After every step the harness delivers all pending
// notifications to the cache synchronously, so each step's trace entry
// records exactly what that step caused. The trace is deterministic and is
// compared against golden files in tests.
package harness
