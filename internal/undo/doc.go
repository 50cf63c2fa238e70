// Package undo implements the Undo/Redo Manager: a two-stack history of
// Undoables, each pairing the actions that reverse and re-apply one
// user-level mutation.
//
// Actions run against a store other actors may be mutating. An action that
// fails does not block the history: its entry is discarded, the user is told
// through the Notifier, and the next entry remains available.
package undo
