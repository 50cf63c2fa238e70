package undo

import (
	"context"
	"sync/atomic"
)

// Action performs one direction of an Undoable against the current store
// state.
type Action func(ctx context.Context) error

// Undoable pairs the actions that reverse and re-apply one user-level
// mutation. It is immutable once created.
type Undoable struct {
	description string
	undo        Action
	redo        Action
}

// New creates an Undoable. description is what history displays, e.g.
// "Update node name".
func New(description string, undo, redo Action) *Undoable {
	return &Undoable{description: description, undo: undo, redo: redo}
}

// Description returns the human-readable label.
func (u *Undoable) Description() string { return u.description }

// Undo runs the reversing action.
func (u *Undoable) Undo(ctx context.Context) error { return u.undo(ctx) }

// Redo runs the re-applying action.
func (u *Undoable) Redo(ctx context.Context) error { return u.redo(ctx) }

// NewCreate builds the Undoable for a create: undo deletes the row, redo
// creates it again. The id of the most recent incarnation is tracked, so
// undo after redo deletes the recreated row.
func NewCreate(
	description string,
	deleteFn func(ctx context.Context, id int64) error,
	createFn func(ctx context.Context) (int64, error),
	id int64,
) *Undoable {
	var current atomic.Int64
	current.Store(id)
	return New(description,
		func(ctx context.Context) error {
			return deleteFn(ctx, current.Load())
		},
		func(ctx context.Context) error {
			id, err := createFn(ctx)
			if err != nil {
				return err
			}
			current.Store(id)
			return nil
		},
	)
}

// NewDelete builds the Undoable for a delete: undo restores, redo deletes
// again.
func NewDelete(description string, restore, deleteFn Action) *Undoable {
	return New(description, restore, deleteFn)
}

// NewUpdate builds the Undoable for an update: undo applies the old values,
// redo the new ones.
func NewUpdate(description string, applyOld, applyNew Action) *Undoable {
	return New(description, applyOld, applyNew)
}
