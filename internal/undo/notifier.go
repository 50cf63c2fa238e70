package undo

import (
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel errors for undo/redo calls that did nothing. Each is also
// surfaced through the Notifier.
var (
	ErrNotConnected  = errors.New("undo: no database connection")
	ErrBusy          = errors.New("undo: operation already in progress")
	ErrNothingToUndo = errors.New("undo: nothing to undo")
	ErrNothingToRedo = errors.New("undo: nothing to redo")
)

// SkippedError reports an undo or redo whose action failed. The entry was
// discarded from history; the rest of the history is intact.
type SkippedError struct {
	Op          Operation
	Description string
	Err         error
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("%s %q skipped: %v", e.Op, e.Description, e.Err)
}

func (e *SkippedError) Unwrap() error { return e.Err }

// Notifier receives the user-facing messages the manager produces.
type Notifier interface {
	Info(message string)
	Warning(message, detail string)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Info implements Notifier.
func (n LogNotifier) Info(message string) {
	n.logger().Info(message)
}

// Warning implements Notifier.
func (n LogNotifier) Warning(message, detail string) {
	if detail == "" {
		n.logger().Warn(message)
		return
	}
	n.logger().Warn(message, "detail", detail)
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}
