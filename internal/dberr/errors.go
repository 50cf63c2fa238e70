// Package dberr defines the error taxonomy shared by the database facade,
// the view cache, the undo manager and the reference host.
//
// Errors are classified by Code rather than by Go type so that a single
// errors.As target matches every category:
//   - TRANSPORT: the remote call could not complete
//   - NOT_FOUND: the target row no longer exists
//   - CONFLICT: the store rejected a mutation (constraint violation)
//   - VALIDATION: malformed filter or row shape (programming error)
//   - USE_AFTER_DISPOSE: a released view or finished transaction was used
package dberr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeTransport indicates the remote call could not complete.
	CodeTransport Code = "TRANSPORT"

	// CodeNotFound indicates a targeted row does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict indicates a constraint violation or concurrent structural change.
	CodeConflict Code = "CONFLICT"

	// CodeValidation indicates a malformed filter descriptor or row.
	CodeValidation Code = "VALIDATION"

	// CodeUseAfterDispose indicates use of a disposed handle.
	CodeUseAfterDispose Code = "USE_AFTER_DISPOSE"
)

// Error is the structured error returned across the liveview packages.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Table is the affected table, if any.
	Table string

	// RowID is the affected row, or zero.
	RowID int64

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Table != "" && e.RowID != 0:
		msg = fmt.Sprintf("%s (table=%s, id=%d)", msg, e.Table, e.RowID)
	case e.Table != "":
		msg = fmt.Sprintf("%s (table=%s)", msg, e.Table)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return CodeOf(err) == CodeTransport }

// IsNotFound reports whether err is a missing-row failure.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsConflict reports whether err is a constraint or concurrency conflict.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsUseAfterDispose reports whether err reports use of a disposed handle.
func IsUseAfterDispose(err error) bool { return CodeOf(err) == CodeUseAfterDispose }

// IsRemoteModification reports whether err means the store changed underneath
// the caller: a NotFound or Conflict failure.
func IsRemoteModification(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodeConflict:
		return true
	}
	return false
}

// Transport creates a TRANSPORT error wrapping cause.
func Transport(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeTransport, Message: fmt.Sprintf(format, args...), Err: cause}
}

// NotFound creates a NOT_FOUND error for a row.
func NotFound(table string, id int64) *Error {
	return &Error{Code: CodeNotFound, Message: "row not found", Table: table, RowID: id}
}

// Conflict creates a CONFLICT error wrapping cause.
func Conflict(table string, id int64, cause error) *Error {
	return &Error{Code: CodeConflict, Message: "mutation rejected by store", Table: table, RowID: id, Err: cause}
}

// Validation creates a VALIDATION error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationCause creates a VALIDATION error for a table wrapping cause.
func ValidationCause(table string, cause error) *Error {
	return &Error{Code: CodeValidation, Message: "invalid row", Table: table, Err: cause}
}

// UseAfterDispose creates a USE_AFTER_DISPOSE error naming the handle.
func UseAfterDispose(what string) *Error {
	return &Error{Code: CodeUseAfterDispose, Message: what + " used after dispose"}
}
