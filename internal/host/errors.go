package host

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/liveview/internal/dberr"
)

// mapError converts a database/sql or SQLite error into the dberr taxonomy.
// Errors that are already classified pass through unchanged.
func mapError(table string, id int64, err error) error {
	if err == nil {
		return nil
	}
	if dberr.CodeOf(err) != "" {
		return err
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			return dberr.Conflict(table, id, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &dberr.Error{Code: dberr.CodeTransport, Message: "store busy", Table: table, RowID: id, Err: err}
		}
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return dberr.NotFound(table, id)
	case errors.Is(err, sql.ErrTxDone):
		return dberr.UseAfterDispose("transaction")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dberr.Transport(err, "request cancelled")
	}
	return &dberr.Error{Code: dberr.CodeTransport, Message: "store request failed", Table: table, RowID: id, Err: err}
}
