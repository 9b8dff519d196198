// Package sqlstate extracts PostgreSQL SQLSTATE codes from driver errors
// and classifies them for the scoped resource manager.
package sqlstate

import (
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PostgreSQL error codes sqlguard reacts to.
const (
	QueryCanceled        = "57014" // query_canceled
	AdminShutdown        = "57P01" // admin_shutdown
	CrashShutdown        = "57P02" // crash_shutdown
	CannotConnectNow     = "57P03" // cannot_connect_now
	SerializationFailure = "40001" // serialization_failure
	DeadlockDetected     = "40P01" // deadlock_detected
	UndefinedTable       = "42P01" // undefined_table
)

// Class groups errors by how the caller must react.
type Class int

const (
	// Other errors leave the connection usable.
	Other Class = iota
	// Cancelled means the statement was cancelled by timeout or request.
	Cancelled
	// Terminated means the connection died and must not be reused.
	Terminated
	// Retryable means the whole transaction may be retried.
	Retryable
)

// Code returns the SQLSTATE carried by err, or "" if there is none.
// It understands pgconn and lib/pq errors, anything with a SQLState or Code
// method, and as a last resort the "SQLSTATE xxxxx" text both drivers print.
func Code(err error) string {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	type sqlStateErr interface{ SQLState() string }
	var se sqlStateErr
	if errors.As(err, &se) {
		return se.SQLState()
	}

	type codeErr interface{ Code() string }
	var ce codeErr
	if errors.As(err, &ce) {
		return ce.Code()
	}

	errStr := err.Error()
	for _, prefix := range []string{"SQLSTATE ", "SQLSTATE: "} {
		if idx := strings.Index(errStr, prefix); idx >= 0 {
			start := idx + len(prefix)
			if start+5 <= len(errStr) {
				return errStr[start : start+5]
			}
		}
	}
	return ""
}

// Classify reports how err affects the connection and transaction it
// happened on. Context errors are left to the caller, which knows whether
// its own context expired.
func Classify(err error) Class {
	if err == nil {
		return Other
	}

	switch code := Code(err); {
	case code == QueryCanceled:
		return Cancelled
	case code == AdminShutdown, code == CrashShutdown, code == CannotConnectNow:
		return Terminated
	case strings.HasPrefix(code, "08"):
		return Terminated
	case code == SerializationFailure, code == DeadlockDetected:
		return Retryable
	case code != "":
		return Other
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return Terminated
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return Terminated
	}

	return Other
}
