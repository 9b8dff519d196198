package sqlguard

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors, one per error kind. Every typed error below matches its
// sentinel with errors.Is, so callers can branch without type assertions:
//
//	if sqlguard.IsNotFoundErr(err) { ... }
var (
	// ErrInvalidInput is returned when a builder call receives a value that
	// may not be interpolated into a query.
	ErrInvalidInput = errors.New("sqlguard: invalid input")

	// ErrMalformedToken is returned when a token tree is internally
	// inconsistent. It cannot be produced through the public builder.
	ErrMalformedToken = errors.New("sqlguard: malformed token")

	// ErrNotFound is returned when a query expected at least one row.
	ErrNotFound = errors.New("sqlguard: resource not found")

	// ErrDataIntegrity is returned when a query returned more rows or columns
	// than the calling method allows.
	ErrDataIntegrity = errors.New("sqlguard: data integrity violation")

	// ErrConnection is returned when a connection cannot be acquired or
	// released.
	ErrConnection = errors.New("sqlguard: connection error")

	// ErrConnectionAlreadyReleased is returned when a scoped handle is used
	// after its scope exited.
	ErrConnectionAlreadyReleased = errors.New("sqlguard: connection already released")

	// ErrStatementCancelled is returned when a statement was cancelled by a
	// timeout or by context cancellation.
	ErrStatementCancelled = errors.New("sqlguard: statement cancelled")

	// ErrBackendTerminated is returned when the connection died mid-operation.
	ErrBackendTerminated = errors.New("sqlguard: backend terminated")

	// ErrInterceptor is returned when an interceptor hook failed.
	ErrInterceptor = errors.New("sqlguard: interceptor failed")

	// ErrPoolClosed is wrapped in a ConnectionError when a scope is opened on
	// a closed pool.
	ErrPoolClosed = errors.New("sqlguard: pool is closed")

	// ErrRollback may be returned from a transaction callback to roll the
	// transaction back without reporting an error to the caller.
	ErrRollback = errors.New("sqlguard: rollback requested")
)

// Kind is the stable discriminant of a sqlguard error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindMalformedToken
	KindNotFound
	KindDataIntegrity
	KindConnection
	KindConnectionAlreadyReleased
	KindStatementCancelled
	KindBackendTerminated
	KindInterceptor
)

var kindNames = map[Kind]string{
	KindUnknown:                   "unknown",
	KindInvalidInput:              "invalid_input",
	KindMalformedToken:            "malformed_token",
	KindNotFound:                  "not_found",
	KindDataIntegrity:             "data_integrity",
	KindConnection:                "connection",
	KindConnectionAlreadyReleased: "connection_already_released",
	KindStatementCancelled:        "statement_cancelled",
	KindBackendTerminated:         "backend_terminated",
	KindInterceptor:               "interceptor",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindInvalidInput, ErrInvalidInput},
	{KindMalformedToken, ErrMalformedToken},
	{KindNotFound, ErrNotFound},
	{KindDataIntegrity, ErrDataIntegrity},
	{KindConnectionAlreadyReleased, ErrConnectionAlreadyReleased},
	{KindConnection, ErrConnection},
	{KindStatementCancelled, ErrStatementCancelled},
	{KindBackendTerminated, ErrBackendTerminated},
	{KindInterceptor, ErrInterceptor},
}

// KindOf returns the kind of the primary sqlguard error in err's chain.
// For a CleanupError the primary is the original failure, not the cleanup
// failure.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *CleanupError
	if errors.As(err, &ce) {
		if k := KindOf(ce.Err); k != KindUnknown {
			return k
		}
		return KindOf(ce.CleanupErr)
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindUnknown
}

// InvalidInputError reports a disallowed interpolation.
type InvalidInputError struct {
	// Position is the zero-based interpolation index, or -1 when the error
	// concerns the call as a whole (e.g. segment arity).
	Position int
	// Type is the Go type of the offending value, when there is one.
	Type   string
	Reason string
}

func (e *InvalidInputError) Error() string {
	var b strings.Builder
	b.WriteString(ErrInvalidInput.Error())
	if e.Position >= 0 {
		fmt.Fprintf(&b, ": value %d", e.Position)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// MalformedTokenError reports an internal inconsistency in a token tree.
type MalformedTokenError struct {
	Token  Token
	Reason string
}

func (e *MalformedTokenError) Error() string {
	return fmt.Sprintf("%s: %T: %s", ErrMalformedToken, e.Token, e.Reason)
}

func (e *MalformedTokenError) Is(target error) bool { return target == ErrMalformedToken }

// NotFoundError reports a query that returned no rows where at least one
// was required.
type NotFoundError struct {
	Query CompiledQuery
}

func (e *NotFoundError) Error() string {
	return ErrNotFound.Error()
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DataIntegrityError reports a result shape that violates the calling
// method's contract.
type DataIntegrityError struct {
	Query  CompiledQuery
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDataIntegrity, e.Reason)
}

func (e *DataIntegrityError) Is(target error) bool { return target == ErrDataIntegrity }

// ConnectionError reports a failure to acquire or release a connection.
type ConnectionError struct {
	// Op is "acquire" or "release".
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s: %s timed out after %s: %v", ErrConnection, e.Op, e.Timeout, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrConnection, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ConnectionAlreadyReleasedError reports use of a connection or
// transaction handle after its scope exited.
type ConnectionAlreadyReleasedError struct {
	ConnectionID string
	// Scope is "connection" or "transaction".
	Scope string
}

func (e *ConnectionAlreadyReleasedError) Error() string {
	return fmt.Sprintf("%s: %s %s used after its scope exited", ErrConnectionAlreadyReleased, e.Scope, e.ConnectionID)
}

func (e *ConnectionAlreadyReleasedError) Is(target error) bool {
	return target == ErrConnectionAlreadyReleased
}

// StatementCancelledError reports a statement aborted by timeout or
// cancellation.
type StatementCancelledError struct {
	Query CompiledQuery
	Err   error
}

func (e *StatementCancelledError) Error() string {
	return fmt.Sprintf("%s: %v", ErrStatementCancelled, e.Err)
}

func (e *StatementCancelledError) Unwrap() error { return e.Err }

func (e *StatementCancelledError) Is(target error) bool { return target == ErrStatementCancelled }

// BackendTerminatedError reports a connection that died mid-operation.
// The connection is discarded when its scope exits.
type BackendTerminatedError struct {
	Query CompiledQuery
	Err   error
}

func (e *BackendTerminatedError) Error() string {
	return fmt.Sprintf("%s: %v", ErrBackendTerminated, e.Err)
}

func (e *BackendTerminatedError) Unwrap() error { return e.Err }

func (e *BackendTerminatedError) Is(target error) bool { return target == ErrBackendTerminated }

// InterceptorError wraps an error raised by an interceptor hook.
type InterceptorError struct {
	Interceptor string
	Stage       Stage
	Err         error
}

func (e *InterceptorError) Error() string {
	name := e.Interceptor
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrInterceptor, name, e.Stage, e.Err)
}

func (e *InterceptorError) Unwrap() error { return e.Err }

func (e *InterceptorError) Is(target error) bool { return target == ErrInterceptor }

// CleanupError is returned when a scope failed and then its cleanup
// (rollback or release) failed as well. Err is the original failure and is
// reported first; both errors are reachable with errors.Is and errors.As.
type CleanupError struct {
	// Op is "rollback", "commit" or "release".
	Op         string
	Err        error
	CleanupErr error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("%v (%s also failed: %v)", e.Err, e.Op, e.CleanupErr)
}

func (e *CleanupError) Unwrap() []error { return []error{e.Err, e.CleanupErr} }

// withCleanup combines a scope's error with the error of its cleanup step.
func withCleanup(op string, err, cleanupErr error) error {
	switch {
	case cleanupErr == nil:
		return err
	case err == nil:
		return cleanupErr
	default:
		return &CleanupError{Op: op, Err: err, CleanupErr: cleanupErr}
	}
}

// IsInvalidInputErr returns true if err is or wraps ErrInvalidInput.
func IsInvalidInputErr(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsMalformedTokenErr returns true if err is or wraps ErrMalformedToken.
func IsMalformedTokenErr(err error) bool { return errors.Is(err, ErrMalformedToken) }

// IsNotFoundErr returns true if err is or wraps ErrNotFound.
func IsNotFoundErr(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDataIntegrityErr returns true if err is or wraps ErrDataIntegrity.
func IsDataIntegrityErr(err error) bool { return errors.Is(err, ErrDataIntegrity) }

// IsConnectionErr returns true if err is or wraps ErrConnection.
func IsConnectionErr(err error) bool { return errors.Is(err, ErrConnection) }

// IsStatementCancelledErr returns true if err is or wraps ErrStatementCancelled.
func IsStatementCancelledErr(err error) bool { return errors.Is(err, ErrStatementCancelled) }

// IsBackendTerminatedErr returns true if err is or wraps ErrBackendTerminated.
func IsBackendTerminatedErr(err error) bool { return errors.Is(err, ErrBackendTerminated) }

// IsInterceptorErr returns true if err is or wraps ErrInterceptor.
func IsInterceptorErr(err error) bool { return errors.Is(err, ErrInterceptor) }
