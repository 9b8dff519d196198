// Package backend defines the boundary between sqlguard and a physical
// PostgreSQL driver.
//
// sqlguard never talks to the network itself. It asks a Pool for a Conn,
// executes compiled (text, params) pairs on it, drives transaction and
// savepoint statements through it, and hands it back exactly once. Adapters
// for pgx (pgxbackend) and database/sql (sqlbackend) live in subpackages.
//
// Implementations of Conn are never used concurrently: sqlguard serializes
// every call made on a single checked-out connection.
package backend

import (
	"context"
	"strings"
	"time"
)

// Pool hands out physical connections.
type Pool interface {
	// Acquire checks out one connection. It must honor ctx cancellation
	// and deadlines while waiting for a free connection.
	Acquire(ctx context.Context) (Conn, error)

	// Stats reports pool occupancy.
	Stats() Stats

	// Close closes every idle connection and stops handing out new ones.
	Close() error
}

// Conn is one checked-out physical connection.
type Conn interface {
	// Execute runs sql with positional parameters ($1, $2, ...) and returns
	// the fully buffered result.
	Execute(ctx context.Context, sql string, params []any) (*Result, error)

	Begin(ctx context.Context, opts TxOptions) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Savepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error

	// Release returns the connection to its pool. When discard is true the
	// connection is in an indeterminate state and must be closed instead
	// of reused.
	Release(discard bool) error
}

// Field describes one result column.
type Field struct {
	Name string
	// TypeName is the lower-case database type name (e.g. "int4", "text").
	// It is empty when the driver cannot report it.
	TypeName string
}

// Result is a buffered statement result.
type Result struct {
	// Command is the statement verb reported by the server ("SELECT",
	// "INSERT", ...). Drivers that cannot report it leave it empty.
	Command  string
	RowCount int64
	Fields   []Field
	Rows     [][]any
}

// Array is the parameter emitted for an array binding. The compiled SQL
// casts its placeholder to ElementType[], so adapters only encode Values
// into the driver's native array representation.
type Array struct {
	Values      []any
	ElementType string
}

// IsolationLevel is a PostgreSQL transaction isolation level. The zero
// value uses the server default.
type IsolationLevel string

const (
	Serializable    IsolationLevel = "serializable"
	RepeatableRead  IsolationLevel = "repeatable read"
	ReadCommitted   IsolationLevel = "read committed"
	ReadUncommitted IsolationLevel = "read uncommitted"
)

// TxOptions configures a top-level transaction.
type TxOptions struct {
	IsolationLevel IsolationLevel
	ReadOnly       bool
}

// Stats reports pool occupancy.
type Stats struct {
	MaxConnections int
	Total          int
	Idle           int
	InUse          int
}

// PoolConfig holds the pool-level settings adapters apply when opening a
// pool. Zero values keep the driver defaults.
type PoolConfig struct {
	MaxConnections int
	IdleTimeout    time.Duration
}

// QuoteIdentifier quotes one identifier part, doubling embedded quotes.
func QuoteIdentifier(part string) string {
	return `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
}
