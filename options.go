package sqlguard

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pthm/sqlguard/pkg/backend"
)

// TypeParser converts a value decoded by the driver for one database type.
type TypeParser func(value any) (any, error)

// Config holds the settings of a Pool. Build one with DefaultConfig and
// Options rather than by hand.
type Config struct {
	// ConnectionTimeout bounds the wait for a free connection.
	ConnectionTimeout time.Duration
	// StatementTimeout cancels a statement that runs longer. Zero disables it.
	StatementTimeout time.Duration
	// IdleTimeout and MaxConnections are applied by the backend pool; see
	// PoolConfig.
	IdleTimeout    time.Duration
	MaxConnections int
	// TransactionRetryLimit is how many times a top-level transaction is
	// retried after a serialization failure or deadlock.
	TransactionRetryLimit int

	Interceptors []Interceptor
	// TypeParsers are keyed by lower-case database type name.
	TypeParsers map[string]TypeParser
	Logger      *slog.Logger
}

// DefaultConfig returns the configuration New starts from.
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout:     5 * time.Second,
		StatementTimeout:      60 * time.Second,
		IdleTimeout:           5 * time.Second,
		MaxConnections:        10,
		TransactionRetryLimit: 5,
	}
}

// PoolConfig returns the settings backend adapters apply when opening a
// pool.
func (c Config) PoolConfig() backend.PoolConfig {
	return backend.PoolConfig{MaxConnections: c.MaxConnections, IdleTimeout: c.IdleTimeout}
}

// Option configures a Pool.
type Option func(*Config)

// WithConfig replaces the whole configuration. Options after it still apply.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithConnectionTimeout bounds the wait for a free connection.
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectionTimeout = d
	}
}

// WithStatementTimeout sets the default per-statement timeout.
func WithStatementTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.StatementTimeout = d
	}
}

// WithIdleTimeout sets how long an idle backend connection is kept.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.IdleTimeout = d
	}
}

// WithMaxConnections sets the backend pool size.
func WithMaxConnections(n int) Option {
	return func(c *Config) {
		c.MaxConnections = n
	}
}

// WithTransactionRetryLimit sets how many times a top-level transaction is
// retried on serialization failure or deadlock. Zero disables retries.
func WithTransactionRetryLimit(n int) Option {
	return func(c *Config) {
		c.TransactionRetryLimit = n
	}
}

// WithInterceptors appends interceptors. Order matters: see Interceptor.
func WithInterceptors(ics ...Interceptor) Option {
	return func(c *Config) {
		c.Interceptors = append(c.Interceptors, ics...)
	}
}

// WithTypeParser registers a parser for values of database type typeName.
func WithTypeParser(typeName string, p TypeParser) Option {
	return func(c *Config) {
		if c.TypeParsers == nil {
			c.TypeParsers = make(map[string]TypeParser)
		}
		c.TypeParsers[strings.ToLower(typeName)] = p
	}
}

// WithLogger sets the logger for connection and transaction events.
// By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// QueryOption configures a single query call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	statementTimeout time.Duration
	hasTimeout       bool
	rowTransform     func(Row) (Row, error)
}

// StatementTimeout overrides the pool's statement timeout for one call.
// Zero disables the timeout.
func StatementTimeout(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.statementTimeout = d
		o.hasTimeout = true
	}
}

// TransformRow applies fn to every row after the AfterQuery hooks and
// before shape assertions.
func TransformRow(fn func(Row) (Row, error)) QueryOption {
	return func(o *queryOptions) {
		o.rowTransform = fn
	}
}

// TransactionOption configures a top-level transaction. Options are ignored
// for nested transactions, which inherit the outer one's settings.
type TransactionOption func(*backend.TxOptions)

// WithIsolationLevel sets the transaction isolation level.
func WithIsolationLevel(level backend.IsolationLevel) TransactionOption {
	return func(o *backend.TxOptions) {
		o.IsolationLevel = level
	}
}

// ReadOnly starts a read-only transaction.
func ReadOnly() TransactionOption {
	return func(o *backend.TxOptions) {
		o.ReadOnly = true
	}
}

// WithTransactionOptions sets all transaction options at once.
func WithTransactionOptions(opts backend.TxOptions) TransactionOption {
	return func(o *backend.TxOptions) {
		*o = opts
	}
}
