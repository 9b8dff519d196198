package sqlguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pthm/sqlguard/internal/sqlstate"
	"github.com/pthm/sqlguard/pkg/backend"
)

// cleanupTimeout bounds rollback and release, which run on a context
// detached from the caller's cancellation.
const cleanupTimeout = 10 * time.Second

// Connection is one checked-out connection, valid only inside the Connect
// callback that received it. Statements issued on it run one at a time in
// the order they were issued.
type Connection struct {
	queries

	pool       *Pool
	id         string
	conn       backend.Conn
	acquiredAt time.Time

	// mu serializes every call on conn.
	mu       sync.Mutex
	released atomic.Bool
	// broken is set once the connection is in an indeterminate state.
	broken atomic.Bool

	txMu sync.Mutex
	tx   *Transaction // innermost open transaction
}

func newConnection(p *Pool, id string, bc backend.Conn) *Connection {
	c := &Connection{pool: p, id: id, conn: bc, acquiredAt: time.Now()}
	c.queries = queries{scope: func(ctx context.Context, fn func(*Connection, int) error) error {
		if c.released.Load() {
			return &ConnectionAlreadyReleasedError{ConnectionID: c.id, Scope: "connection"}
		}
		return fn(c, c.depth())
	}}
	return c
}

// ID returns the connection's unique id, as reported to interceptors.
func (c *Connection) ID() string { return c.id }

func (c *Connection) connectionContext() *ConnectionContext {
	return &ConnectionContext{ConnectionID: c.id, AcquiredAt: c.acquiredAt}
}

func (c *Connection) depth() int {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if c.tx == nil {
		return 0
	}
	return c.tx.depth
}

func (c *Connection) innermost() *Transaction {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return c.tx
}

func (c *Connection) setInnermost(tx *Transaction) {
	c.txMu.Lock()
	c.tx = tx
	c.txMu.Unlock()
}

// invalidate marks the handle released, waiting for an in-flight statement
// to finish, and reports whether the connection must be discarded.
func (c *Connection) invalidate() bool {
	c.mu.Lock()
	c.released.Store(true)
	c.mu.Unlock()
	return c.broken.Load()
}

// call runs fn on the underlying connection while holding the statement
// lock.
func (c *Connection) call(fn func(backend.Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released.Load() {
		return &ConnectionAlreadyReleasedError{ConnectionID: c.id, Scope: "connection"}
	}
	return fn(c.conn)
}

// exec runs one compiled statement under the statement timeout.
func (c *Connection) exec(ctx context.Context, q CompiledQuery, o queryOptions) (*backend.Result, error) {
	timeout := c.pool.cfg.StatementTimeout
	if o.hasTimeout {
		timeout = o.statementTimeout
	}
	sctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var raw *backend.Result
	err := c.call(func(bc backend.Conn) error {
		var err error
		raw, err = bc.Execute(sctx, q.SQL, q.Params)
		return err
	})
	if err != nil {
		return nil, c.classify(sctx, "execute", q, err)
	}
	if raw == nil {
		raw = &backend.Result{}
	}
	return raw, nil
}

// control runs a transaction control statement (BEGIN, COMMIT, SAVEPOINT...).
func (c *Connection) control(ctx context.Context, stmt string, fn func(context.Context, backend.Conn) error) error {
	err := c.call(func(bc backend.Conn) error { return fn(ctx, bc) })
	if err != nil {
		return c.classify(ctx, stmt, CompiledQuery{SQL: stmt}, err)
	}
	c.pool.logger.DebugContext(ctx, "transaction control", "statement", stmt, "connection_id", c.id)
	return nil
}

// classify maps a driver error to the error taxonomy and marks the
// connection broken when it can no longer be trusted.
func (c *Connection) classify(ctx context.Context, op string, q CompiledQuery, err error) error {
	if errors.Is(err, ErrConnectionAlreadyReleased) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.broken.Store(true)
		return &StatementCancelledError{Query: q, Err: err}
	}
	switch sqlstate.Classify(err) {
	case sqlstate.Cancelled:
		c.broken.Store(true)
		return &StatementCancelledError{Query: q, Err: err}
	case sqlstate.Terminated:
		c.broken.Store(true)
		return &BackendTerminatedError{Query: q, Err: err}
	}
	return fmt.Errorf("sqlguard: %s: %w", op, err)
}
