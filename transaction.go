package sqlguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pthm/sqlguard/internal/sqlstate"
	"github.com/pthm/sqlguard/pkg/backend"
)

// ErrTransactionInProgress is returned when a nested transaction is opened
// on a transaction that already has an open nested transaction.
var ErrTransactionInProgress = errors.New("sqlguard: nested transaction already in progress")

// Transaction is an open transaction, valid only inside the callback that
// received it. Calling Transaction on it opens a nested transaction backed
// by a savepoint.
type Transaction struct {
	queries

	conn   *Connection
	parent *Transaction
	depth  int
	done   atomic.Bool

	mu    sync.Mutex
	child *Transaction
}

func newTransaction(c *Connection, parent *Transaction) *Transaction {
	t := &Transaction{conn: c, parent: parent, depth: 1}
	if parent != nil {
		t.depth = parent.depth + 1
	}
	t.queries = queries{scope: func(ctx context.Context, fn func(*Connection, int) error) error {
		if t.done.Load() {
			return &ConnectionAlreadyReleasedError{ConnectionID: c.id, Scope: "transaction"}
		}
		return fn(c, t.depth)
	}}
	return t
}

// Depth returns 1 for a top-level transaction and one more per level of
// nesting.
func (t *Transaction) Depth() int { return t.depth }

// ConnectionID returns the id of the connection the transaction runs on.
func (t *Transaction) ConnectionID() string { return t.conn.id }

// Transaction runs fn in a transaction on c.
//
// The transaction commits when fn returns nil and rolls back when fn
// returns an error, panics or ctx is cancelled. Returning ErrRollback rolls
// back and makes Transaction return nil. A panic is re-raised after the
// rollback. If the rollback fails as well, the returned CleanupError
// carries both errors with fn's error first.
//
// If a transaction is already open on c, fn runs in a nested transaction
// instead. A top-level transaction that fails with a serialization failure
// or deadlock is retried up to Config.TransactionRetryLimit times, so fn
// must be safe to run again.
func (c *Connection) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error, opts ...TransactionOption) error {
	if c.released.Load() {
		return &ConnectionAlreadyReleasedError{ConnectionID: c.id, Scope: "connection"}
	}
	if tx := c.innermost(); tx != nil {
		return tx.Transaction(ctx, fn)
	}

	var o backend.TxOptions
	for _, opt := range opts {
		opt(&o)
	}

	limit := c.pool.cfg.TransactionRetryLimit
	if limit <= 0 {
		return c.runTransaction(ctx, o, fn)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = time.Second

	var lastErr error
	err := backoff.RetryNotify(func() error {
		err := c.runTransaction(ctx, o, fn)
		lastErr = err
		if err == nil {
			return nil
		}
		if sqlstate.Classify(err) == sqlstate.Retryable && !c.broken.Load() {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(limit)), ctx), func(err error, d time.Duration) {
		c.pool.logger.WarnContext(ctx, "retrying transaction", "connection_id", c.id, "backoff", d, "error", err)
	})
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}

func (c *Connection) runTransaction(ctx context.Context, o backend.TxOptions, fn func(context.Context, *Transaction) error) error {
	err := c.control(ctx, "BEGIN", func(ctx context.Context, bc backend.Conn) error {
		return bc.Begin(ctx, o)
	})
	if err != nil {
		return err
	}

	tx := newTransaction(c, nil)
	c.setInnermost(tx)
	return tx.run(ctx, fn,
		func(ctx context.Context) error {
			return c.control(ctx, "COMMIT", func(ctx context.Context, bc backend.Conn) error {
				return bc.Commit(ctx)
			})
		},
		func(ctx context.Context) error {
			return c.control(ctx, "ROLLBACK", func(ctx context.Context, bc backend.Conn) error {
				return bc.Rollback(ctx)
			})
		},
	)
}

// Transaction runs fn in a nested transaction: a savepoint that is
// released when fn succeeds and rolled back to when it fails, leaving t
// open either way. Only one nested transaction may be open on t at a time.
func (t *Transaction) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	if t.done.Load() {
		return &ConnectionAlreadyReleasedError{ConnectionID: t.conn.id, Scope: "transaction"}
	}

	t.mu.Lock()
	if t.child != nil {
		t.mu.Unlock()
		return ErrTransactionInProgress
	}
	child := newTransaction(t.conn, t)
	t.child = child
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.child = nil
		t.mu.Unlock()
	}()

	c := t.conn
	name := fmt.Sprintf("sqlguard_savepoint_%d", t.depth)
	err := c.control(ctx, "SAVEPOINT "+name, func(ctx context.Context, bc backend.Conn) error {
		return bc.Savepoint(ctx, name)
	})
	if err != nil {
		return err
	}

	c.setInnermost(child)
	return child.run(ctx, fn,
		func(ctx context.Context) error {
			return c.control(ctx, "RELEASE SAVEPOINT "+name, func(ctx context.Context, bc backend.Conn) error {
				return bc.ReleaseSavepoint(ctx, name)
			})
		},
		func(ctx context.Context) error {
			return c.control(ctx, "ROLLBACK TO SAVEPOINT "+name, func(ctx context.Context, bc backend.Conn) error {
				return bc.RollbackToSavepoint(ctx, name)
			})
		},
	)
}

// run calls fn and then commits or rolls back. The handle is closed before
// either happens, so fn cannot leak it.
func (t *Transaction) run(ctx context.Context, fn func(context.Context, *Transaction) error, commit, rollback func(context.Context) error) error {
	recovered, err := protect(func() error { return fn(ctx, t) })
	t.close()

	if recovered != nil {
		if rbErr := t.rollback(ctx, rollback); rbErr != nil {
			t.conn.pool.logger.WarnContext(ctx, "rollback failed during panic", "connection_id", t.conn.id, "error", rbErr)
		}
		panic(recovered)
	}

	switch {
	case err == nil && ctx.Err() == nil:
		return commit(ctx)
	case err == nil:
		err = ctx.Err()
	case errors.Is(err, ErrRollback):
		return t.rollback(ctx, rollback)
	}
	return withCleanup("rollback", err, t.rollback(ctx, rollback))
}

// rollback runs on a context detached from ctx's cancellation, since it is
// often the reason for rolling back.
func (t *Transaction) rollback(ctx context.Context, rollback func(context.Context) error) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := rollback(rctx); err != nil {
		t.conn.broken.Store(true)
		t.conn.pool.logger.WarnContext(ctx, "rollback failed", "connection_id", t.conn.id, "depth", t.depth, "error", err)
		return err
	}
	return nil
}

func (t *Transaction) close() {
	t.done.Store(true)
	t.conn.setInnermost(t.parent)
}
