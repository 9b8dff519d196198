// Package sqlbackend adapts a database/sql handle to backend.Pool.
//
// Any driver that accepts $n placeholders works: lib/pq, pgx's stdlib
// driver, and sqlite3 for tests. Array parameters are encoded with
// pq.Array.
//
// database/sql does not report command tags, so Result.Command is empty
// and Result.RowCount is the number of rows returned.
package sqlbackend

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/pthm/sqlguard/pkg/backend"
)

// Pool wraps a *sql.DB.
type Pool struct {
	db *sql.DB
}

// New wraps db.
func New(db *sql.DB) *Pool {
	return &Pool{db: db}
}

// Open opens a database with the registered driver and applies the
// non-zero settings of cfg.
func Open(driverName, dsn string, cfg backend.PoolConfig) (*Pool, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: open %s: %w", driverName, err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.IdleTimeout)
	}
	return New(db), nil
}

// DB returns the underlying handle.
func (p *Pool) DB() *sql.DB { return p.db }

func (p *Pool) Acquire(ctx context.Context) (backend.Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

func (p *Pool) Stats() backend.Stats {
	s := p.db.Stats()
	return backend.Stats{
		MaxConnections: s.MaxOpenConnections,
		Total:          s.OpenConnections,
		Idle:           s.Idle,
		InUse:          s.InUse,
	}
}

func (p *Pool) Close() error { return p.db.Close() }

// Conn is one checked-out *sql.Conn. Statements run on the open
// transaction, if any.
type Conn struct {
	conn *sql.Conn
	tx   *sql.Tx
}

var errNoTx = errors.New("sqlbackend: no transaction in progress")

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (c *Conn) target() queryer {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func (c *Conn) Execute(ctx context.Context, query string, params []any) (*backend.Result, error) {
	args := make([]any, len(params))
	for i, p := range params {
		if a, ok := p.(backend.Array); ok {
			args[i] = pq.Array(a.Values)
			continue
		}
		args[i] = p
	}

	rows, err := c.target().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	res := &backend.Result{Fields: make([]backend.Field, len(types))}
	for i, t := range types {
		res.Fields[i] = backend.Field{Name: t.Name(), TypeName: strings.ToLower(t.DatabaseTypeName())}
	}

	for rows.Next() {
		values := make([]any, len(types))
		dest := make([]any, len(types))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.RowCount = int64(len(res.Rows))
	return res, nil
}

var isolationLevels = map[backend.IsolationLevel]sql.IsolationLevel{
	"":                      sql.LevelDefault,
	backend.Serializable:    sql.LevelSerializable,
	backend.RepeatableRead:  sql.LevelRepeatableRead,
	backend.ReadCommitted:   sql.LevelReadCommitted,
	backend.ReadUncommitted: sql.LevelReadUncommitted,
}

func (c *Conn) Begin(ctx context.Context, opts backend.TxOptions) error {
	if c.tx != nil {
		return errors.New("sqlbackend: transaction already in progress")
	}
	level, ok := isolationLevels[opts.IsolationLevel]
	if !ok {
		return fmt.Errorf("sqlbackend: unknown isolation level %q", opts.IsolationLevel)
	}
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{Isolation: level, ReadOnly: opts.ReadOnly})
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return errNoTx
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return errNoTx
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (c *Conn) Savepoint(ctx context.Context, name string) error {
	return c.execTx(ctx, "SAVEPOINT "+pq.QuoteIdentifier(name))
}

func (c *Conn) ReleaseSavepoint(ctx context.Context, name string) error {
	return c.execTx(ctx, "RELEASE SAVEPOINT "+pq.QuoteIdentifier(name))
}

func (c *Conn) RollbackToSavepoint(ctx context.Context, name string) error {
	return c.execTx(ctx, "ROLLBACK TO SAVEPOINT "+pq.QuoteIdentifier(name))
}

func (c *Conn) execTx(ctx context.Context, stmt string) error {
	if c.tx == nil {
		return errNoTx
	}
	_, err := c.tx.ExecContext(ctx, stmt)
	return err
}

// Release rolls back a transaction left open and returns the connection to
// the pool. A discarded connection is marked bad so database/sql closes it
// instead of reusing it.
func (c *Conn) Release(discard bool) error {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	if discard {
		_ = c.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
