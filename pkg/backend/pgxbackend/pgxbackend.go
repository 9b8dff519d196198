// Package pgxbackend adapts a pgx connection pool to backend.Pool.
package pgxbackend

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pthm/sqlguard/pkg/backend"
)

// closeTimeout bounds closing a discarded connection.
const closeTimeout = 5 * time.Second

// Pool wraps a *pgxpool.Pool.
type Pool struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller keeps ownership of its
// configuration; Close closes it.
func New(pool *pgxpool.Pool) *Pool {
	return &Pool{pool: pool}
}

// Open creates a pool for dsn, applying the non-zero settings of cfg.
func Open(ctx context.Context, dsn string, cfg backend.PoolConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxbackend: parse config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		pc.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.IdleTimeout > 0 {
		pc.MaxConnIdleTime = cfg.IdleTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pgxbackend: open pool: %w", err)
	}
	return New(pool), nil
}

// Unwrap returns the underlying pool.
func (p *Pool) Unwrap() *pgxpool.Pool { return p.pool }

func (p *Pool) Acquire(ctx context.Context) (backend.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

func (p *Pool) Stats() backend.Stats {
	s := p.pool.Stat()
	return backend.Stats{
		MaxConnections: int(s.MaxConns()),
		Total:          int(s.TotalConns()),
		Idle:           int(s.IdleConns()),
		InUse:          int(s.AcquiredConns()),
	}
}

func (p *Pool) Close() error {
	p.pool.Close()
	return nil
}

// Conn is one acquired pgx connection. Statements run on the open
// transaction, if any.
type Conn struct {
	conn *pgxpool.Conn
	tx   pgx.Tx
}

var errNoTx = errors.New("pgxbackend: no transaction in progress")

func (c *Conn) Execute(ctx context.Context, sql string, params []any) (*backend.Result, error) {
	args := make([]any, len(params))
	for i, p := range params {
		if a, ok := p.(backend.Array); ok {
			args[i] = nativeArray(a)
			continue
		}
		args[i] = p
	}

	var (
		rows pgx.Rows
		err  error
	)
	if c.tx != nil {
		rows, err = c.tx.Query(ctx, sql, args...)
	} else {
		rows, err = c.conn.Query(ctx, sql, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	typeMap := c.conn.Conn().TypeMap()
	res := &backend.Result{}
	for _, fd := range rows.FieldDescriptions() {
		f := backend.Field{Name: fd.Name}
		if t, ok := typeMap.TypeForOID(fd.DataTypeOID); ok {
			f.TypeName = t.Name
		}
		res.Fields = append(res.Fields, f)
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tag := rows.CommandTag()
	if verb, _, _ := strings.Cut(tag.String(), " "); verb != "" {
		res.Command = verb
	}
	res.RowCount = tag.RowsAffected()
	return res, nil
}

// nativeArray converts a homogeneous array to a typed slice, which pgx
// encodes without help from the statement description.
func nativeArray(a backend.Array) any {
	if len(a.Values) == 0 || a.Values[0] == nil {
		return a.Values
	}
	elem := reflect.TypeOf(a.Values[0])
	out := reflect.MakeSlice(reflect.SliceOf(elem), len(a.Values), len(a.Values))
	for i, v := range a.Values {
		if v == nil || reflect.TypeOf(v) != elem {
			return a.Values
		}
		out.Index(i).Set(reflect.ValueOf(v))
	}
	return out.Interface()
}

func (c *Conn) Begin(ctx context.Context, opts backend.TxOptions) error {
	if c.tx != nil {
		return errors.New("pgxbackend: transaction already in progress")
	}
	txOpts := pgx.TxOptions{IsoLevel: pgx.TxIsoLevel(opts.IsolationLevel)}
	if opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}
	tx, err := c.conn.BeginTx(ctx, txOpts)
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
	return tx.Commit(ctx)
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return errNoTx
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (c *Conn) Savepoint(ctx context.Context, name string) error {
	return c.execTx(ctx, "SAVEPOINT "+pgx.Identifier{name}.Sanitize())
}

func (c *Conn) ReleaseSavepoint(ctx context.Context, name string) error {
	return c.execTx(ctx, "RELEASE SAVEPOINT "+pgx.Identifier{name}.Sanitize())
}

func (c *Conn) RollbackToSavepoint(ctx context.Context, name string) error {
	return c.execTx(ctx, "ROLLBACK TO SAVEPOINT "+pgx.Identifier{name}.Sanitize())
}

func (c *Conn) execTx(ctx context.Context, stmt string) error {
	if c.tx == nil {
		return errNoTx
	}
	_, err := c.tx.Exec(ctx, stmt)
	return err
}

// Release returns the connection to the pool. A discarded connection is
// taken out of the pool and closed. pgxpool itself drops connections that
// are still inside a transaction.
func (c *Conn) Release(discard bool) error {
	c.tx = nil
	if !discard {
		c.conn.Release()
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.conn.Hijack().Close(ctx)
}
