// Package backendtest provides an in-memory backend.Pool for tests. It
// records every statement, counts acquire and release calls, and lets tests
// script results and inject failures.
package backendtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pthm/sqlguard/pkg/backend"
)

// Handler answers Execute calls. A nil handler returns an empty result.
type Handler func(ctx context.Context, sql string, params []any) (*backend.Result, error)

// Error is a driver error carrying a SQLSTATE code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code) }

// SQLState returns the error code.
func (e *Error) SQLState() string { return e.Code }

// Rows builds a SELECT result.
func Rows(columns []string, rows ...[]any) *backend.Result {
	res := &backend.Result{Command: "SELECT", RowCount: int64(len(rows))}
	for _, c := range columns {
		res.Fields = append(res.Fields, backend.Field{Name: c})
	}
	for _, r := range rows {
		res.Rows = append(res.Rows, append([]any(nil), r...))
	}
	return res
}

// Block is a Handler that waits for ctx to end.
func Block(ctx context.Context, _ string, _ []any) (*backend.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// Pool is a scripted backend.Pool. The zero value is not usable; call New.
type Pool struct {
	mu          sync.Mutex
	handler     Handler
	acquireFunc func(ctx context.Context) error
	failures    map[string][]error
	statements  []string
	params      [][]any

	acquired      int
	released      int
	discarded     int
	doubleRelease int
	inUse         int
	closed        bool
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{failures: make(map[string][]error)}
}

// Handle sets the Execute handler.
func (p *Pool) Handle(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// OnAcquire sets a function run by every Acquire call. A non-nil error
// fails the acquisition.
func (p *Pool) OnAcquire(fn func(ctx context.Context) error) {
	p.mu.Lock()
	p.acquireFunc = fn
	p.mu.Unlock()
}

// Fail makes the next call for statement fail with err. Statement is one of
// BEGIN, COMMIT, ROLLBACK, "SAVEPOINT name", "RELEASE SAVEPOINT name",
// "ROLLBACK TO SAVEPOINT name", "RELEASE" or a SQL text passed to Execute.
// Repeated calls queue further failures.
func (p *Pool) Fail(statement string, err error) {
	p.mu.Lock()
	p.failures[statement] = append(p.failures[statement], err)
	p.mu.Unlock()
}

// Statements returns every statement recorded so far, in order.
func (p *Pool) Statements() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.statements...)
}

// Params returns the parameters of every executed query, in order.
func (p *Pool) Params() [][]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]any(nil), p.params...)
}

// Counts reports how many connections were acquired, released and
// discarded. Discarded connections are counted as released too.
func (p *Pool) Counts() (acquired, released, discarded int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired, p.released, p.discarded
}

// DoubleReleases reports how many times an already released connection
// was released again.
func (p *Pool) DoubleReleases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doubleRelease
}

// Closed reports whether Close was called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) Acquire(ctx context.Context) (backend.Conn, error) {
	p.mu.Lock()
	fn := p.acquireFunc
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("backendtest: pool closed")
	}
	if fn != nil {
		if err := fn(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquired++
	p.inUse++
	return &Conn{pool: p}, nil
}

func (p *Pool) Stats() backend.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return backend.Stats{Total: p.inUse, InUse: p.inUse}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// record logs statement and returns the failure queued for it, if any.
func (p *Pool) record(statement string, params []any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statements = append(p.statements, statement)
	if params != nil {
		p.params = append(p.params, params)
	}
	if errs := p.failures[statement]; len(errs) > 0 {
		p.failures[statement] = errs[1:]
		return errs[0]
	}
	return nil
}

// Conn is one scripted connection.
type Conn struct {
	pool     *Pool
	released bool
}

func (c *Conn) Execute(ctx context.Context, sql string, params []any) (*backend.Result, error) {
	if err := c.pool.record(sql, params); err != nil {
		return nil, err
	}
	c.pool.mu.Lock()
	h := c.pool.handler
	c.pool.mu.Unlock()
	if h == nil {
		return &backend.Result{}, nil
	}
	return h(ctx, sql, params)
}

func (c *Conn) Begin(ctx context.Context, opts backend.TxOptions) error {
	stmt := "BEGIN"
	if opts.IsolationLevel != "" {
		stmt += " ISOLATION LEVEL " + strings.ToUpper(string(opts.IsolationLevel))
	}
	if opts.ReadOnly {
		stmt += " READ ONLY"
	}
	return c.control(ctx, stmt)
}

func (c *Conn) Commit(ctx context.Context) error   { return c.control(ctx, "COMMIT") }
func (c *Conn) Rollback(ctx context.Context) error { return c.control(ctx, "ROLLBACK") }

func (c *Conn) Savepoint(ctx context.Context, name string) error {
	return c.control(ctx, "SAVEPOINT "+name)
}

func (c *Conn) ReleaseSavepoint(ctx context.Context, name string) error {
	return c.control(ctx, "RELEASE SAVEPOINT "+name)
}

func (c *Conn) RollbackToSavepoint(ctx context.Context, name string) error {
	return c.control(ctx, "ROLLBACK TO SAVEPOINT "+name)
}

func (c *Conn) control(ctx context.Context, stmt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pool.record(stmt, nil)
}

func (c *Conn) Release(discard bool) error {
	err := c.pool.record("RELEASE", nil)

	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	if c.released {
		c.pool.doubleRelease++
		return err
	}
	c.released = true
	c.pool.released++
	c.pool.inUse--
	if discard {
		c.pool.discarded++
	}
	return err
}
