package sqlguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pthm/sqlguard/pkg/backend"
)

// Pool is the process-wide entry point. It owns a backend pool and hands
// out connections only inside Connect and Transaction scopes.
//
// Query methods called on the Pool itself run on a connection that is
// acquired for that one statement and released afterwards.
//
// Pool is safe for concurrent use.
type Pool struct {
	queries

	backend backend.Pool
	cfg     Config
	logger  *slog.Logger
	ics     interceptors

	mu     sync.Mutex
	closed bool
	active int
	scopes sync.WaitGroup
}

// New wraps a backend pool. The options are applied on top of
// DefaultConfig.
func New(bp backend.Pool, opts ...Option) *Pool {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}

	p := &Pool{
		backend: bp,
		cfg:     cfg,
		logger:  cfg.Logger,
		ics:     append(interceptors(nil), cfg.Interceptors...),
	}
	p.queries = queries{scope: func(ctx context.Context, fn func(*Connection, int) error) error {
		return p.Connect(ctx, func(ctx context.Context, c *Connection) error {
			return fn(c, 0)
		})
	}}
	return p
}

// Config returns the pool's configuration.
func (p *Pool) Config() Config { return p.cfg }

// Stats reports pool occupancy.
type Stats struct {
	backend.Stats
	// ActiveScopes counts open Connect and Transaction scopes.
	ActiveScopes int
}

// Stats returns current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	return Stats{Stats: p.backend.Stats(), ActiveScopes: active}
}

// Close stops new scopes from opening, waits for open scopes to finish and
// closes the backend pool. If ctx ends first, Close returns its error and
// leaves the backend pool open.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.scopes.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("sqlguard: close: %w", ctx.Err())
	}

	p.logger.DebugContext(ctx, "closing pool")
	if err := p.backend.Close(); err != nil {
		return fmt.Errorf("sqlguard: close: %w", err)
	}
	return nil
}

func (p *Pool) enter() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &ConnectionError{Op: "acquire", Err: ErrPoolClosed}
	}
	p.active++
	p.scopes.Add(1)
	return nil
}

func (p *Pool) leave() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	p.scopes.Done()
}

// Connect acquires a connection, calls fn with it and releases it when fn
// returns, fails or panics. A panic is re-raised after the release.
//
// The connection is closed instead of returned to the backend pool when a
// statement on it was cancelled or the backend died. The handle must not
// be used after fn returns; doing so fails with
// ConnectionAlreadyReleasedError.
func (p *Pool) Connect(ctx context.Context, fn func(ctx context.Context, c *Connection) error) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	c, err := p.acquire(ctx)
	if err != nil {
		return err
	}

	recovered, err := protect(func() error { return fn(ctx, c) })
	relErr := p.release(ctx, c)
	if recovered != nil {
		if relErr != nil {
			p.logger.WarnContext(ctx, "release failed during panic", "connection_id", c.id, "error", relErr)
		}
		panic(recovered)
	}
	return withCleanup("release", err, relErr)
}

// Transaction opens a connection scope and runs fn in a transaction on it.
// See Connection.Transaction.
func (p *Pool) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error, opts ...TransactionOption) error {
	return p.Connect(ctx, func(ctx context.Context, c *Connection) error {
		return c.Transaction(ctx, fn, opts...)
	})
}

func (p *Pool) acquire(ctx context.Context) (*Connection, error) {
	actx := ctx
	if p.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
		defer cancel()
	}

	bc, err := p.backend.Acquire(actx)
	if err != nil {
		ce := &ConnectionError{Op: "acquire", Err: err}
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			ce.Timeout = p.cfg.ConnectionTimeout
		}
		return nil, ce
	}

	c := newConnection(p, uuid.NewString(), bc)
	p.logger.DebugContext(ctx, "connection acquired", "connection_id", c.id)

	if err := p.ics.afterConnect(ctx, c.connectionContext()); err != nil {
		return nil, withCleanup("release", err, p.release(ctx, c))
	}
	return c, nil
}

// release runs the BeforeRelease hooks and hands the connection back.
// Hooks and the backend see a context that is not cancelled, since release
// must happen even when the scope was torn down by cancellation.
func (p *Pool) release(ctx context.Context, c *Connection) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	hookErr := p.ics.beforeRelease(rctx, c.connectionContext())

	discard := c.invalidate()
	var relErr error
	if err := c.conn.Release(discard); err != nil {
		relErr = &ConnectionError{Op: "release", Err: err}
	}

	if discard {
		p.logger.WarnContext(ctx, "connection discarded", "connection_id", c.id)
	} else {
		p.logger.DebugContext(ctx, "connection released", "connection_id", c.id, "held", time.Since(c.acquiredAt))
	}
	return errors.Join(hookErr, relErr)
}

// protect calls fn and recovers a panic raised by it.
func protect(fn func() error) (recovered any, err error) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()
	return nil, fn()
}
