package sqlguard

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

// Stage names the pipeline point an interceptor hook runs at.
type Stage string

const (
	StageBeforeQuery    Stage = "BeforeQuery"
	StageAfterQuery     Stage = "AfterQuery"
	StageAfterTransform Stage = "AfterTransform"
	StageAfterConnect   Stage = "AfterConnect"
	StageBeforeRelease  Stage = "BeforeRelease"
)

// QueryContext describes one query execution to interceptors.
type QueryContext struct {
	// QueryID is unique per execution.
	QueryID      string
	ConnectionID string
	// TransactionDepth is 0 outside a transaction, 1 in a top-level
	// transaction and one more for each savepoint.
	TransactionDepth int
	// Original is the query as the caller passed it.
	Original Query
	// Compiled is Original compiled, before any BeforeQuery rewrite.
	Compiled  CompiledQuery
	StartedAt time.Time

	values map[any]any
}

// Set stores a value for later hooks of the same execution.
func (qc *QueryContext) Set(key, value any) {
	if qc.values == nil {
		qc.values = make(map[any]any)
	}
	qc.values[key] = value
}

// Value returns a value stored with Set.
func (qc *QueryContext) Value(key any) (any, bool) {
	v, ok := qc.values[key]
	return v, ok
}

// ConnectionContext describes a connection scope to interceptors.
type ConnectionContext struct {
	ConnectionID string
	AcquiredAt   time.Time
}

// Interceptor is a set of optional hooks around query execution and
// connection scopes. Hooks that run before an action run in registration
// order; hooks that run after it run in reverse order.
//
// A hook that returns an error or panics aborts the operation. The error,
// or the recovered panic value, reaches the caller wrapped in an
// InterceptorError naming Name and the stage. QueryError observers are
// not recovered.
type Interceptor struct {
	Name string

	// BeforeQuery may rewrite the compiled query. Returning a non-nil
	// Result skips the remaining BeforeQuery hooks, the driver and the
	// AfterQuery hooks; the result still goes through shape assertions.
	BeforeQuery func(ctx context.Context, qc *QueryContext, q CompiledQuery) (CompiledQuery, *Result, error)

	// AfterQuery may replace the rows returned by the driver.
	AfterQuery func(ctx context.Context, qc *QueryContext, rows []Row) ([]Row, error)

	// AfterTransform may replace the value a query method is about to
	// return. The replacement must have the same type.
	AfterTransform func(ctx context.Context, qc *QueryContext, value any) (any, error)

	// QueryError observes a failed execution.
	QueryError func(ctx context.Context, qc *QueryContext, err error)

	AfterConnect  func(ctx context.Context, cc *ConnectionContext) error
	BeforeRelease func(ctx context.Context, cc *ConnectionContext) error
}

type interceptors []Interceptor

func hookError(ic Interceptor, stage Stage, err error) error {
	return &InterceptorError{Interceptor: ic.Name, Stage: stage, Err: err}
}

// callHook runs one hook, turning a returned error or a panic into an
// InterceptorError for ic and stage.
func callHook(ic Interceptor, stage Stage, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = hookError(ic, stage, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		return hookError(ic, stage, err)
	}
	return nil
}

func (is interceptors) beforeQuery(ctx context.Context, qc *QueryContext, q CompiledQuery) (CompiledQuery, *Result, error) {
	for _, ic := range is {
		if ic.BeforeQuery == nil {
			continue
		}
		var (
			next CompiledQuery
			res  *Result
		)
		err := callHook(ic, StageBeforeQuery, func() (err error) {
			next, res, err = ic.BeforeQuery(ctx, qc, q)
			return err
		})
		if err != nil {
			return q, nil, err
		}
		q = next
		if res != nil {
			return q, res, nil
		}
	}
	return q, nil, nil
}

func (is interceptors) afterQuery(ctx context.Context, qc *QueryContext, rows []Row) ([]Row, error) {
	for i := len(is) - 1; i >= 0; i-- {
		ic := is[i]
		if ic.AfterQuery == nil {
			continue
		}
		var next []Row
		err := callHook(ic, StageAfterQuery, func() (err error) {
			next, err = ic.AfterQuery(ctx, qc, rows)
			return err
		})
		if err != nil {
			return nil, err
		}
		rows = next
	}
	return rows, nil
}

func (is interceptors) afterTransform(ctx context.Context, qc *QueryContext, value any) (any, error) {
	for i := len(is) - 1; i >= 0; i-- {
		ic := is[i]
		if ic.AfterTransform == nil {
			continue
		}
		var next any
		err := callHook(ic, StageAfterTransform, func() (err error) {
			next, err = ic.AfterTransform(ctx, qc, value)
			if err != nil {
				return err
			}
			if next != nil && value != nil && reflect.TypeOf(next) != reflect.TypeOf(value) {
				return fmt.Errorf("returned %T, want %T", next, value)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		value = next
	}
	return value, nil
}

// queryError does not recover panics; observers must not panic.
func (is interceptors) queryError(ctx context.Context, qc *QueryContext, err error) {
	for i := len(is) - 1; i >= 0; i-- {
		if is[i].QueryError != nil {
			is[i].QueryError(ctx, qc, err)
		}
	}
}

func (is interceptors) afterConnect(ctx context.Context, cc *ConnectionContext) error {
	for _, ic := range is {
		if ic.AfterConnect == nil {
			continue
		}
		if err := callHook(ic, StageAfterConnect, func() error { return ic.AfterConnect(ctx, cc) }); err != nil {
			return err
		}
	}
	return nil
}

// beforeRelease runs every hook even after a failure, since the connection
// is released regardless. The first error is returned.
func (is interceptors) beforeRelease(ctx context.Context, cc *ConnectionContext) error {
	var first error
	for i := len(is) - 1; i >= 0; i-- {
		ic := is[i]
		if ic.BeforeRelease == nil {
			continue
		}
		if err := callHook(ic, StageBeforeRelease, func() error { return ic.BeforeRelease(ctx, cc) }); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogInterceptor logs every query at debug level and every failure at warn
// level, with its duration.
func LogInterceptor(logger *slog.Logger) Interceptor {
	type startKey struct{}
	return Interceptor{
		Name: "log",
		BeforeQuery: func(ctx context.Context, qc *QueryContext, q CompiledQuery) (CompiledQuery, *Result, error) {
			qc.Set(startKey{}, time.Now())
			return q, nil, nil
		},
		AfterQuery: func(ctx context.Context, qc *QueryContext, rows []Row) ([]Row, error) {
			logger.DebugContext(ctx, "query executed",
				"query_id", qc.QueryID,
				"connection_id", qc.ConnectionID,
				"sql", qc.Compiled.SQL,
				"rows", len(rows),
				"duration", sinceStart(qc, startKey{}),
			)
			return rows, nil
		},
		QueryError: func(ctx context.Context, qc *QueryContext, err error) {
			logger.WarnContext(ctx, "query failed",
				"query_id", qc.QueryID,
				"connection_id", qc.ConnectionID,
				"sql", qc.Compiled.SQL,
				"duration", sinceStart(qc, startKey{}),
				"error", err,
			)
		},
	}
}

func sinceStart(qc *QueryContext, key any) time.Duration {
	if v, ok := qc.Value(key); ok {
		if t, ok := v.(time.Time); ok {
			return time.Since(t)
		}
	}
	return time.Since(qc.StartedAt)
}
