package sqlguard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Querier is implemented by *Pool, *Connection and *Transaction. Every
// method compiles q, runs it through the interceptors and the driver, and
// checks the result against the method's shape contract:
//
//	method         0 rows         1 row   >1 rows
//	Query, Any     empty          [row]   all rows
//	Many           NotFoundError  [row]   all rows
//	MaybeOne       nil            row     DataIntegrityError
//	One            NotFoundError  row     DataIntegrityError
//
// The First variants return the value of the only column instead of the
// row, and fail with DataIntegrityError if any row has a column count
// other than one.
type Querier interface {
	Query(ctx context.Context, q Query, opts ...QueryOption) (*Result, error)
	Any(ctx context.Context, q Query, opts ...QueryOption) ([]Row, error)
	Many(ctx context.Context, q Query, opts ...QueryOption) ([]Row, error)
	MaybeOne(ctx context.Context, q Query, opts ...QueryOption) (*Row, error)
	One(ctx context.Context, q Query, opts ...QueryOption) (Row, error)
	AnyFirst(ctx context.Context, q Query, opts ...QueryOption) ([]any, error)
	ManyFirst(ctx context.Context, q Query, opts ...QueryOption) ([]any, error)
	MaybeOneFirst(ctx context.Context, q Query, opts ...QueryOption) (any, bool, error)
	OneFirst(ctx context.Context, q Query, opts ...QueryOption) (any, error)
	Exists(ctx context.Context, q Query, opts ...QueryOption) (bool, error)
}

var (
	_ Querier = (*Pool)(nil)
	_ Querier = (*Connection)(nil)
	_ Querier = (*Transaction)(nil)
)

// queries implements Querier on top of a scope function that supplies the
// connection a statement runs on and the current transaction depth.
type queries struct {
	scope func(ctx context.Context, fn func(c *Connection, depth int) error) error
}

type shapeFunc func(q CompiledQuery, res *Result) (any, error)

func (m queries) run(ctx context.Context, q Query, opts []QueryOption, shape shapeFunc) (any, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Construction errors surface before a connection is touched.
	compiled, err := Compile(q)
	if err != nil {
		return nil, err
	}

	var out any
	err = m.scope(ctx, func(c *Connection, depth int) error {
		qc := &QueryContext{
			QueryID:          uuid.NewString(),
			ConnectionID:     c.id,
			TransactionDepth: depth,
			Original:         q,
			Compiled:         compiled,
			StartedAt:        time.Now(),
		}
		v, err := c.pipeline(ctx, qc, o, shape)
		if err != nil {
			c.pool.ics.queryError(ctx, qc, err)
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// pipeline runs one query: BeforeQuery hooks, the driver, type parsers,
// AfterQuery hooks, the row transform, the shape check and finally the
// AfterTransform hooks.
func (c *Connection) pipeline(ctx context.Context, qc *QueryContext, o queryOptions, shape shapeFunc) (any, error) {
	p := c.pool

	q, res, err := p.ics.beforeQuery(ctx, qc, qc.Compiled)
	if err != nil {
		return nil, err
	}

	if res == nil {
		raw, err := c.exec(ctx, q, o)
		if err != nil {
			return nil, err
		}
		if res, err = decodeResult(raw, p.cfg.TypeParsers); err != nil {
			return nil, err
		}
		if res.Rows, err = p.ics.afterQuery(ctx, qc, res.Rows); err != nil {
			return nil, err
		}
	}

	if o.rowTransform != nil {
		rows := make([]Row, len(res.Rows))
		for i, r := range res.Rows {
			if rows[i], err = o.rowTransform(r); err != nil {
				return nil, fmt.Errorf("sqlguard: transform row %d: %w", i, err)
			}
		}
		res = &Result{Command: res.Command, RowCount: res.RowCount, Fields: res.Fields, Rows: rows}
	}

	v, err := shape(q, res)
	if err != nil {
		return nil, err
	}
	return p.ics.afterTransform(ctx, qc, v)
}

// Query returns the full result.
func (m queries) Query(ctx context.Context, q Query, opts ...QueryOption) (*Result, error) {
	v, err := m.run(ctx, q, opts, func(_ CompiledQuery, res *Result) (any, error) {
		return res, nil
	})
	res, _ := v.(*Result)
	return res, err
}

// Any returns all rows.
func (m queries) Any(ctx context.Context, q Query, opts ...QueryOption) ([]Row, error) {
	v, err := m.run(ctx, q, opts, func(_ CompiledQuery, res *Result) (any, error) {
		return res.Rows, nil
	})
	rows, _ := v.([]Row)
	return rows, err
}

// Many returns all rows, failing with NotFoundError if there are none.
func (m queries) Many(ctx context.Context, q Query, opts ...QueryOption) ([]Row, error) {
	v, err := m.run(ctx, q, opts, func(cq CompiledQuery, res *Result) (any, error) {
		if err := assertMany(cq, res.Rows); err != nil {
			return nil, err
		}
		return res.Rows, nil
	})
	rows, _ := v.([]Row)
	return rows, err
}

// MaybeOne returns the only row, or nil if there is none.
func (m queries) MaybeOne(ctx context.Context, q Query, opts ...QueryOption) (*Row, error) {
	v, err := m.run(ctx, q, opts, func(cq CompiledQuery, res *Result) (any, error) {
		return assertMaybeOne(cq, res.Rows)
	})
	row, _ := v.(*Row)
	return row, err
}

// One returns the only row.
func (m queries) One(ctx context.Context, q Query, opts ...QueryOption) (Row, error) {
	v, err := m.run(ctx, q, opts, func(cq CompiledQuery, res *Result) (any, error) {
		return assertOne(cq, res.Rows)
	})
	row, _ := v.(Row)
	return row, err
}

// AnyFirst returns the value of the only column of every row.
func (m queries) AnyFirst(ctx context.Context, q Query, opts ...QueryOption) ([]any, error) {
	v, err := m.run(ctx, q, opts, func(cq CompiledQuery, res *Result) (any, error) {
		return firstColumn(cq, res.Rows)
	})
	values, _ := v.([]any)
	return values, err
}

// ManyFirst is AnyFirst failing with NotFoundError when there are no rows.
func (m queries) ManyFirst(ctx context.Context, q Query, opts ...QueryOption) ([]any, error) {
	v, err := m.run(ctx, q, opts, func(cq CompiledQuery, res *Result) (any, error) {
		if err := assertMany(cq, res.Rows); err != nil {
			return nil, err
		}
		return firstColumn(cq, res.Rows)
	})
	values, _ := v.([]any)
	return values, err
}

// MaybeOneFirst returns the value of the only column of the only row. The
// bool is false when there is no row.
//
// AfterTransform hooks see the value as a []any of length zero or one.
func (m queries) MaybeOneFirst(ctx context.Context, q Query, opts ...QueryOption) (any, bool, error) {
	v, err := m.run(ctx, q, opts, func(cq CompiledQuery, res *Result) (any, error) {
		row, err := assertMaybeOne(cq, res.Rows)
		if err != nil || row == nil {
			return []any{}, err
		}
		return firstColumn(cq, []Row{*row})
	})
	values, _ := v.([]any)
	if err != nil || len(values) == 0 {
		return nil, false, err
	}
	return values[0], true, nil
}

// OneFirst returns the value of the only column of the only row.
func (m queries) OneFirst(ctx context.Context, q Query, opts ...QueryOption) (any, error) {
	v, err := m.run(ctx, q, opts, func(cq CompiledQuery, res *Result) (any, error) {
		row, err := assertOne(cq, res.Rows)
		if err != nil {
			return nil, err
		}
		values, err := firstColumn(cq, []Row{row})
		if err != nil {
			return nil, err
		}
		return values[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Exists reports whether q returns at least one row, by running
// SELECT EXISTS (q).
func (m queries) Exists(ctx context.Context, q Query, opts ...QueryOption) (bool, error) {
	wrapped, err := Build([]string{"SELECT EXISTS (", ")"}, q)
	if err != nil {
		return false, err
	}
	compiled, err := Compile(wrapped)
	if err != nil {
		return false, err
	}
	v, err := m.OneFirst(ctx, wrapped, opts...)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case int32:
		return b != 0, nil
	case int:
		return b != 0, nil
	}
	return false, &DataIntegrityError{Query: compiled, Reason: fmt.Sprintf("EXISTS returned %T", v)}
}
