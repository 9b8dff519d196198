package sqlguard_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/sqlguard"
	"github.com/pthm/sqlguard/internal/backendtest"
	"github.com/pthm/sqlguard/pkg/backend"
)

// newPool returns a pool over a scripted backend with retries disabled.
func newPool(t *testing.T, opts ...sqlguard.Option) (*sqlguard.Pool, *backendtest.Pool) {
	t.Helper()
	bp := backendtest.New()
	opts = append([]sqlguard.Option{sqlguard.WithTransactionRetryLimit(0)}, opts...)
	return sqlguard.New(bp, opts...), bp
}

// respond makes every query return res.
func respond(bp *backendtest.Pool, res *backend.Result) {
	bp.Handle(func(context.Context, string, []any) (*backend.Result, error) {
		return res, nil
	})
}

var (
	noRows     = backendtest.Rows([]string{"id"})
	oneRow     = backendtest.Rows([]string{"id"}, []any{int64(1)})
	twoRows    = backendtest.Rows([]string{"id"}, []any{int64(1)}, []any{int64(2)})
	twoColumns = backendtest.Rows([]string{"id", "name"}, []any{int64(1), "a"})
)

func TestOneFirst(t *testing.T) {
	tests := []struct {
		name     string
		result   *backend.Result
		want     any
		wantKind sqlguard.Kind
	}{
		{"zero rows", noRows, nil, sqlguard.KindNotFound},
		{"two rows", twoRows, nil, sqlguard.KindDataIntegrity},
		{"two columns", twoColumns, nil, sqlguard.KindDataIntegrity},
		{"one value", oneRow, int64(1), sqlguard.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, bp := newPool(t)
			respond(bp, tt.result)

			got, err := pool.OneFirst(context.Background(), sqlguard.MustSQL("SELECT id FROM t"))
			assert.Equal(t, tt.wantKind, sqlguard.KindOf(err))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRowMethods(t *testing.T) {
	tests := []struct {
		name     string
		result   *backend.Result
		run      func(sqlguard.Querier) (any, error)
		want     any
		wantKind sqlguard.Kind
	}{
		{
			name:   "Any zero rows",
			result: noRows,
			run: func(q sqlguard.Querier) (any, error) {
				rows, err := q.Any(context.Background(), sqlguard.MustSQL("SELECT"))
				return len(rows), err
			},
			want: 0,
		},
		{
			name:   "Many zero rows",
			result: noRows,
			run: func(q sqlguard.Querier) (any, error) {
				rows, err := q.Many(context.Background(), sqlguard.MustSQL("SELECT"))
				return len(rows), err
			},
			want:     0,
			wantKind: sqlguard.KindNotFound,
		},
		{
			name:   "Many two rows",
			result: twoRows,
			run: func(q sqlguard.Querier) (any, error) {
				rows, err := q.Many(context.Background(), sqlguard.MustSQL("SELECT"))
				return len(rows), err
			},
			want: 2,
		},
		{
			name:   "MaybeOne zero rows",
			result: noRows,
			run: func(q sqlguard.Querier) (any, error) {
				row, err := q.MaybeOne(context.Background(), sqlguard.MustSQL("SELECT"))
				return row == nil, err
			},
			want: true,
		},
		{
			name:   "MaybeOne two rows",
			result: twoRows,
			run: func(q sqlguard.Querier) (any, error) {
				row, err := q.MaybeOne(context.Background(), sqlguard.MustSQL("SELECT"))
				return row == nil, err
			},
			want:     true,
			wantKind: sqlguard.KindDataIntegrity,
		},
		{
			name:   "One two columns",
			result: twoColumns,
			run: func(q sqlguard.Querier) (any, error) {
				row, err := q.One(context.Background(), sqlguard.MustSQL("SELECT"))
				return row.Map(), err
			},
			want: map[string]any{"id": int64(1), "name": "a"},
		},
		{
			name:   "One zero rows",
			result: noRows,
			run: func(q sqlguard.Querier) (any, error) {
				_, err := q.One(context.Background(), sqlguard.MustSQL("SELECT"))
				return nil, err
			},
			wantKind: sqlguard.KindNotFound,
		},
		{
			name:   "AnyFirst checks every row",
			result: twoRows,
			run: func(q sqlguard.Querier) (any, error) {
				widen := sqlguard.TransformRow(func(r sqlguard.Row) (sqlguard.Row, error) {
					if r.Value(0) == int64(2) {
						return sqlguard.NewRow([]string{"id", "extra"}, []any{r.Value(0), "x"}), nil
					}
					return r, nil
				})
				return q.AnyFirst(context.Background(), sqlguard.MustSQL("SELECT"), widen)
			},
			want:     []any(nil),
			wantKind: sqlguard.KindDataIntegrity,
		},
		{
			name:   "AnyFirst values",
			result: twoRows,
			run: func(q sqlguard.Querier) (any, error) {
				return q.AnyFirst(context.Background(), sqlguard.MustSQL("SELECT"))
			},
			want: []any{int64(1), int64(2)},
		},
		{
			name:   "ManyFirst zero rows",
			result: noRows,
			run: func(q sqlguard.Querier) (any, error) {
				return q.ManyFirst(context.Background(), sqlguard.MustSQL("SELECT"))
			},
			want:     []any(nil),
			wantKind: sqlguard.KindNotFound,
		},
		{
			name:   "MaybeOneFirst zero rows",
			result: noRows,
			run: func(q sqlguard.Querier) (any, error) {
				v, ok, err := q.MaybeOneFirst(context.Background(), sqlguard.MustSQL("SELECT"))
				return []any{v, ok}, err
			},
			want: []any{nil, false},
		},
		{
			name:   "MaybeOneFirst one row",
			result: oneRow,
			run: func(q sqlguard.Querier) (any, error) {
				v, ok, err := q.MaybeOneFirst(context.Background(), sqlguard.MustSQL("SELECT"))
				return []any{v, ok}, err
			},
			want: []any{int64(1), true},
		},
		{
			name:   "MaybeOneFirst two columns",
			result: twoColumns,
			run: func(q sqlguard.Querier) (any, error) {
				v, ok, err := q.MaybeOneFirst(context.Background(), sqlguard.MustSQL("SELECT"))
				return []any{v, ok}, err
			},
			want:     []any{nil, false},
			wantKind: sqlguard.KindDataIntegrity,
		},
		{
			name:   "Query result",
			result: twoRows,
			run: func(q sqlguard.Querier) (any, error) {
				res, err := q.Query(context.Background(), sqlguard.MustSQL("SELECT"))
				return []any{res.Command, res.RowCount, len(res.Rows)}, err
			},
			want: []any{"SELECT", int64(2), 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, bp := newPool(t)
			respond(bp, tt.result)

			got, err := tt.run(pool)
			assert.Equal(t, tt.wantKind, sqlguard.KindOf(err), "err: %v", err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExists(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"int64", int64(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, bp := newPool(t)
			respond(bp, backendtest.Rows([]string{"exists"}, []any{tt.value}))

			got, err := pool.Exists(context.Background(), sqlguard.MustSQL("SELECT 1 FROM t WHERE id = %v", 7))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "SELECT EXISTS (SELECT 1 FROM t WHERE id = $1)", bp.Statements()[0])
			assert.Equal(t, [][]any{{7}}, bp.Params())
		})
	}
}

func TestInvalidQueryNeverReachesDriver(t *testing.T) {
	pool, bp := newPool(t)

	_, err := sqlguard.SQL("SELECT %v", map[string]any{"a": 1})
	require.True(t, sqlguard.IsInvalidInputErr(err))

	_, err = pool.Any(context.Background(), sqlguard.MustSQL("SELECT %v", sqlguard.Ident("t")))
	require.NoError(t, err)

	acquired, _, _ := bp.Counts()
	assert.Equal(t, 1, acquired)
}

func TestTypedHelpers(t *testing.T) {
	ctx := context.Background()
	q := sqlguard.MustSQL("SELECT id FROM t")

	t.Run("OneFirstAs", func(t *testing.T) {
		pool, bp := newPool(t)
		respond(bp, oneRow)

		id, err := sqlguard.OneFirstAs[int64](ctx, pool, q)
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)
	})

	t.Run("OneFirstAs wrong type", func(t *testing.T) {
		pool, bp := newPool(t)
		respond(bp, oneRow)

		_, err := sqlguard.OneFirstAs[string](ctx, pool, q)
		assert.True(t, sqlguard.IsDataIntegrityErr(err))
	})

	t.Run("AnyFirstAs", func(t *testing.T) {
		pool, bp := newPool(t)
		respond(bp, twoRows)

		ids, err := sqlguard.AnyFirstAs[int64](ctx, pool, q)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, ids)
	})

	t.Run("ManyFirstAs empty", func(t *testing.T) {
		pool, bp := newPool(t)
		respond(bp, noRows)

		_, err := sqlguard.ManyFirstAs[int64](ctx, pool, q)
		assert.True(t, sqlguard.IsNotFoundErr(err))
	})

	t.Run("OneAs", func(t *testing.T) {
		pool, bp := newPool(t)
		respond(bp, twoColumns)

		type user struct {
			ID   int64
			Name string
		}
		u, err := sqlguard.OneAs(ctx, pool, q, func(r sqlguard.Row) (user, error) {
			name, _ := r.Get("name")
			return user{ID: r.Value(0).(int64), Name: name.(string)}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, user{ID: 1, Name: "a"}, u)
	})
}

func TestTypeParsers(t *testing.T) {
	pool, bp := newPool(t, sqlguard.WithTypeParser("INT8", func(v any) (any, error) {
		return v.(int64) * 10, nil
	}))
	respond(bp, &backend.Result{
		Fields: []backend.Field{{Name: "a", TypeName: "int8"}, {Name: "b", TypeName: "text"}},
		Rows:   [][]any{{int64(4), "x"}, {nil, "y"}},
	})

	// The backend hands out the same result every time; parsing must not
	// compound.
	for i := 0; i < 2; i++ {
		rows, err := pool.Any(context.Background(), sqlguard.MustSQL("SELECT a, b FROM t"))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, []any{int64(40), "x"}, rows[0].Values())
		assert.Equal(t, []any{nil, "y"}, rows[1].Values())
	}
}

func TestTransformRow(t *testing.T) {
	pool, bp := newPool(t)
	respond(bp, twoColumns)

	id, err := pool.OneFirst(context.Background(), sqlguard.MustSQL("SELECT id, name FROM t"),
		sqlguard.TransformRow(func(r sqlguard.Row) (sqlguard.Row, error) {
			return sqlguard.NewRow([]string{"id"}, []any{r.Value(0)}), nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestRow(t *testing.T) {
	r := sqlguard.NewRow([]string{"a", "b", "a"}, []any{1, 2, 3})

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"a", "b", "a"}, r.Columns())
	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, r.Map())

	assert.Panics(t, func() { sqlguard.NewRow([]string{"a"}, nil) })
}
