package sqlguard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/sqlguard"
	"github.com/pthm/sqlguard/pkg/backend"
)

func TestCompileNestedNumbering(t *testing.T) {
	inner := sqlguard.MustBuild([]string{"", ""}, 2)
	q := sqlguard.MustBuild([]string{"A ", " B ", " C ", ""}, 1, inner, 3)

	cq, err := sqlguard.Compile(q)
	require.NoError(t, err)
	assert.Equal(t, "A $1 B $2 C $3", cq.SQL)
	assert.Equal(t, []any{1, 2, 3}, cq.Params)
}

func TestCompileDeepNesting(t *testing.T) {
	q := sqlguard.MustSQL("%v", 0)
	for i := 1; i < 20; i++ {
		q = sqlguard.MustSQL("(%v, %v)", q, i)
	}

	cq, err := q.Compile()
	require.NoError(t, err)
	require.Len(t, cq.Params, 20)
	for i, p := range cq.Params {
		assert.Equal(t, i, p)
	}
	assert.Contains(t, cq.SQL, "$1, $2), $3)")
	assert.Contains(t, cq.SQL, "$20)")
}

func TestCompileIsDeterministic(t *testing.T) {
	q := sqlguard.MustSQL("SELECT %v FROM %v WHERE id = ANY(%v) AND %v",
		sqlguard.Join([]any{sqlguard.Ident("a"), sqlguard.Ident("b")}, sqlguard.UnsafeRaw(", ")),
		sqlguard.Ident("public", "t"),
		sqlguard.Array([]any{1, 2}, "int4"),
		sqlguard.MustSQL("name = %v", "x"),
	)

	first, err := q.Compile()
	require.NoError(t, err)
	second, err := q.Compile()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, `SELECT "a", "b" FROM "public"."t" WHERE id = ANY($1::int4[]) AND name = $2`, first.SQL)
}

func TestCompileIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"single", []string{"users"}, `"users"`},
		{"qualified", []string{"foo", "a"}, `"foo"."a"`},
		{"embedded quote", []string{`we"ird`}, `"we""ird"`},
		{"keeps case", []string{"Users"}, `"Users"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cq, err := sqlguard.MustSQL("%v", sqlguard.Ident(tt.parts...)).Compile()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cq.SQL)
			assert.Empty(t, cq.Params)
		})
	}
}

func TestCompileJoin(t *testing.T) {
	tests := []struct {
		name       string
		items      []any
		wantSQL    string
		wantParams []any
	}{
		{"empty", nil, "()", nil},
		{"one", []any{"a1"}, "($1)", []any{"a1"}},
		{"two", []any{"a1", "a2"}, "($1, $2)", []any{"a1", "a2"}},
		{"three", []any{"a1", "a2", "a3"}, "($1, $2, $3)", []any{"a1", "a2", "a3"}},
		{"mixed", []any{sqlguard.Ident("c"), 5, sqlguard.MustSQL("now()")}, `("c", $1, now())`, []any{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := sqlguard.Join(tt.items, sqlguard.UnsafeRaw(", "))
			cq, err := sqlguard.MustSQL("(%v)", j).Compile()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, cq.SQL)
			assert.Equal(t, tt.wantParams, cq.Params)
		})
	}
}

func TestCompileJoinSeparatorParams(t *testing.T) {
	sep := sqlguard.MustSQL(" OR %v OR ", true)
	cq, err := sqlguard.MustSQL("%v", sqlguard.Join([]any{1, 2, 3}, sep)).Compile()
	require.NoError(t, err)
	assert.Equal(t, "$1 OR $2 OR $3 OR $4 OR $5", cq.SQL)
	assert.Equal(t, []any{1, true, 2, true, 3}, cq.Params)
}

func TestCompileArrayBinding(t *testing.T) {
	cq, err := sqlguard.MustSQL("SELECT * FROM t WHERE a = %v AND id = ANY(%v) AND b = %v",
		"x", sqlguard.ArrayOf([]int64{1, 2, 3}, "int8"), "y",
	).Compile()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND id = ANY($2::int8[]) AND b = $3", cq.SQL)
	require.Len(t, cq.Params, 3)
	assert.Equal(t, backend.Array{Values: []any{int64(1), int64(2), int64(3)}, ElementType: "int8"}, cq.Params[1])
}

func TestCompileArrayElementType(t *testing.T) {
	tests := []struct {
		elementType string
		want        string
	}{
		{"int4", "SELECT $1::int4[]"},
		{"text", "SELECT $1::text[]"},
		{"double precision", "SELECT $1::double precision[]"},
		{"varchar(255)", "SELECT $1::varchar(255)[]"},
		{"public.mood", "SELECT $1::public.mood[]"},
	}
	for _, tt := range tests {
		t.Run(tt.elementType, func(t *testing.T) {
			cq, err := sqlguard.MustSQL("SELECT %v", sqlguard.Array([]any{"1", "2"}, tt.elementType)).Compile()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cq.SQL)
			assert.Equal(t, []any{backend.Array{Values: []any{"1", "2"}, ElementType: tt.elementType}}, cq.Params)
		})
	}
}

func TestCompileEmptyArray(t *testing.T) {
	cq, err := sqlguard.MustSQL("SELECT * FROM unnest(%v)", sqlguard.Array(nil, "int8")).Compile()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM unnest($1::int8[])", cq.SQL)
	assert.Equal(t, []any{backend.Array{Values: []any{}, ElementType: "int8"}}, cq.Params)
}

func TestCompileEmptyQuery(t *testing.T) {
	var q sqlguard.Query
	assert.True(t, q.IsEmpty())

	cq, err := q.Compile()
	require.NoError(t, err)
	assert.Equal(t, "", cq.SQL)
	assert.Empty(t, cq.Params)
}

func TestQueryTokens(t *testing.T) {
	q := sqlguard.MustSQL("SELECT %v", 1)
	tokens := q.Tokens()
	require.Len(t, tokens, 2)
	assert.Equal(t, sqlguard.RawKind, tokens[0].Kind())
	assert.Equal(t, "SELECT ", tokens[0].(sqlguard.Raw).Text())
	assert.Equal(t, sqlguard.Value{V: 1}, tokens[1])

	tokens[0] = nil
	assert.Equal(t, "SELECT $1", q.String())
}
