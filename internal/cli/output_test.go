package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/sqlguard"
)

func people() *sqlguard.Result {
	cols := []string{"id", "name"}
	return sqlguard.NewResult([]sqlguard.Row{
		sqlguard.NewRow(cols, []any{int64(1), "ada"}),
		sqlguard.NewRow(cols, []any{int64(2), nil}),
	})
}

func TestWriteResult(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{FormatYAML, "- id: 1\n  name: ada\n- id: 2\n  name: null\n"},
		{"", "- id: 1\n  name: ada\n- id: 2\n  name: null\n"},
		{FormatJSON, "[\n  {\n    \"id\": 1,\n    \"name\": \"ada\"\n  },\n  {\n    \"id\": 2,\n    \"name\": null\n  }\n]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteResult(&buf, tt.format, people()))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriteResultTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, FormatTable, people()))

	out := buf.String()
	for _, s := range []string{"id", "name", "ada", "NULL"} {
		assert.Contains(t, out, s)
	}
}

func TestWriteResultCommandTag(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, FormatYAML, &sqlguard.Result{Command: "UPDATE", RowCount: 3}))
	assert.Equal(t, "UPDATE 3\n", buf.String())
}

func TestWriteResultUnknownFormat(t *testing.T) {
	err := WriteResult(&bytes.Buffer{}, "xml", people())
	assert.ErrorContains(t, err, `unknown output format "xml"`)
}

func TestOpenPoolSQLite(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "sqlite3", URL: ":memory:"},
		Pool:     PoolConfig{ConnectionTimeoutMS: 1000, StatementTimeoutMS: 1000, MaxConnections: 1},
	}
	ctx := context.Background()

	pool, err := OpenPool(ctx, cfg, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close(ctx) })

	n, err := sqlguard.OneFirstAs[int64](ctx, pool, sqlguard.MustSQL("SELECT %v + 1", 41))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, 1, pool.Stats().MaxConnections)
	assert.Zero(t, pool.Config().TransactionRetryLimit)
}

func TestOpenPoolErrors(t *testing.T) {
	ctx := context.Background()

	_, err := OpenPool(ctx, &Config{Database: DatabaseConfig{Driver: "oracle", URL: "x"}}, "")
	assert.Equal(t, ExitConfig, ExitCode(err))
	assert.ErrorContains(t, err, `unknown database.driver "oracle"`)

	_, err = OpenPool(ctx, &Config{Database: DatabaseConfig{Driver: "pgxpool"}}, "")
	assert.Equal(t, ExitConfig, ExitCode(err))
	assert.ErrorContains(t, err, "database.host is required")

	_, err = OpenPool(ctx, &Config{Database: DatabaseConfig{Driver: "pgxpool"}}, "not a dsn ::")
	assert.Equal(t, ExitDBConnect, ExitCode(err))
}
