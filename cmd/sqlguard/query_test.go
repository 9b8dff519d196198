package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/sqlguard/internal/cli"
)

func TestBuildStatement(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		args       []string
		wantSQL    string
		wantParams []any
	}{
		{
			name:    "plain text keeps percent signs",
			text:    "SELECT * FROM users WHERE name LIKE 'a%'",
			wantSQL: "SELECT * FROM users WHERE name LIKE 'a%'",
		},
		{
			name:       "template with arguments",
			text:       "SELECT * FROM users WHERE id = %v AND name = %v",
			args:       []string{"42", "ada"},
			wantSQL:    "SELECT * FROM users WHERE id = $1 AND name = $2",
			wantParams: []any{"42", "ada"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := buildStatement(tt.text, tt.args)
			require.NoError(t, err)
			cq, err := q.Compile()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, cq.SQL)
			assert.Equal(t, tt.wantParams, cq.Params)
		})
	}

	_, err := buildStatement("SELECT %v, %v", []string{"1"})
	assert.Error(t, err)
}

func TestReadStatement(t *testing.T) {
	oldFs, oldFile := cli.AppFs, queryFile
	t.Cleanup(func() { cli.AppFs, queryFile = oldFs, oldFile })
	cli.AppFs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(cli.AppFs, "/q.sql", []byte("SELECT 1"), 0o644))

	queryFile = ""
	text, err := readStatement([]string{"SELECT 2"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", text)

	_, err = readStatement(nil)
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(err))

	queryFile = "/q.sql"
	text, err = readStatement(nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", text)

	_, err = readStatement([]string{"SELECT 2"})
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(err))

	queryFile = "/missing.sql"
	_, err = readStatement(nil)
	assert.Equal(t, cli.ExitGeneral, cli.ExitCode(err))
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		verbosity int
		quiet     bool
		enabled   slog.Level
		disabled  slog.Level
	}{
		{0, false, slog.LevelWarn, slog.LevelInfo},
		{1, false, slog.LevelInfo, slog.LevelDebug},
		{2, false, slog.LevelDebug, slog.LevelDebug - 1},
		{2, true, slog.LevelError, slog.LevelWarn},
	}
	for _, tt := range tests {
		l := newLogger(tt.verbosity, tt.quiet)
		assert.True(t, l.Enabled(ctx, tt.enabled))
		assert.False(t, l.Enabled(ctx, tt.disabled))
	}
}
