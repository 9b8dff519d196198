package doctor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/sqlguard"
	"github.com/pthm/sqlguard/internal/backendtest"
	"github.com/pthm/sqlguard/pkg/backend"
)

const pgVersion = "PostgreSQL 18.0 on x86_64-pc-linux-musl, compiled by gcc"

// postgresLike answers the doctor's statements the way PostgreSQL does.
func postgresLike(ctx context.Context, sql string, params []any) (*backend.Result, error) {
	switch sql {
	case "SELECT version()":
		return backendtest.Rows([]string{"version"}, []any{pgVersion}), nil
	case "SELECT pg_sleep(1)":
		return backendtest.Block(ctx, sql, params)
	default:
		return backendtest.Rows([]string{"?column?"}, []any{int64(1)}), nil
	}
}

func newDoctor(t *testing.T, handler backendtest.Handler, opts ...sqlguard.Option) (*Doctor, *backendtest.Pool) {
	t.Helper()
	bp := backendtest.New()
	bp.Handle(handler)
	pool := sqlguard.New(bp, append([]sqlguard.Option{sqlguard.WithTransactionRetryLimit(0)}, opts...)...)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	return New(pool), bp
}

func statusOf(t *testing.T, r *Report, name string) Status {
	t.Helper()
	c, ok := r.Check(name)
	require.True(t, ok, "check %q missing", name)
	return c.Status
}

func TestRunHealthy(t *testing.T) {
	d, bp := newDoctor(t, postgresLike)

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.HasErrors())
	assert.Zero(t, report.Warnings)
	for _, name := range []string{"statement_timeout", "connection_timeout", "retry_limit", "connect", "server_version", "cancellation", "savepoints", "occupancy"} {
		assert.Equal(t, StatusPass, statusOf(t, report, name), name)
	}

	v, _ := report.Check("server_version")
	assert.Equal(t, "Server is PostgreSQL 18.0", v.Message)
	assert.Equal(t, pgVersion, v.Details)

	stmts := bp.Statements()
	assert.Contains(t, stmts, "SAVEPOINT sqlguard_savepoint_1")
	assert.Contains(t, stmts, "ROLLBACK TO SAVEPOINT sqlguard_savepoint_1")
	assert.Contains(t, stmts, "ROLLBACK")
	assert.NotContains(t, stmts, "COMMIT")

	acquired, released, _ := bp.Counts()
	assert.Equal(t, acquired, released)
}

func TestRunUnreachable(t *testing.T) {
	d, bp := newDoctor(t, postgresLike)
	bp.OnAcquire(func(context.Context) error { return errors.New("dial tcp: connection refused") })

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.HasErrors())
	assert.Equal(t, StatusFail, statusOf(t, report, "connect"))
	_, ok := report.Check("savepoints")
	assert.False(t, ok, "checks needing a connection are skipped")
	assert.Empty(t, bp.Statements())
}

func TestRunWithoutPostgresFunctions(t *testing.T) {
	undefined := &backendtest.Error{Code: "42883", Message: "function does not exist"}
	d, _ := newDoctor(t, func(ctx context.Context, sql string, params []any) (*backend.Result, error) {
		if sql == "SELECT version()" || sql == "SELECT pg_sleep(1)" {
			return nil, undefined
		}
		return postgresLike(ctx, sql, params)
	})

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.HasErrors())
	assert.Equal(t, StatusWarn, statusOf(t, report, "server_version"))
	assert.Equal(t, StatusWarn, statusOf(t, report, "cancellation"))
	assert.Equal(t, StatusPass, statusOf(t, report, "savepoints"))
}

func TestRunCancellationIgnored(t *testing.T) {
	d, _ := newDoctor(t, func(ctx context.Context, sql string, params []any) (*backend.Result, error) {
		if sql == "SELECT pg_sleep(1)" {
			return &backend.Result{Command: "SELECT"}, nil
		}
		return postgresLike(ctx, sql, params)
	})

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFail, statusOf(t, report, "cancellation"))
}

func TestRunSavepointsUnsupported(t *testing.T) {
	d, bp := newDoctor(t, postgresLike)
	bp.Fail("SAVEPOINT sqlguard_savepoint_1", &backendtest.Error{Code: "0A000", Message: "savepoints are not supported"})

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFail, statusOf(t, report, "savepoints"))
	assert.Equal(t, StatusPass, statusOf(t, report, "occupancy"))
}

func TestRunConfigWarnings(t *testing.T) {
	d, _ := newDoctor(t, postgresLike, sqlguard.WithStatementTimeout(0))
	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, statusOf(t, report, "statement_timeout"))

	d, _ = newDoctor(t, postgresLike,
		sqlguard.WithStatementTimeout(time.Second),
		sqlguard.WithConnectionTimeout(10*time.Second))
	report, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, statusOf(t, report, "connection_timeout"))
}

func TestRunSlowConnect(t *testing.T) {
	d, _ := newDoctor(t, postgresLike)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	d.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	c, ok := report.Check("connect")
	require.True(t, ok)
	assert.Equal(t, StatusWarn, c.Status)
	assert.Equal(t, "Connected in 1s", c.Message)
}

func TestReportPrint(t *testing.T) {
	r := &Report{}
	r.AddCheck(CheckResult{Category: "Connection", Name: "connect", Status: StatusPass, Message: "Connected in 2ms"})
	r.AddCheck(CheckResult{Category: "Connection", Name: "server_version", Status: StatusWarn,
		Message: "Could not determine the server version", Details: "line one\nline two"})
	r.AddCheck(CheckResult{Category: "Transactions", Name: "savepoints", Status: StatusFail,
		Message: "Nested transactions failed", FixHint: "Use PostgreSQL"})

	var quiet, verbose bytes.Buffer
	r.Print(&quiet, false)
	r.Print(&verbose, true)

	out := quiet.String()
	assert.Contains(t, out, "Connected in 2ms")
	assert.Contains(t, out, "Fix: Use PostgreSQL")
	assert.NotContains(t, out, "line one")
	assert.Contains(t, out, "Summary: 1 passed, 1 warnings, 1 errors")

	assert.Contains(t, verbose.String(), "      line two\n")
	assert.True(t, r.HasErrors())
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "pass", StatusPass.String())
	assert.Equal(t, "⚠", StatusWarn.Symbol())
	assert.Equal(t, "unknown", Status(9).String())
	assert.Equal(t, "?", Status(9).Symbol())
}
