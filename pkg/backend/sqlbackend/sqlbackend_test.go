package sqlbackend_test

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/sqlguard/pkg/backend"
	"github.com/pthm/sqlguard/pkg/backend/sqlbackend"
)

func newMock(t *testing.T) (*sqlbackend.Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlbackend.New(db), mock
}

func acquire(t *testing.T, p *sqlbackend.Pool) backend.Conn {
	t.Helper()
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	return c
}

func TestExecute(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("SELECT id, name FROM users WHERE id = $1").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(
			mock.NewColumn("id").OfType("INT8", int64(0)),
			mock.NewColumn("name").OfType("TEXT", ""),
		).AddRow(int64(7), "ada"))

	c := acquire(t, p)
	res, err := c.Execute(context.Background(), "SELECT id, name FROM users WHERE id = $1", []any{7})
	require.NoError(t, err)

	assert.Equal(t, []backend.Field{{Name: "id", TypeName: "int8"}, {Name: "name", TypeName: "text"}}, res.Fields)
	assert.Equal(t, [][]any{{int64(7), "ada"}}, res.Rows)
	assert.Equal(t, int64(1), res.RowCount)
	require.NoError(t, c.Release(false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteArrayParam(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("SELECT * FROM t WHERE id = ANY($1)").
		WithArgs("{1,2,3}").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	c := acquire(t, p)
	res, err := c.Execute(context.Background(), "SELECT * FROM t WHERE id = ANY($1)", []any{
		backend.Array{Values: []any{1, 2, 3}, ElementType: "int4"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	require.NoError(t, c.Release(false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteError(t *testing.T) {
	p, mock := newMock(t)
	boom := errors.New("boom")
	mock.ExpectQuery("SELECT 1").WillReturnError(boom)

	c := acquire(t, p)
	_, err := c.Execute(context.Background(), "SELECT 1", nil)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, c.Release(false))
}

func TestTransactionStatements(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT "sp"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT "sp"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`RELEASE SAVEPOINT "sp"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	c := acquire(t, p)
	require.NoError(t, c.Begin(ctx, backend.TxOptions{}))
	require.NoError(t, c.Savepoint(ctx, "sp"))
	_, err := c.Execute(ctx, "SELECT 1", nil)
	require.NoError(t, err)
	require.NoError(t, c.RollbackToSavepoint(ctx, "sp"))
	require.NoError(t, c.ReleaseSavepoint(ctx, "sp"))
	require.NoError(t, c.Commit(ctx))
	require.NoError(t, c.Release(false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollback(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx := context.Background()
	c := acquire(t, p)
	require.NoError(t, c.Begin(ctx, backend.TxOptions{}))
	require.NoError(t, c.Rollback(ctx))
	require.NoError(t, c.Release(false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestControlWithoutTransaction(t *testing.T) {
	p, _ := newMock(t)
	ctx := context.Background()
	c := acquire(t, p)
	defer func() { _ = c.Release(false) }()

	assert.Error(t, c.Commit(ctx))
	assert.Error(t, c.Rollback(ctx))
	assert.Error(t, c.Savepoint(ctx, "sp"))
}

func TestBeginUnknownIsolationLevel(t *testing.T) {
	p, _ := newMock(t)
	c := acquire(t, p)
	defer func() { _ = c.Release(false) }()

	err := c.Begin(context.Background(), backend.TxOptions{IsolationLevel: "snapshot"})
	assert.ErrorContains(t, err, "unknown isolation level")
}

func TestStats(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(4)

	p := sqlbackend.New(db)
	c := acquire(t, p)
	s := p.Stats()
	assert.Equal(t, 4, s.MaxConnections)
	assert.Equal(t, 1, s.InUse)
	require.NoError(t, c.Release(false))
	assert.Equal(t, 0, p.Stats().InUse)
}

var _ backend.Pool = (*sqlbackend.Pool)(nil)
