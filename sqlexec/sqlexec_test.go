package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/modelplan/dialect"
	"gorm.io/modelplan/errtranslator"
	"gorm.io/modelplan/logger"
	_ "modernc.org/sqlite"
)

func newMock(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d, err := dialect.Get("sqlite")
	require.NoError(t, err)
	executor, err := New(db, Config{Dialect: d, Logger: logger.Discard})
	require.NoError(t, err)
	return executor, mock
}

func TestNewRequiresDialect(t *testing.T) {
	_, err := New(nil, Config{})
	assert.ErrorIs(t, err, ErrMissingDialect)
}

func TestQuery(t *testing.T) {
	executor, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `name` FROM `projects` WHERE `id` = ?")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "alpha"))

	rows, err := executor.Query(context.Background(), "SELECT `id`, `name` FROM `projects` WHERE `id` = ?", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["id"])
	assert.Equal(t, "alpha", rows[0]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExec(t *testing.T) {
	executor, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `projects` SET `name` = ?")).
		WithArgs("beta").
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := executor.Exec(context.Background(), "UPDATE `projects` SET `name` = ?", "beta")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionCommitAndRollback(t *testing.T) {
	executor, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `tasks`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := executor.Transaction(context.Background(), func(ctx context.Context) error {
		assert.True(t, InTransaction(ctx))
		_, err := executor.Exec(ctx, "INSERT INTO `tasks` (`title`) VALUES (?)", "write")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `tasks`").WillReturnError(boom)
	mock.ExpectRollback()

	err = executor.Transaction(context.Background(), func(ctx context.Context) error {
		_, err := executor.Exec(ctx, "INSERT INTO `tasks` (`title`) VALUES (?)", "write")
		return err
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRollbackOnPanic(t *testing.T) {
	executor, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = executor.Transaction(context.Background(), func(ctx context.Context) error {
			panic("halt")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNestedTransactionUsesSavePoint(t *testing.T) {
	executor, mock := newMock(t)
	failed := errors.New("nested failed")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT sp1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp2")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT sp2")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := executor.Transaction(context.Background(), func(ctx context.Context) error {
		err := executor.Transaction(ctx, func(context.Context) error { return failed })
		assert.ErrorIs(t, err, failed)
		return executor.Transaction(ctx, func(context.Context) error { return nil })
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, executor.SavePoint(context.Background(), func(context.Context) error { return nil }), ErrNotInTransaction)
}

func TestSqliteRoundTrip(t *testing.T) {
	executor, err := Open("sqlite", ":memory:", logger.Discard)
	require.NoError(t, err)
	executor.DB().SetMaxOpenConns(1)
	defer executor.DB().Close()

	ctx := context.Background()
	_, err = executor.Exec(ctx, "CREATE TABLE projects (id INTEGER PRIMARY KEY, name TEXT UNIQUE)")
	require.NoError(t, err)

	err = executor.Transaction(ctx, func(ctx context.Context) error {
		if _, err := executor.Exec(ctx, "INSERT INTO projects (name) VALUES (?)", "alpha"); err != nil {
			return err
		}
		nested := executor.Transaction(ctx, func(ctx context.Context) error {
			_, err := executor.Exec(ctx, "INSERT INTO projects (name) VALUES (?)", "alpha")
			return err
		})
		assert.ErrorIs(t, nested, errtranslator.ErrDuplicatedKey)
		return nil
	})
	require.NoError(t, err)

	rows, err := executor.Query(ctx, "SELECT id, name FROM projects")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alpha", rows[0]["name"])

	_, err = executor.Query(ctx, "SELECT * FROM missing")
	assert.ErrorIs(t, err, errtranslator.ErrTableNotFound)
	assert.NotErrorIs(t, err, sql.ErrNoRows)
}
