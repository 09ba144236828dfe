package modelplan

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/dialect"
	"gorm.io/modelplan/hooks"
	"gorm.io/modelplan/logger"
	"gorm.io/modelplan/schema"
	"gorm.io/modelplan/sqlexec"
)

func openMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	d, err := dialect.Get("mysql")
	require.NoError(t, err)
	executor, err := sqlexec.New(conn, sqlexec.Config{Dialect: d, Logger: logger.Discard})
	require.NoError(t, err)

	db, err := Open(&Config{
		Logger:    logger.Discard,
		Generator: &recordingGenerator{},
		Executor:  executor,
		Dialect:   d,
		NowFunc:   func() time.Time { return testNow },
		Define:    schema.ModelOptions{Timestamps: schema.Bool(false)},
	})
	require.NoError(t, err)
	return db, mock
}

func TestOpenDefaults(t *testing.T) {
	db, err := Open(nil)
	require.NoError(t, err)
	assert.Equal(t, logger.Default, db.Logger)
	assert.NotNil(t, db.NowFunc)
	assert.Equal(t, 64, db.VariantCacheSize)

	_, err = db.Model("Missing")
	assert.ErrorIs(t, err, ErrModelNotDefined)
}

func TestDefineHooks(t *testing.T) {
	db, _, _ := openTestDB(t)

	require.NoError(t, db.Hooks().AddListener(hooks.BeforeDefine, func(ctx context.Context, args ...interface{}) hooks.Result {
		options := args[1].(*schema.ModelOptions)
		options.TableName = "app_" + args[0].(string)
		return hooks.Ok()
	}))
	var initialized []string
	require.NoError(t, db.Hooks().AddListener(hooks.AfterInit, func(ctx context.Context, args ...interface{}) hooks.Result {
		initialized = append(initialized, args[0].(*Model).Name)
		return hooks.Ok()
	}))

	account := define(t, db, "account", schema.ModelOptions{}, str("name"))
	assert.Equal(t, "app_account", account.TableName())
	assert.Equal(t, []string{"account"}, initialized)

	same, err := db.Model("account")
	require.NoError(t, err)
	assert.Same(t, account, same)
}

func TestFindOrCreateThroughExecutor(t *testing.T) {
	db, mock := openMockDB(t)
	user := users(t, db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT users")).WillReturnRows(sqlmock.NewRows([]string{"id", "email"}))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT users")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'ann@example.com' for key 'users.email'"})
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT sp1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT users")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow(int64(3), "ann@example.com"))
	mock.ExpectCommit()

	instance, created, err := user.FindOrCreate(context.Background(), FindOrCreateOptions{
		FindOptions: FindOptions{QueryOptions: QueryOptions{Where: clause.Eq{Column: "email", Value: "ann@example.com"}}},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), instance.Get("id"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRollsBack(t *testing.T) {
	db, mock := openMockDB(t)
	post := define(t, db, "Post", schema.ModelOptions{}, str("title"))
	failed := errors.New("abort")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT posts")).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectRollback()

	err := db.Transaction(context.Background(), func(ctx context.Context) error {
		if _, err := post.Create(ctx, map[string]interface{}{"title": "draft"}); err != nil {
			return err
		}
		return failed
	})
	assert.ErrorIs(t, err, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionWithoutTransactor(t *testing.T) {
	db, _, executor := openTestDB(t)
	post := define(t, db, "Post", schema.ModelOptions{}, str("title"))

	err := db.Transaction(context.Background(), func(ctx context.Context) error {
		_, err := post.Create(ctx, map[string]interface{}{"title": "draft"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"INSERT posts"}, executor.statements())
}
