package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/modelplan/dialect"
	"gorm.io/modelplan/logger"
)

var (
	// ErrMissingDialect is returned by New when no dialect is configured
	ErrMissingDialect = errors.New("sqlexec: dialect is required")
	// ErrNotInTransaction is returned by SavePoint outside of Transaction
	ErrNotInTransaction = errors.New("sqlexec: savepoint requires a transaction")
)

// ConnPool db conns pool interface
type ConnPool interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Config executor config
type Config struct {
	Dialect   dialect.Dialect
	Logger    logger.Interface
	TxOptions *sql.TxOptions
}

// Executor runs generated statements against a database/sql handle and returns rows
// as maps keyed by column name. The active transaction travels in the context.
type Executor struct {
	*Config
	db *sql.DB
}

type txKey struct{}

type txState struct {
	tx         *sql.Tx
	savepoints int
}

// New creates an executor
func New(db *sql.DB, config Config) (*Executor, error) {
	if config.Dialect == nil {
		return nil, ErrMissingDialect
	}
	if config.Logger == nil {
		config.Logger = logger.Default
	}
	return &Executor{Config: &config, db: db}, nil
}

// Open opens a database with the named driver and picks the dialect of the same name
func Open(driverName, dsn string, l logger.Interface) (*Executor, error) {
	d, err := dialect.Get(driverName)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return New(db, Config{Dialect: d, Logger: l})
}

// DB returns the underlying handle
func (e *Executor) DB() *sql.DB {
	return e.db
}

func (e *Executor) conn(ctx context.Context) ConnPool {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		return state.tx
	}
	return e.db
}

// InTransaction reports whether ctx carries a transaction started by this package
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}

// Query runs a row-returning statement
func (e *Executor) Query(ctx context.Context, query string, vars ...interface{}) (results []map[string]interface{}, err error) {
	begin := time.Now()
	defer func() {
		e.Logger.Trace(ctx, begin, func() (string, int64) {
			return e.explain(ctx, query, vars), int64(len(results))
		}, err)
	}()

	rows, err := e.conn(ctx).QueryContext(ctx, query, vars...)
	if err != nil {
		return nil, e.Dialect.Translator().Translate(err)
	}
	defer rows.Close()

	results, err = scanRows(rows)
	if err != nil {
		return nil, e.Dialect.Translator().Translate(err)
	}
	return results, nil
}

// Exec runs a statement and returns the affected rows
func (e *Executor) Exec(ctx context.Context, query string, vars ...interface{}) (rowsAffected int64, err error) {
	begin := time.Now()
	rowsAffected = -1
	defer func() {
		e.Logger.Trace(ctx, begin, func() (string, int64) {
			return e.explain(ctx, query, vars), rowsAffected
		}, err)
	}()

	result, err := e.conn(ctx).ExecContext(ctx, query, vars...)
	if err != nil {
		return rowsAffected, e.Dialect.Translator().Translate(err)
	}
	if affected, rerr := result.RowsAffected(); rerr == nil {
		rowsAffected = affected
	}
	return rowsAffected, nil
}

// Transaction runs fc inside a transaction, committing when it returns nil and rolling back
// on error or panic. Nested calls become savepoints.
func (e *Executor) Transaction(ctx context.Context, fc func(ctx context.Context) error) (err error) {
	if InTransaction(ctx) {
		if !e.Dialect.SupportsSavePoints() {
			return fc(ctx)
		}
		return e.SavePoint(ctx, fc)
	}

	tx, err := e.db.BeginTx(ctx, e.TxOptions)
	if err != nil {
		return err
	}

	panicked := true
	defer func() {
		// Make sure to rollback when panic, Block error or Commit error
		if panicked || err != nil {
			_ = tx.Rollback()
		}
	}()

	err = fc(context.WithValue(ctx, txKey{}, &txState{tx: tx}))
	if err == nil {
		err = tx.Commit()
	}

	panicked = false
	return
}

// SavePoint runs fc between a savepoint and its release, rolling back to the savepoint
// on error or panic
func (e *Executor) SavePoint(ctx context.Context, fc func(ctx context.Context) error) (err error) {
	state, ok := ctx.Value(txKey{}).(*txState)
	if !ok {
		return ErrNotInTransaction
	}

	state.savepoints++
	name := fmt.Sprintf("sp%d", state.savepoints)
	if _, err = e.Exec(ctx, e.Dialect.SavePointSQL(name)); err != nil {
		return err
	}

	panicked := true
	defer func() {
		if panicked || err != nil {
			_, _ = e.Exec(ctx, e.Dialect.RollbackToSQL(name))
		}
	}()

	err = fc(ctx)
	if err == nil {
		if release := e.Dialect.ReleaseSQL(name); release != "" {
			_, err = e.Exec(ctx, release)
		}
	}

	panicked = false
	return
}

func (e *Executor) explain(ctx context.Context, query string, vars []interface{}) string {
	if filter, ok := e.Logger.(logger.ParamsFilter); ok {
		query, vars = filter.ParamsFilter(ctx, query, vars...)
	}
	if len(vars) == 0 {
		return query
	}
	return logger.ExplainSQL(query, e.Dialect.NumericPlaceholder(), `'`, vars...)
}

func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]interface{}{}
	values := make([]interface{}, len(columns))
	for rows.Next() {
		for idx := range values {
			values[idx] = new(interface{})
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for idx, column := range columns {
			row[column] = *(values[idx].(*interface{}))
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
