package modelplan

import (
	"context"

	"gorm.io/modelplan/clause"
)

// QueryGenerator builds dialect SQL from fully resolved options. Values are keyed by
// physical column name and where clauses only reference physical columns.
type QueryGenerator interface {
	SelectQuery(table string, options *FindOptions, model *Model) (string, []interface{}, error)
	CountQuery(table string, options *FindOptions, model *Model) (string, []interface{}, error)
	InsertQuery(table string, values map[string]interface{}, model *Model) (string, []interface{}, error)
	BulkInsertQuery(table string, rows []map[string]interface{}, model *Model) (string, []interface{}, error)
	UpdateQuery(table string, values map[string]interface{}, where clause.Expression, model *Model) (string, []interface{}, error)
	DeleteQuery(table string, where clause.Expression, limit int, model *Model) (string, []interface{}, error)
}

// Executor runs generated statements, rows are keyed by column name or alias
type Executor interface {
	Query(ctx context.Context, query string, vars ...interface{}) ([]map[string]interface{}, error)
	Exec(ctx context.Context, query string, vars ...interface{}) (int64, error)
}

// Transactor is implemented by executors that run fc in a transaction carried by ctx,
// nested calls becoming savepoints
type Transactor interface {
	Transaction(ctx context.Context, fc func(ctx context.Context) error) error
}

// Getter computes a virtual attribute of an instance
type Getter func(instance *Instance) interface{}

// Setter replaces the default assignment of an attribute
type Setter func(instance *Instance, value interface{})

// AttributeValidator validates one attribute value
type AttributeValidator func(value interface{}) error
