package modelplan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/logger"
	"gorm.io/modelplan/schema"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordedWrite struct {
	Table  string
	Values map[string]interface{}
	Rows   []map[string]interface{}
	Where  clause.Expression
	Limit  int
}

// recordingGenerator records what the orchestration hands to the SQL generator,
// every statement is "<VERB> <table>"
type recordingGenerator struct {
	mu      sync.Mutex
	selects []*FindOptions
	counts  []*FindOptions
	inserts []recordedWrite
	bulks   []recordedWrite
	updates []recordedWrite
	deletes []recordedWrite
}

func (g *recordingGenerator) SelectQuery(table string, options *FindOptions, model *Model) (string, []interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.selects = append(g.selects, options)
	return "SELECT " + table, nil, nil
}

func (g *recordingGenerator) CountQuery(table string, options *FindOptions, model *Model) (string, []interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts = append(g.counts, options)
	return "COUNT " + table, nil, nil
}

func (g *recordingGenerator) InsertQuery(table string, values map[string]interface{}, model *Model) (string, []interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inserts = append(g.inserts, recordedWrite{Table: table, Values: values})
	return "INSERT " + table, nil, nil
}

func (g *recordingGenerator) BulkInsertQuery(table string, rows []map[string]interface{}, model *Model) (string, []interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bulks = append(g.bulks, recordedWrite{Table: table, Rows: rows})
	return "BULK INSERT " + table, nil, nil
}

func (g *recordingGenerator) UpdateQuery(table string, values map[string]interface{}, where clause.Expression, model *Model) (string, []interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, recordedWrite{Table: table, Values: values, Where: where})
	return "UPDATE " + table, nil, nil
}

func (g *recordingGenerator) DeleteQuery(table string, where clause.Expression, limit int, model *Model) (string, []interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, recordedWrite{Table: table, Where: where, Limit: limit})
	return "DELETE " + table, nil, nil
}

func (g *recordingGenerator) lastSelect() *FindOptions {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.selects) == 0 {
		return nil
	}
	return g.selects[len(g.selects)-1]
}

type fakeResult struct {
	rows     []map[string]interface{}
	affected int64
	err      error
}

// fakeExecutor answers statements with scripted results, consumed in order; the last
// result of a statement is repeated
type fakeExecutor struct {
	mu       sync.Mutex
	results  map[string][]fakeResult
	executed []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{results: map[string][]fakeResult{}}
}

func (e *fakeExecutor) on(sql string, results ...fakeResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[sql] = append(e.results[sql], results...)
}

func (e *fakeExecutor) next(sql string) fakeResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, sql)

	results := e.results[sql]
	switch len(results) {
	case 0:
		return fakeResult{}
	case 1:
		return results[0]
	}
	e.results[sql] = results[1:]
	return results[0]
}

func (e *fakeExecutor) Query(ctx context.Context, sql string, vars ...interface{}) ([]map[string]interface{}, error) {
	result := e.next(sql)
	return result.rows, result.err
}

func (e *fakeExecutor) Exec(ctx context.Context, sql string, vars ...interface{}) (int64, error) {
	result := e.next(sql)
	return result.affected, result.err
}

func (e *fakeExecutor) statements() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

func openTestDB(t *testing.T) (*DB, *recordingGenerator, *fakeExecutor) {
	t.Helper()
	generator, executor := &recordingGenerator{}, newFakeExecutor()
	db, err := Open(&Config{
		Logger:    logger.Discard,
		Generator: generator,
		Executor:  executor,
		NowFunc:   func() time.Time { return testNow },
		Define:    schema.ModelOptions{Timestamps: schema.Bool(false)},
	})
	require.NoError(t, err)
	return db, generator, executor
}

func define(t *testing.T, db *DB, name string, options schema.ModelOptions, attrs ...Attr) *Model {
	t.Helper()
	model, err := db.Define(name, options, attrs...)
	require.NoError(t, err)
	return model
}

func str(name string) Attr {
	return Attr{Name: name, AttributeOptions: schema.AttributeOptions{Type: schema.String}}
}

func integer(name string) Attr {
	return Attr{Name: name, AttributeOptions: schema.AttributeOptions{Type: schema.Int}}
}

func hasMany(t *testing.T, source, target *Model, options schema.AssociationOptions) *schema.Association {
	t.Helper()
	association, err := source.HasMany(target, options)
	require.NoError(t, err)
	return association
}

func belongsTo(t *testing.T, source, target *Model, options schema.AssociationOptions) *schema.Association {
	t.Helper()
	association, err := source.BelongsTo(target, options)
	require.NoError(t, err)
	return association
}

// authorsAndBooks defines Author (id, name, code) HasMany Book (id, title) as "books"
func authorsAndBooks(t *testing.T, db *DB) (*Model, *Model, *schema.Association) {
	t.Helper()
	author := define(t, db, "Author", schema.ModelOptions{}, str("name"), str("code"))
	book := define(t, db, "Book", schema.ModelOptions{}, str("title"))
	return author, book, hasMany(t, author, book, schema.AssociationOptions{As: "books"})
}

func includeNode(t *testing.T, include Include) *IncludeNode {
	t.Helper()
	node, ok := include.(*IncludeNode)
	require.True(t, ok, "include %#v is not resolved", include)
	return node
}
