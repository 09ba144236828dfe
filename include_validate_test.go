package modelplan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/hooks"
	"gorm.io/modelplan/schema"
)

func resolve(t *testing.T, model *Model, options *FindOptions) *FindOptions {
	t.Helper()
	resolved, err := model.ResolveFindOptions(context.Background(), options)
	require.NoError(t, err)
	return resolved
}

func TestSubQueryForLimitedHasMany(t *testing.T) {
	db, _, _ := openTestDB(t)
	author, book, _ := authorsAndBooks(t, db)

	opts := resolve(t, author, &FindOptions{QueryOptions: QueryOptions{Include: []Include{book}, Limit: 10}})
	require.NotNil(t, opts.SubQuery)
	assert.True(t, *opts.SubQuery)
	assert.Contains(t, opts.Attributes.Names, "id")
	assert.True(t, opts.HasDuplicating)
	assert.True(t, opts.HasMultiAssociation)

	node := opts.IncludeMap["books"]
	require.NotNil(t, node)
	assert.True(t, node.Duplicating)
	assert.False(t, node.Required)
	assert.False(t, node.SubQueryFilter)

	opts = resolve(t, author, &FindOptions{QueryOptions: QueryOptions{Attributes: Select("name"), Include: []Include{book}, Limit: 10}})
	assert.Equal(t, []string{"id", "name"}, opts.Attributes.Names)
	assert.Equal(t, []string{"name"}, opts.OriginalAttributes)

	opts = resolve(t, author, &FindOptions{QueryOptions: QueryOptions{Include: []Include{book}}})
	assert.False(t, *opts.SubQuery)

	opts = resolve(t, author, &FindOptions{QueryOptions: QueryOptions{Include: []Include{book}, Limit: 10, SubQuery: schema.Bool(false)}})
	assert.False(t, *opts.SubQuery)
}

func TestSubQueryFilterForRequiredHasMany(t *testing.T) {
	db, _, _ := openTestDB(t)
	author, book, _ := authorsAndBooks(t, db)

	opts := resolve(t, author, &FindOptions{QueryOptions: QueryOptions{
		Include: []Include{&IncludeOptions{Model: book, QueryOptions: QueryOptions{Where: clause.Eq{Column: "title", Value: "Dune"}}}},
		Limit:   10,
	}})

	node := opts.IncludeMap["books"]
	assert.True(t, node.Required)
	assert.True(t, node.SubQueryFilter)
	assert.False(t, *node.SubQuery)
	assert.True(t, *opts.SubQuery)
	assert.True(t, opts.HasIncludeWhere)
	assert.True(t, opts.HasIncludeRequired)
}

func TestNoSubQueryForSingleAssociation(t *testing.T) {
	db, _, _ := openTestDB(t)
	author, book, _ := authorsAndBooks(t, db)
	belongsTo(t, book, author, schema.AssociationOptions{As: "author"})

	opts := resolve(t, book, &FindOptions{QueryOptions: QueryOptions{Include: []Include{author}, Limit: 5}})
	assert.False(t, *opts.SubQuery)
	assert.True(t, opts.HasSingleAssociation)
	assert.False(t, opts.HasMultiAssociation)

	node := opts.IncludeMap["author"]
	assert.False(t, node.Duplicating)
	assert.False(t, *node.SubQuery)
}

func TestSeparateIncludeCorrelationKeys(t *testing.T) {
	db, _, _ := openTestDB(t)
	writer := define(t, db, "Writer", schema.ModelOptions{}, str("name"), str("code"))
	novel := define(t, db, "Novel", schema.ModelOptions{}, str("title"))
	hasMany(t, writer, novel, schema.AssociationOptions{As: "novels", SourceKey: "code", ForeignKey: "writerCode"})

	opts := resolve(t, writer, &FindOptions{QueryOptions: QueryOptions{
		Attributes: Select("name"),
		Include: []Include{&IncludeOptions{
			Model:        novel,
			Separate:     schema.Bool(true),
			QueryOptions: QueryOptions{Attributes: Select("title")},
		}},
	}})

	assert.Contains(t, opts.Attributes.Names, "code")
	assert.Contains(t, opts.Columns, clause.Column{Name: "code"})

	node := opts.IncludeMap["novels"]
	require.NotNil(t, node)
	assert.True(t, node.Separate)
	assert.False(t, node.Duplicating)
	assert.Contains(t, node.Attributes.Names, "writerCode")
	assert.Contains(t, node.Attributes.Names, "title")
}

func TestSeparateRequiresHasMany(t *testing.T) {
	db, _, _ := openTestDB(t)
	author, book, _ := authorsAndBooks(t, db)
	belongsTo(t, book, author, schema.AssociationOptions{As: "author"})

	_, err := book.ResolveFindOptions(context.Background(), &FindOptions{QueryOptions: QueryOptions{
		Include: []Include{&IncludeOptions{As: "author", Separate: schema.Bool(true)}},
	}})
	assert.ErrorIs(t, err, ErrSeparateNotHasMany)
}

func TestIncludeLimitImpliesSeparate(t *testing.T) {
	db, _, _ := openTestDB(t)
	author, book, _ := authorsAndBooks(t, db)

	opts := resolve(t, author, &FindOptions{QueryOptions: QueryOptions{
		Include: []Include{&IncludeOptions{Model: book, QueryOptions: QueryOptions{Limit: 2}}},
	}})
	assert.True(t, opts.IncludeMap["books"].Separate)
}

func TestIncludeAllEndToEnd(t *testing.T) {
	db, _, _ := openTestDB(t)
	project := define(t, db, "Project", schema.ModelOptions{DefaultScope: QueryOptions{}}, str("name"))
	task := define(t, db, "Task", schema.ModelOptions{}, str("title"))
	hasMany(t, project, task, schema.AssociationOptions{As: "tasks"})

	opts := resolve(t, project, &FindOptions{QueryOptions: QueryOptions{Include: []Include{IncludeAll{}}}})

	require.Len(t, opts.Include, 1)
	node := includeNode(t, opts.Include[0])
	assert.Equal(t, "tasks", node.As)
	assert.Equal(t, "Task", node.Model.Name)
	assert.False(t, node.Required)
	assert.True(t, node.Duplicating)
	assert.Equal(t, []string{"tasks"}, opts.IncludeNames)
	assert.Contains(t, opts.TableNames, "projects")
	assert.Contains(t, opts.TableNames, "tasks")
}

func TestBelongsToManyThroughInclude(t *testing.T) {
	db, _, _ := openTestDB(t)
	student := define(t, db, "Student", schema.ModelOptions{}, str("name"))
	course := define(t, db, "Course", schema.ModelOptions{}, str("title"))
	_, err := student.BelongsToMany(course, schema.AssociationOptions{As: "courses", Through: "Enrollment"})
	require.NoError(t, err)

	enrollment, err := db.Model("Enrollment")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		opts := resolve(t, student, &FindOptions{QueryOptions: QueryOptions{Include: []Include{IncludeAlias("courses")}}})

		node := opts.IncludeMap["courses"]
		require.NotNil(t, node)
		require.NotNil(t, node.Through)
		assert.True(t, node.Through.Pseudo)
		assert.Same(t, enrollment, node.Through.Model)
		assert.Same(t, node.Through, node.IncludeMap["Enrollment"])
		assert.Len(t, node.Include, 1)
		assert.Contains(t, opts.TableNames, enrollment.TableName())
		assert.ElementsMatch(t, []string{"studentId", "courseId"}, node.Through.Attributes.Names)
	}
}

func TestParanoidClause(t *testing.T) {
	db, _, _ := openTestDB(t)
	paranoid := schema.ModelOptions{Timestamps: schema.Bool(true), Paranoid: schema.Bool(true)}
	author := define(t, db, "Author", schema.ModelOptions{}, str("name"))
	note := define(t, db, "Note", paranoid, str("body"))
	hasMany(t, author, note, schema.AssociationOptions{As: "notes"})

	opts := resolve(t, note, &FindOptions{})
	assert.Equal(t, clause.Eq{Column: "deletedAt", Value: nil}, opts.Where)

	opts = resolve(t, note, &FindOptions{QueryOptions: QueryOptions{Where: clause.Eq{Column: "body", Value: "x"}}})
	assert.Equal(t, clause.AndConditions{Exprs: []clause.Expression{
		clause.Eq{Column: "deletedAt", Value: nil},
		clause.Eq{Column: "body", Value: "x"},
	}}, opts.Where)

	opts = resolve(t, note, &FindOptions{QueryOptions: QueryOptions{Paranoid: schema.Bool(false)}})
	assert.Nil(t, opts.Where)

	opts = resolve(t, author, &FindOptions{QueryOptions: QueryOptions{Include: []Include{note}}})
	assert.Nil(t, opts.Where)
	assert.Equal(t, clause.Eq{Column: clause.Column{Table: "notes", Name: "deletedAt"}, Value: nil}, opts.IncludeMap["notes"].Where)
	assert.False(t, opts.IncludeMap["notes"].Required)
}

func TestFinderOptionsMapToFields(t *testing.T) {
	db, _, _ := openTestDB(t)
	person := define(t, db, "Person", schema.ModelOptions{Underscored: schema.Bool(true)}, str("firstName"))

	opts := resolve(t, person, &FindOptions{QueryOptions: QueryOptions{
		Where:      clause.Eq{Column: "firstName", Value: "Ada"},
		Attributes: &Attributes{Exclude: []string{"id"}},
	}})

	assert.Equal(t, clause.Eq{Column: "first_name", Value: "Ada"}, opts.Where)
	assert.Equal(t, []string{"firstName"}, opts.Attributes.Names)
	assert.Equal(t, []clause.Column{{Name: "first_name", Alias: "firstName"}}, opts.Columns)
}

func TestFindHooksRunInOrder(t *testing.T) {
	db, _, _ := openTestDB(t)
	author, book, _ := authorsAndBooks(t, db)

	var events []string
	record := func(event string) hooks.Listener {
		return func(ctx context.Context, args ...interface{}) hooks.Result {
			events = append(events, event)
			return hooks.Ok()
		}
	}
	require.NoError(t, author.AddHook(hooks.BeforeFind, func(ctx context.Context, args ...interface{}) hooks.Result {
		events = append(events, hooks.BeforeFind)
		opts := args[0].(*FindOptions)
		opts.Where = clause.Eq{Column: "name", Value: "Le Guin"}
		opts.Include = append(opts.Include, book)
		return hooks.Ok()
	}))
	require.NoError(t, author.AddHook(hooks.BeforeFindAfterExpandIncludeAll, record(hooks.BeforeFindAfterExpandIncludeAll)))
	require.NoError(t, author.AddHook(hooks.BeforeFindAfterOptions, record(hooks.BeforeFindAfterOptions)))

	opts := resolve(t, author, &FindOptions{})
	assert.Equal(t, []string{hooks.BeforeFind, hooks.BeforeFindAfterExpandIncludeAll, hooks.BeforeFindAfterOptions}, events)
	assert.Equal(t, clause.Eq{Column: "name", Value: "Le Guin"}, opts.Where)
	assert.NotNil(t, opts.IncludeMap["books"])

	events = nil
	resolve(t, author, &FindOptions{SkipHooks: true})
	assert.Empty(t, events)

	boom := errors.New("boom")
	require.NoError(t, author.AddHook(hooks.BeforeFindAfterOptions, func(ctx context.Context, args ...interface{}) hooks.Result {
		return hooks.Fail(boom)
	}))
	_, err := author.ResolveFindOptions(context.Background(), &FindOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestResolveDoesNotMutateOptions(t *testing.T) {
	db, _, _ := openTestDB(t)
	author, book, _ := authorsAndBooks(t, db)

	options := &FindOptions{QueryOptions: QueryOptions{
		Include: []Include{&IncludeOptions{Model: book}},
		Where:   clause.Eq{Column: "name", Value: "x"},
	}}
	resolve(t, author, options)
	resolve(t, author, options)

	assert.Nil(t, options.SubQuery)
	assert.Nil(t, options.Attributes)
	assert.IsType(t, &IncludeOptions{}, options.Include[0])
	assert.Equal(t, clause.Eq{Column: "name", Value: "x"}, options.Where)
}
