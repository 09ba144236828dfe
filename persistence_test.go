package modelplan

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/errtranslator"
	"gorm.io/modelplan/hooks"
	"gorm.io/modelplan/schema"
)

func notes(t *testing.T, db *DB) *Model {
	t.Helper()
	return define(t, db, "Note", schema.ModelOptions{Timestamps: schema.Bool(true), Paranoid: schema.Bool(true)}, str("body"))
}

func TestCreate(t *testing.T) {
	db, generator, executor := openTestDB(t)
	post := define(t, db, "Post", schema.ModelOptions{Timestamps: schema.Bool(true)}, str("title"))
	executor.on("INSERT posts", fakeResult{rows: []map[string]interface{}{{"id": "5"}}})

	var events []string
	for _, event := range []string{hooks.BeforeValidate, hooks.AfterValidate, hooks.BeforeCreate, hooks.BeforeSave, hooks.AfterCreate, hooks.AfterSave} {
		event := event
		require.NoError(t, post.AddHook(event, func(ctx context.Context, args ...interface{}) hooks.Result {
			events = append(events, event)
			return hooks.Ok()
		}))
	}

	created, err := post.Create(context.Background(), map[string]interface{}{"title": "hello"})
	require.NoError(t, err)

	require.Len(t, generator.inserts, 1)
	assert.Equal(t, "posts", generator.inserts[0].Table)
	assert.Equal(t, map[string]interface{}{"title": "hello", "createdAt": testNow, "updatedAt": testNow}, generator.inserts[0].Values)

	assert.Equal(t, int64(5), created.Get("id"))
	assert.False(t, created.IsNewRecord())
	assert.Empty(t, created.Changed())
	assert.Equal(t, []string{
		hooks.BeforeValidate, hooks.AfterValidate, hooks.BeforeCreate, hooks.BeforeSave, hooks.AfterCreate, hooks.AfterSave,
	}, events)
}

func TestCreateValidation(t *testing.T) {
	db, generator, _ := openTestDB(t)
	isEmail := AttributeValidator(func(value interface{}) error {
		if !strings.Contains(value.(string), "@") {
			return errors.New("not an email")
		}
		return nil
	})
	user := define(t, db, "User", schema.ModelOptions{
		Validate: map[string]interface{}{
			"nameIsNotEmail": func(instance *Instance) error {
				if instance.Get("name") == instance.Get("email") {
					return errors.New("name and email must differ")
				}
				return nil
			},
		},
	}, str("name"), Attr{Name: "email", AttributeOptions: schema.AttributeOptions{
		Type: schema.String, AllowNull: schema.Bool(false), Validate: map[string]interface{}{"isEmail": isEmail},
	}})

	var failed error
	require.NoError(t, user.AddHook(hooks.ValidationFailed, func(ctx context.Context, args ...interface{}) hooks.Result {
		failed = args[1].(error)
		return hooks.Ok()
	}))

	_, err := user.Create(context.Background(), map[string]interface{}{"name": "ann", "email": "ann"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, err, failed)

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Fields, "email")
	assert.Contains(t, validation.Fields, "nameIsNotEmail")

	_, err = user.Create(context.Background(), map[string]interface{}{"email": nil})
	require.ErrorAs(t, err, &validation)
	assert.EqualError(t, validation.Fields["email"], "User.email cannot be null")

	assert.Empty(t, generator.inserts)

	_, err = user.Create(context.Background(), map[string]interface{}{"email": "ann"}, CreateOptions{Validate: schema.Bool(false)})
	assert.NoError(t, err)
	assert.Len(t, generator.inserts, 1)
}

func TestBulkWritesRequireWhere(t *testing.T) {
	db, _, executor := openTestDB(t)
	note := notes(t, db)
	ctx := context.Background()

	_, err := note.Update(ctx, map[string]interface{}{"body": "x"}, UpdateOptions{})
	assert.ErrorIs(t, err, ErrMissingWhereClause)
	_, err = note.Destroy(ctx, DestroyOptions{Where: clause.AndConditions{}})
	assert.ErrorIs(t, err, ErrMissingWhereClause)
	_, _, err = note.FindOrCreate(ctx, FindOrCreateOptions{})
	assert.ErrorIs(t, err, ErrMissingWhereClause)
	assert.Empty(t, executor.statements())
}

func TestUpdate(t *testing.T) {
	db, generator, executor := openTestDB(t)
	note := notes(t, db)
	executor.on("UPDATE notes", fakeResult{affected: 2})

	affected, err := note.Update(context.Background(), map[string]interface{}{"body": "new", "unknown": 1},
		UpdateOptions{Where: clause.Eq{Column: "body", Value: "old"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	require.Len(t, generator.updates, 1)
	assert.Equal(t, map[string]interface{}{"body": "new", "updatedAt": testNow}, generator.updates[0].Values)
	assert.Equal(t, clause.AndConditions{Exprs: []clause.Expression{
		clause.Eq{Column: "deletedAt", Value: nil},
		clause.Eq{Column: "body", Value: "old"},
	}}, generator.updates[0].Where)

	_, err = note.Update(context.Background(), map[string]interface{}{"body": "new"},
		UpdateOptions{Where: clause.Eq{Column: "id", Value: 1}, Paranoid: schema.Bool(false), Silent: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"body": "new"}, generator.updates[1].Values)
	assert.Equal(t, clause.Eq{Column: "id", Value: 1}, generator.updates[1].Where)
}

func TestDestroy(t *testing.T) {
	db, generator, executor := openTestDB(t)
	note := notes(t, db)
	ctx := context.Background()
	executor.on("UPDATE notes", fakeResult{affected: 1})
	executor.on("DELETE notes", fakeResult{affected: 3})

	affected, err := note.Destroy(ctx, DestroyOptions{Where: clause.Eq{Column: "id", Value: 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	require.Len(t, generator.updates, 1)
	assert.Equal(t, map[string]interface{}{"deletedAt": testNow}, generator.updates[0].Values)
	assert.Equal(t, clause.AndConditions{Exprs: []clause.Expression{
		clause.Eq{Column: "deletedAt", Value: nil},
		clause.Eq{Column: "id", Value: 1},
	}}, generator.updates[0].Where)
	assert.Empty(t, generator.deletes)

	affected, err = note.Destroy(ctx, DestroyOptions{Where: clause.Eq{Column: "id", Value: 1}, Force: true, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
	require.Len(t, generator.deletes, 1)
	assert.Equal(t, clause.Eq{Column: "id", Value: 1}, generator.deletes[0].Where)
	assert.Equal(t, 5, generator.deletes[0].Limit)
}

func TestRestore(t *testing.T) {
	db, generator, executor := openTestDB(t)
	note := notes(t, db)
	ctx := context.Background()
	executor.on("UPDATE notes", fakeResult{affected: 4})

	_, err := define(t, db, "Plain", schema.ModelOptions{}, str("name")).Restore(ctx, RestoreOptions{})
	assert.ErrorIs(t, err, ErrNotParanoid)

	affected, err := note.Restore(ctx, RestoreOptions{Where: clause.Eq{Column: "body", Value: "x"}})
	require.NoError(t, err)
	assert.Equal(t, int64(4), affected)
	assert.Equal(t, map[string]interface{}{"deletedAt": nil}, generator.updates[0].Values)
	assert.Equal(t, clause.AndConditions{Exprs: []clause.Expression{
		clause.Eq{Column: "body", Value: "x"},
		clause.Neq{Column: "deletedAt", Value: nil},
	}}, generator.updates[0].Where)
}

func TestInstanceDestroyAndRestore(t *testing.T) {
	db, generator, _ := openTestDB(t)
	note := notes(t, db)
	ctx := context.Background()

	instance := note.Build(map[string]interface{}{"id": int64(1), "body": "x"}, BuildOptions{IsNewRecord: schema.Bool(false)})
	require.NoError(t, instance.Destroy(ctx))
	assert.Equal(t, testNow, instance.GetDataValue("deletedAt"))
	assert.Equal(t, map[string]interface{}{"deletedAt": testNow}, generator.updates[0].Values)
	assert.Equal(t, clause.Eq{Column: "id", Value: int64(1)}, generator.updates[0].Where)

	require.NoError(t, instance.Restore(ctx))
	assert.Nil(t, instance.GetDataValue("deletedAt"))

	require.NoError(t, instance.Destroy(ctx, InstanceDestroyOptions{Force: true}))
	require.Len(t, generator.deletes, 1)
	assert.Equal(t, 1, generator.deletes[0].Limit)

	plain := define(t, db, "Plain", schema.ModelOptions{}, str("name"))
	assert.ErrorIs(t, plain.Build(map[string]interface{}{"id": 1}).Restore(ctx), ErrNotParanoid)
	assert.ErrorIs(t, plain.Build(nil).Destroy(ctx), ErrInvalidPrimaryKey)
}

func TestOptimisticLock(t *testing.T) {
	db, generator, executor := openTestDB(t)
	doc := define(t, db, "Document", schema.ModelOptions{Version: "version"}, str("title"))
	ctx := context.Background()

	instance := doc.Build(map[string]interface{}{"id": int64(1), "title": "a", "version": int64(3)}, BuildOptions{IsNewRecord: schema.Bool(false)})
	instance.Set("title", "b")

	executor.on("UPDATE documents", fakeResult{affected: 0}, fakeResult{affected: 1})

	err := instance.Save(ctx)
	require.ErrorIs(t, err, ErrOptimisticLock)
	var lockErr *OptimisticLockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, map[string]interface{}{"id": int64(1), "version": int64(3)}, lockErr.Where)

	assert.Equal(t, map[string]interface{}{"title": "b", "version": int64(4)}, generator.updates[0].Values)
	assert.Equal(t, clause.AndConditions{Exprs: []clause.Expression{
		clause.Eq{Column: "id", Value: int64(1)},
		clause.Eq{Column: "version", Value: int64(3)},
	}}, generator.updates[0].Where)

	require.NoError(t, instance.Save(ctx))
	assert.Equal(t, int64(4), instance.Get("version"))
	assert.Empty(t, instance.Changed())

	// nothing changed, nothing sent
	require.NoError(t, instance.Save(ctx))
	assert.Len(t, generator.updates, 2)
}

func users(t *testing.T, db *DB) *Model {
	t.Helper()
	return define(t, db, "User", schema.ModelOptions{}, str("name"),
		Attr{Name: "email", AttributeOptions: schema.AttributeOptions{Type: schema.String, Unique: []string{""}}})
}

func TestFindOrCreate(t *testing.T) {
	db, generator, executor := openTestDB(t)
	user := users(t, db)
	ctx := context.Background()
	where := clause.Eq{Column: "email", Value: "ann@example.com"}

	executor.on("SELECT users", fakeResult{rows: []map[string]interface{}{{"id": int64(1), "email": "ann@example.com"}}})
	found, created, err := user.FindOrCreate(ctx, FindOrCreateOptions{FindOptions: FindOptions{QueryOptions: QueryOptions{Where: where}}})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1), found.Get("id"))
	assert.Empty(t, generator.inserts)

	db, generator, executor = openTestDB(t)
	user = users(t, db)
	executor.on("INSERT users", fakeResult{rows: []map[string]interface{}{{"id": int64(9)}}})
	instance, created, err := user.FindOrCreate(ctx, FindOrCreateOptions{
		FindOptions: FindOptions{QueryOptions: QueryOptions{Where: where}},
		Defaults:    map[string]interface{}{"name": "Ann", "nickname": "a"},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(9), instance.Get("id"))
	assert.Equal(t, map[string]interface{}{"email": "ann@example.com", "name": "Ann"}, generator.inserts[0].Values)
}

func TestFindOrCreateConcurrentInsert(t *testing.T) {
	db, _, executor := openTestDB(t)
	user := users(t, db)
	ctx := context.Background()
	options := FindOrCreateOptions{FindOptions: FindOptions{QueryOptions: QueryOptions{Where: clause.Eq{Column: "email", Value: "ann@example.com"}}}}

	executor.on("SELECT users",
		fakeResult{},
		fakeResult{rows: []map[string]interface{}{{"id": int64(3), "email": "ann@example.com"}}})
	executor.on("INSERT users", fakeResult{err: &errtranslator.UniqueConstraintError{Fields: map[string]string{"email": "ann@example.com"}}})

	instance, created, err := user.FindOrCreate(ctx, options)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), instance.Get("id"))
	assert.Equal(t, []string{"SELECT users", "INSERT users", "SELECT users"}, executor.statements())
}

func TestFindOrCreateUniqueMismatch(t *testing.T) {
	db, _, executor := openTestDB(t)
	user := users(t, db)
	ctx := context.Background()
	options := FindOrCreateOptions{FindOptions: FindOptions{QueryOptions: QueryOptions{Where: clause.Eq{Column: "email", Value: "ann@example.com"}}}}

	executor.on("INSERT users", fakeResult{err: &errtranslator.UniqueConstraintError{Fields: map[string]string{"email": "bob@example.com"}}})
	_, _, err := user.FindOrCreate(ctx, options)
	require.ErrorIs(t, err, errtranslator.ErrDuplicatedKey)
	assert.Contains(t, err.Error(), "was not equal for both the find and the create calls")
}

func TestFindOrCreateDefaultsViolation(t *testing.T) {
	db, _, executor := openTestDB(t)
	user := define(t, db, "User", schema.ModelOptions{},
		Attr{Name: "name", AttributeOptions: schema.AttributeOptions{Type: schema.String, Unique: []string{""}}},
		str("email"))
	ctx := context.Background()

	violation := &errtranslator.UniqueConstraintError{Fields: map[string]string{"name": "Ann"}}
	executor.on("INSERT users", fakeResult{err: violation})

	_, _, err := user.FindOrCreate(ctx, FindOrCreateOptions{
		FindOptions: FindOptions{QueryOptions: QueryOptions{Where: clause.Eq{Column: "email", Value: "ann@example.com"}}},
		Defaults:    map[string]interface{}{"name": "Ann"},
	})
	var unique *errtranslator.UniqueConstraintError
	require.ErrorAs(t, err, &unique)
	assert.Same(t, violation, unique)
	assert.Equal(t, []string{"SELECT users", "INSERT users"}, executor.statements())
}

func TestBulkCreate(t *testing.T) {
	db, generator, executor := openTestDB(t)
	user := users(t, db)
	ctx := context.Background()
	executor.on("BULK INSERT users", fakeResult{rows: []map[string]interface{}{{"id": int64(1)}, {"id": int64(2)}}})

	var before, after int32
	require.NoError(t, user.AddHook(hooks.BeforeCreate, func(ctx context.Context, args ...interface{}) hooks.Result {
		atomic.AddInt32(&before, 1)
		return hooks.Ok()
	}))
	require.NoError(t, user.AddHook(hooks.AfterCreate, func(ctx context.Context, args ...interface{}) hooks.Result {
		atomic.AddInt32(&after, 1)
		return hooks.Ok()
	}))

	records := []map[string]interface{}{{"name": "Ann"}, {"name": "Bob", "email": "bob@example.com"}}

	instances, err := user.BulkCreate(ctx, records)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Zero(t, atomic.LoadInt32(&before))
	assert.Equal(t, int64(1), instances[0].Get("id"))
	assert.Equal(t, int64(2), instances[1].Get("id"))
	assert.False(t, instances[1].IsNewRecord())

	require.Len(t, generator.bulks, 1)
	assert.Equal(t, []map[string]interface{}{
		{"name": "Ann", "email": nil},
		{"name": "Bob", "email": "bob@example.com"},
	}, generator.bulks[0].Rows)

	_, err = user.BulkCreate(ctx, records, BulkCreateOptions{IndividualHooks: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&before))
	assert.Equal(t, int32(2), atomic.LoadInt32(&after))

	instances, err = user.BulkCreate(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, instances)
	assert.Len(t, generator.bulks, 2)
}

func TestBulkCreateValidation(t *testing.T) {
	db, generator, _ := openTestDB(t)
	user := define(t, db, "User", schema.ModelOptions{},
		Attr{Name: "name", AttributeOptions: schema.AttributeOptions{Type: schema.String, AllowNull: schema.Bool(false)}})

	_, err := user.BulkCreate(context.Background(), []map[string]interface{}{{"name": "Ann"}, {"name": nil}}, BulkCreateOptions{Validate: true})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, generator.bulks)
}

func TestInstanceAccessors(t *testing.T) {
	db, _, _ := openTestDB(t)
	person := define(t, db, "Person", schema.ModelOptions{
		GetterMethods: map[string]interface{}{
			"greeting": Getter(func(instance *Instance) interface{} { return "hi " + instance.GetDataValue("name").(string) }),
		},
		SetterMethods: map[string]interface{}{
			"name": Setter(func(instance *Instance, value interface{}) {
				instance.SetDataValue("name", strings.ToUpper(value.(string)))
			}),
		},
	}, str("name"), Attr{Name: "role", AttributeOptions: schema.AttributeOptions{Type: schema.String, DefaultValue: "member"}},
		Attr{Name: "code", AttributeOptions: schema.AttributeOptions{Type: schema.String, ReadOnly: schema.Bool(true)}})

	fresh := person.Build(map[string]interface{}{"name": "ann"})
	assert.True(t, fresh.IsNewRecord())
	assert.Equal(t, "ANN", fresh.Get("name"))
	assert.Equal(t, "hi ANN", fresh.Get("greeting"))
	assert.Equal(t, "member", fresh.Get("role"))
	assert.Nil(t, fresh.Get("id"))

	loaded := person.Build(map[string]interface{}{"id": int64(1), "name": "bob", "code": "c1"}, BuildOptions{IsNewRecord: schema.Bool(false), Raw: true})
	assert.Equal(t, "bob", loaded.Get("name"))
	assert.Empty(t, loaded.Changed())
	assert.Nil(t, loaded.Get("role"))

	loaded.Set("name", "carl")
	loaded.Set("name", "dora")
	loaded.Set("code", "c2")
	assert.Equal(t, []string{"name"}, loaded.Changed())
	assert.True(t, loaded.IsChanged("name"))
	assert.Equal(t, "bob", loaded.Previous("name"))
	assert.Equal(t, "c1", loaded.Get("code"))

	loaded.SetDataValue("role", "admin")
	assert.Equal(t, map[string]interface{}{"id": int64(1), "name": "DORA", "code": "c1", "role": "admin"}, loaded.Values())
}

func TestReload(t *testing.T) {
	db, generator, executor := openTestDB(t)
	note := notes(t, db)
	ctx := context.Background()

	instance := note.Build(map[string]interface{}{"id": int64(1), "body": "stale"}, BuildOptions{IsNewRecord: schema.Bool(false)})
	instance.Set("body", "local")

	executor.on("SELECT notes",
		fakeResult{rows: []map[string]interface{}{{"id": int64(1), "body": "fresh"}}},
		fakeResult{})

	require.NoError(t, instance.Reload(ctx))
	assert.Equal(t, "fresh", instance.Get("body"))
	assert.Empty(t, instance.Changed())
	assert.Equal(t, clause.Eq{Column: "id", Value: int64(1)}, generator.lastSelect().Where)

	assert.ErrorIs(t, instance.Reload(ctx), ErrInstanceNotFound)
}
