package modelplan

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/hooks"
	"gorm.io/modelplan/schema"
	"gorm.io/modelplan/utils"
)

// CreateOptions options of Create
type CreateOptions struct {
	Fields    []string
	SkipHooks bool
	Validate  *bool
}

// Create builds and saves a new instance
func (m *Model) Create(ctx context.Context, values map[string]interface{}, options ...CreateOptions) (*Instance, error) {
	var opts CreateOptions
	if len(options) > 0 {
		opts = options[0]
	}

	instance := m.Build(values)
	if err := instance.Save(ctx, SaveOptions{Fields: opts.Fields, SkipHooks: opts.SkipHooks, Validate: opts.Validate}); err != nil {
		return nil, err
	}
	return instance, nil
}

// BulkCreateOptions options of BulkCreate
type BulkCreateOptions struct {
	Fields []string
	// Validate runs the validators of every instance before inserting
	Validate bool
	// IndividualHooks runs the create hooks of every instance besides the bulk hooks
	IndividualHooks bool
	SkipHooks       bool
}

// BulkCreate inserts records in one statement
func (m *Model) BulkCreate(ctx context.Context, records []map[string]interface{}, options ...BulkCreateOptions) ([]*Instance, error) {
	var opts BulkCreateOptions
	if len(options) > 0 {
		opts = options[0]
	}
	if err := m.db.ready(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []*Instance{}, nil
	}

	instances := make([]*Instance, len(records))
	for idx, record := range records {
		instances[idx] = m.Build(record)
	}

	if err := m.runHooks(ctx, opts.SkipHooks, hooks.BeforeBulkCreate, instances, &opts); err != nil {
		return nil, err
	}

	individual := opts.IndividualHooks && !opts.SkipHooks
	if individual {
		if err := m.eachInstance(ctx, instances, func(ctx context.Context, instance *Instance) error {
			return m.runHooks(ctx, false, hooks.BeforeCreate, instance, &opts)
		}); err != nil {
			return nil, err
		}
	}

	now := m.db.NowFunc()
	for _, instance := range instances {
		instance.touch(now)
	}

	fields := opts.Fields
	if len(fields) == 0 {
		for _, instance := range instances {
			fields = utils.Union(fields, instance.knownAttributes()...)
		}
	}
	for _, generated := range []*schema.Attribute{m.CreatedAt, m.UpdatedAt, m.Version} {
		if generated != nil {
			fields = utils.Union(fields, generated.Name)
		}
	}

	if opts.Validate {
		if err := m.eachInstance(ctx, instances, func(ctx context.Context, instance *Instance) error {
			return instance.validate(ctx, fields, opts.SkipHooks)
		}); err != nil {
			return nil, err
		}
	}

	rows := make([]map[string]interface{}, len(instances))
	for idx, instance := range instances {
		rows[idx] = instance.fields(fields)
	}
	sql, vars, err := m.db.Generator.BulkInsertQuery(m.TableName(), rows, m)
	if err != nil {
		return nil, err
	}
	returned, err := m.db.query(ctx, sql, vars)
	if err != nil {
		return nil, err
	}

	for idx, instance := range instances {
		if idx < len(returned) {
			instance.assignRow(returned[idx])
		}
		instance.isNewRecord = false
		instance.resetChanges()
	}

	if individual {
		if err := m.eachInstance(ctx, instances, func(ctx context.Context, instance *Instance) error {
			return m.runHooks(ctx, false, hooks.AfterCreate, instance, &opts)
		}); err != nil {
			return nil, err
		}
	}
	if err := m.runHooks(ctx, opts.SkipHooks, hooks.AfterBulkCreate, instances, &opts); err != nil {
		return nil, err
	}
	return instances, nil
}

// eachInstance runs fc for every instance concurrently, failing on the first error
func (m *Model) eachInstance(ctx context.Context, instances []*Instance, fc func(context.Context, *Instance) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, instance := range instances {
		instance := instance
		g.Go(func() error {
			return fc(gctx, instance)
		})
	}
	return g.Wait()
}

// UpdateOptions options of Update
type UpdateOptions struct {
	Where    clause.Expression
	Paranoid *bool
	Limit    int
	// Fields restricts the updated attributes
	Fields    []string
	SkipHooks bool
	// Silent keeps updatedAt untouched
	Silent bool
}

// Update updates every row matching options.Where, it returns the affected rows
func (m *Model) Update(ctx context.Context, values map[string]interface{}, options UpdateOptions) (int64, error) {
	if err := m.db.ready(); err != nil {
		return 0, err
	}
	if clause.IsEmpty(options.Where) {
		return 0, fmt.Errorf("%w: missing where attribute in the options parameter passed to %s.Update", ErrMissingWhereClause, m.Name)
	}

	q := QueryOptions{Where: options.Where, Paranoid: options.Paranoid}
	if err := m.injectScope(&q); err != nil {
		return 0, err
	}
	options.Where = q.Where

	if err := m.runHooks(ctx, options.SkipHooks, hooks.BeforeBulkUpdate, &options, values); err != nil {
		return 0, err
	}

	fields := options.Fields
	if len(fields) == 0 {
		for _, name := range m.AttributeNames {
			if _, ok := values[name]; ok {
				fields = append(fields, name)
			}
		}
	}

	instance := m.Build(values, BuildOptions{IsNewRecord: schema.Bool(false)})
	if m.UpdatedAt != nil && !options.Silent {
		instance.setDataValue(m.UpdatedAt.Name, m.db.NowFunc())
		fields = utils.Union(fields, m.UpdatedAt.Name)
	}
	if len(fields) == 0 {
		return 0, nil
	}
	if err := instance.validateFields(fields); err != nil {
		return 0, err
	}

	where := clause.MapColumns(options.Where, m.FieldName)
	where = paranoidClause(m, &QueryOptions{Where: where, Paranoid: options.Paranoid}, nil)

	sql, vars, err := m.db.Generator.UpdateQuery(m.TableName(), instance.fields(fields), where, m)
	if err != nil {
		return 0, err
	}
	affected, err := m.db.exec(ctx, sql, vars)
	if err != nil {
		return 0, err
	}

	if err := m.runHooks(ctx, options.SkipHooks, hooks.AfterBulkUpdate, &options, affected); err != nil {
		return 0, err
	}
	return affected, nil
}

// DestroyOptions options of Destroy
type DestroyOptions struct {
	Where clause.Expression
	// Force deletes rows of a paranoid model instead of setting their deletedAt
	Force     bool
	Limit     int
	SkipHooks bool
}

// Destroy deletes every row matching options.Where, it returns the affected rows
func (m *Model) Destroy(ctx context.Context, options DestroyOptions) (int64, error) {
	if err := m.db.ready(); err != nil {
		return 0, err
	}
	if clause.IsEmpty(options.Where) {
		return 0, fmt.Errorf("%w: missing where attribute in the options parameter passed to %s.Destroy", ErrMissingWhereClause, m.Name)
	}

	q := QueryOptions{Where: options.Where}
	if err := m.injectScope(&q); err != nil {
		return 0, err
	}
	options.Where = q.Where

	if err := m.runHooks(ctx, options.SkipHooks, hooks.BeforeBulkDestroy, &options); err != nil {
		return 0, err
	}

	where := clause.MapColumns(options.Where, m.FieldName)

	var (
		sql  string
		vars []interface{}
		err  error
	)
	if m.IsParanoid() && !options.Force {
		where = paranoidClause(m, &QueryOptions{Where: where}, nil)
		sql, vars, err = m.db.Generator.UpdateQuery(m.TableName(),
			map[string]interface{}{m.DeletedAt.Field: m.db.NowFunc()}, where, m)
	} else {
		sql, vars, err = m.db.Generator.DeleteQuery(m.TableName(), where, options.Limit, m)
	}
	if err != nil {
		return 0, err
	}

	affected, err := m.db.exec(ctx, sql, vars)
	if err != nil {
		return 0, err
	}
	if err := m.runHooks(ctx, options.SkipHooks, hooks.AfterBulkDestroy, &options, affected); err != nil {
		return 0, err
	}
	return affected, nil
}

// RestoreOptions options of Restore
type RestoreOptions struct {
	Where     clause.Expression
	Limit     int
	SkipHooks bool
}

// Restore clears deletedAt of every soft deleted row matching options.Where
func (m *Model) Restore(ctx context.Context, options RestoreOptions) (int64, error) {
	if !m.IsParanoid() {
		return 0, fmt.Errorf("%w: %s", ErrNotParanoid, m.Name)
	}
	if err := m.db.ready(); err != nil {
		return 0, err
	}

	if err := m.runHooks(ctx, options.SkipHooks, hooks.BeforeBulkRestore, &options); err != nil {
		return 0, err
	}

	deletedAt := m.Options.DeletedAtDefault
	where := clause.CombineWheresWithAnd(
		clause.MapColumns(options.Where, m.FieldName),
		clause.Neq{Column: m.DeletedAt.Field, Value: deletedAt},
	)
	sql, vars, err := m.db.Generator.UpdateQuery(m.TableName(), map[string]interface{}{m.DeletedAt.Field: deletedAt}, where, m)
	if err != nil {
		return 0, err
	}

	affected, err := m.db.exec(ctx, sql, vars)
	if err != nil {
		return 0, err
	}
	if err := m.runHooks(ctx, options.SkipHooks, hooks.AfterBulkRestore, &options, affected); err != nil {
		return 0, err
	}
	return affected, nil
}
