package modelplan

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/hooks"
	"gorm.io/modelplan/schema"
	"gorm.io/modelplan/utils"
)

// ResolveFindOptions runs the find pipeline up to the point the SQL generator takes over:
// scopes are injected, includes conformed, expanded and validated, attributes expanded
// and mapped to fields, and the paranoid filter applied on every level. options is not
// modified.
func (m *Model) ResolveFindOptions(ctx context.Context, options *FindOptions) (*FindOptions, error) {
	opts := options.clone()
	opts.Model = m
	opts.userInclude = cloneIncludes(opts.Include)
	if opts.RejectOnEmpty == nil && schema.Enabled(m.Options.RejectOnEmpty) {
		opts.RejectOnEmpty = true
	}

	if err := m.db.conformIncludes(&opts.QueryOptions, m); err != nil {
		return nil, err
	}
	if err := m.injectScope(&opts.QueryOptions); err != nil {
		return nil, err
	}

	if err := m.runHooks(ctx, opts.SkipHooks, hooks.BeforeFind, opts); err != nil {
		return nil, err
	}
	// listeners may have added raw includes
	if err := m.db.conformIncludes(&opts.QueryOptions, m); err != nil {
		return nil, err
	}

	m.warnUnknownAttributes(ctx, opts.Attributes)
	m.expandAttributes(&opts.QueryOptions)
	if err := m.db.expandIncludeAll(&opts.QueryOptions, m); err != nil {
		return nil, err
	}

	if err := m.runHooks(ctx, opts.SkipHooks, hooks.BeforeFindAfterExpandIncludeAll, opts); err != nil {
		return nil, err
	}
	opts.OriginalAttributes = cloneStrings(opts.AttributeNames())

	tableNames := map[string]bool{m.TableName(): true}
	if len(opts.Include) > 0 {
		opts.HasJoin = true
		if err := m.db.validateIncludedElements(includeLevel{
			model: m,
			query: &opts.QueryOptions,
			plan:  &opts.IncludePlan,
			raw:   opts.Raw,
		}, tableNames); err != nil {
			return nil, err
		}

		if names := opts.AttributeNames(); len(names) > 0 && !opts.Raw && m.PrimaryKey != nil &&
			(len(opts.Group) == 0 || !opts.HasSingleAssociation || opts.HasMultiAssociation) {
			opts.Attributes.Names = withPrimaryKeys(m, names)
		}
	} else if opts.SubQuery == nil {
		opts.SubQuery = schema.Bool(false)
	}

	if opts.Attributes == nil {
		opts.Attributes = Select(m.AttributeNames...)
		opts.OriginalAttributes = cloneStrings(m.AttributeNames)
	}

	opts.Columns = mapFinderOptions(&opts.QueryOptions, m)
	opts.Where = paranoidClause(m, &opts.QueryOptions, nil)
	for _, node := range opts.Includes() {
		applyIncludeParanoid(node)
	}

	if err := m.runHooks(ctx, opts.SkipHooks, hooks.BeforeFindAfterOptions, opts); err != nil {
		return nil, err
	}

	opts.TableNames = make([]string, 0, len(tableNames))
	for name := range tableNames {
		opts.TableNames = append(opts.TableNames, name)
	}
	sort.Strings(opts.TableNames)
	return opts, nil
}

// expandAttributes turns an exclude/include attribute selection into an explicit list
func (m *Model) expandAttributes(q *QueryOptions) {
	attrs := q.Attributes
	if attrs == nil || attrs.Names != nil {
		return
	}

	names := make([]string, 0, len(m.AttributeNames)+len(attrs.Include))
	for _, name := range m.AttributeNames {
		if !utils.Contains(attrs.Exclude, name) {
			names = append(names, name)
		}
	}
	q.Attributes = &Attributes{Names: utils.Union(names, attrs.Include...)}
}

func (m *Model) warnUnknownAttributes(ctx context.Context, attrs *Attributes) {
	if attrs == nil {
		return
	}
	for _, names := range [][]string{attrs.Names, attrs.Exclude} {
		for _, name := range names {
			if m.LookUpAttribute(name) == nil {
				m.db.Logger.Warn(ctx, "model %s has no attribute %q, it is passed to the generator as is", m.Name, name)
			}
		}
	}
}

// mapFinderOptions maps the attribute list of q to field selections and renames the
// attributes referenced by where and having to their fields
func mapFinderOptions(q *QueryOptions, model *Model) []clause.Column {
	if q.Where != nil {
		q.Where = clause.MapColumns(q.Where, model.FieldName)
	}
	if q.Having != nil {
		q.Having = clause.MapColumns(q.Having, model.FieldName)
	}

	names := q.AttributeNames()
	if len(names) == 0 {
		return nil
	}

	columns := make([]clause.Column, 0, len(names))
	for _, name := range names {
		column := clause.Column{Name: model.FieldName(name)}
		if column.Name != name {
			column.Alias = name
		}
		columns = append(columns, column)
	}
	return columns
}

// paranoidClause ANDs the live row condition of a paranoid model into the where of q,
// table qualifies the deletedAt column when set
func paranoidClause(model *Model, q *QueryOptions, table *string) clause.Expression {
	if !model.IsParanoid() || schema.Disabled(q.Paranoid) {
		return q.Where
	}

	var column interface{} = model.DeletedAt.Field
	if table != nil {
		column = clause.Column{Table: *table, Name: model.DeletedAt.Field}
	}
	return clause.CombineWheresWithAnd(clause.Eq{Column: column, Value: model.Options.DeletedAtDefault}, q.Where)
}

func applyIncludeParanoid(node *IncludeNode) {
	// separate includes are the top level of their own query
	if node.Separate {
		node.Where = paranoidClause(node.Model, &node.QueryOptions, nil)
	} else {
		node.Where = paranoidClause(node.Model, &node.QueryOptions, &node.As)
	}
	for _, child := range node.Includes() {
		applyIncludeParanoid(child)
	}
}

// FindAll finds every row matching options
func (m *Model) FindAll(ctx context.Context, options *FindOptions) ([]*Instance, error) {
	if err := m.db.ready(); err != nil {
		return nil, err
	}

	opts, err := m.ResolveFindOptions(ctx, options)
	if err != nil {
		return nil, err
	}
	return m.findResolved(ctx, opts)
}

func (m *Model) findResolved(ctx context.Context, opts *FindOptions) ([]*Instance, error) {
	sql, vars, err := m.db.Generator.SelectQuery(m.TableName(), opts, m)
	if err != nil {
		return nil, err
	}

	rows, err := m.db.query(ctx, sql, vars)
	if err != nil {
		return nil, err
	}

	instances := m.buildResults(rows, opts)
	if err := m.runHooks(ctx, opts.SkipHooks, hooks.AfterFind, instances, opts); err != nil {
		return nil, err
	}

	if len(instances) == 0 {
		if err := rejectOnEmpty(m, opts.RejectOnEmpty); err != nil {
			return nil, err
		}
		return instances, nil
	}

	if err := m.findSeparate(ctx, instances, &opts.QueryOptions, opts); err != nil {
		return nil, err
	}
	return instances, nil
}

func rejectOnEmpty(m *Model, policy interface{}) error {
	switch v := policy.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return fmt.Errorf("%w: %s", ErrEmptyResult, m.Name)
		}
		return nil
	case error:
		return v
	case func() error:
		return v()
	}
	return fmt.Errorf("%w: %s", ErrEmptyResult, m.Name)
}

// FindOne finds the first row matching options, nil when nothing matched
func (m *Model) FindOne(ctx context.Context, options *FindOptions) (*Instance, error) {
	opts := options.clone()
	if opts.Limit == 0 && !m.uniquelyIdentified(opts.Where) {
		opts.Limit = 1
	}
	opts.Plain = true

	instances, err := m.FindAll(ctx, opts)
	if err != nil || len(instances) == 0 {
		return nil, err
	}
	return instances[0], nil
}

// uniquelyIdentified reports a where fixing the primary key or a single column unique key
func (m *Model) uniquelyIdentified(where clause.Expression) bool {
	if where == nil {
		return false
	}

	for name, value := range clause.Equalities(where) {
		if !primitive(value) {
			continue
		}
		attr := m.LookUpAttribute(name)
		if attr == nil {
			continue
		}
		if attr.PrimaryKey && len(m.PrimaryKeys) == 1 {
			return true
		}
		for _, key := range m.UniqueKeys {
			if len(key.Fields) == 1 && key.Fields[0] == attr.Field {
				return true
			}
		}
	}
	return false
}

func primitive(value interface{}) bool {
	switch value.(type) {
	case string, []byte, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// FindByPk finds the row whose primary key is pk, nil pk finds nothing
func (m *Model) FindByPk(ctx context.Context, pk interface{}, options ...*FindOptions) (*Instance, error) {
	if pk == nil {
		return nil, nil
	}

	switch pk.(type) {
	case string, []byte, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
	default:
		return nil, fmt.Errorf("%w: argument passed to %s.FindByPk is a %T", ErrInvalidPrimaryKey, m.Name, pk)
	}
	if m.PrimaryKey == nil {
		return nil, fmt.Errorf("%w: %s has no primary key", ErrInvalidPrimaryKey, m.Name)
	}

	var opts *FindOptions
	if len(options) > 0 {
		opts = options[0].clone()
	} else {
		opts = &FindOptions{}
	}
	opts.Where = clause.Eq{Column: m.PrimaryKey.Name, Value: pk}
	return m.FindOne(ctx, opts)
}

// Count counts the rows matching options, with includes the primary key is counted distinct
func (m *Model) Count(ctx context.Context, options *FindOptions) (int64, error) {
	if err := m.db.ready(); err != nil {
		return 0, err
	}

	opts := options.clone()
	opts.Model = m
	opts.Raw = true

	if err := m.runHooks(ctx, opts.SkipHooks, hooks.BeforeCount, opts); err != nil {
		return 0, err
	}

	if err := m.db.conformIncludes(&opts.QueryOptions, m); err != nil {
		return 0, err
	}
	if err := m.injectScope(&opts.QueryOptions); err != nil {
		return 0, err
	}
	if err := m.db.expandIncludeAll(&opts.QueryOptions, m); err != nil {
		return 0, err
	}

	column := opts.CountColumn
	if column != "" {
		column = m.FieldName(column)
	}
	if len(opts.Include) > 0 {
		if column == "" && m.PrimaryKey != nil {
			column = m.PrimaryKey.Field
		}
		opts.Distinct = true
	}
	if opts.Distinct && column == "" && m.PrimaryKey != nil {
		column = m.PrimaryKey.Field
	}
	if column == "" {
		column = "*"
	}
	opts.CountColumn = column

	opts.Plain = true
	opts.Limit, opts.Offset, opts.Order, opts.Group = 0, 0, nil, nil
	opts.Attributes = Select()

	tableNames := map[string]bool{m.TableName(): true}
	if len(opts.Include) > 0 {
		opts.HasJoin = true
		if err := m.db.validateIncludedElements(includeLevel{
			model: m,
			query: &opts.QueryOptions,
			plan:  &opts.IncludePlan,
			raw:   true,
		}, tableNames); err != nil {
			return 0, err
		}
		for _, node := range opts.Includes() {
			node.Attributes = Select()
			node.Columns = nil
			applyIncludeParanoid(node)
		}
	} else {
		opts.SubQuery = schema.Bool(false)
	}
	mapFinderOptions(&opts.QueryOptions, m)
	opts.Where = paranoidClause(m, &opts.QueryOptions, nil)
	for name := range tableNames {
		opts.TableNames = append(opts.TableNames, name)
	}
	sort.Strings(opts.TableNames)

	sql, vars, err := m.db.Generator.CountQuery(m.TableName(), opts, m)
	if err != nil {
		return 0, err
	}
	rows, err := m.db.query(ctx, sql, vars)
	if err != nil || len(rows) == 0 {
		return 0, err
	}

	if value, ok := rows[0]["count"]; ok {
		return cast.ToInt64E(value)
	}
	for _, value := range rows[0] {
		return cast.ToInt64E(value)
	}
	return 0, nil
}

// FindAndCountAll finds the rows matching options and counts every matching row,
// ignoring limit and offset
func (m *Model) FindAndCountAll(ctx context.Context, options *FindOptions) ([]*Instance, int64, error) {
	countOptions := options.clone()
	countOptions.Attributes = nil

	var (
		rows  []*Instance
		count int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		count, err = m.Count(gctx, countOptions)
		return err
	})
	g.Go(func() (err error) {
		rows, err = m.FindAll(gctx, options)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	if count == 0 {
		rows = []*Instance{}
	}
	return rows, count, nil
}
