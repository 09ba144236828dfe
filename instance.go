package modelplan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cast"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/hooks"
	"gorm.io/modelplan/schema"
	"gorm.io/modelplan/utils"
)

// Instance a row of a model
type Instance struct {
	model       *Model
	dataValues  map[string]interface{}
	previous    map[string]interface{}
	changed     map[string]bool
	associated  map[string]interface{}
	include     []Include
	isNewRecord bool
	// raw instances hold result rows as they are, getter and setter methods are skipped
	raw bool
}

// BuildOptions options of Build
type BuildOptions struct {
	// Raw assigns values without setter methods
	Raw bool
	// IsNewRecord is false for rows loaded from the database
	IsNewRecord *bool
}

// Build creates an unsaved instance, attribute defaults fill the values not given
func (m *Model) Build(values map[string]interface{}, options ...BuildOptions) *Instance {
	var opts BuildOptions
	if len(options) > 0 {
		opts = options[0]
	}

	instance := &Instance{
		model:       m,
		dataValues:  map[string]interface{}{},
		previous:    map[string]interface{}{},
		changed:     map[string]bool{},
		associated:  map[string]interface{}{},
		isNewRecord: opts.IsNewRecord == nil || *opts.IsNewRecord,
	}

	if instance.isNewRecord {
		for _, name := range m.AttributeNames {
			attr := m.Attributes[name]
			if _, ok := values[name]; ok || !attr.HasDefault() {
				continue
			}
			instance.setDataValue(name, attr.Default())
		}
		if m.PrimaryKey != nil {
			if _, ok := instance.dataValues[m.PrimaryKey.Name]; !ok {
				instance.dataValues[m.PrimaryKey.Name] = nil
			}
		}
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if opts.Raw {
			instance.setDataValue(key, values[key])
		} else {
			instance.Set(key, values[key])
		}
	}

	if !instance.isNewRecord {
		instance.resetChanges()
	}
	return instance
}

// Model returns the model variant the instance was built by
func (instance *Instance) Model() *Model {
	return instance.model
}

// IsNewRecord reports an instance that is not persisted yet
func (instance *Instance) IsNewRecord() bool {
	return instance.isNewRecord
}

func (instance *Instance) getterMethods() map[string]interface{} {
	if len(instance.model.scope.GetterMethods) == 0 {
		return instance.model.Options.GetterMethods
	}
	return instance.model.scope.GetterMethods
}

func (instance *Instance) setterMethods() map[string]interface{} {
	if len(instance.model.scope.SetterMethods) == 0 {
		return instance.model.Options.SetterMethods
	}
	return instance.model.scope.SetterMethods
}

// Get returns an attribute, a getter method result or an included association
func (instance *Instance) Get(key string) interface{} {
	if getter, ok := instance.getterMethods()[key]; ok && !instance.raw {
		switch fc := getter.(type) {
		case Getter:
			return fc(instance)
		case func(*Instance) interface{}:
			return fc(instance)
		}
	}
	if value, ok := instance.associated[key]; ok {
		return value
	}
	return instance.dataValues[key]
}

// GetDataValue returns the stored value of an attribute, getter methods are ignored
func (instance *Instance) GetDataValue(key string) interface{} {
	return instance.dataValues[key]
}

// Set assigns an attribute through its setter method when the model defines one
func (instance *Instance) Set(key string, value interface{}) {
	if setter, ok := instance.setterMethods()[key]; ok && !instance.raw {
		switch fc := setter.(type) {
		case Setter:
			fc(instance, value)
			return
		case func(*Instance, interface{}):
			fc(instance, value)
			return
		}
	}
	instance.SetDataValue(key, value)
}

// SetDataValue assigns an attribute without setter methods
func (instance *Instance) SetDataValue(key string, value interface{}) {
	if attr := instance.model.Attributes[key]; attr != nil && attr.ReadOnly && !instance.isNewRecord {
		return
	}
	instance.setDataValue(key, value)
}

func (instance *Instance) setDataValue(key string, value interface{}) {
	current, exists := instance.dataValues[key]
	if exists && utils.AssertEqual(current, value) {
		return
	}
	if _, ok := instance.previous[key]; !ok {
		instance.previous[key] = current
	}
	instance.dataValues[key] = value
	instance.changed[key] = true
}

// Changed returns the names of the attributes changed since the instance was loaded or saved
func (instance *Instance) Changed() []string {
	names := make([]string, 0, len(instance.changed))
	for name := range instance.changed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsChanged reports whether key changed since the instance was loaded or saved
func (instance *Instance) IsChanged(key string) bool {
	return instance.changed[key]
}

// Previous returns the value key held before it was changed
func (instance *Instance) Previous(key string) interface{} {
	if previous, ok := instance.previous[key]; ok {
		return previous
	}
	return instance.dataValues[key]
}

func (instance *Instance) resetChanges() {
	instance.previous = map[string]interface{}{}
	instance.changed = map[string]bool{}
}

// Associated returns an included association: *Instance for single associations,
// []*Instance for multi associations
func (instance *Instance) Associated(alias string) interface{} {
	return instance.associated[alias]
}

// Values returns a copy of the data values, included associations as nested values
func (instance *Instance) Values() map[string]interface{} {
	values := make(map[string]interface{}, len(instance.dataValues)+len(instance.associated))
	for key, value := range instance.dataValues {
		values[key] = value
	}
	for key, value := range instance.associated {
		switch v := value.(type) {
		case *Instance:
			values[key] = v.Values()
		case []*Instance:
			list := make([]map[string]interface{}, len(v))
			for idx, child := range v {
				list[idx] = child.Values()
			}
			values[key] = list
		default:
			values[key] = nil
		}
	}
	return values
}

// where identifies the instance by its primary keys
func (instance *Instance) where() (clause.Expression, error) {
	model := instance.model
	if len(model.PrimaryKeys) == 0 {
		return nil, fmt.Errorf("%w: %s has no primary key", ErrInvalidPrimaryKey, model.Name)
	}

	exprs := make([]clause.Expression, 0, len(model.PrimaryKeys))
	for _, pk := range model.PrimaryKeys {
		value := instance.dataValues[pk.Name]
		if value == nil {
			return nil, fmt.Errorf("%w: %s of %s is not set", ErrInvalidPrimaryKey, pk.Name, model.Name)
		}
		exprs = append(exprs, clause.Eq{Column: pk.Name, Value: value})
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return clause.And(exprs...), nil
}

// fields maps attribute values to physical columns, unknown keys are dropped
func (instance *Instance) fields(names []string) map[string]interface{} {
	values := make(map[string]interface{}, len(names))
	for _, name := range names {
		if attr := instance.model.Attributes[name]; attr != nil {
			values[attr.Field] = instance.dataValues[name]
		}
	}
	return values
}

// assignRow copies a returned row onto the instance, columns are matched by field or attribute name
func (instance *Instance) assignRow(row map[string]interface{}) {
	for column, value := range row {
		if attr := instance.model.LookUpAttribute(column); attr != nil {
			instance.dataValues[attr.Name] = coerce(attr, value)
		}
	}
}

// SaveOptions options of Save
type SaveOptions struct {
	// Fields restricts the saved attributes
	Fields    []string
	SkipHooks bool
	// Validate runs the validators, true by default
	Validate *bool
	// Silent keeps updatedAt untouched on updates
	Silent bool
}

// Save inserts a new instance or updates the changed attributes of a persisted one
func (instance *Instance) Save(ctx context.Context, options ...SaveOptions) error {
	var opts SaveOptions
	if len(options) > 0 {
		opts = options[0]
	}

	model := instance.model
	if err := model.db.ready(); err != nil {
		return err
	}

	fields := opts.Fields
	if len(fields) == 0 {
		if instance.isNewRecord {
			fields = instance.knownAttributes()
		} else {
			fields = instance.Changed()
		}
	}

	now := model.db.NowFunc()
	if model.UpdatedAt != nil && (instance.isNewRecord || (!opts.Silent && len(fields) > 0)) {
		instance.setDataValue(model.UpdatedAt.Name, now)
		fields = utils.Union(fields, model.UpdatedAt.Name)
	}
	if instance.isNewRecord && model.CreatedAt != nil {
		if instance.dataValues[model.CreatedAt.Name] == nil {
			instance.setDataValue(model.CreatedAt.Name, now)
		}
		fields = utils.Union(fields, model.CreatedAt.Name)
	}
	if instance.isNewRecord && model.Version != nil {
		if instance.dataValues[model.Version.Name] == nil {
			instance.setDataValue(model.Version.Name, 0)
		}
		fields = utils.Union(fields, model.Version.Name)
	}

	if !schema.Disabled(opts.Validate) {
		if err := instance.validate(ctx, fields, opts.SkipHooks); err != nil {
			return err
		}
	}

	if !instance.isNewRecord && len(instance.Changed()) == 0 && len(opts.Fields) == 0 {
		return nil
	}

	event, afterEvent := hooks.BeforeUpdate, hooks.AfterUpdate
	if instance.isNewRecord {
		event, afterEvent = hooks.BeforeCreate, hooks.AfterCreate
	}
	if err := model.runHooks(ctx, opts.SkipHooks, event, instance, &opts); err != nil {
		return err
	}
	if err := model.runHooks(ctx, opts.SkipHooks, hooks.BeforeSave, instance, &opts); err != nil {
		return err
	}
	// listeners may have changed attributes
	if len(opts.Fields) == 0 && !instance.isNewRecord {
		fields = utils.Union(fields, instance.Changed()...)
	}

	var err error
	if instance.isNewRecord {
		err = instance.insert(ctx, fields)
	} else {
		err = instance.update(ctx, fields)
	}
	if err != nil {
		return err
	}

	instance.isNewRecord = false
	instance.resetChanges()

	if err := model.runHooks(ctx, opts.SkipHooks, afterEvent, instance, &opts); err != nil {
		return err
	}
	return model.runHooks(ctx, opts.SkipHooks, hooks.AfterSave, instance, &opts)
}

// knownAttributes attributes holding a value, in definition order
func (instance *Instance) knownAttributes() []string {
	names := make([]string, 0, len(instance.dataValues))
	for _, name := range instance.model.AttributeNames {
		if _, ok := instance.dataValues[name]; !ok {
			continue
		}
		if attr := instance.model.Attributes[name]; attr.AutoIncrement && instance.dataValues[name] == nil {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (instance *Instance) insert(ctx context.Context, fields []string) error {
	model := instance.model
	sql, vars, err := model.db.Generator.InsertQuery(model.TableName(), instance.fields(fields), model)
	if err != nil {
		return err
	}

	rows, err := model.db.query(ctx, sql, vars)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		instance.assignRow(rows[0])
	}
	return nil
}

func (instance *Instance) update(ctx context.Context, fields []string) error {
	model := instance.model
	where, err := instance.where()
	if err != nil {
		return err
	}

	values := instance.fields(fields)
	var version int64
	if model.Version != nil {
		if version, err = cast.ToInt64E(instance.Previous(model.Version.Name)); err != nil {
			return fmt.Errorf("%w: version %v of %s", ErrOptimisticLock, instance.dataValues[model.Version.Name], model.Name)
		}
		where = clause.CombineWheresWithAnd(where, clause.Eq{Column: model.Version.Name, Value: version})
		values[model.Version.Field] = version + 1
	}

	where = clause.MapColumns(where, model.FieldName)
	sql, vars, err := model.db.Generator.UpdateQuery(model.TableName(), values, where, model)
	if err != nil {
		return err
	}

	affected, err := model.db.exec(ctx, sql, vars)
	if err != nil {
		return err
	}
	if model.Version != nil {
		if affected == 0 {
			return &OptimisticLockError{
				Model:   model.Name,
				Values:  values,
				Where:   clause.Equalities(where),
				Message: fmt.Sprintf("version %d is stale", version),
			}
		}
		instance.dataValues[model.Version.Name] = version + 1
	}
	return nil
}

// validate checks not null constraints and attribute and model validators
func (instance *Instance) validate(ctx context.Context, fields []string, skipHooks bool) error {
	model := instance.model
	if err := model.runHooks(ctx, skipHooks, hooks.BeforeValidate, instance); err != nil {
		return err
	}

	if err := instance.validateFields(fields); err != nil {
		if hookErr := model.runHooks(ctx, skipHooks, hooks.ValidationFailed, instance, err); hookErr != nil {
			return hookErr
		}
		return err
	}
	return model.runHooks(ctx, skipHooks, hooks.AfterValidate, instance)
}

func (instance *Instance) validateFields(fields []string) error {
	model := instance.model
	failures := &ValidationError{Model: model.Name}

	for _, name := range fields {
		attr := model.Attributes[name]
		if attr == nil {
			continue
		}

		value := instance.dataValues[name]
		if value == nil {
			if !attr.AllowNull && !(attr.AutoIncrement && instance.isNewRecord) && !attr.AutoGenerated {
				failures.add(name, fmt.Errorf("%s.%s cannot be null", model.Name, name))
			}
			continue
		}

		keys := make([]string, 0, len(attr.Validate))
		for key := range attr.Validate {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			var err error
			switch fc := attr.Validate[key].(type) {
			case AttributeValidator:
				err = fc(value)
			case func(interface{}) error:
				err = fc(value)
			}
			if err != nil {
				failures.add(name, fmt.Errorf("validation %s on %s failed: %w", key, name, err))
				break
			}
		}
	}

	keys := make([]string, 0, len(model.Options.Validate))
	for key := range model.Options.Validate {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if fc, ok := model.Options.Validate[key].(func(*Instance) error); ok {
			if err := fc(instance); err != nil {
				failures.add(key, err)
			}
		}
	}

	if len(failures.Fields) > 0 {
		return failures
	}
	return nil
}

// InstanceDestroyOptions options of Instance.Destroy
type InstanceDestroyOptions struct {
	// Force deletes a paranoid row instead of setting its deletedAt
	Force     bool
	SkipHooks bool
}

// Destroy deletes the row, paranoid models only set deletedAt unless Force is set
func (instance *Instance) Destroy(ctx context.Context, options ...InstanceDestroyOptions) error {
	var opts InstanceDestroyOptions
	if len(options) > 0 {
		opts = options[0]
	}

	model := instance.model
	if err := model.db.ready(); err != nil {
		return err
	}
	if err := model.runHooks(ctx, opts.SkipHooks, hooks.BeforeDestroy, instance, &opts); err != nil {
		return err
	}

	where, err := instance.where()
	if err != nil {
		return err
	}
	where = clause.MapColumns(where, model.FieldName)

	if model.IsParanoid() && !opts.Force {
		now := model.db.NowFunc()
		values := map[string]interface{}{model.DeletedAt.Field: now}
		if model.Version != nil {
			version := cast.ToInt64(instance.dataValues[model.Version.Name])
			values[model.Version.Field] = version + 1
			where = clause.CombineWheresWithAnd(where, clause.Eq{Column: model.Version.Field, Value: version})
		}
		sql, vars, err := model.db.Generator.UpdateQuery(model.TableName(), values, where, model)
		if err != nil {
			return err
		}
		if _, err := model.db.exec(ctx, sql, vars); err != nil {
			return err
		}
		instance.dataValues[model.DeletedAt.Name] = now
		if model.Version != nil {
			instance.dataValues[model.Version.Name] = values[model.Version.Field]
		}
	} else {
		sql, vars, err := model.db.Generator.DeleteQuery(model.TableName(), where, 1, model)
		if err != nil {
			return err
		}
		if _, err := model.db.exec(ctx, sql, vars); err != nil {
			return err
		}
	}

	instance.resetChanges()
	return model.runHooks(ctx, opts.SkipHooks, hooks.AfterDestroy, instance, &opts)
}

// Restore clears deletedAt of a soft deleted row
func (instance *Instance) Restore(ctx context.Context, skipHooks ...bool) error {
	model := instance.model
	skip := len(skipHooks) > 0 && skipHooks[0]
	if !model.IsParanoid() {
		return fmt.Errorf("%w: %s", ErrNotParanoid, model.Name)
	}
	if err := model.db.ready(); err != nil {
		return err
	}
	if err := model.runHooks(ctx, skip, hooks.BeforeRestore, instance); err != nil {
		return err
	}

	where, err := instance.where()
	if err != nil {
		return err
	}
	deletedAt := model.Options.DeletedAtDefault
	sql, vars, err := model.db.Generator.UpdateQuery(model.TableName(),
		map[string]interface{}{model.DeletedAt.Field: deletedAt}, clause.MapColumns(where, model.FieldName), model)
	if err != nil {
		return err
	}
	if _, err := model.db.exec(ctx, sql, vars); err != nil {
		return err
	}

	instance.dataValues[model.DeletedAt.Name] = deletedAt
	instance.resetChanges()
	return model.runHooks(ctx, skip, hooks.AfterRestore, instance)
}

// Reload refreshes the values and includes of the instance from the database
func (instance *Instance) Reload(ctx context.Context) error {
	where, err := instance.where()
	if err != nil {
		return err
	}

	found, err := instance.model.FindOne(ctx, &FindOptions{
		QueryOptions: QueryOptions{Where: where, Include: cloneIncludes(instance.include), Paranoid: schema.Bool(false)},
	})
	if err != nil {
		return err
	}
	if found == nil {
		return fmt.Errorf("%w: %s could not be reloaded, the find call returned nothing", ErrInstanceNotFound, instance.model.Name)
	}

	instance.dataValues = found.dataValues
	instance.associated = found.associated
	instance.isNewRecord = false
	instance.resetChanges()
	return nil
}

// touch sets the timestamps of a new instance
func (instance *Instance) touch(now time.Time) {
	model := instance.model
	if model.CreatedAt != nil && instance.dataValues[model.CreatedAt.Name] == nil {
		instance.setDataValue(model.CreatedAt.Name, now)
	}
	if model.UpdatedAt != nil {
		instance.setDataValue(model.UpdatedAt.Name, now)
	}
	if model.Version != nil && instance.dataValues[model.Version.Name] == nil {
		instance.setDataValue(model.Version.Name, 0)
	}
}
