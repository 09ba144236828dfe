package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

var (
	// ErrDuplicateAlias an association alias is already used on the source model
	ErrDuplicateAlias = errors.New("duplicate association alias")
	// ErrMultipleAutoIncrement more than one auto increment attribute
	ErrMultipleAutoIncrement = errors.New("only one autoincrement attribute allowed")
	// ErrReservedAttributeName attribute name uses reserved characters
	ErrReservedAttributeName = errors.New("reserved attribute name")
	// ErrConflictingOption two registrations disagree on an option
	ErrConflictingOption = errors.New("conflicting options")
	// ErrUnknownAttribute attribute is not defined on the model
	ErrUnknownAttribute = errors.New("unknown attribute")
	// ErrRegistryFrozen registration after Init
	ErrRegistryFrozen = errors.New("model is already initialized")
	// ErrPrimaryKeyNotSet an id attribute exists without primary key flag
	ErrPrimaryKeyNotSet = errors.New("primary key not set")
	// ErrModelNotFound model is not registered
	ErrModelNotFound = errors.New("model not found")
)

// Attribute a finalized model attribute
type Attribute struct {
	Name          string
	Field         string
	Type          DataType
	AllowNull     bool
	PrimaryKey    bool
	AutoIncrement bool
	AutoGenerated bool
	ReadOnly      bool
	Unique        []string
	Index         []string
	Validate      map[string]interface{}
	Comment       string
	DefaultValue  interface{}
	Model         *Model
	Options       AttributeOptions
}

// HasDefault reports whether the attribute declares a default value
func (attr *Attribute) HasDefault() bool {
	return attr.DefaultValue != nil
}

// Default returns a fresh default value, thunks are invoked and composite values cloned
func (attr *Attribute) Default() interface{} {
	if fc, ok := attr.DefaultValue.(func() interface{}); ok {
		return fc()
	}
	return cloneValue(attr.DefaultValue)
}

func cloneValue(value interface{}) interface{} {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return value
		}
		cloned := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			v := reflect.ValueOf(cloneValue(iter.Value().Interface()))
			if !v.IsValid() {
				v = reflect.Zero(rv.Type().Elem())
			}
			cloned.SetMapIndex(iter.Key(), v)
		}
		return cloned.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return value
		}
		cloned := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if v := reflect.ValueOf(cloneValue(rv.Index(i).Interface())); v.IsValid() {
				cloned.Index(i).Set(v)
			}
		}
		return cloned.Interface()
	}
	return value
}

// Model finalized model metadata
type Model struct {
	Name            string
	Table           string
	Schema          string
	SchemaDelimiter string
	Options         ModelOptions

	Attributes       map[string]*Attribute
	AttributeNames   []string
	FieldAttributes  map[string]*Attribute
	PrimaryKeys      []*Attribute
	PrimaryKey       *Attribute
	AutoIncrement    *Attribute
	CreatedAt        *Attribute
	UpdatedAt        *Attribute
	DeletedAt        *Attribute
	Version          *Attribute
	UniqueKeys       map[string]*UniqueKey
	Indexes          []*Index
	Associations     map[string]*Association
	AssociationNames []string

	registry   *Registry
	rawOptions map[string]*AttributeOptions
	generated  map[string]bool

	createdAt, updatedAt, deletedAt, version string
}

func (model Model) String() string {
	return model.Name
}

// Registry returns the registry that owns the model
func (model *Model) Registry() *Registry {
	return model.registry
}

// LookUpAttribute finds an attribute by name or physical field name
func (model *Model) LookUpAttribute(name string) *Attribute {
	if attr, ok := model.Attributes[name]; ok {
		return attr
	}
	if attr, ok := model.FieldAttributes[name]; ok {
		return attr
	}
	return nil
}

// FieldName maps an attribute name to its physical column, unknown names pass through
func (model *Model) FieldName(name string) string {
	if attr, ok := model.Attributes[name]; ok {
		return attr.Field
	}
	return name
}

// PrimaryKeyNames primary key attribute names in declaration order
func (model *Model) PrimaryKeyNames() []string {
	names := make([]string, 0, len(model.PrimaryKeys))
	for _, attr := range model.PrimaryKeys {
		names = append(names, attr.Name)
	}
	return names
}

// IsParanoid soft delete is enabled
func (model *Model) IsParanoid() bool {
	return model.DeletedAt != nil
}

// TableName returns the table name qualified with the model schema
func (model *Model) TableName() string {
	return QualifiedTableName(model.Table, model.Schema, model.SchemaDelimiter)
}

// QualifiedTableName joins schema and table with delimiter, "." by default
func QualifiedTableName(table, schema, delimiter string) string {
	if schema == "" {
		return table
	}
	if delimiter == "" {
		delimiter = "."
	}
	return schema + delimiter + table
}

// RemoveAttribute drops an attribute and recomputes the derived metadata
func (model *Model) RemoveAttribute(name string) error {
	if _, ok := model.rawOptions[name]; !ok {
		return fmt.Errorf("%w: %s on model %s", ErrUnknownAttribute, name, model.Name)
	}

	delete(model.rawOptions, name)
	delete(model.generated, name)
	for idx, attrName := range model.AttributeNames {
		if attrName == name {
			model.AttributeNames = append(model.AttributeNames[:idx:idx], model.AttributeNames[idx+1:]...)
			break
		}
	}
	return model.refreshAttributes()
}

// MergeAttributesDefault adds missing attributes and fills unset options of existing ones,
// existing options win
func (model *Model) MergeAttributesDefault(attributes map[string]AttributeOptions, order ...string) error {
	if len(order) == 0 {
		for name := range attributes {
			order = append(order, name)
		}
		sort.Strings(order)
	}

	for _, name := range order {
		options, ok := attributes[name]
		if !ok {
			continue
		}
		if existing, ok := model.rawOptions[name]; ok {
			defaultsOptions(existing, &options)
			continue
		}
		if err := checkAttributeName(model.Name, name); err != nil {
			return err
		}
		model.rawOptions[name] = &options
		model.AttributeNames = append(model.AttributeNames, name)
	}
	return model.refreshAttributes()
}

// refreshAttributes rebuilds every derived attribute structure from rawOptions
func (model *Model) refreshAttributes() error {
	model.Attributes = make(map[string]*Attribute, len(model.rawOptions))
	model.FieldAttributes = make(map[string]*Attribute, len(model.rawOptions))
	model.PrimaryKeys = nil
	model.PrimaryKey = nil
	model.AutoIncrement = nil
	model.UniqueKeys = map[string]*UniqueKey{}
	model.Indexes = nil

	underscored := Enabled(model.Options.Underscored)
	for _, name := range model.AttributeNames {
		options := model.rawOptions[name]
		attr := &Attribute{
			Name:          name,
			Field:         options.Field,
			Type:          options.Type,
			AllowNull:     !Disabled(options.AllowNull),
			PrimaryKey:    Enabled(options.PrimaryKey),
			AutoIncrement: Enabled(options.AutoIncrement),
			ReadOnly:      Enabled(options.ReadOnly),
			AutoGenerated: model.generated[name],
			Unique:        options.Unique,
			Index:         options.Index,
			Validate:      options.Validate,
			Comment:       options.Comment,
			DefaultValue:  options.DefaultValue,
			Model:         model,
			Options:       *options,
		}

		if attr.Field == "" {
			if underscored {
				attr.Field = model.registry.namer.ColumnName(model.Table, name)
			} else {
				attr.Field = name
			}
		}
		if attr.PrimaryKey && options.AllowNull == nil {
			attr.AllowNull = false
		}

		if attr.AutoIncrement {
			if model.AutoIncrement != nil {
				return fmt.Errorf("%w: %s and %s on model %s", ErrMultipleAutoIncrement, model.AutoIncrement.Name, name, model.Name)
			}
			model.AutoIncrement = attr
		}

		if attr.PrimaryKey {
			model.PrimaryKeys = append(model.PrimaryKeys, attr)
			if model.PrimaryKey == nil {
				model.PrimaryKey = attr
			}
		}

		model.Attributes[name] = attr
		model.FieldAttributes[attr.Field] = attr
	}

	model.CreatedAt = model.Attributes[model.createdAt]
	model.UpdatedAt = model.Attributes[model.updatedAt]
	model.DeletedAt = model.Attributes[model.deletedAt]
	model.Version = model.Attributes[model.version]

	model.parseIndexes()
	return nil
}

func checkAttributeName(model, name string) error {
	if strings.HasPrefix(name, "$") || strings.HasSuffix(name, "$") {
		return fmt.Errorf("%w: attribute %q of model %s cannot start or end with \"$\"", ErrReservedAttributeName, name, model)
	}
	for _, separator := range []string{".", "::", "->"} {
		if strings.Contains(name, separator) {
			return fmt.Errorf("%w: attribute %q of model %s cannot include %q", ErrReservedAttributeName, name, model, separator)
		}
	}
	return nil
}
