package schema

import (
	"fmt"
	"reflect"

	"gorm.io/modelplan/utils"
)

// DataType attribute type tag
type DataType string

const (
	Boolean DataType = "BOOLEAN"
	Int     DataType = "INTEGER"
	BigInt  DataType = "BIGINT"
	Float   DataType = "FLOAT"
	Decimal DataType = "DECIMAL"
	String  DataType = "STRING"
	Text    DataType = "TEXT"
	Time    DataType = "DATE"
	UUID    DataType = "UUID"
	JSON    DataType = "JSON"
	Bytes   DataType = "BLOB"
)

// AttributeOptions attribute registration options, merged field by field when the same
// attribute is registered more than once before Init
type AttributeOptions struct {
	Type          DataType
	Field         string
	AllowNull     *bool
	PrimaryKey    *bool
	AutoIncrement *bool
	ReadOnly      *bool
	// DefaultValue is either a value, cloned for every use, or a func() interface{} thunk
	DefaultValue interface{}
	// Unique lists the unique keys this attribute belongs to, "" names a single column key
	Unique []string
	// Index lists the indexes this attribute belongs to, "" names a single column index
	Index    []string
	Validate map[string]interface{}
	Comment  string
}

// IndexOptions model level index
type IndexOptions struct {
	Name   string
	Fields []string
	Unique bool
}

// ModelOptions model registration options
type ModelOptions struct {
	TableName       string
	Schema          string
	SchemaDelimiter string
	Timestamps      *bool
	Paranoid        *bool
	Underscored     *bool
	FreezeTableName *bool
	RejectOnEmpty   *bool
	// CreatedAt, UpdatedAt and DeletedAt rename the timestamp attributes, "-" disables one
	CreatedAt string
	UpdatedAt string
	DeletedAt string
	// DeletedAtDefault is the value a live row holds in the deletedAt column, nil when empty
	DeletedAtDefault interface{}
	// Version names the optimistic locking attribute, "" disables it
	Version string
	// DefaultScope and Scopes hold option sets (or func(...interface{}) option sets) that the
	// finder layer interprets
	DefaultScope  interface{}
	Scopes        map[string]interface{}
	Indexes       []IndexOptions
	GetterMethods map[string]interface{}
	SetterMethods map[string]interface{}
	Validate      map[string]interface{}
}

// Enabled reports whether an optional *bool flag is set to true
func Enabled(flag *bool) bool {
	return flag != nil && *flag
}

// Disabled reports whether an optional *bool flag is explicitly false
func Disabled(flag *bool) bool {
	return flag != nil && !*flag
}

// Bool returns a pointer to value
func Bool(value bool) *bool {
	return &value
}

// MergeOptions merges src into dst, both pointers to the same options struct.
//
// Absent keys are adopted, name->value maps are merged key by key, lists are
// concatenated and any other value must be equal on both sides. A key present on
// both sides with different values is an ErrConflictingOption naming owner.
func MergeOptions(owner string, dst, src interface{}) error {
	dv, sv := reflect.ValueOf(dst), reflect.ValueOf(src)
	if dv.Kind() != reflect.Ptr || sv.Type() != dv.Type() {
		return fmt.Errorf("merge options of %s: %T and %T are not the same options type", owner, dst, src)
	}
	dv, sv = dv.Elem(), sv.Elem()

	for i := 0; i < dv.NumField(); i++ {
		name := dv.Type().Field(i).Name
		df, sf := dv.Field(i), sv.Field(i)
		if sf.IsZero() {
			continue
		}

		switch sf.Kind() {
		case reflect.Map:
			if df.IsNil() {
				df.Set(reflect.MakeMapWithSize(sf.Type(), sf.Len()))
			}
			iter := sf.MapRange()
			for iter.Next() {
				if existing := df.MapIndex(iter.Key()); existing.IsValid() {
					if utils.AssertEqual(existing.Interface(), iter.Value().Interface()) {
						continue
					}
					return fmt.Errorf("%w: multiple registrations set option %s[%q] of %s", ErrConflictingOption, name, iter.Key().Interface(), owner)
				}
				df.SetMapIndex(iter.Key(), iter.Value())
			}
		case reflect.Slice:
			df.Set(reflect.AppendSlice(reflect.MakeSlice(sf.Type(), 0, df.Len()+sf.Len()), df))
			df.Set(reflect.AppendSlice(df, sf))
		default:
			if df.IsZero() {
				df.Set(sf)
			} else if !utils.AssertEqual(df.Interface(), sf.Interface()) {
				return fmt.Errorf("%w: multiple registrations set different values for option %s of %s", ErrConflictingOption, name, owner)
			}
		}
	}
	return nil
}

// defaultsOptions fills zero fields of dst from src, dst wins
func defaultsOptions(dst, src interface{}) {
	dv, sv := reflect.ValueOf(dst).Elem(), reflect.ValueOf(src).Elem()
	for i := 0; i < dv.NumField(); i++ {
		if df := dv.Field(i); df.IsZero() {
			df.Set(sv.Field(i))
		}
	}
}
