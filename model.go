package modelplan

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/goccy/go-json"

	"gorm.io/modelplan/hooks"
	"gorm.io/modelplan/internal/lru"
	"gorm.io/modelplan/schema"
)

const defaultScopeName = "defaultScope"

// Model a model variant: the shared definition plus the schema and scope it is bound to.
// Variants are values, the initial model and every WithScope/WithSchema result share
// their metadata, hooks and scopes.
type Model struct {
	*schema.Model

	db         *DB
	def        *definition
	schemaName string
	delimiter  string
	scope      QueryOptions
	scopeNames []string
	scoped     bool
}

// definition state shared by every variant of a model
type definition struct {
	initial  *Model
	hooks    *hooks.Registry
	variants *lru.LRU[string, *Model]

	mu           sync.RWMutex
	defaultScope QueryOptions
	scopes       map[string]interface{}
}

func newInitialModel(db *DB, metadata *schema.Model) (*Model, error) {
	def := &definition{
		hooks:    hooks.New(metadata.Name, hooks.ModelEvents...),
		variants: lru.NewLRU[string, *Model](db.VariantCacheSize, nil),
		scopes:   map[string]interface{}{},
	}
	for name, scope := range metadata.Options.Scopes {
		def.scopes[name] = scope
	}

	if metadata.Options.DefaultScope != nil {
		scope, err := toScope(metadata.Name, defaultScopeName, metadata.Options.DefaultScope)
		if err != nil {
			return nil, err
		}
		def.defaultScope = scope
	}

	model := &Model{
		Model:      metadata,
		db:         db,
		def:        def,
		schemaName: metadata.Schema,
		delimiter:  metadata.SchemaDelimiter,
		scope:      def.defaultScope.clone(),
		scopeNames: []string{defaultScopeName},
	}
	def.initial = model
	return model, nil
}

func toScope(model, name string, value interface{}) (QueryOptions, error) {
	switch v := value.(type) {
	case QueryOptions:
		return v.clone(), nil
	case *QueryOptions:
		if v != nil {
			return v.clone(), nil
		}
	case ScopeFunc:
		return v(), nil
	case func(...interface{}) QueryOptions:
		return v(), nil
	}
	return QueryOptions{}, fmt.Errorf("%w: scope %q of %s is a %T, not query options", ErrUnknownScope, name, model, value)
}

func (m *Model) String() string {
	return m.Name
}

// DB returns the model set the model belongs to
func (m *Model) DB() *DB {
	return m.db
}

// Hooks returns the lifecycle hooks shared by every variant
func (m *Model) Hooks() *hooks.Registry {
	return m.def.hooks
}

// AddHook registers a lifecycle listener, see hooks.ModelEvents
func (m *Model) AddHook(event string, fn hooks.Listener, name ...string) error {
	return m.def.hooks.AddListener(event, fn, name...)
}

func (m *Model) runHooks(ctx context.Context, skip bool, event string, args ...interface{}) error {
	if skip {
		return nil
	}
	return m.def.hooks.RunAsync(ctx, event, args...)
}

// TableName table name qualified with the schema of the variant
func (m *Model) TableName() string {
	return schema.QualifiedTableName(m.Table, m.schemaName, m.delimiter)
}

// SchemaName returns the schema and delimiter the variant is bound to
func (m *Model) SchemaName() (string, string) {
	return m.schemaName, m.delimiter
}

// Scope returns the merged scope of the variant
func (m *Model) Scope() QueryOptions {
	return m.scope.clone()
}

// ScopeNames returns the names of the scopes merged into the variant, in order
func (m *Model) ScopeNames() []string {
	return cloneStrings(m.scopeNames)
}

// Scoped reports a variant carrying scopes other than the default one
func (m *Model) Scoped() bool {
	return m.scoped
}

// InitialModel returns the model as defined, before any scope or schema was applied
func (m *Model) InitialModel() *Model {
	return m.def.initial
}

// AddScopeOptions options of AddScope
type AddScopeOptions struct {
	Override bool
}

// AddScope adds a named scope, "defaultScope" replaces the default scope. scope is
// QueryOptions or a ScopeFunc.
func (m *Model) AddScope(name string, scope interface{}, options ...AddScopeOptions) error {
	if m != m.def.initial {
		return fmt.Errorf("%w: use %s.InitialModel() to access the initial model", ErrAddScopeOnVariant, m.Name)
	}

	override := len(options) > 0 && options[0].Override

	m.def.mu.Lock()
	defer m.def.mu.Unlock()

	if name == defaultScopeName {
		if !override && !reflect.ValueOf(m.def.defaultScope).IsZero() {
			return fmt.Errorf("%w: %s of %s, pass Override to replace it", ErrScopeExists, name, m.Name)
		}
		resolved, err := toScope(m.Name, name, scope)
		if err != nil {
			return err
		}
		m.def.defaultScope = resolved
		m.scope = resolved.clone()
	} else {
		if _, ok := m.def.scopes[name]; ok && !override {
			return fmt.Errorf("%w: %s of %s, pass Override to replace it", ErrScopeExists, name, m.Name)
		}
		m.def.scopes[name] = scope
	}

	m.def.variants.Purge()
	return nil
}

func (m *Model) lookupScope(name string) (interface{}, bool) {
	m.def.mu.RLock()
	defer m.def.mu.RUnlock()
	scope, ok := m.def.scopes[name]
	return scope, ok
}

// WithScope returns a variant with scopes applied in order. A scope is a scope name,
// a ScopeCall, QueryOptions, or nil which discards every scope applied before it.
func (m *Model) WithScope(scopes ...interface{}) (*Model, error) {
	initial := m.def.initial

	var (
		merged QueryOptions
		names  = []string{}
	)

	for _, option := range scopes {
		var (
			scope QueryOptions
			name  string
			err   error
		)

		switch v := option.(type) {
		case nil:
			merged, names = QueryOptions{}, []string{}
			continue
		case []string:
			for _, n := range v {
				if err := initial.applyNamedScope(n, &merged, &names); err != nil {
					return nil, err
				}
			}
			continue
		case string:
			if err := initial.applyNamedScope(v, &merged, &names); err != nil {
				return nil, err
			}
			continue
		case ScopeCall:
			name = v.Method
			value, ok := initial.lookupScope(v.Method)
			if !ok {
				return nil, fmt.Errorf("%w: %s.WithScope() has been called with an invalid scope: %q does not exist", ErrUnknownScope, m.Name, v.Method)
			}
			switch fc := value.(type) {
			case ScopeFunc:
				scope = fc(v.Args...).clone()
			case func(...interface{}) QueryOptions:
				scope = fc(v.Args...).clone()
			default:
				return nil, fmt.Errorf("%w: scope %q of %s is not a function", ErrUnknownScope, v.Method, m.Name)
			}
		case QueryOptions:
			scope = v.clone()
		case *QueryOptions:
			if v == nil {
				merged, names = QueryOptions{}, []string{}
				continue
			}
			scope = v.clone()
		default:
			return nil, fmt.Errorf("%w: %s.WithScope() has been called with a %T", ErrUnknownScope, m.Name, option)
		}

		if err = m.db.conformIncludes(&scope, m); err != nil {
			return nil, err
		}
		if err = assignOptions(m.Name, &merged, &scope); err != nil {
			return nil, err
		}
		if name == "" {
			name = defaultScopeName
		}
		names = append(names, name)
	}

	return initial.withScopeAndSchema(m.schemaName, m.delimiter, merged, names)
}

func (m *Model) applyNamedScope(name string, merged *QueryOptions, names *[]string) error {
	var scope QueryOptions
	if name == defaultScopeName {
		m.def.mu.RLock()
		scope = m.def.defaultScope.clone()
		m.def.mu.RUnlock()
	} else {
		value, ok := m.lookupScope(name)
		if !ok {
			return fmt.Errorf("%w: %s.WithScope() has been called with an invalid scope: %q does not exist", ErrUnknownScope, m.Name, name)
		}
		var err error
		if scope, err = toScope(m.Name, name, value); err != nil {
			return err
		}
	}

	if err := m.db.conformIncludes(&scope, m); err != nil {
		return err
	}
	if err := assignOptions(m.Name, merged, &scope); err != nil {
		return err
	}
	*names = append(*names, name)
	return nil
}

// WithoutScope returns a variant without any scope, the default one included
func (m *Model) WithoutScope() (*Model, error) {
	return m.WithScope(nil)
}

// WithSchema returns a variant whose table lives in schemaName, keeping the current scope
func (m *Model) WithSchema(schemaName string, delimiter ...string) (*Model, error) {
	d := ""
	if len(delimiter) > 0 {
		d = delimiter[0]
	}
	return m.def.initial.withScopeAndSchema(schemaName, d, m.scope, m.scopeNames)
}

// WithInitialScope returns the initial model bound to the schema of m
func (m *Model) WithInitialScope() (*Model, error) {
	initial := m.def.initial
	if m.schemaName != initial.schemaName || m.delimiter != initial.delimiter {
		return initial.WithSchema(m.schemaName, m.delimiter)
	}
	return initial, nil
}

// variantKey fingerprints a variant, structurally equal variants share a key
type variantKey struct {
	Names     []string    `json:"names"`
	Schema    string      `json:"schema"`
	Delimiter string      `json:"delimiter"`
	Scope     interface{} `json:"scope"`
}

func (m *Model) withScopeAndSchema(schemaName, delimiter string, scope QueryOptions, names []string) (*Model, error) {
	key, err := json.Marshal(variantKey{Names: names, Schema: schemaName, Delimiter: delimiter, Scope: fingerprint(&scope)})
	if err != nil {
		// an unkeyable scope is rebuilt for every call
		key = nil
	}

	if key != nil {
		if variant, ok := m.def.variants.Get(string(key)); ok {
			return variant, nil
		}
	}

	variant := &Model{
		Model:      m.Model,
		db:         m.db,
		def:        m.def,
		schemaName: schemaName,
		delimiter:  delimiter,
		scope:      scope,
		scopeNames: cloneStrings(names),
		scoped:     len(names) != 1 || names[0] != defaultScopeName,
	}

	if key != nil {
		m.def.variants.Add(string(key), variant)
	}
	return variant, nil
}

// fingerprint describes a scope with values that compare structurally once serialized
func fingerprint(q *QueryOptions) map[string]interface{} {
	if q == nil {
		return nil
	}

	result := map[string]interface{}{}
	if q.Where != nil {
		result["where"] = fmt.Sprintf("%#v", q.Where)
	}
	if q.Having != nil {
		result["having"] = fmt.Sprintf("%#v", q.Having)
	}
	if q.Attributes != nil {
		result["attributes"] = q.Attributes
	}
	if len(q.Order) > 0 {
		result["order"] = fmt.Sprintf("%#v", q.Order)
	}
	if len(q.Group) > 0 {
		result["group"] = q.Group
	}
	if q.Limit != 0 {
		result["limit"] = q.Limit
	}
	if q.Offset != 0 {
		result["offset"] = q.Offset
	}
	if q.Paranoid != nil {
		result["paranoid"] = *q.Paranoid
	}
	if q.SubQuery != nil {
		result["subQuery"] = *q.SubQuery
	}
	for option, methods := range map[string]map[string]interface{}{"getterMethods": q.GetterMethods, "setterMethods": q.SetterMethods} {
		if len(methods) > 0 {
			pointers := make(map[string]string, len(methods))
			for name, method := range methods {
				pointers[name] = fmt.Sprintf("%T:%v", method, pointerOf(method))
			}
			result[option] = pointers
		}
	}

	if len(q.Include) > 0 {
		includes := make([]interface{}, 0, len(q.Include))
		for _, include := range q.Include {
			switch v := include.(type) {
			case *IncludeNode:
				includes = append(includes, map[string]interface{}{
					"association": fmt.Sprintf("%p", v.Association),
					"as":          v.As,
					"model":       fmt.Sprintf("%p", v.Model),
					"required":    [2]bool{v.Required, v.requiredSet},
					"separate":    [2]bool{v.Separate, v.separateSet},
					"options":     fingerprint(&v.QueryOptions),
					"through":     fingerprint(v.ThroughOptions),
				})
			default:
				includes = append(includes, fmt.Sprintf("%#v", v))
			}
		}
		result["include"] = includes
	}
	return result
}

func pointerOf(value interface{}) uintptr {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Func, reflect.Ptr, reflect.Map, reflect.Slice, reflect.UnsafePointer, reflect.Chan:
		return rv.Pointer()
	}
	return 0
}

// HasMany associates target, its foreign key is added to target when missing
func (m *Model) HasMany(target *Model, options schema.AssociationOptions) (*schema.Association, error) {
	return m.associate(schema.HasMany, target, options)
}

// HasOne associates target, its foreign key is added to target when missing
func (m *Model) HasOne(target *Model, options schema.AssociationOptions) (*schema.Association, error) {
	return m.associate(schema.HasOne, target, options)
}

// BelongsTo associates target, the foreign key is added to m when missing
func (m *Model) BelongsTo(target *Model, options schema.AssociationOptions) (*schema.Association, error) {
	return m.associate(schema.BelongsTo, target, options)
}

// BelongsToMany associates target through options.Through, defining the through model when needed
func (m *Model) BelongsToMany(target *Model, options schema.AssociationOptions) (*schema.Association, error) {
	return m.associate(schema.BelongsToMany, target, options)
}

func (m *Model) associate(typ schema.AssociationType, target *Model, options schema.AssociationOptions) (*schema.Association, error) {
	ctx := context.Background()
	if err := m.def.hooks.RunSync(ctx, hooks.BeforeAssociate, typ, target, &options); err != nil {
		return nil, err
	}

	var (
		association *schema.Association
		err         error
	)
	switch typ {
	case schema.HasMany:
		association, err = m.Model.HasMany(target.Model, options)
	case schema.HasOne:
		association, err = m.Model.HasOne(target.Model, options)
	case schema.BelongsTo:
		association, err = m.Model.BelongsTo(target.Model, options)
	case schema.BelongsToMany:
		association, err = m.Model.BelongsToMany(target.Model, options)
	}
	if err != nil {
		return nil, err
	}

	if association.Through != nil {
		if _, err := m.db.modelOf(association.Through); err != nil {
			return nil, err
		}
	}

	if err := m.def.hooks.RunSync(ctx, hooks.AfterAssociate, association); err != nil {
		return nil, err
	}
	return association, nil
}

// injectScope merges the scope of m into q, q wins
func (m *Model) injectScope(q *QueryOptions) error {
	scope := m.scope.clone()
	if err := m.db.normalizeIncludes(&scope, m); err != nil {
		return err
	}
	return defaultsOptions(m.Name, q, &scope)
}
