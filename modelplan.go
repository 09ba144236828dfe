package modelplan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/modelplan/dialect"
	"gorm.io/modelplan/errtranslator"
	"gorm.io/modelplan/hooks"
	"gorm.io/modelplan/logger"
	"gorm.io/modelplan/schema"
)

// Config modelplan config
type Config struct {
	// NamingStrategy tables, columns and indexes naming strategy
	NamingStrategy schema.Namer
	// Logger
	Logger logger.Interface
	// NowFunc the function to be used when creating a new timestamp
	NowFunc func() time.Time
	// Define global model options, applied to every model that leaves an option unset
	Define schema.ModelOptions
	// Generator builds the SQL of resolved options
	Generator QueryGenerator
	// Executor runs the generated SQL
	Executor Executor
	// Dialect translates driver errors the executor left untouched
	Dialect dialect.Dialect
	// VariantCacheSize bounds the scope/schema variants kept per model
	VariantCacheSize int
}

// DB owns a set of models defined together
type DB struct {
	*Config
	registry *schema.Registry
	hooks    *hooks.Registry

	mu     sync.RWMutex
	models map[string]*Model
}

// Attr declares one attribute for Define
type Attr struct {
	Name string
	schema.AttributeOptions
}

// Open initialize a model set based on config
func Open(config *Config) (*DB, error) {
	if config == nil {
		config = &Config{}
	}

	if config.NamingStrategy == nil {
		config.NamingStrategy = schema.NamingStrategy{}
	}

	if config.Logger == nil {
		config.Logger = logger.Default
	}

	if config.NowFunc == nil {
		config.NowFunc = func() time.Time { return time.Now().Local() }
	}

	if config.VariantCacheSize == 0 {
		config.VariantCacheSize = 64
	}

	return &DB{
		Config:   config,
		registry: schema.NewRegistry(config.NamingStrategy, config.Define),
		hooks:    hooks.New("modelplan", hooks.DBEvents...),
		models:   map[string]*Model{},
	}, nil
}

// Hooks returns the definition hooks (beforeDefine, afterDefine, beforeInit, afterInit)
func (db *DB) Hooks() *hooks.Registry {
	return db.hooks
}

// Registry returns the attribute and association registry
func (db *DB) Registry() *schema.Registry {
	return db.registry
}

// RegisterModelOptions merges model options before Init
func (db *DB) RegisterModelOptions(name string, options schema.ModelOptions) error {
	return db.registry.RegisterModelOptions(name, options)
}

// RegisterAttribute merges attribute options before Init
func (db *DB) RegisterAttribute(model, name string, options schema.AttributeOptions) error {
	return db.registry.RegisterAttribute(model, name, options)
}

// RegisterAssociation merges association options, bound by InitAssociations
func (db *DB) RegisterAssociation(source, alias string, options schema.AssociationOptions) error {
	return db.registry.RegisterAssociation(source, alias, options)
}

// Define registers attributes and options of a model and initializes it
func (db *DB) Define(name string, options schema.ModelOptions, attrs ...Attr) (*Model, error) {
	ctx := context.Background()
	if err := db.hooks.RunSync(ctx, hooks.BeforeDefine, name, &options, &attrs); err != nil {
		return nil, err
	}

	if err := db.registry.RegisterModelOptions(name, options); err != nil {
		return nil, err
	}
	for _, attr := range attrs {
		if err := db.registry.RegisterAttribute(name, attr.Name, attr.AttributeOptions); err != nil {
			return nil, err
		}
	}

	model, err := db.Init(name)
	if err != nil {
		return nil, err
	}

	if err := db.hooks.RunSync(ctx, hooks.AfterDefine, model); err != nil {
		return nil, err
	}
	return model, nil
}

// Init finalizes a model whose options and attributes were registered
func (db *DB) Init(name string) (*Model, error) {
	ctx := context.Background()
	if err := db.hooks.RunSync(ctx, hooks.BeforeInit, name); err != nil {
		return nil, err
	}

	definition, err := db.registry.Init(name)
	if err != nil {
		return nil, err
	}

	model, err := db.modelOf(definition)
	if err != nil {
		return nil, err
	}

	if err := db.hooks.RunSync(ctx, hooks.AfterInit, model); err != nil {
		return nil, err
	}
	return model, nil
}

// InitAssociations binds every registered association whose models are initialized
func (db *DB) InitAssociations() error {
	if err := db.registry.InitAssociations(); err != nil {
		return err
	}
	for _, definition := range db.registry.Models() {
		if _, err := db.modelOf(definition); err != nil {
			return err
		}
	}
	return nil
}

// Model returns the initial model of name
func (db *DB) Model(name string) (*Model, error) {
	if definition, ok := db.registry.Lookup(name); ok {
		return db.modelOf(definition)
	}
	return nil, fmt.Errorf("%w: %s", ErrModelNotDefined, name)
}

// modelOf returns the initial model wrapping definition, through models created by
// BelongsToMany are wrapped on first use
func (db *DB) modelOf(definition *schema.Model) (*Model, error) {
	db.mu.RLock()
	model, ok := db.models[definition.Name]
	db.mu.RUnlock()
	if ok {
		return model, nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if model, ok = db.models[definition.Name]; ok {
		return model, nil
	}

	model, err := newInitialModel(db, definition)
	if err != nil {
		return nil, err
	}
	db.models[definition.Name] = model
	return model, nil
}

func (db *DB) mustModel(definition *schema.Model) *Model {
	model, err := db.modelOf(definition)
	if err != nil {
		panic(err)
	}
	return model
}

// Transaction runs fc in a transaction when the executor supports one
func (db *DB) Transaction(ctx context.Context, fc func(ctx context.Context) error) error {
	if transactor, ok := db.Executor.(Transactor); ok {
		return transactor.Transaction(ctx, fc)
	}
	return fc(ctx)
}

func (db *DB) ready() error {
	if db.Generator == nil || db.Executor == nil {
		return ErrMissingExecutor
	}
	return nil
}

func (db *DB) query(ctx context.Context, sql string, vars []interface{}) (rows []map[string]interface{}, err error) {
	begin := time.Now()
	defer func() {
		db.Logger.Trace(ctx, begin, func() (string, int64) { return sql, int64(len(rows)) }, err)
	}()

	rows, err = db.Executor.Query(ctx, sql, vars...)
	return rows, db.translate(err)
}

func (db *DB) exec(ctx context.Context, sql string, vars []interface{}) (rowsAffected int64, err error) {
	begin := time.Now()
	defer func() {
		db.Logger.Trace(ctx, begin, func() (string, int64) { return sql, rowsAffected }, err)
	}()

	rowsAffected, err = db.Executor.Exec(ctx, sql, vars...)
	return rowsAffected, db.translate(err)
}

func (db *DB) translate(err error) error {
	if err == nil || db.Dialect == nil {
		return err
	}
	if errors.Is(err, errtranslator.ErrDuplicatedKey) || errors.Is(err, errtranslator.ErrForeignKeyViolated) ||
		errors.Is(err, errtranslator.ErrTableNotFound) {
		return err
	}
	return db.Dialect.Translator().Translate(err)
}
