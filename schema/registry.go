package schema

import (
	"fmt"
	"sync"
)

// Registry owns the models defined together. Attributes, model options and associations
// registered before Init are merged, Init finalizes a model and freezes its registrations.
type Registry struct {
	namer    Namer
	defaults ModelOptions

	mu                  sync.RWMutex
	pending             map[string]*pendingModel
	models              map[string]*Model
	pendingAssociations []*pendingAssociation
}

type pendingModel struct {
	options    ModelOptions
	attributes map[string]*AttributeOptions
	order      []string
}

type pendingAssociation struct {
	source  string
	alias   string
	options AssociationOptions
}

// NewRegistry creates a registry, defaults apply to every model that leaves an option unset
func NewRegistry(namer Namer, defaults ModelOptions) *Registry {
	if namer == nil {
		namer = NamingStrategy{}
	}
	if defaults.Timestamps == nil {
		defaults.Timestamps = Bool(true)
	}
	return &Registry{
		namer:    namer,
		defaults: defaults,
		pending:  map[string]*pendingModel{},
		models:   map[string]*Model{},
	}
}

// Namer returns the naming strategy
func (r *Registry) Namer() Namer {
	return r.namer
}

func (r *Registry) pendingFor(model string) (*pendingModel, error) {
	if _, ok := r.models[model]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRegistryFrozen, model)
	}
	entry, ok := r.pending[model]
	if !ok {
		entry = &pendingModel{attributes: map[string]*AttributeOptions{}}
		r.pending[model] = entry
	}
	return entry, nil
}

// RegisterModelOptions merges model level options
func (r *Registry) RegisterModelOptions(model string, options ModelOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.pendingFor(model)
	if err != nil {
		return err
	}
	return MergeOptions("model "+model, &entry.options, &options)
}

// RegisterAttribute merges options of one attribute
func (r *Registry) RegisterAttribute(model, name string, options AttributeOptions) error {
	if err := checkAttributeName(model, name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.pendingFor(model)
	if err != nil {
		return err
	}

	existing, ok := entry.attributes[name]
	if !ok {
		existing = &AttributeOptions{}
		entry.attributes[name] = existing
		entry.order = append(entry.order, name)
	}
	return MergeOptions(fmt.Sprintf("attribute %s on model %s", name, model), existing, &options)
}

// RegisterAssociation merges options of an association that is bound once both of its
// models are initialized, see InitAssociations
func (r *Registry) RegisterAssociation(source, alias string, options AssociationOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if options.As == "" {
		options.As = alias
	}
	if model, ok := r.models[source]; ok {
		if _, exists := model.Associations[alias]; exists {
			return fmt.Errorf("%w: %q is already used on model %s", ErrDuplicateAlias, alias, source)
		}
	}

	for _, pending := range r.pendingAssociations {
		if pending.source == source && pending.alias == alias {
			return MergeOptions(fmt.Sprintf("association %s on model %s", alias, source), &pending.options, &options)
		}
	}
	r.pendingAssociations = append(r.pendingAssociations, &pendingAssociation{source: source, alias: alias, options: options})
	return nil
}

// Lookup returns an initialized model
func (r *Registry) Lookup(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	model, ok := r.models[name]
	return model, ok
}

// Models returns every initialized model
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]*Model, 0, len(r.models))
	for _, model := range r.models {
		models = append(models, model)
	}
	return models
}

// Init finalizes a model: applies defaults, adds the implicit primary key, timestamps and
// version attributes, computes field names and validates the attribute set
func (r *Registry) Init(name string) (*Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.init(name)
}

func (r *Registry) init(name string) (*Model, error) {
	entry, err := r.pendingFor(name)
	if err != nil {
		return nil, err
	}

	options := entry.options
	defaultsOptions(&options, &r.defaults)

	model := &Model{
		Name:            name,
		Schema:          options.Schema,
		SchemaDelimiter: options.SchemaDelimiter,
		Options:         options,
		Associations:    map[string]*Association{},
		registry:        r,
		rawOptions:      make(map[string]*AttributeOptions, len(entry.attributes)),
		generated:       map[string]bool{},
	}

	switch {
	case options.TableName != "":
		model.Table = options.TableName
	case Enabled(options.FreezeTableName):
		model.Table = name
	default:
		model.Table = r.namer.TableName(name)
	}

	for _, attrName := range entry.order {
		attrOptions := *entry.attributes[attrName]
		model.rawOptions[attrName] = &attrOptions
		model.AttributeNames = append(model.AttributeNames, attrName)
	}

	if err := model.addDefaultAttributes(); err != nil {
		return nil, err
	}
	if err := model.refreshAttributes(); err != nil {
		return nil, err
	}

	delete(r.pending, name)
	r.models[name] = model
	return model, nil
}

// InitAssociations binds every registered association whose models are initialized
func (r *Registry) InitAssociations() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.pendingAssociations[:0]
	for _, pending := range r.pendingAssociations {
		source, sourceOK := r.models[pending.source]
		target, targetOK := r.models[pending.options.Target]
		if !sourceOK || !targetOK {
			remaining = append(remaining, pending)
			continue
		}

		if _, err := source.associate(pending.options.Type, target, pending.options); err != nil {
			return err
		}
	}
	r.pendingAssociations = remaining
	return nil
}

func (model *Model) addDefaultAttributes() error {
	options := model.Options

	hasPrimaryKey := false
	for _, attrOptions := range model.rawOptions {
		if Enabled(attrOptions.PrimaryKey) {
			hasPrimaryKey = true
			break
		}
	}

	if !hasPrimaryKey {
		if id, ok := model.rawOptions["id"]; ok {
			if id.PrimaryKey == nil {
				return fmt.Errorf("%w: an attribute called 'id' was defined in model %s but primaryKey is not set", ErrPrimaryKeyNotSet, model.Name)
			}
		} else {
			model.rawOptions["id"] = &AttributeOptions{
				Type:          Int,
				AllowNull:     Bool(false),
				PrimaryKey:    Bool(true),
				AutoIncrement: Bool(true),
			}
			model.generated["id"] = true
			model.AttributeNames = append([]string{"id"}, model.AttributeNames...)
		}
	}

	addGenerated := func(name string, attrOptions AttributeOptions) {
		model.generated[name] = true
		if existing, ok := model.rawOptions[name]; ok {
			defaultsOptions(existing, &attrOptions)
			return
		}
		model.rawOptions[name] = &attrOptions
		model.AttributeNames = append(model.AttributeNames, name)
	}

	if Enabled(options.Timestamps) {
		if model.createdAt = timestampName(options.CreatedAt, "createdAt"); model.createdAt != "" {
			addGenerated(model.createdAt, AttributeOptions{Type: Time, AllowNull: Bool(false)})
		}
		if model.updatedAt = timestampName(options.UpdatedAt, "updatedAt"); model.updatedAt != "" {
			addGenerated(model.updatedAt, AttributeOptions{Type: Time, AllowNull: Bool(false)})
		}
		if Enabled(options.Paranoid) {
			if model.deletedAt = timestampName(options.DeletedAt, "deletedAt"); model.deletedAt != "" {
				addGenerated(model.deletedAt, AttributeOptions{Type: Time, AllowNull: Bool(true), DefaultValue: options.DeletedAtDefault})
			}
		}
	}

	if options.Version != "" {
		model.version = options.Version
		addGenerated(model.version, AttributeOptions{Type: Int, AllowNull: Bool(false), DefaultValue: 0})
	}
	return nil
}

func timestampName(option, fallback string) string {
	switch option {
	case "-":
		return ""
	case "":
		return fallback
	}
	return option
}
