package schema

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/jinzhu/inflection"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/modelplan/clause"
)

// AssociationType association type
type AssociationType string

const (
	BelongsTo     AssociationType = "BelongsTo"
	HasOne        AssociationType = "HasOne"
	HasMany       AssociationType = "HasMany"
	BelongsToMany AssociationType = "BelongsToMany"
)

// AssociationOptions association options, Type and Target are only read by
// Registry.RegisterAssociation
type AssociationOptions struct {
	Type         AssociationType
	Target       string
	As           string
	ForeignKey   string
	SourceKey    string
	TargetKey    string
	OtherKey     string
	Through      string
	Scope        clause.Expression
	ThroughScope clause.Expression
	OnDelete     string
	OnUpdate     string
}

// Association directed edge between two models
type Association struct {
	Type    AssociationType
	Source  *Model
	Target  *Model
	Through *Model
	As      string
	// ForeignKey lives on the source for BelongsTo, on the target for HasOne/HasMany and
	// on the through model for BelongsToMany
	ForeignKey string
	SourceKey  string
	TargetKey  string
	// OtherKey is the through attribute that points at the target
	OtherKey     string
	Scope        clause.Expression
	ThroughScope clause.Expression
	Accessors    map[string]string
	Options      AssociationOptions

	// Parent is set on the hidden source->through association owned by a BelongsToMany
	Parent                 *Association
	FromSourceToThroughOne *Association
}

func (association *Association) String() string {
	return fmt.Sprintf("%s.%s", association.Source.Name, association.As)
}

// IsSingleAssociation at most one target row per source row
func (association *Association) IsSingleAssociation() bool {
	return association.Type == BelongsTo || association.Type == HasOne
}

// IsMultiAssociation any number of target rows per source row
func (association *Association) IsMultiAssociation() bool {
	return association.Type == HasMany || association.Type == BelongsToMany
}

// IsPseudo reports the hidden source->through association of a BelongsToMany
func (association *Association) IsPseudo() bool {
	return association.Parent != nil && association.Parent.FromSourceToThroughOne == association
}

// ForeignKeyField physical column of the foreign key
func (association *Association) ForeignKeyField() string {
	switch association.Type {
	case BelongsTo:
		return association.Source.FieldName(association.ForeignKey)
	case BelongsToMany:
		return association.Through.FieldName(association.ForeignKey)
	}
	return association.Target.FieldName(association.ForeignKey)
}

// SourceKeyField physical column of the source key
func (association *Association) SourceKeyField() string {
	return association.Source.FieldName(association.SourceKey)
}

// TargetKeyField physical column of the target key
func (association *Association) TargetKeyField() string {
	return association.Target.FieldName(association.TargetKey)
}

// OtherKeyField physical column of the through attribute pointing at the target
func (association *Association) OtherKeyField() string {
	return association.Through.FieldName(association.OtherKey)
}

// HasMany registers a one-to-many association, the foreign key is added to target when missing
func (model *Model) HasMany(target *Model, options AssociationOptions) (*Association, error) {
	return model.lockedAssociate(HasMany, target, options)
}

// HasOne registers a one-to-one association owned by target
func (model *Model) HasOne(target *Model, options AssociationOptions) (*Association, error) {
	return model.lockedAssociate(HasOne, target, options)
}

// BelongsTo registers a one-to-one association owned by model
func (model *Model) BelongsTo(target *Model, options AssociationOptions) (*Association, error) {
	return model.lockedAssociate(BelongsTo, target, options)
}

// BelongsToMany registers a many-to-many association through options.Through, the through
// model is defined when it does not exist yet
func (model *Model) BelongsToMany(target *Model, options AssociationOptions) (*Association, error) {
	return model.lockedAssociate(BelongsToMany, target, options)
}

func (model *Model) lockedAssociate(typ AssociationType, target *Model, options AssociationOptions) (*Association, error) {
	model.registry.mu.Lock()
	defer model.registry.mu.Unlock()
	return model.associate(typ, target, options)
}

func (model *Model) associate(typ AssociationType, target *Model, options AssociationOptions) (*Association, error) {
	association := &Association{
		Type:         typ,
		Source:       model,
		Target:       target,
		As:           options.As,
		ForeignKey:   options.ForeignKey,
		SourceKey:    options.SourceKey,
		TargetKey:    options.TargetKey,
		OtherKey:     options.OtherKey,
		Scope:        options.Scope,
		ThroughScope: options.ThroughScope,
		Options:      options,
	}

	if association.As == "" {
		if association.IsMultiAssociation() {
			association.As = inflection.Plural(target.Name)
		} else {
			association.As = inflection.Singular(target.Name)
		}
	}
	if err := model.checkAlias(association.As); err != nil {
		return nil, err
	}

	switch typ {
	case HasOne, HasMany:
		if err := association.injectHasAttributes(); err != nil {
			return nil, err
		}
	case BelongsTo:
		if err := association.injectBelongsToAttributes(); err != nil {
			return nil, err
		}
	case BelongsToMany:
		if err := association.injectThrough(); err != nil {
			return nil, err
		}
	}

	association.Accessors = accessors(association)
	model.addAssociation(association.As, association)
	return association, nil
}

func (model *Model) checkAlias(alias string) error {
	if _, ok := model.Associations[alias]; ok {
		return fmt.Errorf("%w: %q is already used on model %s", ErrDuplicateAlias, alias, model.Name)
	}
	if _, ok := model.Attributes[alias]; ok {
		return fmt.Errorf("%w: %q collides with an attribute of model %s", ErrDuplicateAlias, alias, model.Name)
	}
	return nil
}

func (model *Model) addAssociation(alias string, association *Association) {
	model.Associations[alias] = association
	model.AssociationNames = append(model.AssociationNames, alias)
}

func (model *Model) primaryKeyName() (string, error) {
	if model.PrimaryKey == nil {
		return "", fmt.Errorf("%w: model %s has no primary key", ErrUnknownAttribute, model.Name)
	}
	return model.PrimaryKey.Name, nil
}

// addForeignKey adds an attribute referencing ref when the model does not declare it yet
func (model *Model) addForeignKey(name string, ref *Attribute, primaryKey bool) error {
	if _, ok := model.rawOptions[name]; ok {
		return nil
	}
	if err := checkAttributeName(model.Name, name); err != nil {
		return err
	}

	options := &AttributeOptions{Type: ref.Type}
	if primaryKey {
		options.PrimaryKey = Bool(true)
		options.AllowNull = Bool(false)
	}
	model.rawOptions[name] = options
	model.AttributeNames = append(model.AttributeNames, name)
	return model.refreshAttributes()
}

func (association *Association) injectHasAttributes() error {
	source, target := association.Source, association.Target
	if association.SourceKey == "" {
		name, err := source.primaryKeyName()
		if err != nil {
			return err
		}
		association.SourceKey = name
	}

	sourceKey := source.Attributes[association.SourceKey]
	if sourceKey == nil {
		return fmt.Errorf("%w: source key %s of association %s", ErrUnknownAttribute, association.SourceKey, association)
	}
	if association.ForeignKey == "" {
		association.ForeignKey = camelize(inflection.Singular(source.Name), association.SourceKey)
	}
	return target.addForeignKey(association.ForeignKey, sourceKey, false)
}

func (association *Association) injectBelongsToAttributes() error {
	source, target := association.Source, association.Target
	if association.TargetKey == "" {
		name, err := target.primaryKeyName()
		if err != nil {
			return err
		}
		association.TargetKey = name
	}

	targetKey := target.Attributes[association.TargetKey]
	if targetKey == nil {
		return fmt.Errorf("%w: target key %s of association %s", ErrUnknownAttribute, association.TargetKey, association)
	}
	if association.ForeignKey == "" {
		association.ForeignKey = camelize(association.As, association.TargetKey)
	}
	association.SourceKey = association.ForeignKey
	return source.addForeignKey(association.ForeignKey, targetKey, false)
}

func (association *Association) injectThrough() error {
	source, target, registry := association.Source, association.Target, association.Source.registry
	if association.Options.Through == "" {
		return fmt.Errorf("%w: association %s requires a through model", ErrUnknownAttribute, association)
	}

	for _, key := range []struct {
		model *Model
		name  *string
	}{{source, &association.SourceKey}, {target, &association.TargetKey}} {
		if *key.name == "" {
			name, err := key.model.primaryKeyName()
			if err != nil {
				return err
			}
			*key.name = name
		}
	}

	sourceKey, targetKey := source.Attributes[association.SourceKey], target.Attributes[association.TargetKey]
	if sourceKey == nil || targetKey == nil {
		return fmt.Errorf("%w: keys %s/%s of association %s", ErrUnknownAttribute, association.SourceKey, association.TargetKey, association)
	}
	if association.ForeignKey == "" {
		association.ForeignKey = camelize(inflection.Singular(source.Name), association.SourceKey)
	}
	if association.OtherKey == "" {
		association.OtherKey = camelize(inflection.Singular(target.Name), association.TargetKey)
	}

	through, ok := registry.models[association.Options.Through]
	if !ok {
		var err error
		if through, err = registry.init(association.Options.Through); err != nil {
			return err
		}
		if through.generated["id"] {
			delete(through.rawOptions, "id")
			delete(through.generated, "id")
			through.AttributeNames = through.AttributeNames[1:]
		}
		if err := through.addForeignKey(association.ForeignKey, sourceKey, true); err != nil {
			return err
		}
		if err := through.addForeignKey(association.OtherKey, targetKey, true); err != nil {
			return err
		}
	} else {
		if err := through.addForeignKey(association.ForeignKey, sourceKey, false); err != nil {
			return err
		}
		if err := through.addForeignKey(association.OtherKey, targetKey, false); err != nil {
			return err
		}
	}
	association.Through = through

	pseudo := &Association{
		Type:       HasOne,
		Source:     source,
		Target:     through,
		As:         association.As + through.Name,
		ForeignKey: association.ForeignKey,
		SourceKey:  association.SourceKey,
		Scope:      association.ThroughScope,
		Parent:     association,
	}
	if err := source.checkAlias(pseudo.As); err != nil {
		return err
	}
	association.FromSourceToThroughOne = pseudo
	source.addAssociation(pseudo.As, pseudo)
	return nil
}

// camelize joins parts into lowerCamelCase, projectId from ("Project", "id")
func camelize(parts ...string) string {
	caser := cases.Title(language.Und, cases.NoLower)
	result := ""
	for idx, part := range parts {
		if idx == 0 {
			result += lowerFirst(part)
		} else {
			result += caser.String(part)
		}
	}
	return result
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

func accessors(association *Association) map[string]string {
	caser := cases.Title(language.Und, cases.NoLower)
	plural := caser.String(inflection.Plural(association.As))
	singular := caser.String(inflection.Singular(association.As))

	if association.IsSingleAssociation() {
		return map[string]string{
			"get":    "get" + singular,
			"set":    "set" + singular,
			"create": "create" + singular,
		}
	}

	return map[string]string{
		"get":            "get" + plural,
		"set":            "set" + plural,
		"addMultiple":    "add" + plural,
		"add":            "add" + singular,
		"create":         "create" + singular,
		"remove":         "remove" + singular,
		"removeMultiple": "remove" + plural,
		"hasSingle":      "has" + singular,
		"hasAll":         "has" + plural,
		"count":          "count" + plural,
	}
}
