package modelplan

import (
	"fmt"
	"strings"

	"gorm.io/modelplan/schema"
)

// Include is one entry of an include list: an IncludeAlias, a *Model, an
// IncludeAssociation, *IncludeOptions, IncludeAll or an already resolved *IncludeNode
type Include interface {
	isInclude()
}

// IncludeAlias includes the association registered under this alias
type IncludeAlias string

// IncludeAssociation includes an association of the owning model
type IncludeAssociation struct {
	Association *schema.Association
}

// IncludeAll includes every association of the listed kinds, all of them when Kinds is empty.
// Kinds are BelongsTo, HasOne, HasMany or the groups One, Has, Many and All.
type IncludeAll struct {
	Kinds  []string
	Nested bool
}

// IncludeOptions include with options. Association or As select the association, Model
// alone selects the only association targeting it. All turns the entry into a wildcard
// and no other option may be set with it.
type IncludeOptions struct {
	QueryOptions
	Model       *Model
	Association *schema.Association
	As          string
	Required    *bool
	Separate    *bool
	Duplicating *bool
	Through     *QueryOptions
	All         *IncludeAll
}

// IncludeNode a resolved include
type IncludeNode struct {
	QueryOptions
	IncludePlan

	Association *schema.Association
	Model       *Model
	As          string

	Required          bool
	Separate          bool
	Duplicating       bool
	SubQueryFilter    bool
	HasParentWhere    bool
	HasParentRequired bool

	// Pseudo marks the synthetic include of a BelongsToMany through model
	Pseudo         bool
	ThroughOptions *QueryOptions
	Through        *IncludeNode
	// Parent is the enclosing include, nil at the top level
	Parent *IncludeNode

	requiredSet, separateSet, duplicatingSet bool
}

func (IncludeAlias) isInclude()       {}
func (IncludeAssociation) isInclude() {}
func (IncludeAll) isInclude()         {}
func (*IncludeOptions) isInclude()    {}
func (*IncludeNode) isInclude()       {}
func (*Model) isInclude()             {}

func cloneInclude(include Include) Include {
	switch v := include.(type) {
	case *IncludeNode:
		return v.clone()
	case *IncludeOptions:
		cloned := *v
		cloned.QueryOptions = v.QueryOptions.clone()
		if v.Through != nil {
			through := v.Through.clone()
			cloned.Through = &through
		}
		return &cloned
	case IncludeAll:
		v.Kinds = cloneStrings(v.Kinds)
		return v
	}
	return include
}

func (node *IncludeNode) clone() *IncludeNode {
	cloned := *node
	cloned.QueryOptions = node.QueryOptions.clone()
	cloned.IncludePlan = node.IncludePlan.clone()
	if node.ThroughOptions != nil {
		through := node.ThroughOptions.clone()
		cloned.ThroughOptions = &through
	}
	return &cloned
}

// SetRequired forces the join type of the include
func (node *IncludeNode) SetRequired(required bool) {
	node.Required, node.requiredSet = required, true
}

// SetSeparate forces separate loading on or off
func (node *IncludeNode) SetSeparate(separate bool) {
	node.Separate, node.separateSet = separate, true
}

func isWildcard(include Include) bool {
	switch v := include.(type) {
	case IncludeAll:
		return true
	case *IncludeOptions:
		return v.All != nil
	}
	return false
}

func sameModel(model *Model, definition *schema.Model) bool {
	return model != nil && definition != nil && model.Model == definition
}

// conformIncludes resolves every include of q against owner
func (db *DB) conformIncludes(q *QueryOptions, owner *Model) error {
	if len(q.Include) == 0 {
		q.Include = nil
		return nil
	}

	includes := make([]Include, len(q.Include))
	for idx, include := range q.Include {
		conformed, err := db.conformInclude(include, owner)
		if err != nil {
			return err
		}
		includes[idx] = conformed
	}
	q.Include = includes
	return nil
}

// conformInclude canonicalizes include to an *IncludeNode owned by owner, wildcards are
// kept for the expand phase. Conforming a resolved node again returns it unchanged.
func (db *DB) conformInclude(include Include, owner *Model) (Include, error) {
	if owner == nil {
		return nil, fmt.Errorf("%w: include %#v has no owning model", ErrInvalidInclude, include)
	}

	var options IncludeOptions
	switch v := include.(type) {
	case nil:
		return nil, fmt.Errorf("%w: include of %s is nil", ErrInvalidInclude, owner.Name)
	case *IncludeNode:
		if v == nil {
			return nil, fmt.Errorf("%w: include of %s is nil", ErrInvalidInclude, owner.Name)
		}
		if v.Pseudo {
			return v, nil
		}
		if v.Association == nil || v.Association.Source != owner.Model {
			return nil, db.notOwnedError(v.Association, owner)
		}
		if err := db.conformIncludes(&v.QueryOptions, v.Model); err != nil {
			return nil, err
		}
		return v, nil
	case IncludeAll:
		return v, nil
	case *IncludeOptions:
		if v == nil {
			return nil, fmt.Errorf("%w: include of %s is nil", ErrInvalidInclude, owner.Name)
		}
		if v.All != nil {
			return v, nil
		}
		options = *v
		options.QueryOptions = v.QueryOptions.clone()
	case *Model:
		if v == nil {
			return nil, fmt.Errorf("%w: include of %s is nil", ErrInvalidInclude, owner.Name)
		}
		options.Model = v
	case IncludeAlias:
		options.As = string(v)
	case IncludeAssociation:
		options.Association = v.Association
	default:
		return nil, fmt.Errorf("%w: %T is not a model, an association, an alias or include options", ErrInvalidInclude, include)
	}

	association := options.Association
	switch {
	case association != nil:
		if association.Source != owner.Model {
			return nil, db.notOwnedError(association, owner)
		}
	default:
		var err error
		if association, err = owner.associationWithModel(options.Model, options.As); err != nil {
			return nil, err
		}
	}

	model := options.Model
	if model == nil {
		model = db.mustModel(association.Target)
	} else if !sameModel(model, association.Target) {
		return nil, fmt.Errorf("%w: the specified model %s does not match the target %s of the %q association",
			ErrInvalidInclude, model.Name, association.Target.Name, association.As)
	}

	node := &IncludeNode{
		QueryOptions: options.QueryOptions,
		Association:  association,
		Model:        model,
		As:           options.As,
	}
	if node.As == "" {
		node.As = association.As
	}
	if options.Required != nil {
		node.SetRequired(*options.Required)
	}
	if options.Separate != nil {
		node.SetSeparate(*options.Separate)
	}
	if options.Duplicating != nil {
		node.Duplicating, node.duplicatingSet = *options.Duplicating, true
	}
	if options.Through != nil {
		through := options.Through.clone()
		node.ThroughOptions = &through
	}

	if err := db.conformIncludes(&node.QueryOptions, node.Model); err != nil {
		return nil, err
	}
	return node, nil
}

func (db *DB) notOwnedError(association *schema.Association, owner *Model) error {
	if association == nil {
		return fmt.Errorf("%w: include of %s has no association", ErrInvalidInclude, owner.Name)
	}
	return fmt.Errorf("%w: the specified association %q is not defined on model %s, it is owned by model %s. %s",
		ErrInvalidInclude, association.As, owner.Name, association.Source.Name, owner.associationDebugList())
}

// associationWithModel resolves an association by alias, or by the only association targeting target
func (m *Model) associationWithModel(target *Model, alias string) (*schema.Association, error) {
	if alias != "" {
		return m.association(alias)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: include of %s names neither a model nor an association", ErrInvalidInclude, m.Name)
	}

	var matching []*schema.Association
	for _, name := range m.AssociationNames {
		if association := m.Associations[name]; association.Target == target.Model {
			matching = append(matching, association)
		}
	}

	switch len(matching) {
	case 0:
		return nil, fmt.Errorf("%w: no associations exist between %s and %s", ErrNoAssociation, m.Name, target.Name)
	case 1:
		return matching[0], nil
	}

	aliases := make([]string, len(matching))
	for idx, association := range matching {
		aliases[idx] = fmt.Sprintf("%q", association.As)
	}
	return nil, fmt.Errorf("%w: %s is associated to %s multiple times through %s, specify the association or its alias",
		ErrAmbiguousInclude, m.Name, target.Name, strings.Join(aliases, ", "))
}

func (m *Model) association(alias string) (*schema.Association, error) {
	if association, ok := m.Associations[alias]; ok {
		return association, nil
	}
	return nil, fmt.Errorf("%w: association with alias %q does not exist on %s. %s", ErrNoAssociation, alias, m.Name, m.associationDebugList())
}

func (m *Model) associationDebugList() string {
	aliases := make([]string, len(m.AssociationNames))
	for idx, name := range m.AssociationNames {
		aliases[idx] = fmt.Sprintf("%q", name)
	}
	return fmt.Sprintf("The following associations are defined on %s: %s", m.Name, strings.Join(aliases, ", "))
}

// combineIncludes merges two conformed include lists, nodes sharing an association are
// merged recursively
func combineIncludes(a, b []Include) ([]Include, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}

	combined := make([]Include, len(a), len(a)+len(b))
	copy(combined, a)

	for _, include := range b {
		node, ok := include.(*IncludeNode)
		if !ok {
			combined = append(combined, include)
			continue
		}

		existing := -1
		for idx, candidate := range combined {
			if c, ok := candidate.(*IncludeNode); ok && c.Association == node.Association {
				existing = idx
				break
			}
		}
		if existing == -1 {
			combined = append(combined, node)
			continue
		}

		merged := combined[existing].(*IncludeNode).clone()
		if err := merged.assign(node); err != nil {
			return nil, err
		}
		combined[existing] = merged
	}
	return combined, nil
}

// assign merges src into node, src wins
func (node *IncludeNode) assign(src *IncludeNode) error {
	if err := assignOptions(node.Model.Name, &node.QueryOptions, &src.QueryOptions); err != nil {
		return err
	}
	if src.requiredSet {
		node.SetRequired(src.Required)
	}
	if src.separateSet {
		node.SetSeparate(src.Separate)
	}
	if src.duplicatingSet {
		node.Duplicating, node.duplicatingSet = src.Duplicating, true
	}
	if src.ThroughOptions != nil {
		if node.ThroughOptions == nil {
			node.ThroughOptions = &QueryOptions{}
		}
		if err := assignOptions(node.Model.Name, node.ThroughOptions, src.ThroughOptions); err != nil {
			return err
		}
	}
	if src.Model.scoped {
		node.Model = src.Model
	}
	return nil
}
