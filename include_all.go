package modelplan

import (
	"fmt"
	"reflect"

	"gorm.io/modelplan/schema"
)

var includeAllGroups = map[string][]schema.AssociationType{
	"BelongsTo": {schema.BelongsTo},
	"HasOne":    {schema.HasOne},
	"HasMany":   {schema.HasMany},
	"One":       {schema.BelongsTo, schema.HasOne},
	"Has":       {schema.HasOne, schema.HasMany},
	"Many":      {schema.HasMany},
}

// normalizeIncludes conforms and expands the includes of q
func (db *DB) normalizeIncludes(q *QueryOptions, owner *Model) error {
	if err := db.conformIncludes(q, owner); err != nil {
		return err
	}
	return db.expandIncludeAll(q, owner)
}

// expandIncludeAll replaces every wildcard of q by the matching associations of owner
// and recurses into the resolved includes
func (db *DB) expandIncludeAll(q *QueryOptions, owner *Model) error {
	if len(q.Include) == 0 {
		return nil
	}

	includes := make([]Include, 0, len(q.Include))
	var wildcards []Include
	for _, include := range q.Include {
		if isWildcard(include) {
			wildcards = append(wildcards, include)
		} else {
			includes = append(includes, include)
		}
	}

	for _, wildcard := range wildcards {
		var err error
		if includes, err = db.expandIncludeAllElement(includes, wildcard, owner); err != nil {
			return err
		}
	}
	q.Include = includes

	for _, include := range q.Include {
		if node, ok := include.(*IncludeNode); ok && !node.Pseudo {
			if err := db.expandIncludeAll(&node.QueryOptions, node.Model); err != nil {
				return err
			}
		}
	}
	return nil
}

func (db *DB) expandIncludeAllElement(includes []Include, wildcard Include, owner *Model) ([]Include, error) {
	var all IncludeAll
	switch v := wildcard.(type) {
	case IncludeAll:
		all = v
	case *IncludeOptions:
		rest := *v
		rest.All = nil
		if !reflect.ValueOf(rest).IsZero() {
			return nil, fmt.Errorf("%w: \"include all\" on %s allows nested only, select includes one by one to set more options", ErrUnsafeIncludeAll, owner.Name)
		}
		all = *v.All
	}

	kinds, err := includeAllKinds(all.Kinds)
	if err != nil {
		return nil, err
	}

	var (
		visited        []*schema.Model
		addAllIncludes func(parent *Model, includes []Include) ([]Include, error)
	)

	addAllIncludes = func(parent *Model, includes []Include) ([]Include, error) {
		for _, name := range parent.AssociationNames {
			association := parent.Associations[name]
			if kinds != nil && !kinds[association.Type] {
				continue
			}

			// the through association of a BelongsToMany is replaced by its parent when generating SQL
			if association.IsPseudo() {
				continue
			}

			if includesAssociation(includes, association) {
				continue
			}

			if all.Nested && containsModel(visited, association.Target) {
				continue
			}

			conformed, err := db.conformInclude(IncludeAssociation{Association: association}, parent)
			if err != nil {
				return nil, err
			}
			node := conformed.(*IncludeNode)
			includes = append(includes, node)

			if all.Nested {
				visited = append(visited, parent.Model)
				subIncludes, err := addAllIncludes(node.Model, nil)
				visited = visited[:len(visited)-1]
				if err != nil {
					return nil, err
				}

				if len(subIncludes) > 0 {
					node.Include = subIncludes
				}
			}
		}
		return includes, nil
	}

	return addAllIncludes(owner, includes)
}

// includeAllKinds reduces the requested kinds to a set of association types, nil meaning all
func includeAllKinds(requested []string) (map[schema.AssociationType]bool, error) {
	if len(requested) == 0 {
		return nil, nil
	}

	kinds := map[schema.AssociationType]bool{}
	for _, kind := range requested {
		if kind == "All" {
			return nil, nil
		}

		types, ok := includeAllGroups[kind]
		if !ok {
			return nil, fmt.Errorf("%w: include all %q is not valid, must be BelongsTo, HasOne, HasMany, One, Has, Many or All", ErrInvalidInclude, kind)
		}
		for _, typ := range types {
			kinds[typ] = true
		}
	}
	return kinds, nil
}

func includesAssociation(includes []Include, association *schema.Association) bool {
	for _, include := range includes {
		if node, ok := include.(*IncludeNode); ok && node.Association == association {
			return true
		}
	}
	return false
}

func containsModel(models []*schema.Model, model *schema.Model) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
