package modelplan

import (
	"fmt"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/schema"
	"gorm.io/modelplan/utils"
)

// includeLevel is a query or an include whose include list gets validated
type includeLevel struct {
	model *Model
	query *QueryOptions
	plan  *IncludePlan
	// node is nil for the top level query
	node *IncludeNode
	raw  bool
}

func (lvl includeLevel) top() bool {
	return lvl.node == nil
}

// validateIncludedElements resolves each include of lvl, derives its flags and decides
// the subquery strategy
func (db *DB) validateIncludedElements(lvl includeLevel, tableNames map[string]bool) error {
	q, plan := lvl.query, lvl.plan

	plan.IncludeNames = nil
	plan.IncludeMap = map[string]*IncludeNode{}
	plan.HasSingleAssociation = false
	plan.HasMultiAssociation = false

	if lvl.top() {
		plan.TopLimit = q.Limit
	}

	for idx, include := range q.Include {
		conformed, err := db.conformInclude(include, lvl.model)
		if err != nil {
			return err
		}
		node, ok := conformed.(*IncludeNode)
		if !ok {
			return fmt.Errorf("%w: include all of %s was not expanded", ErrInvalidInclude, lvl.model.Name)
		}

		node.Parent = lvl.node
		node.TopLimit = plan.TopLimit

		if err := db.validateIncludedElement(node, tableNames, lvl); err != nil {
			return err
		}

		if !node.duplicatingSet {
			node.Duplicating = node.Association.IsMultiAssociation()
		}

		node.HasDuplicating = node.HasDuplicating || node.Duplicating
		node.HasRequired = node.HasRequired || node.Required

		plan.HasDuplicating = plan.HasDuplicating || node.HasDuplicating
		plan.HasRequired = plan.HasRequired || node.Required
		plan.HasWhere = plan.HasWhere || node.HasWhere || node.Where != nil

		q.Include[idx] = node
	}

	var hasParentWhere, hasParentRequired, required bool
	if lvl.node != nil {
		hasParentWhere, hasParentRequired, required = lvl.node.HasParentWhere, lvl.node.HasParentRequired, lvl.node.Required
	}

	for _, node := range q.Includes() {
		node.HasParentWhere = hasParentWhere || q.Where != nil
		node.HasParentRequired = hasParentRequired || required

		subQuery := node.SubQuery != nil && *node.SubQuery
		explicitNoSubQuery := node.SubQuery != nil && !*node.SubQuery

		if !explicitNoSubQuery && plan.HasDuplicating && plan.TopLimit > 0 {
			if node.Duplicating {
				node.SubQueryFilter = node.HasRequired
			} else {
				subQuery = node.HasRequired
				node.SubQueryFilter = false
			}
		} else if node.Duplicating {
			node.SubQueryFilter = subQuery
		} else {
			node.SubQueryFilter = false
			subQuery = subQuery || (node.HasParentRequired && node.HasRequired && !node.Separate)
		}
		node.SubQuery = &subQuery

		plan.IncludeMap[node.As] = node
		plan.IncludeNames = append(plan.IncludeNames, node.As)

		if lvl.top() && q.SubQuery == nil && plan.TopLimit > 0 {
			if subQuery {
				q.SubQuery = schema.Bool(true)
			} else if node.HasDuplicating {
				q.SubQuery = schema.Bool(true)
			}
		}

		plan.HasIncludeWhere = plan.HasIncludeWhere || node.HasIncludeWhere || node.Where != nil
		plan.HasIncludeRequired = plan.HasIncludeRequired || node.HasIncludeRequired || node.Required

		if node.Association.IsMultiAssociation() || node.HasMultiAssociation {
			plan.HasMultiAssociation = true
		}
		if node.Association.IsSingleAssociation() || node.HasSingleAssociation {
			plan.HasSingleAssociation = true
		}
	}

	if lvl.top() && q.SubQuery == nil {
		q.SubQuery = schema.Bool(false)
	}
	return nil
}

func (db *DB) validateIncludedElement(node *IncludeNode, tableNames map[string]bool, parent includeLevel) error {
	tableNames[node.Model.TableName()] = true

	if node.Attributes != nil && !parent.raw {
		node.Model.expandAttributes(&node.QueryOptions)
		if names := node.Attributes.Names; len(names) > 0 {
			node.Attributes.Names = withPrimaryKeys(node.Model, names)
		}
	}
	node.Columns = mapFinderOptions(&node.QueryOptions, node.Model)

	// the through include only needs its attributes
	if node.Pseudo {
		if node.Attributes == nil {
			node.Attributes = Select(node.Model.AttributeNames...)
		}
		node.Columns = mapFinderOptions(&node.QueryOptions, node.Model)
		return nil
	}

	association := node.Association
	if node.As == "" {
		node.As = association.As
	}

	if association.Type == schema.BelongsToMany {
		through := &IncludeNode{
			Model:       db.mustModel(association.Through),
			As:          association.Through.Name,
			Association: association.FromSourceToThroughOne,
			Pseudo:      true,
			Parent:      node,
		}
		if node.ThroughOptions != nil {
			through.QueryOptions = node.ThroughOptions.clone()
		}
		through.Where = clause.CombineWheresWithAnd(through.Where, association.ThroughScope)

		// a node validated before already carries its through include
		includes := node.Include[:0:0]
		for _, include := range node.Include {
			if n, ok := include.(*IncludeNode); !ok || !n.Pseudo || n.Association != association.FromSourceToThroughOne {
				includes = append(includes, include)
			}
		}

		node.Through = through
		node.Include = append(includes, through)
		tableNames[through.Model.TableName()] = true
	}

	// a scoped model keeps its scope, otherwise take the side of the association the model stands for
	scopeModel := node.Model
	if !node.Model.scoped {
		if association.Target.Name == node.Model.Name {
			scopeModel = db.mustModel(association.Target)
		} else {
			scopeModel = db.mustModel(association.Source)
		}
	}
	if err := scopeModel.injectScope(&node.QueryOptions); err != nil {
		return err
	}

	if node.Attributes == nil {
		node.Attributes = Select(node.Model.AttributeNames...)
	}
	node.Columns = mapFinderOptions(&node.QueryOptions, node.Model)

	if !node.requiredSet {
		node.Required = node.Where != nil
	}

	if association.Scope != nil {
		node.Where = clause.CombineWheresWithAnd(node.Where, association.Scope)
	}

	if node.Limit > 0 && !node.separateSet {
		node.Separate = true
	}

	if node.Separate {
		if association.Type != schema.HasMany {
			return fmt.Errorf("%w: %s is a %s association", ErrSeparateNotHasMany, association, association.Type)
		}

		node.Duplicating, node.duplicatingSet = false, true

		if names := parent.query.AttributeNames(); len(names) > 0 && !utils.Contains(names, association.SourceKey) {
			parent.query.Attributes.Names = append(names, association.SourceKey)
			parent.plan.Columns = mapFinderOptions(parent.query, parent.model)
		}
		if names := node.AttributeNames(); len(names) > 0 && !utils.Contains(names, association.ForeignKey) {
			node.Attributes.Names = append(names, association.ForeignKey)
		}
	}

	if len(node.Include) > 0 {
		if err := db.validateIncludedElements(includeLevel{
			model: node.Model,
			query: &node.QueryOptions,
			plan:  &node.IncludePlan,
			node:  node,
			raw:   parent.raw,
		}, tableNames); err != nil {
			return err
		}
	}

	node.Columns = mapFinderOptions(&node.QueryOptions, node.Model)
	return nil
}

// withPrimaryKeys puts the missing primary keys of model in front of names
func withPrimaryKeys(model *Model, names []string) []string {
	var missing []string
	for _, pk := range model.PrimaryKeyNames() {
		if !utils.Contains(names, pk) {
			missing = append(missing, pk)
		}
	}
	if len(missing) == 0 {
		return names
	}
	return append(missing, names...)
}
