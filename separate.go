package modelplan

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/schema"
	"gorm.io/modelplan/utils"
)

// findSeparate loads the separate includes of q for parents, one query per include.
// Sibling includes load concurrently, the first failure cancels the others.
func (m *Model) findSeparate(ctx context.Context, parents []*Instance, q *QueryOptions, opts *FindOptions) error {
	if len(parents) == 0 {
		return nil
	}

	var separate, joined []*IncludeNode
	for _, node := range q.Includes() {
		switch {
		case node.Separate:
			separate = append(separate, node)
		case !node.Pseudo && hasSeparate(node):
			joined = append(joined, node)
		}
	}

	results := make([]map[string][]*Instance, len(separate))
	g, gctx := errgroup.WithContext(ctx)
	for idx, node := range separate {
		idx, node := idx, node
		g.Go(func() (err error) {
			results[idx], err = m.loadSeparate(gctx, parents, node, opts)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for idx, node := range separate {
		for _, parent := range parents {
			children := results[idx][utils.ToStringKey(parent.dataValues[node.Association.SourceKey])]
			if children == nil {
				children = []*Instance{}
			}
			parent.associated[node.As] = children
		}
	}

	for _, node := range joined {
		var children []*Instance
		for _, parent := range parents {
			switch v := parent.associated[node.As].(type) {
			case *Instance:
				if v != nil {
					children = append(children, v)
				}
			case []*Instance:
				children = append(children, v...)
			}
		}
		if err := node.Model.findSeparate(ctx, children, &node.QueryOptions, opts); err != nil {
			return err
		}
	}
	return nil
}

func hasSeparate(node *IncludeNode) bool {
	for _, child := range node.Includes() {
		if child.Separate || hasSeparate(child) {
			return true
		}
	}
	return false
}

// loadSeparate fetches the rows of node for parents, grouped by foreign key
func (m *Model) loadSeparate(ctx context.Context, parents []*Instance, node *IncludeNode, opts *FindOptions) (map[string][]*Instance, error) {
	association := node.Association
	grouped := map[string][]*Instance{}

	var (
		values []interface{}
		seen   = map[string]bool{}
	)
	for _, parent := range parents {
		value := parent.dataValues[association.SourceKey]
		if value == nil {
			continue
		}
		if key := utils.ToStringKey(value); !seen[key] {
			seen[key] = true
			values = append(values, value)
		}
	}
	if len(values) == 0 {
		return grouped, nil
	}

	target := node.Model
	foreignKey := target.FieldName(association.ForeignKey)
	child := &FindOptions{
		QueryOptions: node.QueryOptions.clone(),
		IncludePlan:  node.IncludePlan.clone(),
		HasJoin:      len(node.Include) > 0,
		SkipHooks:    opts.SkipHooks,
		Model:        target,
		TableNames:   includeTableNames(node),
	}
	child.SubQuery = schema.Bool(child.Limit > 0 && child.HasDuplicating)

	if child.Limit > 0 && len(values) > 1 {
		child.GroupedLimit = &GroupedLimit{Limit: child.Limit, On: foreignKey, Values: values}
		child.Limit = 0
	} else {
		child.Where = clause.CombineWheresWithAnd(clause.IN{Column: foreignKey, Values: values}, child.Where)
	}

	instances, err := target.findResolved(ctx, child)
	if err != nil {
		return nil, err
	}
	for _, instance := range instances {
		key := utils.ToStringKey(instance.dataValues[association.ForeignKey])
		grouped[key] = append(grouped[key], instance)
	}
	return grouped, nil
}

func includeTableNames(node *IncludeNode) []string {
	tables := map[string]bool{}
	var walk func(*IncludeNode)
	walk = func(n *IncludeNode) {
		tables[n.Model.TableName()] = true
		for _, child := range n.Includes() {
			if !child.Separate {
				walk(child)
			}
		}
	}
	walk(node)

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
