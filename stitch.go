package modelplan

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/now"
	"github.com/spf13/cast"

	"gorm.io/modelplan/schema"
	"gorm.io/modelplan/utils"
)

// buildResults turns executor rows into instances. Raw results keep the rows as they are,
// otherwise joined include columns are grouped into nested instances.
func (m *Model) buildResults(rows []map[string]interface{}, opts *FindOptions) []*Instance {
	instances := make([]*Instance, 0, len(rows))
	if opts.Raw {
		for _, row := range rows {
			instance := m.Build(row, BuildOptions{Raw: true, IsNewRecord: schema.Bool(false)})
			instance.raw = true
			instances = append(instances, instance)
		}
		return instances
	}

	records := rows
	if opts.HasJoin && len(opts.IncludeMap) > 0 {
		records = groupJoinData(rows, m, &opts.IncludePlan, opts.HasMultiAssociation)
	}

	for _, record := range records {
		instance := m.instanceOf(record, &opts.IncludePlan)
		instance.include = cloneIncludes(opts.userInclude)
		instances = append(instances, instance)
	}
	return instances
}

// instanceOf builds a persisted instance from a grouped record
func (m *Model) instanceOf(record map[string]interface{}, plan *IncludePlan) *Instance {
	values := make(map[string]interface{}, len(record))
	for key, value := range record {
		if _, ok := plan.IncludeMap[key]; ok {
			continue
		}
		if attr := m.LookUpAttribute(key); attr != nil {
			values[attr.Name] = coerce(attr, value)
		} else {
			values[key] = value
		}
	}

	instance := m.Build(values, BuildOptions{Raw: true, IsNewRecord: schema.Bool(false)})
	for _, name := range plan.IncludeNames {
		node := plan.IncludeMap[name]
		if node.Separate {
			continue
		}

		switch v := record[name].(type) {
		case map[string]interface{}:
			instance.associated[name] = node.Model.instanceOf(v, &node.IncludePlan)
		case []map[string]interface{}:
			children := make([]*Instance, 0, len(v))
			for _, child := range v {
				children = append(children, node.Model.instanceOf(child, &node.IncludePlan))
			}
			instance.associated[name] = children
		default:
			if node.Association.IsSingleAssociation() {
				instance.associated[name] = (*Instance)(nil)
			} else {
				instance.associated[name] = []*Instance{}
			}
		}
	}
	return instance
}

// groupJoinData groups flat joined rows into nested records. Include columns are keyed
// "alias.attribute" and "alias->nested.attribute"; records are identified by their
// primary keys, every row is its own top level record unless checkExisting is set.
func groupJoinData(rows []map[string]interface{}, model *Model, plan *IncludePlan, checkExisting bool) []map[string]interface{} {
	var (
		results []map[string]interface{}
		index   = map[string]map[string]interface{}{}
	)

	for rowIdx, row := range rows {
		groups := map[string]map[string]interface{}{"": {}}
		for key, value := range row {
			path, attr := "", key
			if idx := strings.LastIndex(key, "."); idx > 0 {
				path, attr = key[:idx], key[idx+1:]
			}
			if _, ok := groups[path]; !ok {
				groups[path] = map[string]interface{}{}
			}
			groups[path][attr] = value
		}

		topKey := "#" + strconv.Itoa(rowIdx)
		if checkExisting {
			topKey = recordKey(model, groups[""])
		}
		top, ok := index[topKey]
		if !ok {
			top = groups[""]
			index[topKey] = top
			results = append(results, top)
		}

		paths := make([]string, 0, len(groups))
		for path := range groups {
			if path != "" {
				paths = append(paths, path)
			}
		}
		sort.Slice(paths, func(i, j int) bool {
			di, dj := strings.Count(paths[i], "->"), strings.Count(paths[j], "->")
			if di != dj {
				return di < dj
			}
			return paths[i] < paths[j]
		})

		records := map[string]map[string]interface{}{"": top}
		keys := map[string]string{"": topKey}
		for _, path := range paths {
			parts := strings.Split(path, "->")
			parentPath := strings.Join(parts[:len(parts)-1], "->")
			parent := records[parentPath]
			node := lookupIncludeNode(plan, parts)
			if parent == nil || node == nil {
				continue
			}

			alias, values := parts[len(parts)-1], groups[path]
			single := node.Association.IsSingleAssociation()
			if allNil(values) {
				if _, ok := parent[alias]; !ok {
					if single {
						parent[alias] = nil
					} else {
						parent[alias] = []map[string]interface{}{}
					}
				}
				continue
			}

			key := keys[parentPath] + "|" + path + "|" + recordKey(node.Model, values)
			record, ok := index[key]
			if !ok {
				record = values
				index[key] = record
				if single {
					parent[alias] = record
				} else {
					list, _ := parent[alias].([]map[string]interface{})
					parent[alias] = append(list, record)
				}
			}
			records[path], keys[path] = record, key
		}
	}
	return results
}

func lookupIncludeNode(plan *IncludePlan, parts []string) *IncludeNode {
	var node *IncludeNode
	for _, part := range parts {
		if plan == nil {
			return nil
		}
		if node = plan.IncludeMap[part]; node == nil {
			return nil
		}
		plan = &node.IncludePlan
	}
	return node
}

// recordKey identifies a record by its primary keys, by all of its values without them
func recordKey(model *Model, values map[string]interface{}) string {
	names := model.PrimaryKeyNames()
	if len(names) == 0 {
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	keys := make([]interface{}, 0, len(names))
	for _, name := range names {
		value, ok := values[name]
		if !ok {
			if attr := model.Attributes[name]; attr != nil {
				value = values[attr.Field]
			}
		}
		keys = append(keys, value)
	}
	return utils.ToStringKey(keys...)
}

func allNil(values map[string]interface{}) bool {
	for _, value := range values {
		if value != nil {
			return false
		}
	}
	return true
}

// coerce converts a driver value to the type of attr, values that do not convert are kept
func coerce(attr *schema.Attribute, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	if b, ok := value.([]byte); ok && attr.Type != schema.Bytes {
		value = string(b)
	}

	var (
		result interface{}
		err    error
	)
	switch attr.Type {
	case schema.Int, schema.BigInt:
		result, err = cast.ToInt64E(value)
	case schema.Float:
		result, err = cast.ToFloat64E(value)
	case schema.Boolean:
		result, err = cast.ToBoolE(value)
	case schema.Time:
		switch v := value.(type) {
		case time.Time:
			return v
		case string:
			result, err = now.Parse(v)
		default:
			return value
		}
	default:
		return value
	}

	if err != nil {
		return value
	}
	return result
}
