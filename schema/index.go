package schema

import "strings"

// UniqueKey a (possibly composite) unique constraint, Fields are physical columns
type UniqueKey struct {
	Name   string
	Fields []string
}

// Index model index, Fields are physical columns
type Index struct {
	Name   string
	Fields []string
	Unique bool
}

// parseIndexes collects unique keys and indexes from attribute memberships and model options
func (model *Model) parseIndexes() {
	indexes := map[string]*Index{}
	addIndex := func(name string, unique bool, fields ...string) {
		idx, ok := indexes[name]
		if !ok {
			idx = &Index{Name: name, Unique: unique}
			indexes[name] = idx
			model.Indexes = append(model.Indexes, idx)
		}
		idx.Unique = idx.Unique || unique
		idx.Fields = append(idx.Fields, fields...)
	}

	for _, name := range model.AttributeNames {
		attr := model.Attributes[name]
		for _, keyName := range attr.Unique {
			if keyName == "" {
				keyName = strings.Join([]string{model.Table, attr.Field, "unique"}, "_")
			}
			key, ok := model.UniqueKeys[keyName]
			if !ok {
				key = &UniqueKey{Name: keyName}
				model.UniqueKeys[keyName] = key
			}
			key.Fields = append(key.Fields, attr.Field)
			addIndex(keyName, true, attr.Field)
		}

		for _, indexName := range attr.Index {
			if indexName == "" {
				indexName = model.registry.namer.IndexName(model.Table, attr.Field)
			}
			addIndex(indexName, false, attr.Field)
		}
	}

	for _, option := range model.Options.Indexes {
		fields := make([]string, 0, len(option.Fields))
		for _, name := range option.Fields {
			fields = append(fields, model.FieldName(name))
		}

		name := option.Name
		if name == "" {
			name = model.registry.namer.IndexName(model.Table, strings.Join(fields, "_"))
		}
		if option.Unique {
			model.UniqueKeys[name] = &UniqueKey{Name: name, Fields: fields}
		}
		addIndex(name, option.Unique, fields...)
	}
}

// UniqueKeyColumns unique key name to columns, the shape error translators consume
func (model *Model) UniqueKeyColumns() map[string][]string {
	keys := make(map[string][]string, len(model.UniqueKeys))
	for name, key := range model.UniqueKeys {
		keys[name] = key.Fields
	}
	return keys
}
