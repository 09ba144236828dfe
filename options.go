package modelplan

import (
	"fmt"
	"reflect"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/schema"
	"gorm.io/modelplan/utils"
)

// Attributes selects attributes by name. Names lists them explicitly; when Names is nil
// Exclude and Include adjust the full attribute list of the model.
type Attributes struct {
	Names   []string
	Exclude []string
	Include []string
}

// Select returns an explicit attribute list
func Select(names ...string) *Attributes {
	return &Attributes{Names: names}
}

func (attrs *Attributes) clone() *Attributes {
	if attrs == nil {
		return nil
	}
	return &Attributes{
		Names:   cloneStrings(attrs.Names),
		Exclude: cloneStrings(attrs.Exclude),
		Include: cloneStrings(attrs.Include),
	}
}

// QueryOptions options shared by finders, includes and scopes
type QueryOptions struct {
	Where      clause.Expression
	Having     clause.Expression
	Attributes *Attributes
	// Include holds Include values, every element is an *IncludeNode once conformed
	Include  []Include
	Order    []clause.OrderByColumn
	Group    []string
	Limit    int
	Offset   int
	Paranoid *bool
	// SubQuery forces the subquery strategy on or off, it is always set once resolved
	SubQuery      *bool
	GetterMethods map[string]interface{}
	SetterMethods map[string]interface{}
}

// ScopeFunc builds a scope from the arguments of a {method, args} scope reference
type ScopeFunc func(args ...interface{}) QueryOptions

// ScopeCall references a scope function with its arguments
type ScopeCall struct {
	Method string
	Args   []interface{}
}

// IncludePlan flags and lookups derived from an include list
type IncludePlan struct {
	IncludeNames         []string
	IncludeMap           map[string]*IncludeNode
	Columns              []clause.Column
	TopLimit             int
	HasDuplicating       bool
	HasRequired          bool
	HasWhere             bool
	HasMultiAssociation  bool
	HasSingleAssociation bool
	HasIncludeWhere      bool
	HasIncludeRequired   bool
}

// GroupedLimit applies Limit per value of On, used to load a limited HasMany of many parents
type GroupedLimit struct {
	Limit  int
	On     string
	Values []interface{}
}

// FindOptions finder options, resolved in place by the find pipeline
type FindOptions struct {
	QueryOptions
	IncludePlan

	Raw   bool
	Plain bool
	// RejectOnEmpty is nil (model default), a bool, an error or a func() error
	RejectOnEmpty interface{}
	SkipHooks     bool
	Distinct      bool
	CountColumn   string
	GroupedLimit  *GroupedLimit

	HasJoin            bool
	TableNames         []string
	OriginalAttributes []string
	Model              *Model

	// includes as the caller passed them, reused by Instance.Reload
	userInclude []Include
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}

func (q QueryOptions) clone() QueryOptions {
	cloned := q
	cloned.Attributes = q.Attributes.clone()
	cloned.Group = cloneStrings(q.Group)
	if q.Order != nil {
		cloned.Order = append([]clause.OrderByColumn(nil), q.Order...)
	}
	cloned.Include = cloneIncludes(q.Include)
	cloned.GetterMethods = cloneMap(q.GetterMethods)
	cloned.SetterMethods = cloneMap(q.SetterMethods)
	return cloned
}

func cloneIncludes(includes []Include) []Include {
	if includes == nil {
		return nil
	}
	cloned := make([]Include, len(includes))
	for idx, include := range includes {
		cloned[idx] = cloneInclude(include)
	}
	return cloned
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	cloned := make(map[string]interface{}, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

func (plan IncludePlan) clone() IncludePlan {
	cloned := plan
	cloned.IncludeNames = cloneStrings(plan.IncludeNames)
	if plan.IncludeMap != nil {
		cloned.IncludeMap = make(map[string]*IncludeNode, len(plan.IncludeMap))
		for k, v := range plan.IncludeMap {
			cloned.IncludeMap[k] = v
		}
	}
	if plan.Columns != nil {
		cloned.Columns = append([]clause.Column(nil), plan.Columns...)
	}
	return cloned
}

func (options *FindOptions) clone() *FindOptions {
	if options == nil {
		return &FindOptions{}
	}
	cloned := *options
	cloned.QueryOptions = options.QueryOptions.clone()
	cloned.IncludePlan = options.IncludePlan.clone()
	cloned.TableNames = cloneStrings(options.TableNames)
	cloned.OriginalAttributes = cloneStrings(options.OriginalAttributes)
	cloned.userInclude = cloneIncludes(options.userInclude)
	return &cloned
}

// Includes returns the resolved include nodes
func (q *QueryOptions) Includes() []*IncludeNode {
	nodes := make([]*IncludeNode, 0, len(q.Include))
	for _, include := range q.Include {
		if node, ok := include.(*IncludeNode); ok {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// AttributeNames returns the explicit attribute names, nil when every attribute is selected
func (q *QueryOptions) AttributeNames() []string {
	if q.Attributes == nil {
		return nil
	}
	return q.Attributes.Names
}

// assignOptions merges src into dst, src wins. Includes are combined, where and having
// joined with AND, lists united, and getter/setter methods must agree key by key.
func assignOptions(owner string, dst, src *QueryOptions) error {
	include, err := combineIncludes(dst.Include, src.Include)
	if err != nil {
		return err
	}
	dst.Include = include

	dst.Where = clause.CombineWheresWithAnd(dst.Where, src.Where)
	dst.Having = clause.CombineWheresWithAnd(dst.Having, src.Having)

	// attribute lists only unite when both sides name attributes or both exclude them
	switch {
	case dst.Attributes == nil,
		src.Attributes != nil && (dst.Attributes.Names == nil) != (src.Attributes.Names == nil):
		dst.Attributes = src.Attributes.clone()
	case src.Attributes != nil:
		dst.Attributes = &Attributes{
			Names:   unionNames(dst.Attributes.Names, src.Attributes.Names),
			Exclude: unionNames(dst.Attributes.Exclude, src.Attributes.Exclude),
			Include: unionNames(dst.Attributes.Include, src.Attributes.Include),
		}
	}

	for _, column := range src.Order {
		exists := false
		for _, existing := range dst.Order {
			if reflect.DeepEqual(existing, column) {
				exists = true
				break
			}
		}
		if !exists {
			dst.Order = append(dst.Order, column)
		}
	}
	if len(src.Group) > 0 {
		dst.Group = utils.Union(dst.Group, src.Group...)
	}

	if src.Limit != 0 {
		dst.Limit = src.Limit
	}
	if src.Offset != 0 {
		dst.Offset = src.Offset
	}
	if src.Paranoid != nil {
		dst.Paranoid = src.Paranoid
	}
	if src.SubQuery != nil {
		dst.SubQuery = src.SubQuery
	}

	if dst.GetterMethods, err = mergeMethods(owner, "getterMethods", dst.GetterMethods, src.GetterMethods); err != nil {
		return err
	}
	dst.SetterMethods, err = mergeMethods(owner, "setterMethods", dst.SetterMethods, src.SetterMethods)
	return err
}

// defaultsOptions fills dst from src, dst wins
func defaultsOptions(owner string, dst, src *QueryOptions) error {
	merged := src.clone()
	if err := assignOptions(owner, &merged, dst); err != nil {
		return err
	}
	*dst = merged
	return nil
}

func unionNames(dst, src []string) []string {
	if dst == nil && src == nil {
		return nil
	}
	return utils.Union(dst, src...)
}

func mergeMethods(owner, option string, dst, src map[string]interface{}) (map[string]interface{}, error) {
	if len(src) == 0 {
		return dst, nil
	}
	merged := cloneMap(dst)
	if merged == nil {
		merged = make(map[string]interface{}, len(src))
	}
	for key, value := range src {
		if existing, ok := merged[key]; ok && !utils.AssertEqual(existing, value) {
			return nil, fmt.Errorf("%w: scopes of %s set %s[%q] differently", schema.ErrConflictingOption, owner, option, key)
		}
		merged[key] = value
	}
	return merged, nil
}
