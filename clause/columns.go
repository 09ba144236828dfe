package clause

// MapColumns returns a copy of expr with every unqualified column renamed by fc.
// Columns carrying a table, and raw expressions, are left untouched.
func MapColumns(expr Expression, fc func(name string) string) Expression {
	mapColumn := func(column interface{}) interface{} {
		switch v := column.(type) {
		case string:
			return fc(v)
		case Column:
			if v.Table == "" && !v.Raw {
				v.Name = fc(v.Name)
			}
			return v
		}
		return column
	}

	mapExprs := func(exprs []Expression) []Expression {
		if exprs == nil {
			return nil
		}
		results := make([]Expression, len(exprs))
		for idx, e := range exprs {
			results[idx] = MapColumns(e, fc)
		}
		return results
	}

	switch v := expr.(type) {
	case Eq:
		return Eq{Column: mapColumn(v.Column), Value: v.Value}
	case Neq:
		return Neq{Column: mapColumn(v.Column), Value: v.Value}
	case Gt:
		return Gt{Column: mapColumn(v.Column), Value: v.Value}
	case Gte:
		return Gte{Column: mapColumn(v.Column), Value: v.Value}
	case Lt:
		return Lt{Column: mapColumn(v.Column), Value: v.Value}
	case Lte:
		return Lte{Column: mapColumn(v.Column), Value: v.Value}
	case Like:
		return Like{Column: mapColumn(v.Column), Value: v.Value}
	case IN:
		return IN{Column: mapColumn(v.Column), Values: v.Values}
	case Map:
		m := make(Map, len(v))
		for key, value := range v {
			m[fc(key)] = value
		}
		return m
	case AndConditions:
		return AndConditions{Exprs: mapExprs(v.Exprs)}
	case OrConditions:
		return OrConditions{Exprs: mapExprs(v.Exprs)}
	case NotConditions:
		return NotConditions{Exprs: mapExprs(v.Exprs)}
	case Where:
		return Where{Exprs: mapExprs(v.Exprs)}
	}
	return expr
}

// Columns lists the column names referenced anywhere in expr, in first-seen order
func Columns(expr Expression) []string {
	var (
		names []string
		seen  = map[string]bool{}
		add   = func(column interface{}) {
			if name := columnName(column); name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		walk func(Expression)
	)

	walk = func(expr Expression) {
		switch v := expr.(type) {
		case Eq:
			add(v.Column)
		case Neq:
			add(v.Column)
		case Gt:
			add(v.Column)
		case Gte:
			add(v.Column)
		case Lt:
			add(v.Column)
		case Lte:
			add(v.Column)
		case Like:
			add(v.Column)
		case IN:
			add(v.Column)
		case Map:
			for _, key := range v.Keys() {
				add(key)
			}
		case AndConditions:
			for _, e := range v.Exprs {
				walk(e)
			}
		case OrConditions:
			for _, e := range v.Exprs {
				walk(e)
			}
		case NotConditions:
			for _, e := range v.Exprs {
				walk(e)
			}
		case Where:
			for _, e := range v.Exprs {
				walk(e)
			}
		}
	}

	walk(expr)
	return names
}

// Equalities collects column = value pairs that must hold for expr to match,
// looking through AND nesting only.
func Equalities(expr Expression) map[string]interface{} {
	results := map[string]interface{}{}

	var walk func(Expression)
	walk = func(expr Expression) {
		switch v := expr.(type) {
		case Eq:
			if name := columnName(v.Column); name != "" {
				results[name] = v.Value
			}
		case Map:
			for key, value := range v {
				if _, ok := value.([]interface{}); !ok {
					results[columnName(key)] = value
				}
			}
		case AndConditions:
			for _, e := range v.Exprs {
				walk(e)
			}
		case Where:
			for _, e := range v.Exprs {
				walk(e)
			}
		}
	}

	walk(expr)
	return results
}
