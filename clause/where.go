package clause

import (
	"strings"
)

// Where where clause, its expressions are joined with AND
type Where struct {
	Exprs []Expression
}

// Name where clause name
func (where Where) Name() string {
	return "WHERE"
}

// Build writes the expressions joined with AND, a leading lone OR trades places with
// the first expression that is not one
func (where Where) Build(builder Builder) {
	exprs := where.Exprs
	for idx, expr := range exprs {
		if !isLoneOr(expr) {
			if idx > 0 {
				exprs = append([]Expression(nil), exprs...)
				exprs[0], exprs[idx] = exprs[idx], exprs[0]
			}
			break
		}
	}
	joinExprs(builder, exprs, " AND ")
}

func isLoneOr(expr Expression) bool {
	or, ok := expr.(OrConditions)
	return ok && len(or.Exprs) == 1
}

// compound reports raw SQL that needs parentheses next to a sibling
func compound(expr Expression) bool {
	switch v := expr.(type) {
	case Expr:
		sql := strings.ToLower(v.SQL)
		return strings.Contains(sql, "and") || strings.Contains(sql, "or")
	case OrConditions:
		return len(v.Exprs) == 1 && compound(rawOnly(v.Exprs[0]))
	case AndConditions:
		return len(v.Exprs) == 1 && compound(rawOnly(v.Exprs[0]))
	case Map:
		return len(v) > 1
	}
	return false
}

// rawOnly keeps expr when it is raw SQL
func rawOnly(expr Expression) Expression {
	if e, ok := expr.(Expr); ok {
		return e
	}
	return nil
}

func joinExprs(builder Builder, exprs []Expression, sep string) {
	for idx, expr := range exprs {
		if idx > 0 {
			if isLoneOr(expr) {
				builder.WriteString(" OR ")
			} else {
				builder.WriteString(sep)
			}
		}

		if len(exprs) > 1 && compound(expr) {
			builder.WriteByte('(')
			expr.Build(builder)
			builder.WriteByte(')')
			continue
		}
		expr.Build(builder)
	}
}

// group writes exprs joined with sep, in parentheses when there is more than one
func group(builder Builder, exprs []Expression, sep string) {
	if len(exprs) > 1 {
		builder.WriteByte('(')
		defer builder.WriteByte(')')
	}
	joinExprs(builder, exprs, sep)
}

// And joins exprs with AND, a single operand that is not an OR is returned as is
func And(exprs ...Expression) Expression {
	switch {
	case len(exprs) == 0:
		return nil
	case len(exprs) == 1:
		if _, ok := exprs[0].(OrConditions); !ok {
			return exprs[0]
		}
	}
	return AndConditions{Exprs: exprs}
}

// AndConditions expressions joined with AND
type AndConditions struct {
	Exprs []Expression
}

func (and AndConditions) Build(builder Builder) {
	group(builder, and.Exprs, " AND ")
}

// Or joins exprs with OR
func Or(exprs ...Expression) Expression {
	if len(exprs) == 0 {
		return nil
	}
	return OrConditions{Exprs: exprs}
}

// OrConditions expressions joined with OR
type OrConditions struct {
	Exprs []Expression
}

func (or OrConditions) Build(builder Builder) {
	group(builder, or.Exprs, " OR ")
}

// Not negates each of exprs, the negations are joined with AND
func Not(exprs ...Expression) Expression {
	if len(exprs) == 0 {
		return nil
	}
	return NotConditions{Exprs: exprs}
}

// NotConditions negated expressions
type NotConditions struct {
	Exprs []Expression
}

func (not NotConditions) Build(builder Builder) {
	if len(not.Exprs) > 1 {
		builder.WriteByte('(')
		defer builder.WriteByte(')')
	}

	for idx, expr := range not.Exprs {
		if idx > 0 {
			builder.WriteString(" AND ")
		}
		if negation, ok := expr.(NegationExpressionBuilder); ok {
			negation.NegationBuild(builder)
			continue
		}

		builder.WriteString("NOT ")
		if _, raw := expr.(Expr); raw && compound(expr) {
			builder.WriteByte('(')
			expr.Build(builder)
			builder.WriteByte(')')
		} else {
			expr.Build(builder)
		}
	}
}

// IsEmpty reports whether the expression filters nothing
func IsEmpty(expr Expression) bool {
	switch v := expr.(type) {
	case nil:
		return true
	case AndConditions:
		return len(v.Exprs) == 0
	case Where:
		return len(v.Exprs) == 0
	case Map:
		return len(v) == 0
	}
	return false
}

// unpackAnd returns the operands of a lone AND, the expression itself otherwise.
// An empty expression unpacks to nil.
func unpackAnd(expr Expression) []Expression {
	if IsEmpty(expr) {
		return nil
	}

	switch v := expr.(type) {
	case AndConditions:
		return v.Exprs
	case Where:
		return v.Exprs
	}
	return []Expression{expr}
}

// CombineWheresWithAnd joins two where expressions with AND, splicing the operands of
// a lone AND on either side instead of nesting it. An empty side returns the other one.
func CombineWheresWithAnd(a, b Expression) Expression {
	unpackedA := unpackAnd(a)
	if len(unpackedA) == 0 {
		return b
	}

	unpackedB := unpackAnd(b)
	if len(unpackedB) == 0 {
		return a
	}

	exprs := make([]Expression, 0, len(unpackedA)+len(unpackedB))
	exprs = append(exprs, unpackedA...)
	exprs = append(exprs, unpackedB...)
	return AndConditions{Exprs: exprs}
}
