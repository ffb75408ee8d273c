package blocks

import (
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"golang.org/x/text/cases"
)

// Operator names a decision predicate.
type Operator string

const (
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	// OpExpr evaluates value as a boolean expr-lang expression with "text",
	// "number" and "numeric" in scope.
	OpExpr Operator = "expr"
)

// Evaluate applies op to input and value. It never fails: operands that do
// not parse, unknown operators and broken expressions all evaluate to false.
func Evaluate(input string, op Operator, value string) bool {
	switch op {
	case OpContains:
		return containsFold(input, value)
	case OpNotContains:
		return !containsFold(input, value)
	case OpEquals:
		return strings.TrimSpace(input) == strings.TrimSpace(value)
	case OpNotEquals:
		return strings.TrimSpace(input) != strings.TrimSpace(value)
	case OpGreaterThan, OpLessThan:
		a, okA := parseNumber(input)
		b, okB := parseNumber(value)
		if !okA || !okB {
			return false
		}
		if op == OpGreaterThan {
			return a > b
		}
		return a < b
	case OpExpr:
		return evalExpr(input, value)
	default:
		return false
	}
}

func containsFold(s, substr string) bool {
	fold := cases.Fold()
	return strings.Contains(fold.String(s), fold.String(substr))
}

// parseNumber parses s as a float independent of locale: '.' is the only
// decimal separator and no grouping is accepted.
func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func evalExpr(input, source string) bool {
	n, numeric := parseNumber(input)
	env := map[string]any{
		"text":    input,
		"number":  n,
		"numeric": numeric,
	}
	program, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		return false
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	b, _ := out.(bool)
	return b
}
