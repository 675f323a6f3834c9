package engine

import (
	"encoding/json"
	"strings"

	"flowd/pkg/models"
)

// Operators accepted in step conditions.
const (
	OpEqual        = "="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpIn           = "in"
	OpContains     = "contains"
)

// ConditionOperators lists the valid condition operators.
var ConditionOperators = []string{
	OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpIn, OpContains,
}

// ConditionsMet evaluates a step's conditions against the execution
// context with AND semantics. An unresolvable field path means the
// condition is not satisfied; it never surfaces as an error.
func ConditionsMet(ctx *ExecutionContext, conditions []models.Condition) bool {
	for _, cond := range conditions {
		actual, ok := ctx.Resolve(cond.Field)
		if !ok {
			return false
		}
		if !evaluate(actual, cond.Operator, cond.Value) {
			return false
		}
	}
	return true
}

func evaluate(actual any, operator string, expected any) bool {
	switch operator {
	case OpEqual, "==":
		return equal(actual, expected)
	case OpNotEqual:
		return !equal(actual, expected)
	case OpGreater:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a > b })
	case OpLess:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a < b })
	case OpGreaterEqual:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a >= b })
	case OpLessEqual:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a <= b })
	case OpIn:
		members, ok := expected.([]any)
		if !ok {
			return false
		}
		for _, m := range members {
			if equal(actual, m) {
				return true
			}
		}
		return false
	case OpContains:
		return contains(actual, expected)
	default:
		return false
	}
}

// equal compares primitives, treating all numeric types as float64 the way
// JSON decoding produces them.
func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

func compareNumeric(a, b any, cmp func(a, b float64) bool) bool {
	fa, ok := toFloat(a)
	if !ok {
		return false
	}
	fb, ok := toFloat(b)
	if !ok {
		return false
	}
	return cmp(fa, fb)
}

// contains is substring match on strings and membership on arrays.
func contains(actual, expected any) bool {
	switch av := actual.(type) {
	case string:
		ev, ok := expected.(string)
		return ok && strings.Contains(av, ev)
	case []any:
		for _, item := range av {
			if equal(item, expected) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
