package rules

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Condition is a single predicate over a dotted context path. BoolJoin
// combines this condition's result with the running fold ("AND"/"OR");
// the first condition's join is ignored.
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
	BoolJoin string      `json:"boolean_join,omitempty"`
}

// EvaluateConditions folds the conditions left-to-right, joining each result
// with the previous accumulator using the current condition's BoolJoin.
// This exact left-fold order is load-bearing: downstream rule definitions
// were authored against it and mixed AND/OR chains are not re-grouped.
// An empty condition list matches.
func EvaluateConditions(conds []Condition, ec EvaluationContext) bool {
	if len(conds) == 0 {
		return true
	}
	result := evalCondition(conds[0], ec)
	for _, cond := range conds[1:] {
		matched := evalCondition(cond, ec)
		if strings.EqualFold(cond.BoolJoin, "OR") {
			result = result || matched
		} else {
			result = result && matched
		}
	}
	return result
}

// knownOperators lists every operator evalCondition understands. Write-time
// validation rejects the rest so typos surface at save, not silently as
// never-firing rules.
var knownOperators = map[string]bool{
	"exists": true, "not_exists": true,
	"eq": true, "==": true, "=": true,
	"neq": true, "!=": true,
	"gt": true, ">": true,
	"gte": true, ">=": true,
	"lt": true, "<": true,
	"lte": true, "<=": true,
	"contains": true, "not_contains": true,
	"in": true, "not_in": true,
}

// KnownOperator reports whether the operator is understood by evaluation.
func KnownOperator(op string) bool {
	return knownOperators[strings.ToLower(op)]
}

// evalCondition evaluates one condition against the context. Absent fields
// and unknown operators fail closed (non-match); unknown operators are also
// logged so misconfigured rules are visible without aborting the batch.
func evalCondition(cond Condition, ec EvaluationContext) bool {
	actual, present := ec.Lookup(cond.Field)

	switch strings.ToLower(cond.Operator) {
	case "exists":
		return present
	case "not_exists":
		return !present
	}

	if !present {
		return false
	}

	switch strings.ToLower(cond.Operator) {
	case "eq", "==", "=":
		return compareEqual(actual, cond.Value)
	case "neq", "!=":
		return !compareEqual(actual, cond.Value)
	case "gt", ">":
		return compareNumeric(actual, cond.Value, func(a, b float64) bool { return a > b })
	case "gte", ">=":
		return compareNumeric(actual, cond.Value, func(a, b float64) bool { return a >= b })
	case "lt", "<":
		return compareNumeric(actual, cond.Value, func(a, b float64) bool { return a < b })
	case "lte", "<=":
		return compareNumeric(actual, cond.Value, func(a, b float64) bool { return a <= b })
	case "contains":
		return strings.Contains(asString(actual), asString(cond.Value))
	case "not_contains":
		return !strings.Contains(asString(actual), asString(cond.Value))
	case "in":
		return inList(actual, cond.Value)
	case "not_in":
		return !inList(actual, cond.Value)
	default:
		slog.Warn("Unknown condition operator, treating as non-match",
			"operator", cond.Operator,
			"field", cond.Field,
		)
		return false
	}
}

// compareEqual compares numerically when both sides are numeric, otherwise
// by string form. JSON decoding yields float64 for numbers, so numeric
// comparison avoids 80 != 80.0 surprises.
func compareEqual(a, b interface{}) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return asString(a) == asString(b)
}

func compareNumeric(a, b interface{}, cmp func(a, b float64) bool) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		return false
	}
	return cmp(af, bf)
}

func inList(actual, expected interface{}) bool {
	list, ok := expected.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if compareEqual(actual, item) {
			return true
		}
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
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
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
