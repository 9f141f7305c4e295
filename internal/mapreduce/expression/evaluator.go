package expression

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce/variables"
)

// Evaluate applies a parsed filter expression to a single work item.
// Numbers compare numerically, strings lexicographically, and CONTAINS
// tests array element membership or substring containment (spec
// section 4.3).
func Evaluate(expr Expr, item map[string]interface{}) (bool, error) {
	switch e := expr.(type) {
	case Comparison:
		return evalComparison(e, item)
	case And:
		left, err := Evaluate(e.Left, item)
		if err != nil {
			return false, err
		}
		if !left {
			return false, nil
		}
		return Evaluate(e.Right, item)
	case Or:
		left, err := Evaluate(e.Left, item)
		if err != nil {
			return false, err
		}
		if left {
			return true, nil
		}
		return Evaluate(e.Right, item)
	case Not:
		inner, err := Evaluate(e.Expr, item)
		if err != nil {
			return false, err
		}
		return !inner, nil
	default:
		return false, fmt.Errorf("unsupported expression node %T", expr)
	}
}

func evalComparison(c Comparison, item map[string]interface{}) (bool, error) {
	fieldVal, found := variables.ResolvePath(item, c.Field)

	if c.Op == OpContains {
		if !found {
			return false, nil
		}
		return evalContains(fieldVal, c.Value), nil
	}

	if !found {
		return c.Op == OpNeq, nil
	}

	if c.Value.IsNumber {
		fn, ok := toNumber(fieldVal)
		if !ok {
			return false, nil
		}
		return compareNumbers(fn, c.Value.Number, c.Op), nil
	}

	fs := toStringValue(fieldVal)
	return compareStrings(fs, c.Value.Str, c.Op), nil
}

func evalContains(fieldVal interface{}, needle Literal) bool {
	switch v := fieldVal.(type) {
	case []interface{}:
		for _, el := range v {
			if needle.IsNumber {
				if n, ok := toNumber(el); ok && n == needle.Number {
					return true
				}
				continue
			}
			if toStringValue(el) == needle.Str {
				return true
			}
		}
		return false
	case string:
		target := needle.Str
		if needle.IsNumber {
			target = formatNumber(needle.Number)
		}
		return strings.Contains(v, target)
	default:
		return false
	}
}

func compareNumbers(a, b float64, op CompareOp) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNeq:
		return a != b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	default:
		return false
	}
}

func compareStrings(a, b string, op CompareOp) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNeq:
		return a != b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	default:
		return false
	}
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toStringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

// Sort orders items in place by the given sort keys, applied
// lexicographically with a stable tie-break (spec section 4.3).
func Sort(items []map[string]interface{}, keys []SortKey) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, k := range keys {
			vi, _ := variables.ResolvePath(items[i], k.Field)
			vj, _ := variables.ResolvePath(items[j], k.Field)
			cmp := compareValues(vi, vj)
			if cmp == 0 {
				continue
			}
			if k.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// CompareValues exposes the same ordering evaluator.Sort uses
// internally, for callers that need to sort a custom structure by a
// resolved field value rather than sorting []map[string]interface{}
// directly (e.g. the Map phase sorting WorkItems, which pair an id with
// a payload map).
func CompareValues(a, b interface{}) int {
	return compareValues(a, b)
}

func compareValues(a, b interface{}) int {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := toStringValue(a), toStringValue(b)
	return strings.Compare(as, bs)
}
