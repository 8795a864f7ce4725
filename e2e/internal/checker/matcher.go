package checker

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// MatchesExpectation checks if actual matches expected. Maps match when every
// expected key matches, so extra fields in actual are ignored. A string
// expected value may be a pattern:
//
//	"~<regexp>"            actual, as text, matches the regular expression
//	">n" ">=n" "<n" "<=n"  actual is a number satisfying the comparison
//
// Returns (true, "") on match, (false, "reason") on mismatch.
func MatchesExpectation(actual, expected interface{}) (bool, string) {
	switch exp := expected.(type) {
	case nil:
		if actual != nil {
			return false, fmt.Sprintf("expected null, got %v", actual)
		}
		return true, ""
	case string:
		return matchString(actual, exp)
	case bool:
		if b, ok := actual.(bool); !ok || b != exp {
			return false, fmt.Sprintf("expected %t, got %v", exp, actual)
		}
		return true, ""
	case map[string]interface{}:
		return matchMap(actual, exp)
	case []interface{}:
		return matchArray(actual, exp)
	}

	if want, err := toFloat64(expected); err == nil {
		got, err := toFloat64(actual)
		if err != nil || got != want {
			return false, fmt.Sprintf("expected %v, got %v", expected, actual)
		}
		return true, ""
	}

	if !reflect.DeepEqual(actual, expected) {
		return false, fmt.Sprintf("expected %v, got %v", expected, actual)
	}
	return true, ""
}

func matchString(actual interface{}, expected string) (bool, string) {
	if pattern, ok := strings.CutPrefix(expected, "~"); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Sprintf("invalid pattern %q: %v", pattern, err)
		}
		if !re.MatchString(fmt.Sprint(actual)) {
			return false, fmt.Sprintf("%v does not match %q", actual, pattern)
		}
		return true, ""
	}

	if op, operand, ok := comparison(expected); ok {
		got, err := toFloat64(actual)
		if err != nil {
			return false, fmt.Sprintf("expected a number for %q, got %T", expected, actual)
		}
		if !compare(got, op, operand) {
			return false, fmt.Sprintf("%v is not %s", got, expected)
		}
		return true, ""
	}

	s, ok := actual.(string)
	if !ok || s != expected {
		return false, fmt.Sprintf("expected %q, got %v", expected, actual)
	}
	return true, ""
}

// comparison splits ">=5" into its operator and operand
func comparison(s string) (string, float64, bool) {
	for _, op := range []string{">=", "<=", ">", "<"} {
		rest, ok := strings.CutPrefix(s, op)
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			return "", 0, false
		}
		return op, n, true
	}
	return "", 0, false
}

func compare(got float64, op string, operand float64) bool {
	switch op {
	case ">=":
		return got >= operand
	case "<=":
		return got <= operand
	case ">":
		return got > operand
	default:
		return got < operand
	}
}

func matchMap(actual interface{}, expected map[string]interface{}) (bool, string) {
	got, ok := actual.(map[string]interface{})
	if !ok {
		return false, fmt.Sprintf("expected an object, got %T", actual)
	}

	for key, want := range expected {
		value, present := got[key]
		if !present {
			return false, fmt.Sprintf("field %q missing", key)
		}
		if ok, reason := MatchesExpectation(value, want); !ok {
			return false, fmt.Sprintf("field %q: %s", key, reason)
		}
	}
	return true, ""
}

func matchArray(actual interface{}, expected []interface{}) (bool, string) {
	got, ok := actual.([]interface{})
	if !ok {
		return false, fmt.Sprintf("expected an array, got %T", actual)
	}
	if len(got) != len(expected) {
		return false, fmt.Sprintf("expected %d elements, got %d", len(expected), len(got))
	}

	for i := range expected {
		if ok, reason := MatchesExpectation(got[i], expected[i]); !ok {
			return false, fmt.Sprintf("element %d: %s", i, reason)
		}
	}
	return true, ""
}

// toFloat64 converts the numeric types produced by JSON and YAML decoding
func toFloat64(val interface{}) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("not a number: %T", val)
	}
}
