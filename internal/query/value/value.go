// Package value holds the comparison rules shared by predicates, index range
// lookups and ORDER BY. Cell values are strings, numbers from aggregates, or
// nil for NULL.
package value

import (
	"fmt"
	"strconv"
	"strings"
)

// IsNull reports whether v counts as missing: nil, empty, or the text NULL.
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == "" || strings.EqualFold(x, "NULL")
	}
	return false
}

// ToFloat converts a value to float64 if it is numeric.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// String renders a value as text. nil renders as the empty string.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return fmt.Sprint(v)
}

// Compare orders two non-null values: numerically when both parse as
// numbers, otherwise as strings. It returns -1, 0 or 1.
func Compare(a, b any) int {
	if fa, ok := ToFloat(a); ok {
		if fb, ok := ToFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(String(a), String(b))
}

// CompareNullsLast is Compare with null values ranked above everything.
func CompareNullsLast(a, b any) int {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	}
	return Compare(a, b)
}

// Satisfies reports whether cmp, the result of Compare(left, right), meets
// the comparison operator op.
func Satisfies(op string, cmp int) bool {
	switch op {
	case "=":
		return cmp == 0
	case "<":
		return cmp < 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	case ">=":
		return cmp >= 0
	}
	return false
}
