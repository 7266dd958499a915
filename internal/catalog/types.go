package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind is a column's base type.
type Kind string

const (
	KindInt     Kind = "INT"
	KindFloat   Kind = "FLOAT"
	KindBool    Kind = "BOOL"
	KindText    Kind = "TEXT"
	KindDate    Kind = "DATE"
	KindVarchar Kind = "VARCHAR"
)

// Type is a parsed column type.
type Type struct {
	Kind   Kind
	Length int // VARCHAR only
}

func (t Type) String() string {
	if t.Kind == KindVarchar {
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	}
	return string(t.Kind)
}

// Numeric reports whether values of the type compare as numbers.
func (t Type) Numeric() bool {
	return t.Kind == KindInt || t.Kind == KindFloat
}

var varcharPattern = regexp.MustCompile(`^VARCHAR\s*\(\s*(\d+)\s*\)$`)

// ParseType parses a type name such as INT or VARCHAR(20).
func ParseType(s string) (Type, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	switch Kind(upper) {
	case KindInt, KindFloat, KindBool, KindText, KindDate:
		return Type{Kind: Kind(upper)}, nil
	}
	if m := varcharPattern.FindStringSubmatch(upper); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return Type{Kind: KindVarchar, Length: n}, nil
		}
	}
	return Type{}, fmt.Errorf("invalid type %q", s)
}

var datePattern = regexp.MustCompile(`^\d{4}([-.])\d{2}([-.])\d{2}$`)

// Normalize checks raw against the type and returns its stored form.
// INT and FLOAT are canonicalised, BOOL becomes TRUE or FALSE and DATE is
// written as YYYY-MM-DD. Text types are stored as given.
func (t Type) Normalize(raw string) (string, error) {
	switch t.Kind {
	case KindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return "", fmt.Errorf("'%s' is not a valid INT", raw)
		}
		return strconv.FormatInt(n, 10), nil

	case KindFloat:
		s := strings.TrimSpace(raw)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || !isFiniteLiteral(s) {
			return "", fmt.Errorf("'%s' is not a valid FLOAT", raw)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil

	case KindBool:
		switch strings.ToUpper(strings.TrimSpace(raw)) {
		case "TRUE", "1":
			return "TRUE", nil
		case "FALSE", "0":
			return "FALSE", nil
		}
		return "", fmt.Errorf("'%s' is not a valid BOOL", raw)

	case KindDate:
		m := datePattern.FindStringSubmatch(raw)
		if m == nil || m[1] != m[2] {
			return "", fmt.Errorf("'%s' is not a valid DATE (expected YYYY-MM-DD or YYYY.MM.DD)", raw)
		}
		day, err := time.Parse("2006-01-02", strings.ReplaceAll(raw, ".", "-"))
		if err != nil {
			return "", fmt.Errorf("'%s' is not a valid DATE", raw)
		}
		return day.Format("2006-01-02"), nil

	case KindVarchar:
		if utf8.RuneCountInString(raw) > t.Length {
			return "", fmt.Errorf("value exceeds VARCHAR(%d)", t.Length)
		}
		return raw, nil

	case KindText:
		return raw, nil
	}
	return "", fmt.Errorf("unknown type %s", t.Kind)
}

// isFiniteLiteral rejects the NaN and Inf spellings ParseFloat accepts.
func isFiniteLiteral(s string) bool {
	lower := strings.ToLower(strings.TrimLeft(s, "+-"))
	return !strings.HasPrefix(lower, "inf") && !strings.HasPrefix(lower, "nan")
}
