package value

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{"2", "10", -1},
		{"10", "2", 1},
		{"1.0", "1", 0},
		{"abc", "abd", -1},
		{"b", "10", 1},
		{float64(3), "3", 0},
		{int64(4), 3.5, 1},
		{"2021-01-02", "2021-01-10", -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompareNullsLast(t *testing.T) {
	if CompareNullsLast(nil, "1") != 1 {
		t.Error("nil should sort after values")
	}
	if CompareNullsLast("1", "NULL") != -1 {
		t.Error("NULL text should sort after values")
	}
	if CompareNullsLast("", nil) != 0 {
		t.Error("two nulls should compare equal")
	}
}

func TestIsNull(t *testing.T) {
	for _, v := range []any{nil, "", "NULL", "null"} {
		if !IsNull(v) {
			t.Errorf("IsNull(%v) = false", v)
		}
	}
	for _, v := range []any{"0", "x", float64(0), int64(0)} {
		if IsNull(v) {
			t.Errorf("IsNull(%v) = true", v)
		}
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		op   string
		cmp  int
		want bool
	}{
		{"=", 0, true}, {"=", 1, false},
		{"<", -1, true}, {"<", 0, false},
		{">", 1, true}, {">", 0, false},
		{"<=", 0, true}, {"<=", 1, false},
		{">=", 0, true}, {">=", -1, false},
		{"<>", 1, false},
	}
	for _, tt := range tests {
		if got := Satisfies(tt.op, tt.cmp); got != tt.want {
			t.Errorf("Satisfies(%q, %d) = %v", tt.op, tt.cmp, got)
		}
	}
}

func TestString(t *testing.T) {
	if String(2.5) != "2.5" || String(int64(3)) != "3" || String(nil) != "" || String("x") != "x" {
		t.Error("String rendering mismatch")
	}
}
