// Package aggregator implements the post-processing stages of SELECT:
// grouping, aggregate functions, ordering, projection and deduplication.
// Rows are header-addressed slices of cell values.
package aggregator

import (
	"fmt"
	"strings"

	"github.com/docsql/docsql/internal/query/value"
)

// Function is an aggregate function.
type Function int

const (
	FuncCount Function = iota
	FuncSum
	FuncMin
	FuncMax
	FuncAvg
)

// ParseFunction converts a function name to a Function.
func ParseFunction(name string) (Function, error) {
	switch strings.ToUpper(name) {
	case "COUNT":
		return FuncCount, nil
	case "SUM":
		return FuncSum, nil
	case "MIN":
		return FuncMin, nil
	case "MAX":
		return FuncMax, nil
	case "AVG":
		return FuncAvg, nil
	default:
		return 0, fmt.Errorf("unknown aggregate function: %s", name)
	}
}

// Accumulator folds the values of one aggregate over a group.
type Accumulator struct {
	Func  Function
	Star  bool
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	IsSet bool // at least one numeric value was seen
}

// NewAccumulator creates an empty accumulator. star marks COUNT(*).
func NewAccumulator(fn Function, star bool) *Accumulator {
	return &Accumulator{Func: fn, Star: star}
}

// Accumulate adds one cell. COUNT(col) skips nulls; the numeric functions
// skip anything that does not parse as a number.
func (a *Accumulator) Accumulate(v any) {
	if a.Func == FuncCount {
		if a.Star || !value.IsNull(v) {
			a.Count++
		}
		return
	}

	if value.IsNull(v) {
		return
	}
	f, ok := value.ToFloat(v)
	if !ok {
		return
	}
	if !a.IsSet || f < a.Min {
		a.Min = f
	}
	if !a.IsSet || f > a.Max {
		a.Max = f
	}
	a.Sum += f
	a.Count++
	a.IsSet = true
}

// Result returns the final value: an int64 for COUNT, a float64 for the
// numeric functions, or nil when no numeric value was seen.
func (a *Accumulator) Result() any {
	if a.Func == FuncCount {
		return a.Count
	}
	if !a.IsSet {
		return nil
	}
	switch a.Func {
	case FuncSum:
		return a.Sum
	case FuncMin:
		return a.Min
	case FuncMax:
		return a.Max
	case FuncAvg:
		return a.Sum / float64(a.Count)
	}
	return nil
}
