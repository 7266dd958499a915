package aggregator

import (
	"fmt"
	"strings"

	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/query/parser"
)

// Aggregate applies GROUP BY and aggregate functions to rows described by
// headers. The output holds the group columns followed by the aggregates.
// Without GROUP BY it yields exactly one row; with neither grouping nor
// aggregates the input passes through unchanged.
func Aggregate(headers []string, rows [][]any, groupBy []parser.ColumnRef, aggregates []parser.AggregateExpr) ([]string, [][]any, error) {
	if len(groupBy) == 0 && len(aggregates) == 0 {
		return headers, rows, nil
	}

	groupIdx := make([]int, len(groupBy))
	for i, ref := range groupBy {
		idx := FindHeader(headers, ref.String())
		if idx < 0 {
			return nil, nil, unknownColumn(ref.String())
		}
		groupIdx[i] = idx
	}

	fns := make([]Function, len(aggregates))
	argIdx := make([]int, len(aggregates))
	for i, agg := range aggregates {
		fn, err := ParseFunction(agg.Function)
		if err != nil {
			return nil, nil, dserrors.NewSyntaxError(err.Error(), nil)
		}
		fns[i] = fn
		argIdx[i] = -1
		if agg.Arg == nil {
			if fn != FuncCount {
				return nil, nil, dserrors.NewSyntaxError(fmt.Sprintf("%s(*) is not supported", agg.Function), nil)
			}
			continue
		}
		idx := FindHeader(headers, agg.Arg.String())
		if idx < 0 {
			return nil, nil, unknownColumn(agg.Arg.String())
		}
		argIdx[i] = idx
	}

	type group struct {
		key  []any
		accs []*Accumulator
	}
	newGroup := func(key []any) *group {
		g := &group{key: key, accs: make([]*Accumulator, len(aggregates))}
		for i := range aggregates {
			g.accs[i] = NewAccumulator(fns[i], argIdx[i] < 0)
		}
		return g
	}

	var order []*group
	groups := make(map[string]*group)
	if len(groupBy) == 0 {
		g := newGroup(nil)
		order = append(order, g)
		groups[""] = g
	}

	for _, row := range rows {
		key := make([]any, len(groupIdx))
		for i, idx := range groupIdx {
			key[i] = cell(row, idx)
		}
		k := groupKeyString(key)
		g, ok := groups[k]
		if !ok {
			g = newGroup(key)
			groups[k] = g
			order = append(order, g)
		}
		for i, acc := range g.accs {
			acc.Accumulate(cell(row, argIdx[i]))
		}
	}

	outHeaders := make([]string, 0, len(groupBy)+len(aggregates))
	for _, ref := range groupBy {
		outHeaders = append(outHeaders, headers[FindHeader(headers, ref.String())])
	}
	for _, agg := range aggregates {
		outHeaders = append(outHeaders, agg.String())
	}

	out := make([][]any, 0, len(order))
	for _, g := range order {
		row := make([]any, 0, len(outHeaders))
		row = append(row, g.key...)
		for _, acc := range g.accs {
			row = append(row, acc.Result())
		}
		out = append(out, row)
	}
	return outHeaders, out, nil
}

func cell(row []any, idx int) any {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	return row[idx]
}

// groupKeyString produces a deterministic string key from a slice of values.
func groupKeyString(vals []any) string {
	var sb strings.Builder
	for _, v := range vals {
		if v == nil {
			sb.WriteString("_|")
			continue
		}
		s := fmt.Sprintf("%v", v)
		fmt.Fprintf(&sb, "%d:%s|", len(s), s)
	}
	return sb.String()
}

func unknownColumn(name string) error {
	return dserrors.NewSchemaError(dserrors.CodeUnknownColumn, fmt.Sprintf("Unknown column '%s'", name))
}
