package aggregator

import (
	"strings"

	"github.com/docsql/docsql/internal/query/parser"
	"github.com/docsql/docsql/internal/query/value"
	"github.com/docsql/docsql/internal/rowcodec"
)

// FindHeader returns the index of name among headers. It tries an exact
// match, then the name without its table prefix, then a header ending in
// ".name". Matching ignores case. It returns -1 when nothing matches.
func FindHeader(headers []string, name string) int {
	for i, h := range headers {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		bare := name[dot+1:]
		for i, h := range headers {
			if strings.EqualFold(h, bare) {
				return i
			}
		}
		return -1
	}
	suffix := "." + strings.ToLower(name)
	for i := len(headers) - 1; i >= 0; i-- {
		if strings.HasSuffix(strings.ToLower(headers[i]), suffix) {
			return i
		}
	}
	return -1
}

// FindAggregate returns the index of the aggregate's output header. An
// argument written with a table prefix also matches its bare form.
func FindAggregate(headers []string, agg parser.AggregateExpr) int {
	if idx := FindHeader(headers, agg.String()); idx >= 0 {
		return idx
	}
	if agg.Arg == nil {
		return -1
	}
	bare := parser.AggregateExpr{Function: agg.Function, Arg: &parser.ColumnRef{Column: agg.Arg.Column}}
	for i, h := range headers {
		if strings.EqualFold(h, bare.String()) {
			return i
		}
		if open := strings.IndexByte(h, '('); open >= 0 {
			if dot := strings.LastIndexByte(h, '.'); dot > open &&
				strings.EqualFold(h[:open+1]+h[dot+1:], bare.String()) {
				return i
			}
		}
	}
	return -1
}

// Project selects the columns named by items from rows. A star item expands
// to every header.
func Project(headers []string, rows [][]any, items []parser.SelectItem) ([]string, [][]any, error) {
	var (
		outHeaders []string
		indices    []int
	)
	for _, it := range items {
		switch {
		case it.Star:
			for i, h := range headers {
				outHeaders = append(outHeaders, h)
				indices = append(indices, i)
			}
		case it.Aggregate != nil:
			idx := FindAggregate(headers, *it.Aggregate)
			if idx < 0 {
				return nil, nil, unknownColumn(it.Aggregate.String())
			}
			outHeaders = append(outHeaders, it.Aggregate.String())
			indices = append(indices, idx)
		case it.Column != nil:
			idx := FindHeader(headers, it.Column.String())
			if idx < 0 {
				return nil, nil, unknownColumn(it.Column.String())
			}
			outHeaders = append(outHeaders, it.Column.String())
			indices = append(indices, idx)
		}
	}

	out := make([][]any, len(rows))
	for r, row := range rows {
		projected := make([]any, len(indices))
		for i, idx := range indices {
			projected[i] = cell(row, idx)
		}
		out[r] = projected
	}
	return outHeaders, out, nil
}

// Distinct removes duplicate rows, keeping the first occurrence.
func Distinct(rows [][]any) [][]any {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		key := rowKey(row)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}

func rowKey(row []any) string {
	parts := make([]any, len(row))
	for i, v := range row {
		if v != nil {
			parts[i] = value.String(v)
		}
	}
	return rowcodec.EncodeKey(parts)
}
