package aggregator

import (
	"sort"

	"github.com/docsql/docsql/internal/query/parser"
	"github.com/docsql/docsql/internal/query/value"
)

// Sort orders rows in place by the ORDER BY clauses. Each key applies its
// own direction. Nulls rank above every value, so they come last ascending
// and first descending. The sort is stable.
func Sort(headers []string, rows [][]any, orderBy []parser.OrderByClause) error {
	if len(orderBy) == 0 {
		return nil
	}

	indices := make([]int, len(orderBy))
	for i, clause := range orderBy {
		idx := findKey(headers, clause)
		if idx < 0 {
			return unknownColumn(clause.Key())
		}
		indices[i] = idx
	}
	if len(rows) <= 1 {
		return nil
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for k, clause := range orderBy {
			cmp := value.CompareNullsLast(cell(rows[i], indices[k]), cell(rows[j], indices[k]))
			if cmp == 0 {
				continue
			}
			if clause.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

func findKey(headers []string, clause parser.OrderByClause) int {
	if clause.Aggregate != nil {
		return FindAggregate(headers, *clause.Aggregate)
	}
	return FindHeader(headers, clause.Key())
}
