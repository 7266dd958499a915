package executor

import (
	"github.com/docsql/docsql/internal/catalog"
)

// Strategy is how a join finds the rows of a table matching a value.
type Strategy string

const (
	// StrategyPrimaryKey reads the row whose sole primary-key column holds the value.
	StrategyPrimaryKey Strategy = "primary_key"
	// StrategyIdentityScan compares one component of every row identity.
	StrategyIdentityScan Strategy = "identity_scan"
	// StrategyIndex reads the entry of a single-column index.
	StrategyIndex Strategy = "index"
	// StrategyIndexPrefix matches the leading component of a composite index.
	StrategyIndexPrefix Strategy = "index_prefix"
	// StrategyIndexComponent matches a non-leading component of an index.
	StrategyIndexComponent Strategy = "index_component"
	// StrategyScan decodes rows and compares the column, up to the scan cap.
	StrategyScan Strategy = "scan"
)

// scans reports whether the strategy walks a whole collection and so is
// worth guarding with a bloom filter.
func (s Strategy) scans() bool {
	switch s {
	case StrategyIdentityScan, StrategyIndexPrefix, StrategyIndexComponent, StrategyScan:
		return true
	}
	return false
}

// Choice is a strategy together with the index and key position it uses.
type Choice struct {
	Strategy Strategy
	Index    *catalog.Index
	Position int
}

// ChooseStrategy picks the cheapest way to find rows of table by column:
// the primary key, then a single-column index, then the index the column
// leads with the fewest columns, then the index holding the column at the
// smallest (position, column count), then a filtered scan.
func ChooseStrategy(table *catalog.Table, column string) Choice {
	if pos := table.PrimaryKeyPosition(column); pos >= 0 {
		if len(table.Constraints.PrimaryKey) == 1 {
			return Choice{Strategy: StrategyPrimaryKey, Position: 0}
		}
		return Choice{Strategy: StrategyIdentityScan, Position: pos}
	}

	if idx := singleColumnIndex(table, column); idx != nil {
		return Choice{Strategy: StrategyIndex, Index: idx}
	}
	if idx := leadingIndex(table, column); idx != nil {
		return Choice{Strategy: StrategyIndexPrefix, Index: idx}
	}

	var (
		best    *catalog.Index
		bestPos int
	)
	for i := range table.Indexes {
		idx := &table.Indexes[i]
		pos := idx.IndexPosition(column)
		if pos < 0 {
			continue
		}
		if best == nil || pos < bestPos || (pos == bestPos && len(idx.Columns) < len(best.Columns)) {
			best, bestPos = idx, pos
		}
	}
	if best != nil {
		return Choice{Strategy: StrategyIndexComponent, Index: best, Position: bestPos}
	}
	return Choice{Strategy: StrategyScan, Position: -1}
}
