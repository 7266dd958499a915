package engine

import (
	"context"
	"fmt"

	"github.com/docsql/docsql/internal/catalog"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/query/aggregator"
	"github.com/docsql/docsql/internal/query/executor"
	"github.com/docsql/docsql/internal/query/parser"
)

// selectRows runs a SELECT. Plain selects are projected by the executor.
// With aggregates, GROUP BY or ORDER BY the executor returns whole rows,
// which are then grouped, sorted, projected and deduplicated here, so that
// ORDER BY may use columns and aggregates outside the select list.
func (e *Engine) selectRows(ctx context.Context, sess *Session, s *parser.SelectStatement, res *Result) error {
	db, err := e.database(ctx, sess)
	if err != nil {
		return err
	}

	if err := checkQualified(db, s); err != nil {
		return err
	}

	aggregates := orderAggregates(s)
	post := len(aggregates) > 0 || len(s.GroupBy) > 0 || len(s.OrderBy) > 0

	stmt := s
	if post {
		wide := *s
		wide.Items = []parser.SelectItem{{Star: true}}
		wide.Distinct = false
		stmt = &wide
	}

	out, err := e.executor.Execute(ctx, db, stmt)
	if err != nil {
		return err
	}
	e.recordPredicates(db, s)

	headers, rows := out.Columns, out.Rows
	if post {
		headers, rows, err = aggregator.Aggregate(headers, rows, s.GroupBy, aggregates)
		if err != nil {
			return err
		}
		if err := aggregator.Sort(headers, rows, s.OrderBy); err != nil {
			return err
		}
		headers, rows, err = aggregator.Project(headers, rows, s.Items)
		if err != nil {
			return err
		}
		if s.Distinct {
			rows = aggregator.Distinct(rows)
		}
	}

	e.logger.Debugw("select finished",
		"database", db.Name,
		"tables", s.Tables(),
		"rows", len(rows),
		"rows_scanned", out.Stats.RowsScanned,
		"indexes", out.Stats.IndexesUsed,
		"join_strategies", out.Stats.JoinStrategies)

	res.Columns = headers
	res.Rows = rows
	if res.Rows == nil {
		res.Rows = [][]any{}
	}
	return nil
}

// checkQualified rejects a table-qualified column in the select list,
// GROUP BY or ORDER BY whose table is not part of the query or lacks the
// column. WHERE references are checked when the executor binds them.
func checkQualified(db *catalog.Database, s *parser.SelectStatement) error {
	var refs []parser.ColumnRef
	addAggregate := func(agg *parser.AggregateExpr) {
		if agg != nil && agg.Arg != nil {
			refs = append(refs, *agg.Arg)
		}
	}
	for _, it := range s.Items {
		if it.Column != nil {
			refs = append(refs, *it.Column)
		}
		addAggregate(it.Aggregate)
	}
	refs = append(refs, s.GroupBy...)
	for _, ob := range s.OrderBy {
		if ob.Column != nil {
			refs = append(refs, *ob.Column)
		}
		addAggregate(ob.Aggregate)
	}

	tables := s.Tables()
	for _, ref := range refs {
		if ref.Table == "" {
			continue
		}
		known := contains(tables, ref.Table)
		if known {
			if table, ok := db.Table(ref.Table); ok && !table.HasColumn(ref.Column) {
				known = false
			}
		}
		if !known {
			return dserrors.NewSchemaError(dserrors.CodeUnknownColumn,
				fmt.Sprintf("Unknown column '%s'", ref.String()))
		}
	}
	return nil
}

// orderAggregates returns the aggregates of the select list followed by
// those only ORDER BY names.
func orderAggregates(s *parser.SelectStatement) []parser.AggregateExpr {
	aggs := s.Aggregates()
	for _, ob := range s.OrderBy {
		if ob.Aggregate == nil {
			continue
		}
		dup := false
		for _, a := range aggs {
			if a.String() == ob.Aggregate.String() {
				dup = true
				break
			}
		}
		if !dup {
			aggs = append(aggs, *ob.Aggregate)
		}
	}
	return aggs
}

// recordPredicates feeds the WHERE columns of a successful SELECT to the
// predicate statistics, keyed database.table.column.
func (e *Engine) recordPredicates(db *catalog.Database, s *parser.SelectStatement) {
	for _, cond := range s.Where {
		for _, name := range s.Tables() {
			if cond.Left.Table != "" && cond.Left.Table != name {
				continue
			}
			table, ok := db.Table(name)
			if !ok || !table.HasColumn(cond.Left.Column) {
				continue
			}
			choice := executor.ChooseStrategy(table, cond.Left.Column)
			e.stats.RecordPredicate(db.Name+"."+name+"."+cond.Left.Column, string(cond.Op),
				choice.Strategy != executor.StrategyScan)
			break
		}
	}
}
