// Package executor runs SELECT statements against the document store. The
// single-table path narrows candidates through the primary key and the
// secondary indexes before re-checking every predicate. The join path
// streams the driving table in batches and resolves each join with the
// cheapest lookup strategy available.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docsql/docsql/internal/catalog"
	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/docstore"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/index"
	"github.com/docsql/docsql/internal/query/aggregator"
	"github.com/docsql/docsql/internal/query/parser"
	"github.com/docsql/docsql/internal/rowcodec"
)

// Result holds the rows produced by a SELECT.
type Result struct {
	Columns []string
	Rows    [][]any
	Stats   Stats
}

// Stats describes how a SELECT was executed.
type Stats struct {
	RowsScanned    int64
	IndexesUsed    []string
	PointLookup    bool
	JoinStrategies []Strategy
	CacheHits      int64
	Batches        int
	Elapsed        time.Duration
}

// Executor runs single-table and join SELECTs.
type Executor struct {
	docs    docstore.Store
	indexes *index.Manager
	cfg     config.EngineConfig
	logger  *zap.SugaredLogger
}

// New creates an executor. Zero-valued limits in cfg take their defaults.
func New(docs docstore.Store, indexes *index.Manager, cfg config.EngineConfig, logger *zap.SugaredLogger) *Executor {
	def := config.DefaultEngineConfig()
	if cfg.JoinBatchSize <= 0 {
		cfg.JoinBatchSize = def.JoinBatchSize
	}
	if cfg.JoinCacheCapacity < 0 {
		cfg.JoinCacheCapacity = def.JoinCacheCapacity
	}
	if cfg.JoinScanCap <= 0 {
		cfg.JoinScanCap = def.JoinScanCap
	}
	if cfg.ScanBatchSize <= 0 {
		cfg.ScanBatchSize = def.ScanBatchSize
	}
	if cfg.BloomFalsePositiveRate <= 0 || cfg.BloomFalsePositiveRate >= 1 {
		cfg.BloomFalsePositiveRate = def.BloomFalsePositiveRate
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Executor{docs: docs, indexes: indexes, cfg: cfg, logger: logger}
}

// Execute runs stmt, taking the join path when it has joins.
func (e *Executor) Execute(ctx context.Context, db *catalog.Database, stmt *parser.SelectStatement) (*Result, error) {
	if stmt.IsJoin() {
		return e.Join(ctx, db, stmt)
	}
	return e.Select(ctx, db, stmt)
}

func lookupTable(db *catalog.Database, name string) (*catalog.Table, error) {
	table, ok := db.Table(name)
	if !ok {
		return nil, dserrors.NewNotFoundError(dserrors.CodeTable,
			fmt.Sprintf("Table '%s' does not exist in '%s'", name, db.Name))
	}
	return table, nil
}

// Select runs a single-table SELECT: candidates from index-eligible
// predicates, batch fetch, predicate re-check, projection and DISTINCT.
func (e *Executor) Select(ctx context.Context, db *catalog.Database, stmt *parser.SelectStatement) (*Result, error) {
	start := time.Now()
	table, err := lookupTable(db, stmt.From)
	if err != nil {
		return nil, err
	}
	preds, err := bindAll(table, stmt.Where)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	cands, err := e.candidates(ctx, db.Name, table, preds, &res.Stats)
	if err != nil {
		return nil, err
	}

	var rows [][]any
	err = e.stream(ctx, db.Name, table, cands, e.cfg.ScanBatchSize, func(batch []rowcodec.Row) error {
		res.Stats.RowsScanned += int64(len(batch))
		for _, row := range batch {
			if matchAll(preds, row.Values) {
				rows = append(rows, row.Values)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := project(res, table.ColumnNames(), rows, stmt); err != nil {
		return nil, err
	}
	res.Stats.Elapsed = time.Since(start)
	e.logger.Debugw("select executed",
		"table", table.Name,
		"rows_scanned", res.Stats.RowsScanned,
		"indexes", res.Stats.IndexesUsed,
		"point_lookup", res.Stats.PointLookup,
		"rows", len(res.Rows))
	return res, nil
}

func project(res *Result, headers []string, rows [][]any, stmt *parser.SelectStatement) error {
	for _, it := range stmt.Items {
		if it.Aggregate != nil {
			return dserrors.NewInternalError("aggregates must be resolved before projection", nil)
		}
	}
	cols, out, err := aggregator.Project(headers, rows, stmt.Items)
	if err != nil {
		return err
	}
	if stmt.Distinct {
		out = aggregator.Distinct(out)
	}
	res.Columns = cols
	res.Rows = out
	return nil
}

// candidates narrows the rows of table that can satisfy preds. A nil set
// means every row is a candidate.
func (e *Executor) candidates(ctx context.Context, db string, table *catalog.Table, preds []boundPredicate, stats *Stats) (index.IDSet, error) {
	// All primary-key columns pinned: a single identity.
	pk := make([]any, len(table.Constraints.PrimaryKey))
	pinned := 0
	for i, col := range table.Constraints.PrimaryKey {
		for _, p := range preds {
			if p.equality() && p.column == col {
				pk[i] = p.literal
				pinned++
				break
			}
		}
	}
	if pinned > 0 && pinned == len(pk) {
		stats.PointLookup = true
		set := index.IDSet{}
		set.Add(rowcodec.EncodeKey(pk))
		return set, nil
	}

	if e.indexes == nil {
		return nil, nil
	}

	var set index.IDSet
	narrow := func(ids index.IDSet, name string) {
		stats.IndexesUsed = append(stats.IndexesUsed, name)
		if set == nil {
			set = ids
			return
		}
		set = set.Intersect(ids)
	}

	for _, p := range preds {
		switch {
		case p.equality():
			idx := leadingIndex(table, p.column)
			if idx == nil {
				continue
			}
			ids, err := e.indexes.LookupEqual(ctx, db, table, *idx, p.literal.(string))
			if err != nil {
				return nil, err
			}
			narrow(ids, idx.Name)
		case p.rangeLookup():
			idx := singleColumnIndex(table, p.column)
			if idx == nil {
				continue
			}
			ids, err := e.indexes.LookupRange(ctx, db, table, *idx, string(p.cond.Op), p.literal.(string))
			if err != nil {
				return nil, err
			}
			narrow(ids, idx.Name)
		}
	}
	return set, nil
}

// leadingIndex returns the index led by column with the fewest columns.
func leadingIndex(table *catalog.Table, column string) *catalog.Index {
	var best *catalog.Index
	for i := range table.Indexes {
		idx := &table.Indexes[i]
		if len(idx.Columns) == 0 || idx.Columns[0] != column {
			continue
		}
		if best == nil || len(idx.Columns) < len(best.Columns) {
			best = idx
		}
	}
	return best
}

func singleColumnIndex(table *catalog.Table, column string) *catalog.Index {
	for i := range table.Indexes {
		if len(table.Indexes[i].Columns) == 1 && table.Indexes[i].Columns[0] == column {
			return &table.Indexes[i]
		}
	}
	return nil
}

// stream delivers decoded rows of table in batches: every row when cands is
// nil, otherwise only the candidate identities that exist.
func (e *Executor) stream(ctx context.Context, db string, table *catalog.Table, cands index.IDSet, batchSize int, visit func([]rowcodec.Row) error) error {
	coll := e.docs.Collection(db, table.Name)

	if cands != nil {
		ids := cands.Sorted()
		for start := 0; start < len(ids); start += batchSize {
			end := min(start+batchSize, len(ids))
			rows, err := e.fetch(ctx, coll, table, ids[start:end])
			if err != nil {
				return err
			}
			if err := visit(rows); err != nil {
				return err
			}
		}
		return nil
	}

	cur, err := coll.Find(ctx, docstore.MatchAll(), docstore.FindOptions{BatchSize: batchSize})
	if err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to scan table '%s'", table.Name), err)
	}
	defer cur.Close(ctx)

	for {
		docs, err := docstore.NextBatch(ctx, cur, batchSize)
		if err != nil {
			return dserrors.NewStorageError(fmt.Sprintf("failed to scan table '%s'", table.Name), err)
		}
		if len(docs) == 0 {
			return nil
		}
		rows, err := decodeAll(table, docs)
		if err != nil {
			return err
		}
		if err := visit(rows); err != nil {
			return err
		}
	}
}

// fetch reads the rows with the given identities. Missing identities are
// skipped.
func (e *Executor) fetch(ctx context.Context, coll docstore.Collection, table *catalog.Table, ids []string) ([]rowcodec.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := coll.Find(ctx, docstore.MatchIDs(ids...), docstore.FindOptions{BatchSize: len(ids)})
	if err != nil {
		return nil, dserrors.NewStorageError(fmt.Sprintf("failed to read table '%s'", table.Name), err)
	}
	docs, err := docstore.Collect(ctx, cur)
	if err != nil {
		return nil, dserrors.NewStorageError(fmt.Sprintf("failed to read table '%s'", table.Name), err)
	}
	return decodeAll(table, docs)
}

func decodeAll(table *catalog.Table, docs []docstore.Document) ([]rowcodec.Row, error) {
	rows := make([]rowcodec.Row, 0, len(docs))
	for _, doc := range docs {
		row, err := rowcodec.Decode(table, doc)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
