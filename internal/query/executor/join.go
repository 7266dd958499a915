package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docsql/docsql/internal/bloom"
	"github.com/docsql/docsql/internal/catalog"
	"github.com/docsql/docsql/internal/docstore"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/index"
	"github.com/docsql/docsql/internal/query/parser"
	"github.com/docsql/docsql/internal/query/value"
	"github.com/docsql/docsql/internal/rowcodec"
)

// joinTable is the per-table descriptor of a join: its own candidate set
// and the predicates that involve only its columns.
type joinTable struct {
	table      *catalog.Table
	preds      []boundPredicate
	candidates index.IDSet
}

// joinStep resolves one JOIN clause: rows of tables[target] whose column
// equals the value of leftPos in tables[left].
type joinStep struct {
	target  int
	column  string
	pos     int
	left    int
	leftPos int
	choice  Choice
}

type joinRun struct {
	e      *Executor
	db     string
	tables []*joinTable
	steps  []joinStep
	cross  []crossPredicate
	blooms map[string]*bloom.Filter
	cache  *LookupCache
	stats  *Stats
}

// Join runs a SELECT with one or more JOIN clauses.
func (e *Executor) Join(ctx context.Context, db *catalog.Database, stmt *parser.SelectStatement) (*Result, error) {
	start := time.Now()
	res := &Result{}
	run := &joinRun{e: e, db: db.Name, blooms: make(map[string]*bloom.Filter), stats: &res.Stats}

	seen := make(map[string]bool)
	for _, name := range stmt.Tables() {
		if seen[name] {
			return nil, dserrors.NewSyntaxError(fmt.Sprintf("table '%s' is joined more than once", name), nil)
		}
		seen[name] = true
		table, err := lookupTable(db, name)
		if err != nil {
			return nil, err
		}
		run.tables = append(run.tables, &joinTable{table: table})
	}

	for i, jc := range stmt.Joins {
		step, err := run.bindJoin(i+1, jc)
		if err != nil {
			return nil, err
		}
		run.steps = append(run.steps, step)
		res.Stats.JoinStrategies = append(res.Stats.JoinStrategies, step.choice.Strategy)
	}

	if err := run.assign(stmt.Where); err != nil {
		return nil, err
	}
	for _, jt := range run.tables {
		cands, err := e.candidates(ctx, db.Name, jt.table, jt.preds, &res.Stats)
		if err != nil {
			return nil, err
		}
		jt.candidates = cands
	}

	headers := run.headers()
	var rows [][]any
	driving := run.tables[0]
	err := e.stream(ctx, db.Name, driving.table, driving.candidates, e.cfg.JoinBatchSize, func(batch []rowcodec.Row) error {
		res.Stats.Batches++
		res.Stats.RowsScanned += int64(len(batch))
		run.cache = NewLookupCache(e.cfg.JoinCacheCapacity)
		assembled := make([]rowcodec.Row, len(run.tables))
		for _, row := range batch {
			if !matchAll(driving.preds, row.Values) {
				continue
			}
			assembled[0] = row
			if err := run.expand(ctx, 0, assembled, headers, &rows); err != nil {
				return err
			}
		}
		res.Stats.CacheHits += run.cache.Hits()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := project(res, headers, rows, stmt); err != nil {
		return nil, err
	}
	res.Stats.Elapsed = time.Since(start)
	e.logger.Debugw("join executed",
		"tables", stmt.Tables(),
		"strategies", res.Stats.JoinStrategies,
		"batches", res.Stats.Batches,
		"cache_hits", res.Stats.CacheHits,
		"rows", len(res.Rows))
	return res, nil
}

// bindJoin orients a JOIN clause so that the column of the joined table is
// the lookup side and the other side names an earlier table.
func (r *joinRun) bindJoin(target int, jc parser.JoinClause) (joinStep, error) {
	t := r.tables[target].table

	orient := func(right, left parser.ColumnRef) (joinStep, bool) {
		if !resolves(t, right) {
			return joinStep{}, false
		}
		li := r.earlier(target, left)
		if li < 0 {
			return joinStep{}, false
		}
		choice := ChooseStrategy(t, right.Column)
		if r.e.indexes == nil && choice.Index != nil {
			choice = Choice{Strategy: StrategyScan, Position: -1}
		}
		return joinStep{
			target:  target,
			column:  right.Column,
			pos:     t.ColumnIndex(right.Column),
			left:    li,
			leftPos: r.tables[li].table.ColumnIndex(left.Column),
			choice:  choice,
		}, true
	}

	if step, ok := orient(jc.Right, jc.Left); ok {
		return step, nil
	}
	if step, ok := orient(jc.Left, jc.Right); ok {
		return step, nil
	}
	return joinStep{}, dserrors.NewSchemaError(dserrors.CodeUnknownColumn,
		fmt.Sprintf("Join condition '%s = %s' does not link table '%s' to an earlier table",
			jc.Left.String(), jc.Right.String(), t.Name))
}

// earlier returns the index of the last table before limit that ref can
// name, or -1.
func (r *joinRun) earlier(limit int, ref parser.ColumnRef) int {
	for i := limit - 1; i >= 0; i-- {
		if resolves(r.tables[i].table, ref) {
			return i
		}
	}
	return -1
}

// assign splits WHERE conditions into per-table predicates and cross-table
// predicates evaluated on the assembled row.
func (r *joinRun) assign(conds []parser.Condition) error {
	for _, cond := range conds {
		var owners []int
		for i, jt := range r.tables {
			if resolves(jt.table, cond.Left) {
				owners = append(owners, i)
			}
		}
		if len(owners) == 0 {
			return dserrors.NewSchemaError(dserrors.CodeUnknownColumn,
				fmt.Sprintf("Unknown column '%s'", cond.Left.String()))
		}
		if len(owners) > 1 || cond.Right.IsColumn() {
			// An unqualified name shared by several tables resolves to the
			// last of them, as FindHeader does.
			owner := r.tables[owners[len(owners)-1]].table
			r.cross = append(r.cross, newCrossPredicate(owner, cond))
			continue
		}
		jt := r.tables[owners[0]]
		p, err := bind(jt.table, cond)
		if err != nil {
			return err
		}
		jt.preds = append(jt.preds, p)
	}
	return nil
}

// headers returns table.column for every column of every joined table.
func (r *joinRun) headers() []string {
	var out []string
	for _, jt := range r.tables {
		for _, c := range jt.table.Columns {
			out = append(out, jt.table.Name+"."+c.Name)
		}
	}
	return out
}

func (r *joinRun) expand(ctx context.Context, depth int, assembled []rowcodec.Row, headers []string, out *[][]any) error {
	if depth == len(r.steps) {
		flat := make([]any, 0, len(headers))
		for _, row := range assembled {
			flat = append(flat, row.Values...)
		}
		for _, p := range r.cross {
			if !p.match(headers, flat) {
				return nil
			}
		}
		*out = append(*out, flat)
		return nil
	}

	step := r.steps[depth]
	val := assembled[step.left].Values[step.leftPos]
	if val == nil {
		return nil
	}
	matches, err := r.lookup(ctx, step, value.String(val))
	if err != nil {
		return err
	}
	for _, m := range matches {
		assembled[step.target] = m
		if err := r.expand(ctx, depth+1, assembled, headers, out); err != nil {
			return err
		}
	}
	return nil
}

// lookup returns the rows of the step's table whose column equals val and
// which satisfy the table's own predicates.
func (r *joinRun) lookup(ctx context.Context, step joinStep, val string) ([]rowcodec.Row, error) {
	jt := r.tables[step.target]
	if rows, ok := r.cache.Get(jt.table.Name, step.column, val); ok {
		return rows, nil
	}

	if step.choice.Strategy.scans() {
		filter, err := r.bloom(ctx, jt.table, step.pos)
		if err != nil {
			return nil, err
		}
		if !filter.MayContain(val) {
			r.cache.Put(jt.table.Name, step.column, val, nil)
			return nil, nil
		}
	}

	rows, err := r.find(ctx, jt.table, step, val)
	if err != nil {
		return nil, err
	}

	matched := rows[:0]
	for _, row := range rows {
		if jt.candidates != nil {
			if _, ok := jt.candidates[row.ID]; !ok {
				continue
			}
		}
		if matchAll(jt.preds, row.Values) {
			matched = append(matched, row)
		}
	}
	r.cache.Put(jt.table.Name, step.column, val, matched)
	return matched, nil
}

func (r *joinRun) find(ctx context.Context, table *catalog.Table, step joinStep, val string) ([]rowcodec.Row, error) {
	e := r.e
	coll := e.docs.Collection(r.db, table.Name)
	choice := step.choice

	switch choice.Strategy {
	case StrategyPrimaryKey:
		doc, err := coll.FindOne(ctx, rowcodec.EncodeKey([]any{val}))
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, dserrors.NewStorageError(fmt.Sprintf("failed to read table '%s'", table.Name), err)
		}
		row, err := rowcodec.Decode(table, doc)
		if err != nil {
			return nil, err
		}
		return []rowcodec.Row{row}, nil

	case StrategyIdentityScan:
		var ids []string
		err := e.scanIDs(ctx, coll, table, func(id string, key []any) bool {
			if key[choice.Position] == val {
				ids = append(ids, id)
			}
			return len(ids) >= e.cfg.JoinScanCap
		})
		if err != nil {
			return nil, err
		}
		return e.fetch(ctx, coll, table, ids)

	case StrategyIndex, StrategyIndexPrefix, StrategyIndexComponent:
		var (
			ids index.IDSet
			err error
		)
		if choice.Strategy == StrategyIndexComponent {
			ids, err = e.indexes.LookupComponent(ctx, r.db, table, *choice.Index, choice.Position, val)
		} else {
			ids, err = e.indexes.LookupEqual(ctx, r.db, table, *choice.Index, val)
		}
		if err != nil {
			return nil, err
		}
		return e.fetch(ctx, coll, table, ids.Sorted())
	}

	// Filtered scan, truncated at the cap.
	var out []rowcodec.Row
	errCapped := errors.New("scan cap reached")
	err := e.stream(ctx, r.db, table, nil, e.cfg.ScanBatchSize, func(batch []rowcodec.Row) error {
		for _, row := range batch {
			if v := row.Values[step.pos]; v != nil && value.String(v) == val {
				out = append(out, row)
				if len(out) >= e.cfg.JoinScanCap {
					return errCapped
				}
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errCapped) {
		return nil, err
	}
	if errors.Is(err, errCapped) {
		e.logger.Debugw("join scan truncated", "table", table.Name, "column", step.column, "cap", e.cfg.JoinScanCap)
	}
	return out, nil
}

// scanIDs visits the decoded identity of every row until visit returns true.
func (e *Executor) scanIDs(ctx context.Context, coll docstore.Collection, table *catalog.Table, visit func(id string, key []any) bool) error {
	cur, err := coll.Find(ctx, docstore.MatchAll(), docstore.FindOptions{IDsOnly: true, BatchSize: e.cfg.ScanBatchSize})
	if err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to scan table '%s'", table.Name), err)
	}
	defer cur.Close(ctx)

	for {
		docs, err := docstore.NextBatch(ctx, cur, e.cfg.ScanBatchSize)
		if err != nil {
			return dserrors.NewStorageError(fmt.Sprintf("failed to scan table '%s'", table.Name), err)
		}
		if len(docs) == 0 {
			return nil
		}
		for _, doc := range docs {
			key, err := rowcodec.DecodeIdentity(table, doc.ID)
			if err != nil {
				return err
			}
			if visit(doc.ID, key) {
				return nil
			}
		}
	}
}

// bloom returns the per-query filter of the values held by a column,
// building it with one pass over the table on first use.
func (r *joinRun) bloom(ctx context.Context, table *catalog.Table, pos int) (*bloom.Filter, error) {
	key := table.Name + "." + table.Columns[pos].Name
	if f, ok := r.blooms[key]; ok {
		return f, nil
	}

	var vals []string
	err := r.e.stream(ctx, r.db, table, nil, r.e.cfg.ScanBatchSize, func(batch []rowcodec.Row) error {
		for _, row := range batch {
			if v := row.Values[pos]; v != nil {
				vals = append(vals, value.String(v))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	f := bloom.New(max(len(vals), 1), r.e.cfg.BloomFalsePositiveRate)
	for _, v := range vals {
		f.Add(v)
	}
	r.blooms[key] = f
	return f, nil
}
