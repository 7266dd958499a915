package executor

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/internal/catalog"
	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/docstore"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/index"
	"github.com/docsql/docsql/internal/query/parser"
	"github.com/docsql/docsql/internal/rowcodec"
)

type harness struct {
	ctx     context.Context
	store   docstore.Store
	indexes *index.Manager
	db      *catalog.Database
	exec    *Executor
}

func newHarness(t *testing.T, cfg config.EngineConfig) *harness {
	t.Helper()
	store := docstore.NewMemoryStore()
	indexes := index.NewManager(store, 0)
	return &harness{
		ctx:     context.Background(),
		store:   store,
		indexes: indexes,
		db:      catalog.NewDatabase("shop"),
		exec:    New(store, indexes, cfg, nil),
	}
}

func (h *harness) addTable(table *catalog.Table) {
	h.db.Tables[table.Name] = table
}

func (h *harness) insert(t *testing.T, table string, values ...any) {
	t.Helper()
	tbl := h.db.Tables[table]
	doc, err := rowcodec.Encode(tbl, values)
	require.NoError(t, err)
	require.NoError(t, h.store.Collection("shop", table).Insert(h.ctx, doc))
	require.NoError(t, h.indexes.Maintain(h.ctx, "shop", tbl, index.OpInsert, doc.ID, values, nil, ""))
}

func (h *harness) query(t *testing.T, sql string) *Result {
	t.Helper()
	stmt, err := parser.Parse(sql)
	require.NoError(t, err)
	res, err := h.exec.Execute(h.ctx, h.db, stmt.(*parser.SelectStatement))
	require.NoError(t, err)
	return res
}

func productsHarness(t *testing.T) *harness {
	h := newHarness(t, config.DefaultEngineConfig())
	h.addTable(&catalog.Table{
		Name: "products",
		Columns: []catalog.Column{
			{Name: "id", Type: "INT"},
			{Name: "name", Type: "TEXT"},
			{Name: "category", Type: "TEXT"},
			{Name: "price", Type: "FLOAT"},
			{Name: "active", Type: "BOOL"},
		},
		Constraints: catalog.Constraints{PrimaryKey: []string{"id"}},
		Indexes: []catalog.Index{
			{Name: "by_category", Columns: []string{"category"}},
			{Name: "by_price", Columns: []string{"price"}},
		},
	})
	h.insert(t, "products", "1", "pen", "office", "1.5", "TRUE")
	h.insert(t, "products", "2", "desk", "furniture", "120", "TRUE")
	h.insert(t, "products", "3", "stapler", "office", "7.25", "FALSE")
	h.insert(t, "products", "4", "chair", "furniture", "45", "TRUE")
	h.insert(t, "products", "5", "lamp", nil, "20", nil)
	return h
}

func TestSelectStar(t *testing.T) {
	h := productsHarness(t)
	res := h.query(t, "SELECT * FROM products")
	assert.Equal(t, []string{"id", "name", "category", "price", "active"}, res.Columns)
	assert.Len(t, res.Rows, 5)
	assert.Equal(t, int64(5), res.Stats.RowsScanned)
}

func TestSelectUsesIndexForEquality(t *testing.T) {
	h := productsHarness(t)
	res := h.query(t, "SELECT name FROM products WHERE category = 'office' AND price > 2")
	assert.Equal(t, [][]any{{"stapler"}}, res.Rows)
	assert.Contains(t, res.Stats.IndexesUsed, "by_category")
	assert.Contains(t, res.Stats.IndexesUsed, "by_price")
	assert.Equal(t, int64(1), res.Stats.RowsScanned)
}

func TestSelectRangeWithoutEquality(t *testing.T) {
	h := productsHarness(t)
	res := h.query(t, "SELECT id FROM products WHERE price >= 20")
	ids := column(res, 0)
	assert.Equal(t, []string{"2", "4", "5"}, ids)
	assert.Equal(t, []string{"by_price"}, res.Stats.IndexesUsed)
}

func TestSelectPrimaryKeyPointLookup(t *testing.T) {
	h := productsHarness(t)
	res := h.query(t, "SELECT name, price FROM products WHERE id = 004")
	assert.True(t, res.Stats.PointLookup)
	assert.Equal(t, [][]any{{"chair", "45"}}, res.Rows)

	res = h.query(t, "SELECT name FROM products WHERE id = 99")
	assert.Empty(t, res.Rows)
}

func TestSelectNormalisesLiterals(t *testing.T) {
	h := productsHarness(t)
	res := h.query(t, "SELECT id FROM products WHERE active = true")
	assert.Equal(t, []string{"1", "2", "4"}, column(res, 0))

	// NULL never compares equal.
	res = h.query(t, "SELECT id FROM products WHERE category = NULL")
	assert.Empty(t, res.Rows)
}

func TestSelectDistinctAndQualified(t *testing.T) {
	h := productsHarness(t)
	res := h.query(t, "SELECT DISTINCT products.category FROM products WHERE price < 100")
	assert.Equal(t, []string{"products.category"}, res.Columns)
	assert.Len(t, res.Rows, 3)
}

func TestSelectErrors(t *testing.T) {
	h := productsHarness(t)
	for _, sql := range []string{
		"SELECT * FROM nope",
		"SELECT * FROM products WHERE nope = 1",
		"SELECT nope FROM products",
		"SELECT * FROM products WHERE other.id = 1",
	} {
		stmt, err := parser.Parse(sql)
		require.NoError(t, err, sql)
		_, err = h.exec.Execute(h.ctx, h.db, stmt.(*parser.SelectStatement))
		assert.Error(t, err, sql)
	}

	stmt, _ := parser.Parse("SELECT * FROM nope")
	_, err := h.exec.Execute(h.ctx, h.db, stmt.(*parser.SelectStatement))
	assert.Equal(t, dserrors.ErrCategoryNotFound, dserrors.GetCategory(err))
}

func column(res *Result, i int) []string {
	var out []string
	for _, row := range res.Rows {
		out = append(out, fmt.Sprint(row[i]))
	}
	sort.Strings(out)
	return out
}
