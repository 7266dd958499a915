package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/docstore"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/logging"
)

func newEngine(t *testing.T) (*Engine, *Session) {
	t.Helper()
	e := New(docstore.NewMemoryStore(), config.DefaultEngineConfig(), logging.Nop())
	return e, NewSession("")
}

func mustRun(t *testing.T, e *Engine, sess *Session, script string) []Result {
	t.Helper()
	results := e.ExecuteScript(context.Background(), sess, script)
	for _, r := range results {
		require.False(t, r.Failed(), "%s: %s", r.Statement, r.Error)
	}
	return results
}

func run(e *Engine, sess *Session, sql string) Result {
	return e.Execute(context.Background(), sess, sql)
}

func assertFails(t *testing.T, res Result, category dserrors.ErrorCategory, code string) {
	t.Helper()
	require.True(t, res.Failed(), "expected %s to fail", res.Statement)
	assert.Equal(t, string(category), res.Category, res.Error)
	assert.Equal(t, code, res.Code, res.Error)
}

func TestDuplicateKeyScenario(t *testing.T) {
	e, sess := newEngine(t)
	results := e.ExecuteScript(context.Background(), sess, `
		CREATE DATABASE shop;
		USE shop;
		CREATE TABLE t(id INT PRIMARY KEY, name TEXT);
		INSERT INTO t VALUES(1,'a');
		INSERT INTO t VALUES(1,'b');
		SELECT * FROM t WHERE id=1;`)
	require.Len(t, results, 6)

	for _, r := range results[:4] {
		require.False(t, r.Failed(), r.Error)
	}
	assert.Equal(t, "Database 'shop' created", results[0].Message)
	assert.Equal(t, "Database 'shop' in use", results[1].Message)
	assert.Equal(t, "Table 't' created in 'shop'", results[2].Message)
	assert.Equal(t, "Row '1' inserted into 't'", results[3].Message)

	assertFails(t, results[4], dserrors.ErrCategoryConstraint, dserrors.CodePrimaryKey)
	assert.Contains(t, results[4].Error, "already exists")

	require.False(t, results[5].Failed(), results[5].Error)
	assert.Equal(t, []string{"id", "name"}, results[5].Columns)
	assert.Equal(t, [][]any{{"1", "a"}}, results[5].Rows)
}

func TestPrimaryKeyRoundTrip(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE stock(warehouse INT, sku VARCHAR(8), price FLOAT, active BOOL, since DATE, PRIMARY KEY (warehouse, sku));
		INSERT INTO stock VALUES (1, 'ab-1', 2.50, true, '2024-01-31');
		INSERT INTO stock VALUES (1, 'ab-2', 3, 0, '2024.02.01');
		INSERT INTO stock (sku, warehouse) VALUES ('ab-1', 2);`)

	res := run(e, sess, "SELECT * FROM stock WHERE warehouse = 1 AND sku = 'ab-1'")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, []string{"warehouse", "sku", "price", "active", "since"}, res.Columns)
	assert.Equal(t, [][]any{{"1", "ab-1", "2.5", "TRUE", "2024-01-31"}}, res.Rows)

	res = run(e, sess, "SELECT * FROM stock WHERE sku = 'ab-1' AND warehouse = 2")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"2", "ab-1", nil, nil, nil}}, res.Rows)

	res = run(e, sess, "SELECT price FROM stock WHERE warehouse = 1 AND sku = 'ab-2'")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"3"}}, res.Rows)
}

func TestInsertValidation(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE users(id INT PRIMARY KEY, email TEXT UNIQUE, nick VARCHAR(3));
		INSERT INTO users VALUES (1, 'a@x', 'abc');`)

	assertFails(t, run(e, sess, "INSERT INTO users VALUES (2, 'a@x', 'x')"),
		dserrors.ErrCategoryConstraint, dserrors.CodeUnique)
	assertFails(t, run(e, sess, "INSERT INTO users VALUES ('two', 'b@x', 'x')"),
		dserrors.ErrCategorySchema, dserrors.CodeInvalidValue)
	assertFails(t, run(e, sess, "INSERT INTO users VALUES (3, 'c@x', 'long')"),
		dserrors.ErrCategorySchema, dserrors.CodeInvalidValue)
	assertFails(t, run(e, sess, "INSERT INTO users VALUES (4, 'd@x')"),
		dserrors.ErrCategorySchema, dserrors.CodeInvalidValue)
	assertFails(t, run(e, sess, "INSERT INTO users (id, mail) VALUES (5, 'e@x')"),
		dserrors.ErrCategorySchema, dserrors.CodeUnknownColumn)
	assertFails(t, run(e, sess, "INSERT INTO users (email) VALUES ('f@x')"),
		dserrors.ErrCategorySchema, dserrors.CodeInvalidValue)
	assertFails(t, run(e, sess, "INSERT INTO ghosts VALUES (1)"),
		dserrors.ErrCategoryNotFound, dserrors.CodeTable)

	res := run(e, sess, "SELECT id FROM users")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"1"}}, res.Rows)
}

func TestForeignKeys(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE customers(id INT PRIMARY KEY, name TEXT);
		CREATE TABLE orders(id INT PRIMARY KEY, customer INT REFERENCES customers(id));`)

	assertFails(t, run(e, sess, "INSERT INTO orders VALUES (1, 9)"),
		dserrors.ErrCategoryConstraint, dserrors.CodeForeignKey)

	mustRun(t, e, sess, `
		INSERT INTO customers VALUES (9, 'Ada');
		INSERT INTO orders VALUES (1, 9);
		INSERT INTO orders VALUES (2, NULL);`)

	res := run(e, sess, "SELECT * FROM orders WHERE customer = 9")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"1", "9"}}, res.Rows)
}

func TestCreateTableChecks(t *testing.T) {
	e, sess := newEngine(t)
	assertFails(t, run(e, sess, "CREATE TABLE t(id INT PRIMARY KEY)"),
		dserrors.ErrCategoryNotFound, dserrors.CodeNoDatabase)

	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE parents(a INT, b INT, PRIMARY KEY (a, b));
		CREATE TABLE t(id INT PRIMARY KEY);`)

	cases := []struct {
		sql  string
		code string
	}{
		{"CREATE TABLE t(id INT PRIMARY KEY)", dserrors.CodeDuplicateTable},
		{"CREATE TABLE n(id INT)", dserrors.CodeInvalidDefinition},
		{"CREATE TABLE n(id INT, PRIMARY KEY (other))", dserrors.CodeInvalidDefinition},
		{"CREATE TABLE n(id INT PRIMARY KEY, id TEXT)", dserrors.CodeInvalidDefinition},
		{"CREATE TABLE n(id INT PRIMARY KEY, p INT REFERENCES missing(id))", dserrors.CodeInvalidDefinition},
		{"CREATE TABLE n(id INT PRIMARY KEY, p INT REFERENCES parents(c))", dserrors.CodeInvalidDefinition},
		{"CREATE TABLE n(id INT PRIMARY KEY, p INT REFERENCES t(nope))", dserrors.CodeInvalidDefinition},
		{"CREATE TABLE n(id BLOB PRIMARY KEY)", dserrors.CodeInvalidType},
	}
	for _, tc := range cases {
		t.Run(tc.sql, func(t *testing.T) {
			assertFails(t, run(e, sess, tc.sql), dserrors.ErrCategorySchema, tc.code)
		})
	}

	// A component of a composite primary key may be referenced, and so may
	// the table's own key.
	mustRun(t, e, sess, `
		CREATE TABLE kids(id INT PRIMARY KEY, a INT REFERENCES parents(a));
		CREATE TABLE nodes(id INT PRIMARY KEY, parent INT REFERENCES nodes(id));
		INSERT INTO nodes VALUES (1, NULL);
		INSERT INTO nodes VALUES (2, 1);`)
}

func TestDelete(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE customers(id INT PRIMARY KEY, name TEXT);
		CREATE TABLE orders(id INT PRIMARY KEY, customer INT REFERENCES customers(id));
		INSERT INTO customers VALUES (1, 'Ada');
		INSERT INTO customers VALUES (2, 'Bob');
		INSERT INTO orders VALUES (10, 1);`)

	assertFails(t, run(e, sess, "DELETE FROM customers WHERE id = 1"),
		dserrors.ErrCategoryConstraint, dserrors.CodeReferenced)

	res := run(e, sess, "DELETE FROM customers WHERE id = 2")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, "Row '2' deleted from 'customers'", res.Message)

	res = run(e, sess, "SELECT * FROM customers WHERE id = 2")
	require.False(t, res.Failed(), res.Error)
	assert.Empty(t, res.Rows)

	res = run(e, sess, "DELETE FROM customers WHERE id = 7")
	assertFails(t, res, dserrors.ErrCategoryNotFound, dserrors.CodeRow)
	assert.Contains(t, res.Error, "Document with key '7' not found")

	// A residual condition that the row does not satisfy leaves it alone.
	assertFails(t, run(e, sess, "DELETE FROM customers WHERE id = 1 AND name = 'Eve'"),
		dserrors.ErrCategoryNotFound, dserrors.CodeRow)
	assertFails(t, run(e, sess, "DELETE FROM customers WHERE name = 'Ada'"),
		dserrors.ErrCategorySyntax, dserrors.CodeParseError)
	assertFails(t, run(e, sess, "DELETE FROM customers WHERE nope = 1"),
		dserrors.ErrCategorySchema, dserrors.CodeUnknownColumn)

	mustRun(t, e, sess, `
		DELETE FROM orders WHERE id = 10;
		DELETE FROM customers WHERE id = 1 AND name = 'Ada';`)
	res = run(e, sess, "SELECT * FROM customers")
	require.False(t, res.Failed(), res.Error)
	assert.Empty(t, res.Rows)
}

func TestDeleteMaintainsIndexes(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE people(id INT PRIMARY KEY, city TEXT);
		INSERT INTO people VALUES (1, 'Oslo');
		INSERT INTO people VALUES (2, 'Oslo');
		CREATE INDEX by_city ON people(city);
		DELETE FROM people WHERE id = 1;
		INSERT INTO people VALUES (3, 'Oslo');`)

	res := run(e, sess, "SELECT id FROM people WHERE city = 'Oslo'")
	require.False(t, res.Failed(), res.Error)
	assert.ElementsMatch(t, [][]any{{"2"}, {"3"}}, res.Rows)
}

func TestJoinMatchesFilteredCrossProduct(t *testing.T) {
	e, sess := newEngine(t)
	left := [][]any{{"1", "10"}, {"2", "20"}, {"3", "99"}}
	right := [][]any{{"1", "10"}, {"2", "20"}, {"3", "77"}}

	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE ta(id INT PRIMARY KEY, x INT);
		CREATE TABLE tb(id INT PRIMARY KEY, y INT);`)
	for _, r := range left {
		mustRun(t, e, sess, fmt.Sprintf("INSERT INTO ta VALUES (%s, %s)", r[0], r[1]))
	}
	for _, r := range right {
		mustRun(t, e, sess, fmt.Sprintf("INSERT INTO tb VALUES (%s, %s)", r[0], r[1]))
	}

	var want [][]any
	for _, a := range left {
		for _, b := range right {
			if a[1] == b[1] {
				want = append(want, []any{a[0], a[1], b[0], b[1]})
			}
		}
	}

	res := run(e, sess, "SELECT * FROM ta JOIN tb ON ta.x = tb.y")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, []string{"ta.id", "ta.x", "tb.id", "tb.y"}, res.Columns)
	assert.ElementsMatch(t, want, res.Rows)

	// Same answer once the join column is indexed.
	mustRun(t, e, sess, "CREATE INDEX by_y ON tb(y)")
	res = run(e, sess, "SELECT * FROM ta JOIN tb ON ta.x = tb.y")
	require.False(t, res.Failed(), res.Error)
	assert.ElementsMatch(t, want, res.Rows)

	res = run(e, sess, "SELECT ta.id, tb.id FROM ta JOIN tb ON ta.x = tb.y WHERE tb.y > 15")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"2", "2"}}, res.Rows)
}

func TestAggregates(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE items(id INT PRIMARY KEY, category TEXT, qty INT);
		INSERT INTO items VALUES (1, 'a', 2);
		INSERT INTO items VALUES (2, 'a', 3);
		INSERT INTO items VALUES (3, 'a', 5);
		INSERT INTO items VALUES (4, 'b', 10);`)

	res := run(e, sess, "SELECT COUNT(*), SUM(qty), AVG(qty) FROM items")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, []string{"COUNT(*)", "SUM(qty)", "AVG(qty)"}, res.Columns)
	assert.Equal(t, [][]any{{int64(4), 20.0, 5.0}}, res.Rows)

	res = run(e, sess, "SELECT category, COUNT(*) FROM items GROUP BY category ORDER BY category")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"a", int64(3)}, {"b", int64(1)}}, res.Rows)

	res = run(e, sess, "SELECT category FROM items GROUP BY category ORDER BY COUNT(*) ASC")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"b"}, {"a"}}, res.Rows)

	res = run(e, sess, "SELECT id FROM items ORDER BY qty DESC")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"4"}, {"3"}, {"2"}, {"1"}}, res.Rows)

	res = run(e, sess, "SELECT DISTINCT category FROM items")
	require.False(t, res.Failed(), res.Error)
	assert.ElementsMatch(t, [][]any{{"a"}, {"b"}}, res.Rows)

	res = run(e, sess, "SELECT MAX(qty) FROM items WHERE category = 'a'")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{5.0}}, res.Rows)
}

func TestQualifiedColumnsMustNameQueryTables(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE t(id INT PRIMARY KEY, name TEXT);
		CREATE TABLE u(id INT PRIMARY KEY, tid INT);
		INSERT INTO t VALUES (1, 'a');`)

	for _, sql := range []string{
		"SELECT zz.name FROM t",
		"SELECT name FROM t ORDER BY zz.id",
		"SELECT COUNT(zz.id) FROM t",
		"SELECT name FROM t GROUP BY zz.name",
		"SELECT u.id FROM t",
		"SELECT t.missing FROM t",
		"SELECT t.id FROM t JOIN u ON t.id = u.tid ORDER BY u.name",
	} {
		assertFails(t, run(e, sess, sql), dserrors.ErrCategorySchema, dserrors.CodeUnknownColumn)
	}

	res := run(e, sess, "SELECT t.name FROM t ORDER BY t.id")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, []string{"t.name"}, res.Columns)
	assert.Equal(t, [][]any{{"a"}}, res.Rows)
}

func TestCrossTableLiteralFollowsColumnType(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE a(id INT PRIMARY KEY, x INT, flag BOOL);
		CREATE TABLE b(id INT PRIMARY KEY, y INT, flag BOOL);
		INSERT INTO a VALUES (1, 10, TRUE);
		INSERT INTO a VALUES (2, 20, FALSE);
		INSERT INTO b VALUES (1, 10, TRUE);
		INSERT INTO b VALUES (2, 20, FALSE);`)

	// flag is in both tables, so the condition is checked on the joined row.
	for _, cond := range []string{"flag = 1", "flag = TRUE", "flag = 'true'"} {
		res := run(e, sess, "SELECT a.id FROM a JOIN b ON a.x = b.y WHERE "+cond)
		require.False(t, res.Failed(), res.Error)
		assert.Equal(t, [][]any{{"1"}}, res.Rows, cond)
	}

	res := run(e, sess, "SELECT a.id FROM a JOIN b ON a.x = b.y WHERE flag = 0")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"2"}}, res.Rows)
}

func TestDateSpellingsShareIdentity(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE days(day DATE PRIMARY KEY, note TEXT);
		INSERT INTO days VALUES ('2020-01-01', 'a');`)

	assertFails(t, run(e, sess, "INSERT INTO days VALUES ('2020.01.01', 'b')"),
		dserrors.ErrCategoryConstraint, dserrors.CodePrimaryKey)

	mustRun(t, e, sess, "INSERT INTO days VALUES (2020.01.02, 'c')")
	res := run(e, sess, "SELECT * FROM days WHERE day >= '2020-01-01' ORDER BY day")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"2020-01-01", "a"}, {"2020-01-02", "c"}}, res.Rows)

	res = run(e, sess, "SELECT note FROM days WHERE day = '2020.01.02'")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"c"}}, res.Rows)
}

func TestIndexes(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE people(id INT PRIMARY KEY, email TEXT UNIQUE, city TEXT);
		INSERT INTO people VALUES (1, 'a@x', 'Oslo');`)

	res := run(e, sess, "CREATE INDEX by_email ON people(email)")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, "Index 'by_email' created on table 'people'", res.Message)

	assertFails(t, run(e, sess, "CREATE INDEX by_email ON people(city)"),
		dserrors.ErrCategorySchema, dserrors.CodeDuplicateIndex)
	assertFails(t, run(e, sess, "CREATE INDEX by_zip ON people(zip)"),
		dserrors.ErrCategorySchema, dserrors.CodeUnknownColumn)
	assertFails(t, run(e, sess, "CREATE INDEX by_zip ON ghosts(zip)"),
		dserrors.ErrCategoryNotFound, dserrors.CodeTable)

	// The unique index rejects the duplicate before anything is written.
	assertFails(t, run(e, sess, "INSERT INTO people VALUES (2, 'a@x', 'Rome')"),
		dserrors.ErrCategoryConstraint, dserrors.CodeUnique)
	res = run(e, sess, "SELECT id FROM people")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"1"}}, res.Rows)
}

func TestProperty_IndexLookupMatchesScan(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	cities := []string{"Oslo", "Rome", "Lima"}

	ids := func(res Result) []string {
		var out []string
		for _, row := range res.Rows {
			out = append(out, row[0].(string))
		}
		sort.Strings(out)
		return out
	}

	properties.Property("indexed and unindexed tables answer alike", prop.ForAll(
		func(picks []int, target int, bound int) bool {
			e, sess := newEngine(t)
			ctx := context.Background()
			setup := e.ExecuteScript(ctx, sess, `
				CREATE DATABASE shop; USE shop;
				CREATE TABLE indexed(id INT PRIMARY KEY, city TEXT, age INT);
				CREATE TABLE plain(id INT PRIMARY KEY, city TEXT, age INT);
				CREATE INDEX by_city ON indexed(city);
				CREATE INDEX by_age ON indexed(age);`)
			for _, r := range setup {
				if r.Failed() {
					return false
				}
			}
			for i, p := range picks {
				for _, table := range []string{"indexed", "plain"} {
					sql := fmt.Sprintf("INSERT INTO %s VALUES (%d, '%s', %d)", table, i, cities[p%len(cities)], (i*7)%50)
					if e.Execute(ctx, sess, sql).Failed() {
						return false
					}
				}
			}

			city := cities[target%len(cities)]
			for _, where := range []string{
				fmt.Sprintf("city = '%s'", city),
				fmt.Sprintf("age > %d", bound),
				fmt.Sprintf("age <= %d AND city = '%s'", bound, city),
			} {
				a := e.Execute(ctx, sess, "SELECT id FROM indexed WHERE "+where)
				b := e.Execute(ctx, sess, "SELECT id FROM plain WHERE "+where)
				if a.Failed() || b.Failed() {
					return false
				}
				if strings.Join(ids(a), ",") != strings.Join(ids(b), ",") {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.IntRange(0, 2),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

func TestSessionAndDatabases(t *testing.T) {
	e, sess := newEngine(t)

	res := run(e, sess, "SELECT * FROM t")
	assertFails(t, res, dserrors.ErrCategoryNotFound, dserrors.CodeNoDatabase)
	assert.Contains(t, res.Error, "No database selected")

	assertFails(t, run(e, sess, "USE nowhere"), dserrors.ErrCategoryNotFound, dserrors.CodeDatabase)
	assert.Empty(t, sess.Database)

	mustRun(t, e, sess, `
		CREATE DATABASE shop;
		CREATE DATABASE scratch;
		USE scratch;
		CREATE TABLE t(id INT PRIMARY KEY);
		INSERT INTO t VALUES (1);`)
	assert.Equal(t, "scratch", sess.Database)

	assertFails(t, run(e, sess, "CREATE DATABASE shop"),
		dserrors.ErrCategorySchema, dserrors.CodeDuplicateDatabase)
	assertFails(t, run(e, sess, "DROP DATABASE scratch"),
		dserrors.ErrCategorySchema, dserrors.CodeDatabaseInUse)

	results := mustRun(t, e, sess, "USE shop; DROP DATABASE scratch")
	assert.Equal(t, "Database 'scratch' has been dropped successfully", results[1].Message)

	names, err := e.Databases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, names)

	// Recreating the database starts empty.
	mustRun(t, e, sess, "CREATE DATABASE scratch; USE scratch")
	assertFails(t, run(e, sess, "SELECT * FROM t"), dserrors.ErrCategoryNotFound, dserrors.CodeTable)

	// A fresh session shares the catalog but not the current database.
	other := NewSession("")
	assertFails(t, run(e, other, "SELECT * FROM t"), dserrors.ErrCategoryNotFound, dserrors.CodeNoDatabase)
	assert.NotEqual(t, sess.ID, other.ID)
}

func TestDropTable(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE customers(id INT PRIMARY KEY);
		CREATE TABLE orders(id INT PRIMARY KEY, customer INT REFERENCES customers(id), note TEXT);
		CREATE INDEX by_note ON orders(note);
		INSERT INTO customers VALUES (1);
		INSERT INTO orders VALUES (1, 1, 'x');`)

	assertFails(t, run(e, sess, "DROP TABLE customers"),
		dserrors.ErrCategoryConstraint, dserrors.CodeReferenced)

	res := run(e, sess, "DROP TABLE orders")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, "Table 'orders' has been dropped successfully", res.Message)

	mustRun(t, e, sess, `
		DROP TABLE customers;
		CREATE TABLE orders(id INT PRIMARY KEY, note TEXT);
		CREATE INDEX by_note ON orders(note);
		INSERT INTO orders VALUES (5, 'x');`)
	res = run(e, sess, "SELECT id FROM orders WHERE note = 'x'")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"5"}}, res.Rows)

	assertFails(t, run(e, sess, "DROP TABLE customers"), dserrors.ErrCategoryNotFound, dserrors.CodeTable)
}

func TestScriptContinuesAfterFailure(t *testing.T) {
	e, sess := newEngine(t)
	results := e.ExecuteScript(context.Background(), sess, `
		-- setup
		CREATE DATABASE shop;
		UPDATE t SET a = 1;
		SELEKT 1;
		USE shop;`)
	require.Len(t, results, 4)
	assert.False(t, results[0].Failed())
	assertFails(t, results[1], dserrors.ErrCategorySyntax, dserrors.CodeUnsupportedStatement)
	assert.True(t, results[2].Failed())
	assert.Equal(t, string(dserrors.ErrCategorySyntax), results[2].Category)
	assert.False(t, results[3].Failed())
	assert.Equal(t, "USE shop", results[3].Statement)
}

func TestPredicateStats(t *testing.T) {
	e, sess := newEngine(t)
	mustRun(t, e, sess, `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE people(id INT PRIMARY KEY, city TEXT, age INT);
		CREATE INDEX by_age ON people(age);
		SELECT * FROM people WHERE city = 'Oslo';
		SELECT * FROM people WHERE city = 'Rome';
		SELECT * FROM people WHERE age > 3 AND id = 1;`)

	cands := e.Stats().IndexCandidates(5)
	require.Len(t, cands, 1)
	assert.Equal(t, "shop.people.city", cands[0].Column)
	assert.Equal(t, int64(2), cands[0].Unindexed)

	top := e.Stats().GetTopPredicates(5)
	assert.Len(t, top, 3)

	mustRun(t, e, sess, "DROP TABLE people")
	assert.Empty(t, e.Stats().GetTopPredicates(5))
}

type panicStore struct {
	docstore.Store
}

func (panicStore) Collection(database, name string) docstore.Collection {
	panic("collection unavailable")
}

func TestPanicBecomesInternalError(t *testing.T) {
	e := New(panicStore{docstore.NewMemoryStore()}, config.EngineConfig{}, nil)
	res := e.Execute(context.Background(), NewSession(""), "CREATE DATABASE shop")
	assertFails(t, res, dserrors.ErrCategoryInternal, dserrors.CodeUnexpected)
	assert.Contains(t, res.Error, "collection unavailable")
}

func TestResultJSON(t *testing.T) {
	e, sess := newEngine(t)
	results := e.ExecuteScript(context.Background(), sess, "CREATE DATABASE shop; USE nowhere")

	data, err := json.Marshal(results)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "Database 'shop' created", decoded[0]["message"])
	assert.NotContains(t, decoded[0], "error")
	assert.Contains(t, decoded[0], "elapsed_ms")
	assert.Equal(t, "NOT_FOUND", decoded[1]["error_category"])
	assert.Equal(t, "DATABASE", decoded[1]["error_code"])
}
