// Package engine dispatches docsql statements. It parses each statement,
// resolves it against the catalog and hands it to the DDL, DML or SELECT
// handler. Every statement yields a Result; errors and panics never cross a
// statement boundary, so a script always runs to its end.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docsql/docsql/internal/catalog"
	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/constraint"
	"github.com/docsql/docsql/internal/docstore"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/index"
	"github.com/docsql/docsql/internal/observability"
	"github.com/docsql/docsql/internal/query/executor"
	"github.com/docsql/docsql/internal/query/parser"
)

// Engine executes statements against one document store.
type Engine struct {
	docs      docstore.Store
	catalog   *catalog.Store
	indexes   *index.Manager
	validator *constraint.Validator
	executor  *executor.Executor
	stats     *observability.QueryStats
	cfg       config.EngineConfig
	logger    *zap.SugaredLogger
}

// New creates an engine over docs. Zero-valued settings in cfg take their
// defaults.
func New(docs docstore.Store, cfg config.EngineConfig, logger *zap.SugaredLogger) *Engine {
	def := config.DefaultEngineConfig()
	if cfg.ScanBatchSize <= 0 {
		cfg.ScanBatchSize = def.ScanBatchSize
	}
	if cfg.SlowStatementThreshold <= 0 {
		cfg.SlowStatementThreshold = def.SlowStatementThreshold
	}
	if cfg.PredicateStatsWindow <= 0 {
		cfg.PredicateStatsWindow = def.PredicateStatsWindow
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	indexes := index.NewManager(docs, cfg.ScanBatchSize)
	return &Engine{
		docs:      docs,
		catalog:   catalog.NewStore(docs),
		indexes:   indexes,
		validator: constraint.NewValidator(docs, indexes, cfg.ScanBatchSize),
		executor:  executor.New(docs, indexes, cfg, logger.Named("executor")),
		stats:     observability.NewQueryStats(cfg.PredicateStatsWindow),
		cfg:       cfg,
		logger:    logger,
	}
}

// Stats returns the predicate statistics gathered from SELECTs.
func (e *Engine) Stats() *observability.QueryStats {
	return e.stats
}

// Databases lists the databases in the catalog.
func (e *Engine) Databases(ctx context.Context) ([]string, error) {
	return e.catalog.List(ctx)
}

// Tables returns the table definitions of the named database, sorted by
// name. A missing database is a NotFoundError.
func (e *Engine) Tables(ctx context.Context, database string) ([]*catalog.Table, error) {
	db, err := e.catalog.Load(ctx, database)
	if err != nil {
		return nil, err
	}
	tables := make([]*catalog.Table, 0, len(db.Tables))
	for _, name := range db.TableNames() {
		t, _ := db.Table(name)
		tables = append(tables, t)
	}
	return tables, nil
}

// ExecuteScript runs every statement of script in order. A failing
// statement is reported in its Result and does not stop the script.
func (e *Engine) ExecuteScript(ctx context.Context, sess *Session, script string) []Result {
	stmts := parser.SplitStatements(script)
	results := make([]Result, 0, len(stmts))
	for _, sql := range stmts {
		results = append(results, e.Execute(ctx, sess, sql))
	}
	return results
}

// Execute runs a single statement.
func (e *Engine) Execute(ctx context.Context, sess *Session, sql string) (res Result) {
	start := time.Now()
	res.Statement = strings.TrimSpace(sql)

	defer func() {
		if r := recover(); r != nil {
			res.fail(dserrors.NewInternalError(fmt.Sprintf("statement panicked: %v", r), nil))
		}
		res.Elapsed = time.Since(start)
		e.logStatement(sess, res)
	}()

	stmt, err := parser.Parse(res.Statement)
	if err != nil {
		res.fail(syntaxError(err))
		return res
	}
	if err := ctx.Err(); err != nil {
		res.fail(dserrors.NewStorageError("statement cancelled", err))
		return res
	}
	if err := e.dispatch(ctx, sess, stmt, &res); err != nil {
		res.fail(classify(err))
	}
	return res
}

func (e *Engine) dispatch(ctx context.Context, sess *Session, stmt parser.Statement, res *Result) error {
	switch s := stmt.(type) {
	case *parser.CreateDatabaseStatement:
		return e.createDatabase(ctx, s, res)
	case *parser.UseDatabaseStatement:
		return e.useDatabase(ctx, sess, s, res)
	case *parser.DropDatabaseStatement:
		return e.dropDatabase(ctx, sess, s, res)
	case *parser.CreateTableStatement:
		return e.createTable(ctx, sess, s, res)
	case *parser.DropTableStatement:
		return e.dropTable(ctx, sess, s, res)
	case *parser.CreateIndexStatement:
		return e.createIndex(ctx, sess, s, res)
	case *parser.InsertStatement:
		return e.insert(ctx, sess, s, res)
	case *parser.DeleteStatement:
		return e.delete(ctx, sess, s, res)
	case *parser.SelectStatement:
		return e.selectRows(ctx, sess, s, res)
	}
	return dserrors.Wrap(dserrors.ErrCategorySyntax, dserrors.CodeUnsupportedStatement,
		fmt.Sprintf("unsupported statement: %s", stmt.String()), nil)
}

// database loads the catalog record of the session's current database.
func (e *Engine) database(ctx context.Context, sess *Session) (*catalog.Database, error) {
	name, err := sess.current()
	if err != nil {
		return nil, err
	}
	return e.catalog.Load(ctx, name)
}

func lookupTable(db *catalog.Database, name string) (*catalog.Table, error) {
	table, ok := db.Table(name)
	if !ok {
		return nil, dserrors.NewNotFoundError(dserrors.CodeTable,
			fmt.Sprintf("Table '%s' does not exist in '%s'", name, db.Name))
	}
	return table, nil
}

func syntaxError(err error) error {
	var perr *parser.ParseError
	if errors.As(err, &perr) && perr.Unsupported {
		return dserrors.Wrap(dserrors.ErrCategorySyntax, dserrors.CodeUnsupportedStatement, perr.Error(), nil)
	}
	return dserrors.NewSyntaxError(err.Error(), nil)
}

// classify makes sure every error carries a category. Storage sentinels
// that escaped a handler become storage errors.
func classify(err error) error {
	if dserrors.GetCategory(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dserrors.NewStorageError("statement cancelled", err)
	}
	if errors.Is(err, docstore.ErrClosed) {
		return dserrors.NewStorageError("document store is closed", err)
	}
	return dserrors.NewInternalError("unexpected failure", err)
}

func (e *Engine) logStatement(sess *Session, res Result) {
	fields := []interface{}{
		"session", sess.ID.String(),
		"database", sess.Database,
		"statement", res.Statement,
		"elapsed", res.Elapsed,
	}
	switch {
	case res.Failed():
		e.logger.Warnw("statement failed", append(fields, "category", res.Category, "code", res.Code, "error", res.Error)...)
	case res.Elapsed >= e.cfg.SlowStatementThreshold:
		e.logger.Warnw("slow statement", fields...)
	default:
		e.logger.Debugw("statement executed", fields...)
	}
}
