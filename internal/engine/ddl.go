package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/docsql/docsql/internal/catalog"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/query/parser"
)

func (e *Engine) createDatabase(ctx context.Context, s *parser.CreateDatabaseStatement, res *Result) error {
	if s.Name == catalog.SystemDatabase {
		return dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
			fmt.Sprintf("Database name '%s' is reserved", s.Name))
	}
	if _, err := e.catalog.Create(ctx, s.Name); err != nil {
		return err
	}
	res.Message = fmt.Sprintf("Database '%s' created", s.Name)
	return nil
}

func (e *Engine) useDatabase(ctx context.Context, sess *Session, s *parser.UseDatabaseStatement, res *Result) error {
	ok, err := e.catalog.Exists(ctx, s.Name)
	if err != nil {
		return err
	}
	if !ok {
		return dserrors.NewNotFoundError(dserrors.CodeDatabase,
			fmt.Sprintf("Database '%s' does not exist", s.Name))
	}
	sess.Database = s.Name
	res.Message = fmt.Sprintf("Database '%s' in use", s.Name)
	return nil
}

func (e *Engine) dropDatabase(ctx context.Context, sess *Session, s *parser.DropDatabaseStatement, res *Result) error {
	if sess.Database == s.Name {
		return dserrors.NewSchemaError(dserrors.CodeDatabaseInUse, "Cannot drop the current database")
	}
	if _, err := e.catalog.Load(ctx, s.Name); err != nil {
		return err
	}
	if err := e.docs.DropDatabase(ctx, s.Name); err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to drop database '%s'", s.Name), err)
	}
	if err := e.catalog.Drop(ctx, s.Name); err != nil {
		return err
	}
	e.stats.Forget(s.Name)
	res.Message = fmt.Sprintf("Database '%s' has been dropped successfully", s.Name)
	return nil
}

func (e *Engine) createTable(ctx context.Context, sess *Session, s *parser.CreateTableStatement, res *Result) error {
	db, err := e.database(ctx, sess)
	if err != nil {
		return err
	}
	if _, exists := db.Table(s.Name); exists {
		return dserrors.NewSchemaError(dserrors.CodeDuplicateTable,
			fmt.Sprintf("Table '%s' already exists in '%s'", s.Name, db.Name))
	}

	table, err := defineTable(db, s)
	if err != nil {
		return err
	}
	db.Tables[table.Name] = table
	if err := e.catalog.Save(ctx, db); err != nil {
		return err
	}
	res.Message = fmt.Sprintf("Table '%s' created in '%s'", table.Name, db.Name)
	return nil
}

// defineTable turns a CREATE TABLE statement into a catalog table, checking
// column types, the primary key and every foreign key against db.
func defineTable(db *catalog.Database, s *parser.CreateTableStatement) (*catalog.Table, error) {
	table := &catalog.Table{Name: s.Name}
	for _, def := range s.Columns {
		if table.HasColumn(def.Name) {
			return nil, dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
				fmt.Sprintf("Duplicate column '%s' in table '%s'", def.Name, s.Name))
		}
		typ, err := catalog.ParseType(def.Type.String())
		if err != nil {
			return nil, dserrors.NewSchemaError(dserrors.CodeInvalidType,
				fmt.Sprintf("Invalid type '%s' for column '%s'", def.Type.String(), def.Name))
		}
		table.Columns = append(table.Columns, catalog.Column{Name: def.Name, Type: typ.String()})
	}

	pk := append([]string(nil), s.PrimaryKey...)
	for _, def := range s.Columns {
		if def.PrimaryKey && !contains(pk, def.Name) {
			pk = append(pk, def.Name)
		}
	}
	if len(pk) == 0 {
		return nil, dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
			fmt.Sprintf("Table '%s' must declare a primary key", s.Name))
	}
	seen := make(map[string]bool, len(pk))
	for _, col := range pk {
		if !table.HasColumn(col) {
			return nil, dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
				fmt.Sprintf("Primary key column '%s' is not declared in table '%s'", col, s.Name))
		}
		if seen[col] {
			return nil, dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
				fmt.Sprintf("Primary key column '%s' is listed twice", col))
		}
		seen[col] = true
	}
	table.Constraints.PrimaryKey = pk

	for _, def := range s.Columns {
		if def.Unique {
			table.Constraints.UniqueKey = append(table.Constraints.UniqueKey, def.Name)
		}
		if def.References == nil {
			continue
		}
		if err := checkReference(db, table, def.Name, *def.References); err != nil {
			return nil, err
		}
		table.Constraints.ForeignKeys = append(table.Constraints.ForeignKeys, catalog.ForeignKey{
			Column:     def.Name,
			References: catalog.Reference{Table: def.References.Table, Column: def.References.Column},
		})
	}
	return table, nil
}

// checkReference verifies that ref names a primary-key column of an existing
// table. A table may reference its own primary key.
func checkReference(db *catalog.Database, table *catalog.Table, column string, ref parser.ForeignKeyRef) error {
	target := table
	if ref.Table != table.Name {
		t, ok := db.Table(ref.Table)
		if !ok {
			return dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
				fmt.Sprintf("Referenced table '%s' of column '%s' does not exist in '%s'", ref.Table, column, db.Name))
		}
		target = t
	}
	if !target.HasColumn(ref.Column) {
		return dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
			fmt.Sprintf("Referenced column '%s' does not exist in table '%s'", ref.Column, target.Name))
	}
	if !target.IsPrimaryKey(ref.Column) {
		return dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
			fmt.Sprintf("Referenced column '%s' is not part of the primary key of '%s'", ref.Column, target.Name))
	}
	return nil
}

func (e *Engine) dropTable(ctx context.Context, sess *Session, s *parser.DropTableStatement, res *Result) error {
	db, err := e.database(ctx, sess)
	if err != nil {
		return err
	}
	table, err := lookupTable(db, s.Name)
	if err != nil {
		return err
	}
	if err := e.validator.CheckDropTable(db, table); err != nil {
		return err
	}

	for _, idx := range table.Indexes {
		if err := e.indexes.Drop(ctx, db.Name, table, idx); err != nil {
			return err
		}
	}
	if err := e.docs.Collection(db.Name, table.Name).Drop(ctx); err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to drop table '%s'", table.Name), err)
	}
	delete(db.Tables, table.Name)
	if err := e.catalog.Save(ctx, db); err != nil {
		return err
	}
	e.stats.Forget(db.Name + "." + table.Name)
	res.Message = fmt.Sprintf("Table '%s' has been dropped successfully", table.Name)
	return nil
}

func (e *Engine) createIndex(ctx context.Context, sess *Session, s *parser.CreateIndexStatement, res *Result) error {
	db, err := e.database(ctx, sess)
	if err != nil {
		return err
	}
	table, err := lookupTable(db, s.Table)
	if err != nil {
		return err
	}
	if _, exists := table.IndexByName(s.Name); exists {
		return dserrors.NewSchemaError(dserrors.CodeDuplicateIndex,
			fmt.Sprintf("Index '%s' already exists on table '%s'", s.Name, table.Name))
	}
	for i, col := range s.Columns {
		if !table.HasColumn(col) {
			return dserrors.NewSchemaError(dserrors.CodeUnknownColumn,
				fmt.Sprintf("Unknown column '%s' in table '%s'", col, table.Name))
		}
		if contains(s.Columns[:i], col) {
			return dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
				fmt.Sprintf("Column '%s' appears twice in index '%s'", col, s.Name))
		}
	}

	idx := catalog.Index{Name: s.Name, Columns: append([]string(nil), s.Columns...)}
	if err := e.indexes.Build(ctx, db.Name, table, idx, table.IndexIsUnique(idx)); err != nil {
		return err
	}
	table.Indexes = append(table.Indexes, idx)
	if err := e.catalog.Save(ctx, db); err != nil {
		return err
	}
	e.logger.Infow("index built",
		"database", db.Name,
		"table", table.Name,
		"index", idx.Name,
		"columns", strings.Join(idx.Columns, ","))
	res.Message = fmt.Sprintf("Index '%s' created on table '%s'", idx.Name, table.Name)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
