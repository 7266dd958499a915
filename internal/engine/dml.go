package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docsql/docsql/internal/catalog"
	"github.com/docsql/docsql/internal/docstore"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/index"
	"github.com/docsql/docsql/internal/query/parser"
	"github.com/docsql/docsql/internal/query/value"
	"github.com/docsql/docsql/internal/rowcodec"
)

func (e *Engine) insert(ctx context.Context, sess *Session, s *parser.InsertStatement, res *Result) error {
	db, err := e.database(ctx, sess)
	if err != nil {
		return err
	}
	table, err := lookupTable(db, s.Table)
	if err != nil {
		return err
	}
	values, err := rowValues(table, s)
	if err != nil {
		return err
	}

	doc, err := rowcodec.Encode(table, values)
	if err != nil {
		return err
	}
	if err := e.validator.CheckInsert(ctx, db, table, values); err != nil {
		return err
	}

	key := displayKey(table, values)
	err = e.docs.Collection(db.Name, table.Name).Insert(ctx, doc)
	if errors.Is(err, docstore.ErrDuplicateID) {
		return dserrors.NewConstraintViolation(dserrors.CodePrimaryKey,
			fmt.Sprintf("Row with key '%s' already exists in '%s'", key, table.Name))
	}
	if err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to insert into '%s'", table.Name), err)
	}
	if err := e.indexes.Maintain(ctx, db.Name, table, index.OpInsert, doc.ID, values, nil, ""); err != nil {
		e.logger.Errorw("index maintenance failed after insert",
			"database", db.Name, "table", table.Name, "row", key, "error", err)
		return err
	}
	res.Message = fmt.Sprintf("Row '%s' inserted into '%s'", key, table.Name)
	return nil
}

// rowValues arranges the literals of an INSERT in column order, normalised
// for each column's type. Columns left out of an explicit list are NULL.
func rowValues(table *catalog.Table, s *parser.InsertStatement) ([]any, error) {
	names := s.Columns
	if len(names) == 0 {
		names = table.ColumnNames()
	}
	if len(names) != len(s.Values) {
		return nil, dserrors.NewSchemaError(dserrors.CodeInvalidValue,
			fmt.Sprintf("Column count (%d) does not match value count (%d) for table '%s'",
				len(names), len(s.Values), table.Name))
	}

	values := make([]any, len(table.Columns))
	assigned := make([]bool, len(table.Columns))
	for i, name := range names {
		pos := table.ColumnIndex(name)
		if pos < 0 {
			return nil, dserrors.NewSchemaError(dserrors.CodeUnknownColumn,
				fmt.Sprintf("Unknown column '%s' in table '%s'", name, table.Name))
		}
		if assigned[pos] {
			return nil, dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
				fmt.Sprintf("Column '%s' is listed twice", name))
		}
		assigned[pos] = true

		lit := s.Values[i]
		if lit.Null {
			continue
		}
		v, err := normalize(table, name, lit.Value)
		if err != nil {
			return nil, err
		}
		values[pos] = v
	}
	return values, nil
}

func normalize(table *catalog.Table, column, raw string) (string, error) {
	typ, err := table.ColumnType(column)
	if err != nil {
		return "", dserrors.NewSchemaError(dserrors.CodeInvalidType, err.Error())
	}
	v, err := typ.Normalize(raw)
	if err != nil {
		return "", dserrors.NewSchemaError(dserrors.CodeInvalidValue,
			fmt.Sprintf("Invalid value for column '%s': %v", column, err))
	}
	return v, nil
}

func displayKey(table *catalog.Table, values []any) string {
	pos := table.PrimaryKeyPositions()
	parts := make([]string, len(pos))
	for i, p := range pos {
		parts[i] = value.String(values[p])
	}
	return strings.Join(parts, ", ")
}

func (e *Engine) delete(ctx context.Context, sess *Session, s *parser.DeleteStatement, res *Result) error {
	db, err := e.database(ctx, sess)
	if err != nil {
		return err
	}
	table, err := lookupTable(db, s.Table)
	if err != nil {
		return err
	}
	key, residual, err := deleteKey(table, s.Where)
	if err != nil {
		return err
	}

	id := rowcodec.EncodeKey(key)
	shown := displayKey(table, identityRow(table, key))
	coll := e.docs.Collection(db.Name, table.Name)
	doc, err := coll.FindOne(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return notFound(shown)
	}
	if err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to read table '%s'", table.Name), err)
	}
	row, err := rowcodec.Decode(table, doc)
	if err != nil {
		return err
	}
	for _, cond := range residual {
		if !residualMatch(table, cond, row.Values) {
			return notFound(shown)
		}
	}

	if err := e.validator.CheckDelete(ctx, db, table, row); err != nil {
		return err
	}
	err = coll.DeleteOne(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return notFound(shown)
	}
	if err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to delete from '%s'", table.Name), err)
	}
	if err := e.indexes.Maintain(ctx, db.Name, table, index.OpDelete, id, nil, row.Values, ""); err != nil {
		e.logger.Errorw("index maintenance failed after delete",
			"database", db.Name, "table", table.Name, "row", shown, "error", err)
		return err
	}
	res.Message = fmt.Sprintf("Row '%s' deleted from '%s'", shown, table.Name)
	return nil
}

func notFound(key string) error {
	return dserrors.NewNotFoundError(dserrors.CodeRow, fmt.Sprintf("Document with key '%s' not found", key))
}

// deleteKey extracts the primary-key values pinned by the WHERE clause of a
// DELETE. Every key column needs an equality with a literal; the remaining
// conditions are returned to be checked against the stored row.
func deleteKey(table *catalog.Table, where []parser.Condition) ([]any, []parser.Condition, error) {
	key := make([]any, len(table.Constraints.PrimaryKey))
	var residual []parser.Condition
	for _, cond := range where {
		if cond.Left.Table != "" && cond.Left.Table != table.Name || !table.HasColumn(cond.Left.Column) {
			return nil, nil, dserrors.NewSchemaError(dserrors.CodeUnknownColumn,
				fmt.Sprintf("Unknown column '%s' in table '%s'", cond.Left.String(), table.Name))
		}
		if cond.Right.IsColumn() && !table.HasColumn(cond.Right.Column.Column) {
			return nil, nil, dserrors.NewSchemaError(dserrors.CodeUnknownColumn,
				fmt.Sprintf("Unknown column '%s' in table '%s'", cond.Right.Column.String(), table.Name))
		}

		pos := table.PrimaryKeyPosition(cond.Left.Column)
		if pos < 0 || cond.Op != parser.OpEq || cond.Right.IsColumn() || key[pos] != nil {
			residual = append(residual, cond)
			continue
		}
		lit := cond.Right.Literal
		if lit == nil || lit.Null {
			return nil, nil, dserrors.NewSchemaError(dserrors.CodeInvalidValue,
				fmt.Sprintf("primary key column '%s' cannot be NULL", cond.Left.Column))
		}
		v, err := normalize(table, cond.Left.Column, lit.Value)
		if err != nil {
			return nil, nil, err
		}
		key[pos] = v
	}

	for i, v := range key {
		if v == nil {
			return nil, nil, dserrors.NewSyntaxError(
				fmt.Sprintf("DELETE must give every primary key column an equality; '%s' is missing",
					table.Constraints.PrimaryKey[i]), nil)
		}
	}
	return key, residual, nil
}

// identityRow spreads primary-key values into a row in column order.
func identityRow(table *catalog.Table, key []any) []any {
	values := make([]any, len(table.Columns))
	for i, p := range table.PrimaryKeyPositions() {
		values[p] = key[i]
	}
	return values
}

func residualMatch(table *catalog.Table, cond parser.Condition, values []any) bool {
	left := values[table.ColumnIndex(cond.Left.Column)]
	var right any
	if cond.Right.IsColumn() {
		right = values[table.ColumnIndex(cond.Right.Column.Column)]
	} else if lit := cond.Right.Literal; lit != nil && !lit.Null {
		right = lit.Value
		if v, err := normalize(table, cond.Left.Column, lit.Value); err == nil {
			right = v
		}
	}
	if left == nil || right == nil {
		return false
	}
	return value.Satisfies(string(cond.Op), value.Compare(left, right))
}
