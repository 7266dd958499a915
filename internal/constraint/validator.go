// Package constraint checks primary-key, unique and foreign-key rules before
// a row is written or deleted.
package constraint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docsql/docsql/internal/catalog"
	"github.com/docsql/docsql/internal/docstore"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/index"
	"github.com/docsql/docsql/internal/query/value"
	"github.com/docsql/docsql/internal/rowcodec"
)

// Validator runs the constraint checks of INSERT, DELETE and DROP TABLE.
type Validator struct {
	docs      docstore.Store
	indexes   *index.Manager
	batchSize int
}

// NewValidator creates a validator. indexes may be nil, in which case unique
// indexes are not pre-checked and deletes never use posting lookups.
func NewValidator(docs docstore.Store, indexes *index.Manager, batchSize int) *Validator {
	if batchSize <= 0 {
		batchSize = index.DefaultBatchSize
	}
	return &Validator{docs: docs, indexes: indexes, batchSize: batchSize}
}

// CheckInsert verifies that a row with values, given in column order and
// already normalised, may be inserted into table.
func (v *Validator) CheckInsert(ctx context.Context, db *catalog.Database, table *catalog.Table, values []any) error {
	doc, err := rowcodec.Encode(table, values)
	if err != nil {
		return err
	}

	_, err = v.docs.Collection(db.Name, table.Name).FindOne(ctx, doc.ID)
	if err == nil {
		return dserrors.NewConstraintViolation(dserrors.CodePrimaryKey,
			fmt.Sprintf("Row with key '%s' already exists in '%s'", displayKey(table, values), table.Name))
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return dserrors.NewStorageError(fmt.Sprintf("failed to read table '%s'", table.Name), err)
	}

	if err := v.checkUnique(ctx, db, table, values); err != nil {
		return err
	}

	if v.indexes != nil {
		if err := v.indexes.CheckInsert(ctx, db.Name, table, values); err != nil {
			return err
		}
	}

	for _, fk := range table.Constraints.ForeignKeys {
		val := values[table.ColumnIndex(fk.Column)]
		if val == nil {
			continue
		}
		if err := v.checkForeignKey(ctx, db, fk, val); err != nil {
			return err
		}
	}
	return nil
}

func displayKey(table *catalog.Table, values []any) string {
	pos := table.PrimaryKeyPositions()
	parts := make([]string, len(pos))
	for i, p := range pos {
		parts[i] = value.String(values[p])
	}
	return strings.Join(parts, ", ")
}

func (v *Validator) checkUnique(ctx context.Context, db *catalog.Database, table *catalog.Table, values []any) error {
	var check []int
	for _, col := range table.Constraints.UniqueKey {
		p := table.ColumnIndex(col)
		if p < 0 || values[p] == nil {
			continue
		}
		// A sole primary-key column is covered by the identity check.
		if len(table.Constraints.PrimaryKey) == 1 && table.IsPrimaryKey(col) {
			continue
		}
		check = append(check, p)
	}
	if len(check) == 0 {
		return nil
	}

	var violation error
	err := v.scan(ctx, db.Name, table.Name, false, func(doc docstore.Document) (bool, error) {
		row, err := rowcodec.Decode(table, doc)
		if err != nil {
			return false, err
		}
		for _, p := range check {
			if row.Values[p] != nil && row.Values[p] == values[p] {
				violation = dserrors.NewConstraintViolation(dserrors.CodeUnique,
					fmt.Sprintf("Value '%s' for unique column '%s' already exists in '%s'",
						value.String(values[p]), table.Columns[p].Name, table.Name))
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	return violation
}

func (v *Validator) checkForeignKey(ctx context.Context, db *catalog.Database, fk catalog.ForeignKey, val any) error {
	ref, ok := db.Table(fk.References.Table)
	if !ok {
		return dserrors.NewNotFoundError(dserrors.CodeTable,
			fmt.Sprintf("Table '%s' referenced by '%s' does not exist", fk.References.Table, fk.Column))
	}
	pos := ref.PrimaryKeyPosition(fk.References.Column)
	if pos < 0 {
		return dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
			fmt.Sprintf("Column '%s' is not part of the primary key of '%s'", fk.References.Column, ref.Name))
	}

	found, err := v.identityExists(ctx, db.Name, ref, pos, val)
	if err != nil {
		return err
	}
	if !found {
		return dserrors.NewConstraintViolation(dserrors.CodeForeignKey,
			fmt.Sprintf("Foreign key violation: value '%s' for column '%s' does not exist in '%s'(%s)",
				value.String(val), fk.Column, ref.Name, fk.References.Column))
	}
	return nil
}

// identityExists reports whether some row of table has val at primary-key
// position pos.
func (v *Validator) identityExists(ctx context.Context, db string, table *catalog.Table, pos int, val any) (bool, error) {
	if len(table.Constraints.PrimaryKey) == 1 {
		_, err := v.docs.Collection(db, table.Name).FindOne(ctx, rowcodec.EncodeKey([]any{val}))
		if errors.Is(err, docstore.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, dserrors.NewStorageError(fmt.Sprintf("failed to read table '%s'", table.Name), err)
		}
		return true, nil
	}

	found := false
	err := v.scan(ctx, db, table.Name, true, func(doc docstore.Document) (bool, error) {
		key, err := rowcodec.DecodeIdentity(table, doc.ID)
		if err != nil {
			return false, err
		}
		found = key[pos] == val
		return found, nil
	})
	return found, err
}

// CheckDelete verifies that no row of another table references row.
func (v *Validator) CheckDelete(ctx context.Context, db *catalog.Database, table *catalog.Table, row rowcodec.Row) error {
	for _, ref := range db.ReferencingTables(table.Name) {
		val := row.Value(table, ref.ForeignKey.References.Column)
		if val == nil {
			continue
		}
		used, err := v.referenced(ctx, db.Name, ref, val)
		if err != nil {
			return err
		}
		if used {
			return dserrors.NewConstraintViolation(dserrors.CodeReferenced,
				fmt.Sprintf("Cannot delete row '%s' from '%s': it is referenced by '%s'(%s)",
					value.String(val), table.Name, ref.Table.Name, ref.ForeignKey.Column))
		}
	}
	return nil
}

func (v *Validator) referenced(ctx context.Context, db string, ref catalog.Referrer, val any) (bool, error) {
	table := ref.Table
	col := ref.ForeignKey.Column

	if pos := table.PrimaryKeyPosition(col); pos >= 0 {
		return v.identityExists(ctx, db, table, pos, val)
	}

	if v.indexes != nil {
		for _, idx := range table.Indexes {
			if len(idx.Columns) > 0 && idx.Columns[0] == col {
				ids, err := v.indexes.LookupEqual(ctx, db, table, idx, value.String(val))
				if err != nil {
					return false, err
				}
				return len(ids) > 0, nil
			}
		}
	}

	p := table.ColumnIndex(col)
	found := false
	err := v.scan(ctx, db, table.Name, false, func(doc docstore.Document) (bool, error) {
		row, err := rowcodec.Decode(table, doc)
		if err != nil {
			return false, err
		}
		found = row.Values[p] == val
		return found, nil
	})
	return found, err
}

// CheckDropTable rejects dropping a table that other tables reference.
func (v *Validator) CheckDropTable(db *catalog.Database, table *catalog.Table) error {
	refs := db.ReferencingTables(table.Name)
	if len(refs) == 0 {
		return nil
	}
	return dserrors.NewConstraintViolation(dserrors.CodeReferenced,
		fmt.Sprintf("Cannot drop table '%s': it is referenced by '%s'", table.Name, refs[0].Table.Name))
}

// scan visits the documents of a collection until visit returns true.
func (v *Validator) scan(ctx context.Context, db, collection string, idsOnly bool, visit func(docstore.Document) (bool, error)) error {
	cur, err := v.docs.Collection(db, collection).Find(ctx, docstore.MatchAll(),
		docstore.FindOptions{IDsOnly: idsOnly, BatchSize: v.batchSize})
	if err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to scan '%s'", collection), err)
	}
	defer cur.Close(ctx)

	for {
		batch, err := docstore.NextBatch(ctx, cur, v.batchSize)
		if err != nil {
			return dserrors.NewStorageError(fmt.Sprintf("failed to scan '%s'", collection), err)
		}
		if len(batch) == 0 {
			return nil
		}
		for _, doc := range batch {
			stop, err := visit(doc)
			if err != nil || stop {
				return err
			}
		}
	}
}
