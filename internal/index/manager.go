// Package index maintains secondary indexes as posting collections. Each
// index of a table lives in its own collection whose entries are keyed by the
// encoded indexed-column values and carry the sorted identifiers of the rows
// holding those values.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/docsql/docsql/internal/catalog"
	"github.com/docsql/docsql/internal/docstore"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/query/value"
	"github.com/docsql/docsql/internal/rowcodec"
)

// Op is the kind of row mutation an index must follow.
type Op int

const (
	OpInsert Op = iota
	OpDelete
)

// IDSet is a set of row identifiers.
type IDSet map[string]struct{}

// Add inserts ids into the set.
func (s IDSet) Add(ids ...string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Intersect returns the identifiers present in both sets.
func (s IDSet) Intersect(other IDSet) IDSet {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(IDSet, len(small))
	for id := range small {
		if _, ok := large[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// Sorted returns the identifiers in ascending order.
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultBatchSize is the number of posting entries read per storage round trip.
const DefaultBatchSize = 1000

// Manager builds, maintains and queries posting collections.
type Manager struct {
	docs      docstore.Store
	batchSize int
}

// NewManager creates an index manager. A non-positive batchSize selects
// DefaultBatchSize.
func NewManager(docs docstore.Store, batchSize int) *Manager {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Manager{docs: docs, batchSize: batchSize}
}

func (m *Manager) collection(db, table, index string) docstore.Collection {
	return m.docs.Collection(db, catalog.IndexCollection(table, index))
}

// Key computes the posting key of a row given its values in column order.
func Key(table *catalog.Table, idx catalog.Index, values []any) string {
	key := make([]any, len(idx.Columns))
	for i, col := range idx.Columns {
		if p := table.ColumnIndex(col); p >= 0 && p < len(values) {
			key[i] = values[p]
		}
	}
	return rowcodec.EncodeKey(key)
}

// exclusive reports whether a key is held to a single row. Keys with a NULL
// component never conflict, so they are kept as ordinary posting entries.
func exclusive(unique bool, values []any, table *catalog.Table, idx catalog.Index) bool {
	if !unique {
		return false
	}
	for _, col := range idx.Columns {
		p := table.ColumnIndex(col)
		if p < 0 || p >= len(values) || values[p] == nil {
			return false
		}
	}
	return true
}

func duplicate(table *catalog.Table, idx catalog.Index, values []any) error {
	parts := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		parts[i] = value.String(values[table.ColumnIndex(col)])
	}
	return dserrors.NewConstraintViolation(dserrors.CodeUnique,
		fmt.Sprintf("Duplicate value '%s' for unique index '%s' on table '%s'",
			strings.Join(parts, ", "), idx.Name, table.Name))
}

// Build populates the posting collection of idx from every row of table. A
// unique conflict clears the collection and fails with a constraint violation.
func (m *Manager) Build(ctx context.Context, db string, table *catalog.Table, idx catalog.Index, unique bool) error {
	postings := m.collection(db, table.Name, idx.Name)

	fail := func(err error) error {
		if dropErr := postings.Drop(ctx); dropErr != nil {
			return dserrors.NewStorageError(
				fmt.Sprintf("failed to clear index '%s' after build failure", idx.Name), dropErr)
		}
		return err
	}

	cur, err := m.docs.Collection(db, table.Name).Find(ctx, docstore.MatchAll(), docstore.FindOptions{BatchSize: m.batchSize})
	if err != nil {
		return fail(dserrors.NewStorageError(fmt.Sprintf("failed to scan table '%s'", table.Name), err))
	}
	defer cur.Close(ctx)

	for {
		batch, err := docstore.NextBatch(ctx, cur, m.batchSize)
		if err != nil {
			return fail(dserrors.NewStorageError(fmt.Sprintf("failed to scan table '%s'", table.Name), err))
		}
		if len(batch) == 0 {
			return nil
		}
		for _, doc := range batch {
			row, err := rowcodec.Decode(table, doc)
			if err != nil {
				return fail(err)
			}
			if err := m.add(ctx, postings, table, idx, unique, row.ID, row.Values); err != nil {
				return fail(err)
			}
		}
	}
}

func (m *Manager) add(ctx context.Context, postings docstore.Collection, table *catalog.Table, idx catalog.Index, unique bool, rowID string, values []any) error {
	key := Key(table, idx, values)
	if exclusive(unique, values, table, idx) {
		err := postings.Insert(ctx, docstore.Document{ID: key, Members: []string{rowID}})
		if errors.Is(err, docstore.ErrDuplicateID) {
			return duplicate(table, idx, values)
		}
		if err != nil {
			return dserrors.NewStorageError(fmt.Sprintf("failed to write index '%s'", idx.Name), err)
		}
		return nil
	}
	if err := postings.AddMember(ctx, key, rowID); err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to write index '%s'", idx.Name), err)
	}
	return nil
}

func (m *Manager) remove(ctx context.Context, postings docstore.Collection, table *catalog.Table, idx catalog.Index, unique bool, rowID string, values []any) error {
	key := Key(table, idx, values)
	if exclusive(unique, values, table, idx) {
		err := postings.DeleteOne(ctx, key)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return dserrors.NewStorageError(fmt.Sprintf("failed to update index '%s'", idx.Name), err)
		}
		return nil
	}
	if _, err := postings.RemoveMember(ctx, key, rowID); err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to update index '%s'", idx.Name), err)
	}
	return nil
}

func (m *Manager) targets(table *catalog.Table, indexName string) ([]catalog.Index, error) {
	if indexName == "" {
		return table.Indexes, nil
	}
	idx, ok := table.IndexByName(indexName)
	if !ok {
		return nil, dserrors.NewNotFoundError(dserrors.CodeIndex,
			fmt.Sprintf("Index '%s' does not exist on table '%s'", indexName, table.Name))
	}
	return []catalog.Index{*idx}, nil
}

// Maintain applies a row mutation to the named index, or to every index of
// the table when indexName is empty. The key is taken from newValues on
// insert and from oldValues on delete, falling back to newValues.
func (m *Manager) Maintain(ctx context.Context, db string, table *catalog.Table, op Op, rowID string, newValues, oldValues []any, indexName string) error {
	indexes, err := m.targets(table, indexName)
	if err != nil {
		return err
	}

	values := newValues
	if op == OpDelete && oldValues != nil {
		values = oldValues
	}

	for _, idx := range indexes {
		postings := m.collection(db, table.Name, idx.Name)
		unique := table.IndexIsUnique(idx)
		switch op {
		case OpInsert:
			err = m.add(ctx, postings, table, idx, unique, rowID, values)
		case OpDelete:
			err = m.remove(ctx, postings, table, idx, unique, rowID, values)
		default:
			err = dserrors.NewInternalError(fmt.Sprintf("unknown index operation %d", op), nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CheckInsert reports whether inserting a row with values would break a
// unique index, without writing anything.
func (m *Manager) CheckInsert(ctx context.Context, db string, table *catalog.Table, values []any) error {
	for _, idx := range table.Indexes {
		if !exclusive(table.IndexIsUnique(idx), values, table, idx) {
			continue
		}
		_, err := m.collection(db, table.Name, idx.Name).FindOne(ctx, Key(table, idx, values))
		if err == nil {
			return duplicate(table, idx, values)
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return dserrors.NewStorageError(fmt.Sprintf("failed to read index '%s'", idx.Name), err)
		}
	}
	return nil
}

// scan visits every posting entry of idx.
func (m *Manager) scan(ctx context.Context, db string, table *catalog.Table, idx catalog.Index, visit func(doc docstore.Document) error) error {
	cur, err := m.collection(db, table.Name, idx.Name).Find(ctx, docstore.MatchAll(), docstore.FindOptions{BatchSize: m.batchSize})
	if err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to scan index '%s'", idx.Name), err)
	}
	defer cur.Close(ctx)

	for {
		batch, err := docstore.NextBatch(ctx, cur, m.batchSize)
		if err != nil {
			return dserrors.NewStorageError(fmt.Sprintf("failed to scan index '%s'", idx.Name), err)
		}
		if len(batch) == 0 {
			return nil
		}
		for _, doc := range batch {
			if err := visit(doc); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) components(idx catalog.Index, doc docstore.Document) ([]any, error) {
	key, err := rowcodec.DecodeKey(doc.ID)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.ErrCategoryStorage, dserrors.CodeCorruptDocument,
			fmt.Sprintf("index entry '%s' of '%s' cannot be decoded", doc.ID, idx.Name), err)
	}
	return key, nil
}

// LookupEqual returns the rows whose leading indexed column equals literal.
// A single-column index answers with one entry read.
func (m *Manager) LookupEqual(ctx context.Context, db string, table *catalog.Table, idx catalog.Index, literal string) (IDSet, error) {
	out := IDSet{}
	if len(idx.Columns) == 1 {
		doc, err := m.collection(db, table.Name, idx.Name).FindOne(ctx, rowcodec.EncodeKey([]any{literal}))
		if errors.Is(err, docstore.ErrNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, dserrors.NewStorageError(fmt.Sprintf("failed to read index '%s'", idx.Name), err)
		}
		out.Add(doc.Members...)
		return out, nil
	}

	// Keys are prefix-preserving, so a leading-component match is a prefix match.
	prefix := rowcodec.EncodeKey([]any{literal})
	err := m.scan(ctx, db, table, idx, func(doc docstore.Document) error {
		if strings.HasPrefix(doc.ID, prefix) {
			out.Add(doc.Members...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LookupRange returns the rows whose leading indexed column satisfies op
// against literal. Values compare numerically when both sides are numbers.
func (m *Manager) LookupRange(ctx context.Context, db string, table *catalog.Table, idx catalog.Index, op, literal string) (IDSet, error) {
	out := IDSet{}
	err := m.scan(ctx, db, table, idx, func(doc docstore.Document) error {
		key, err := m.components(idx, doc)
		if err != nil {
			return err
		}
		if len(key) == 0 || key[0] == nil {
			return nil
		}
		if value.Satisfies(op, value.Compare(key[0], literal)) {
			out.Add(doc.Members...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LookupComponent returns the rows whose indexed column at position equals
// val exactly.
func (m *Manager) LookupComponent(ctx context.Context, db string, table *catalog.Table, idx catalog.Index, position int, val string) (IDSet, error) {
	if position < 0 || position >= len(idx.Columns) {
		return nil, dserrors.NewInternalError(
			fmt.Sprintf("position %d out of range for index '%s'", position, idx.Name), nil)
	}
	out := IDSet{}
	err := m.scan(ctx, db, table, idx, func(doc docstore.Document) error {
		key, err := m.components(idx, doc)
		if err != nil {
			return err
		}
		if position < len(key) && key[position] != nil && key[position] == val {
			out.Add(doc.Members...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Drop removes the posting collection of idx.
func (m *Manager) Drop(ctx context.Context, db string, table *catalog.Table, idx catalog.Index) error {
	if err := m.collection(db, table.Name, idx.Name).Drop(ctx); err != nil {
		return dserrors.NewStorageError(fmt.Sprintf("failed to drop index '%s'", idx.Name), err)
	}
	return nil
}
