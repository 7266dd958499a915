package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/docsql/docsql/internal/docstore"
	dserrors "github.com/docsql/docsql/internal/errors"
)

const (
	// SystemDatabase holds docsql's own collections.
	SystemDatabase = "__docsql"
	// catalogCollection keeps one record per user database.
	catalogCollection = "catalog"
)

// Store persists catalog records in the document store.
type Store struct {
	docs docstore.Store
}

// NewStore creates a catalog store on top of docs.
func NewStore(docs docstore.Store) *Store {
	return &Store{docs: docs}
}

func (s *Store) collection() docstore.Collection {
	return s.docs.Collection(SystemDatabase, catalogCollection)
}

// Create persists a new, empty database record.
func (s *Store) Create(ctx context.Context, name string) (*Database, error) {
	db := NewDatabase(name)
	data, err := json.Marshal(db)
	if err != nil {
		return nil, dserrors.NewInternalError("failed to encode catalog", err)
	}

	err = s.collection().Insert(ctx, docstore.Document{ID: name, Value: data})
	if errors.Is(err, docstore.ErrDuplicateID) {
		return nil, dserrors.NewSchemaError(dserrors.CodeDuplicateDatabase,
			fmt.Sprintf("Database '%s' already exists", name))
	}
	if err != nil {
		return nil, dserrors.NewStorageError("failed to create catalog record", err)
	}
	return db, nil
}

// Load reads the record of the named database.
func (s *Store) Load(ctx context.Context, name string) (*Database, error) {
	doc, err := s.collection().FindOne(ctx, name)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, dserrors.NewNotFoundError(dserrors.CodeDatabase,
			fmt.Sprintf("Database '%s' does not exist", name))
	}
	if err != nil {
		return nil, dserrors.NewStorageError("failed to load catalog record", err)
	}

	db := NewDatabase(name)
	if err := json.Unmarshal(doc.Value, db); err != nil {
		return nil, dserrors.Wrap(dserrors.ErrCategoryStorage, dserrors.CodeCorruptDocument,
			fmt.Sprintf("catalog record of '%s' is corrupt", name), err)
	}
	if db.Tables == nil {
		db.Tables = make(map[string]*Table)
	}
	for tn, t := range db.Tables {
		t.Name = tn
	}
	return db, nil
}

// Save replaces the record of db.
func (s *Store) Save(ctx context.Context, db *Database) error {
	data, err := json.Marshal(db)
	if err != nil {
		return dserrors.NewInternalError("failed to encode catalog", err)
	}
	if err := s.collection().Replace(ctx, docstore.Document{ID: db.Name, Value: data}); err != nil {
		return dserrors.NewStorageError("failed to save catalog record", err)
	}
	return nil
}

// Drop deletes the record of the named database.
func (s *Store) Drop(ctx context.Context, name string) error {
	err := s.collection().DeleteOne(ctx, name)
	if errors.Is(err, docstore.ErrNotFound) {
		return dserrors.NewNotFoundError(dserrors.CodeDatabase,
			fmt.Sprintf("Database '%s' does not exist", name))
	}
	if err != nil {
		return dserrors.NewStorageError("failed to drop catalog record", err)
	}
	return nil
}

// Exists reports whether the named database has a record.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.collection().FindOne(ctx, name)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dserrors.NewStorageError("failed to look up catalog record", err)
	}
	return true, nil
}

// List returns the names of all databases in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	cur, err := s.collection().Find(ctx, docstore.MatchAll(), docstore.FindOptions{IDsOnly: true})
	if err != nil {
		return nil, dserrors.NewStorageError("failed to list catalog records", err)
	}
	docs, err := docstore.Collect(ctx, cur)
	if err != nil {
		return nil, dserrors.NewStorageError("failed to list catalog records", err)
	}
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.ID
	}
	return names, nil
}
