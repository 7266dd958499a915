package docstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store in process memory.
// This is primarily used for testing and development.
type MemoryStore struct {
	mu     sync.RWMutex
	dbs    map[string]map[string]map[string]Document
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dbs: make(map[string]map[string]map[string]Document),
	}
}

func init() {
	Register("memory", func(ctx context.Context, cfg Config) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// Collection returns a handle to the named collection.
func (m *MemoryStore) Collection(database, name string) Collection {
	return &memoryCollection{store: m, db: database, name: name}
}

// DropDatabase removes every collection of the database.
func (m *MemoryStore) DropDatabase(ctx context.Context, database string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.dbs, database)
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryCollection struct {
	store *MemoryStore
	db    string
	name  string
}

// docs returns the collection map, creating it when create is set.
// Callers must hold the store lock.
func (c *memoryCollection) docs(create bool) map[string]Document {
	colls, ok := c.store.dbs[c.db]
	if !ok {
		if !create {
			return nil
		}
		colls = make(map[string]map[string]Document)
		c.store.dbs[c.db] = colls
	}
	docs, ok := colls[c.name]
	if !ok && create {
		docs = make(map[string]Document)
		colls[c.name] = docs
	}
	return docs
}

func (c *memoryCollection) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.Lock()
	if c.store.closed {
		c.store.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (c *memoryCollection) rlock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.RLock()
	if c.store.closed {
		c.store.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

func cloneDocument(doc Document) Document {
	out := Document{ID: doc.ID}
	if doc.Value != nil {
		out.Value = append([]byte(nil), doc.Value...)
	}
	if doc.Members != nil {
		out.Members = append([]string(nil), doc.Members...)
	}
	return out
}

func (c *memoryCollection) Insert(ctx context.Context, doc Document) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.store.mu.Unlock()

	docs := c.docs(true)
	if _, exists := docs[doc.ID]; exists {
		return ErrDuplicateID
	}
	docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (c *memoryCollection) Replace(ctx context.Context, doc Document) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.store.mu.Unlock()

	c.docs(true)[doc.ID] = cloneDocument(doc)
	return nil
}

func (c *memoryCollection) FindOne(ctx context.Context, id string) (Document, error) {
	if err := c.rlock(ctx); err != nil {
		return Document{}, err
	}
	defer c.store.mu.RUnlock()

	doc, ok := c.docs(false)[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (c *memoryCollection) Find(ctx context.Context, filter Filter, opts FindOptions) (Cursor, error) {
	if err := c.rlock(ctx); err != nil {
		return nil, err
	}
	defer c.store.mu.RUnlock()

	docs := c.docs(false)
	var ids []string
	if filter.All() {
		ids = make([]string, 0, len(docs))
		for id := range docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	} else {
		for _, id := range filter.SortedIDs() {
			if _, ok := docs[id]; ok {
				ids = append(ids, id)
			}
		}
	}

	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		if opts.IDsOnly {
			out = append(out, Document{ID: id})
			continue
		}
		out = append(out, cloneDocument(docs[id]))
	}
	return NewSliceCursor(out), nil
}

func (c *memoryCollection) DeleteOne(ctx context.Context, id string) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.store.mu.Unlock()

	docs := c.docs(false)
	if _, ok := docs[id]; !ok {
		return ErrNotFound
	}
	delete(docs, id)
	return nil
}

func (c *memoryCollection) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.store.mu.Unlock()

	docs := c.docs(false)
	var n int64
	for _, id := range ids {
		if _, ok := docs[id]; ok {
			delete(docs, id)
			n++
		}
	}
	return n, nil
}

func (c *memoryCollection) AddMember(ctx context.Context, id, member string) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.store.mu.Unlock()

	docs := c.docs(true)
	doc, ok := docs[id]
	if !ok {
		doc = Document{ID: id}
	}
	doc.Members, _ = AddSortedMember(doc.Members, member)
	docs[id] = doc
	return nil
}

func (c *memoryCollection) RemoveMember(ctx context.Context, id, member string) (int, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.store.mu.Unlock()

	docs := c.docs(false)
	doc, ok := docs[id]
	if !ok {
		return 0, nil
	}
	doc.Members = RemoveSortedMember(doc.Members, member)
	if len(doc.Members) == 0 {
		delete(docs, id)
		return 0, nil
	}
	docs[id] = doc
	return len(doc.Members), nil
}

func (c *memoryCollection) Drop(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.store.mu.Unlock()

	if colls, ok := c.store.dbs[c.db]; ok {
		delete(colls, c.name)
		if len(colls) == 0 {
			delete(c.store.dbs, c.db)
		}
	}
	return nil
}
