package executor

import (
	"sync"

	"github.com/docsql/docsql/internal/rowcodec"
)

// LookupCache memoises join lookups keyed by (table, column, value) within
// one driving batch. It holds at most capacity entries and never evicts:
// once full, further results are not cached.
type LookupCache struct {
	mu       sync.Mutex
	capacity int
	items    map[cacheKey][]rowcodec.Row
	hits     int64
	misses   int64
}

type cacheKey struct {
	table  string
	column string
	value  string
}

// NewLookupCache creates a cache bounded to capacity entries.
func NewLookupCache(capacity int) *LookupCache {
	if capacity < 0 {
		capacity = 0
	}
	return &LookupCache{
		capacity: capacity,
		items:    make(map[cacheKey][]rowcodec.Row),
	}
}

// Get returns the cached matches for a lookup.
func (c *LookupCache) Get(table, column, value string) ([]rowcodec.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, ok := c.items[cacheKey{table, column, value}]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return rows, ok
}

// Put records the matches of a lookup. It reports false when the cache is
// full and the entry was not stored.
func (c *LookupCache) Put(table, column, value string, rows []rowcodec.Row) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{table, column, value}
	if _, ok := c.items[key]; ok {
		c.items[key] = rows
		return true
	}
	if len(c.items) >= c.capacity {
		return false
	}
	c.items[key] = rows
	return true
}

// Len returns the number of cached entries.
func (c *LookupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Hits returns the number of lookups answered from the cache.
func (c *LookupCache) Hits() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Clear drops every entry.
func (c *LookupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[cacheKey][]rowcodec.Row)
}
