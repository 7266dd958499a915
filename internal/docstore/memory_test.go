package docstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/docstore"
	"github.com/docsql/docsql/internal/docstore/storetest"
)

func TestMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		return docstore.NewMemoryStore()
	})
}

func TestThrottledStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		return docstore.Throttle(docstore.NewMemoryStore(), rate.NewLimiter(rate.Inf, 1))
	})
}

func TestThrottleHonorsContext(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	store := docstore.Throttle(docstore.NewMemoryStore(), limiter)
	coll := store.Collection("d", "c")

	ctx := context.Background()
	require.NoError(t, coll.Insert(ctx, docstore.Document{ID: "a"}))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := coll.FindOne(ctx, "a")
	assert.Error(t, err, "second call should block on the limiter and fail on the deadline")
}

func TestMemoryStoreClosed(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Close(ctx))

	err := store.Collection("d", "c").Insert(ctx, docstore.Document{ID: "a"})
	assert.ErrorIs(t, err, docstore.ErrClosed)
}

func TestOpenRegistry(t *testing.T) {
	ctx := context.Background()

	store, err := docstore.Open(ctx, config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &docstore.MemoryStore{}, store)

	throttled, err := docstore.Open(ctx, config.StorageConfig{Backend: "memory", RateLimit: 100})
	require.NoError(t, err)
	_, isMemory := throttled.(*docstore.MemoryStore)
	assert.False(t, isMemory, "rate limited store should be wrapped")

	_, err = docstore.Open(ctx, config.StorageConfig{Backend: "nope"})
	assert.Error(t, err)

	assert.Contains(t, docstore.Backends(), "memory")
}

func TestSortedMembers(t *testing.T) {
	var m []string
	var added bool
	m, added = docstore.AddSortedMember(m, "b")
	assert.True(t, added)
	m, _ = docstore.AddSortedMember(m, "a")
	m, _ = docstore.AddSortedMember(m, "c")
	m, added = docstore.AddSortedMember(m, "b")
	assert.False(t, added)
	assert.Equal(t, []string{"a", "b", "c"}, m)

	m = docstore.RemoveSortedMember(m, "b")
	m = docstore.RemoveSortedMember(m, "zz")
	assert.Equal(t, []string{"a", "c"}, m)
}
