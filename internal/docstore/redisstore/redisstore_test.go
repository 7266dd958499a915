package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/internal/docstore"
	"github.com/docsql/docsql/internal/docstore/storetest"
)

func TestKeyspace(t *testing.T) {
	k := keyspace{prefix: "docsql", database: "shop", name: "orders"}
	assert.Equal(t, "docsql:shop:orders:ids", k.ids())
	assert.Equal(t, "docsql:shop:orders:doc:1:2", k.doc("1:2"))
	assert.Equal(t, "docsql:shop:orders:mem:k", k.members("k"))
	assert.Equal(t, "docsql:shop:collections", collectionsKey("docsql", "shop"))

	// Databases sharing a name prefix get disjoint keys.
	other := keyspace{prefix: "docsql", database: "shopping", name: "orders"}
	assert.NotEqual(t, k.ids(), other.ids())
}

func TestLexRange(t *testing.T) {
	r := lexRange("", true, 10)
	assert.Equal(t, "-", r.Min)
	assert.Equal(t, "+", r.Max)
	assert.Equal(t, int64(10), r.Count)

	r = lexRange("abc", false, 5)
	assert.Equal(t, "(abc", r.Min)
}

func TestOpenRequiresAddr(t *testing.T) {
	_, err := Open(context.Background(), &redis.Options{}, "docsql")
	assert.Error(t, err)
}

// TestConformance runs against a live server when DOCSQL_TEST_REDIS_ADDR is set.
func TestConformance(t *testing.T) {
	addr := os.Getenv("DOCSQL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DOCSQL_TEST_REDIS_ADDR not set")
	}
	storetest.Run(t, func(t *testing.T) docstore.Store {
		store, err := Open(context.Background(), &redis.Options{Addr: addr}, "test-"+uuid.NewString())
		require.NoError(t, err)
		t.Cleanup(func() {
			for _, db := range []string{"shop", "other", "shopping"} {
				store.DropDatabase(context.Background(), db)
			}
			store.Close(context.Background())
		})
		return store
	})
}
