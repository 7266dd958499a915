// Package storetest holds a conformance suite every docstore backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/internal/docstore"
)

// Run exercises the Store contract against the store returned by open.
// Each subtest gets a fresh store.
func Run(t *testing.T, open func(t *testing.T) docstore.Store) {
	t.Run("InsertFindOne", func(t *testing.T) { testInsertFindOne(t, open(t)) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, open(t)) })
	t.Run("FindFilters", func(t *testing.T) { testFindFilters(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("Members", func(t *testing.T) { testMembers(t, open(t)) })
	t.Run("DropCollection", func(t *testing.T) { testDropCollection(t, open(t)) })
	t.Run("DropDatabase", func(t *testing.T) { testDropDatabase(t, open(t)) })
	t.Run("Batches", func(t *testing.T) { testBatches(t, open(t)) })
}

func testInsertFindOne(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	coll := store.Collection("shop", "orders")

	require.NoError(t, coll.Insert(ctx, docstore.Document{ID: "1:1", Value: []byte("a")}))

	err := coll.Insert(ctx, docstore.Document{ID: "1:1", Value: []byte("b")})
	assert.True(t, errors.Is(err, docstore.ErrDuplicateID), "got %v", err)

	doc, err := coll.FindOne(ctx, "1:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), doc.Value)

	_, err = coll.FindOne(ctx, "missing")
	assert.True(t, errors.Is(err, docstore.ErrNotFound), "got %v", err)

	// Same id in another collection and database is independent.
	require.NoError(t, store.Collection("shop", "items").Insert(ctx, docstore.Document{ID: "1:1", Value: []byte("x")}))
	require.NoError(t, store.Collection("other", "orders").Insert(ctx, docstore.Document{ID: "1:1", Value: []byte("y")}))
}

func testReplace(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	coll := store.Collection("shop", "catalog")

	require.NoError(t, coll.Replace(ctx, docstore.Document{ID: "shop", Value: []byte("v1")}))
	require.NoError(t, coll.Replace(ctx, docstore.Document{ID: "shop", Value: []byte("v2")}))

	doc, err := coll.FindOne(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), doc.Value)
}

func testFindFilters(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	coll := store.Collection("shop", "t")
	for _, id := range []string{"c", "a", "b", "d"} {
		require.NoError(t, coll.Insert(ctx, docstore.Document{ID: id, Value: []byte("v" + id)}))
	}

	cur, err := coll.Find(ctx, docstore.MatchAll(), docstore.FindOptions{})
	require.NoError(t, err)
	docs, err := docstore.Collect(ctx, cur)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(docs))
	assert.Equal(t, []byte("va"), docs[0].Value)

	cur, err = coll.Find(ctx, docstore.MatchIDs("d", "zz", "b", "b"), docstore.FindOptions{})
	require.NoError(t, err)
	docs, err = docstore.Collect(ctx, cur)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, ids(docs))

	cur, err = coll.Find(ctx, docstore.MatchIDs(), docstore.FindOptions{})
	require.NoError(t, err)
	docs, err = docstore.Collect(ctx, cur)
	require.NoError(t, err)
	assert.Empty(t, docs)

	cur, err = coll.Find(ctx, docstore.MatchAll(), docstore.FindOptions{IDsOnly: true})
	require.NoError(t, err)
	docs, err = docstore.Collect(ctx, cur)
	require.NoError(t, err)
	assert.Len(t, docs, 4)
	for _, d := range docs {
		assert.Empty(t, d.Value)
	}

	cur, err = store.Collection("shop", "never_written").Find(ctx, docstore.MatchAll(), docstore.FindOptions{})
	require.NoError(t, err)
	docs, err = docstore.Collect(ctx, cur)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func testDelete(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	coll := store.Collection("shop", "t")
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, coll.Insert(ctx, docstore.Document{ID: id, Value: []byte(id)}))
	}

	require.NoError(t, coll.DeleteOne(ctx, "a"))
	assert.True(t, errors.Is(coll.DeleteOne(ctx, "a"), docstore.ErrNotFound))

	n, err := coll.DeleteMany(ctx, []string{"b", "c", "zz"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = coll.FindOne(ctx, "c")
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
}

func testMembers(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	coll := store.Collection("shop", "t_ix_ind")

	require.NoError(t, coll.AddMember(ctx, "k", "r2"))
	require.NoError(t, coll.AddMember(ctx, "k", "r1"))
	require.NoError(t, coll.AddMember(ctx, "k", "r2"))

	doc, err := coll.FindOne(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, doc.Members)

	left, err := coll.RemoveMember(ctx, "k", "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	left, err = coll.RemoveMember(ctx, "k", "r2")
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	_, err = coll.FindOne(ctx, "k")
	assert.True(t, errors.Is(err, docstore.ErrNotFound), "empty entry should be removed, got %v", err)

	left, err = coll.RemoveMember(ctx, "absent", "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	// A unique entry created by Insert can carry members too.
	require.NoError(t, coll.Insert(ctx, docstore.Document{ID: "u", Members: []string{"r9"}}))
	doc, err = coll.FindOne(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"r9"}, doc.Members)
}

func testDropCollection(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	coll := store.Collection("shop", "t")
	keep := store.Collection("shop", "u")
	require.NoError(t, coll.Insert(ctx, docstore.Document{ID: "a", Value: []byte("a")}))
	require.NoError(t, keep.Insert(ctx, docstore.Document{ID: "a", Value: []byte("a")}))

	require.NoError(t, coll.Drop(ctx))

	_, err := coll.FindOne(ctx, "a")
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
	_, err = keep.FindOne(ctx, "a")
	assert.NoError(t, err)

	// Dropping again is harmless.
	assert.NoError(t, coll.Drop(ctx))
}

func testDropDatabase(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	require.NoError(t, store.Collection("shop", "t").Insert(ctx, docstore.Document{ID: "a", Value: []byte("a")}))
	require.NoError(t, store.Collection("shop", "t_ix_ind").AddMember(ctx, "k", "a"))
	require.NoError(t, store.Collection("shopping", "t").Insert(ctx, docstore.Document{ID: "a", Value: []byte("a")}))

	require.NoError(t, store.DropDatabase(ctx, "shop"))

	_, err := store.Collection("shop", "t").FindOne(ctx, "a")
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
	_, err = store.Collection("shop", "t_ix_ind").FindOne(ctx, "k")
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
	_, err = store.Collection("shopping", "t").FindOne(ctx, "a")
	assert.NoError(t, err, "databases sharing a name prefix must survive")
}

func testBatches(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	coll := store.Collection("shop", "big")
	for i := 0; i < 25; i++ {
		require.NoError(t, coll.Insert(ctx, docstore.Document{ID: fmt.Sprintf("%03d", i), Value: []byte{byte(i)}}))
	}

	cur, err := coll.Find(ctx, docstore.MatchAll(), docstore.FindOptions{BatchSize: 10})
	require.NoError(t, err)
	defer cur.Close(ctx)

	var sizes []int
	for {
		batch, err := docstore.NextBatch(ctx, cur, 10)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		sizes = append(sizes, len(batch))
	}
	assert.Equal(t, []int{10, 10, 5}, sizes)
}

func ids(docs []docstore.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
