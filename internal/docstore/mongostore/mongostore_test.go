package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/docsql/docsql/internal/docstore"
	"github.com/docsql/docsql/internal/docstore/storetest"
)

func TestFilterFor(t *testing.T) {
	assert.Equal(t, bson.M{}, filterFor(docstore.MatchAll()))
	assert.Equal(t,
		bson.M{"_id": bson.M{"$in": []string{"a", "b"}}},
		filterFor(docstore.MatchIDs("b", "a", "b")))
	assert.Equal(t,
		bson.M{"_id": bson.M{"$in": []string{}}},
		filterFor(docstore.MatchIDs()))
}

func TestFindOptions(t *testing.T) {
	fo := findOptions(docstore.FindOptions{IDsOnly: true, BatchSize: 50})
	require.NotNil(t, fo.BatchSize)
	assert.Equal(t, int32(50), *fo.BatchSize)
	assert.Equal(t, bson.M{"_id": 1}, fo.Projection)
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, fo.Sort)

	fo = findOptions(docstore.FindOptions{})
	assert.Nil(t, fo.BatchSize)
	assert.Nil(t, fo.Projection)
}

func TestRecordRoundTrip(t *testing.T) {
	rec := toRecord(docstore.Document{ID: "k", Members: []string{"r2", "r1"}})
	doc := rec.document()
	assert.Equal(t, []string{"r1", "r2"}, doc.Members)
	// The record itself is left untouched.
	assert.Equal(t, []string{"r2", "r1"}, rec.Members)

	data, err := bson.Marshal(toRecord(docstore.Document{ID: "row", Value: []byte("v")}))
	require.NoError(t, err)
	var back record
	require.NoError(t, bson.Unmarshal(data, &back))
	assert.Equal(t, docstore.Document{ID: "row", Value: []byte("v")}, back.document())
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "docsql_shop", databaseName("docsql_", "shop"))
	assert.Equal(t, "shop", databaseName("", "shop"))
}

func TestOpenRequiresURI(t *testing.T) {
	_, err := Open(context.Background(), "", "", time.Second)
	assert.Error(t, err)
}

// TestConformance runs against a live server when DOCSQL_TEST_MONGO_URI is set.
func TestConformance(t *testing.T) {
	uri := os.Getenv("DOCSQL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DOCSQL_TEST_MONGO_URI not set")
	}
	storetest.Run(t, func(t *testing.T) docstore.Store {
		prefix := fmt.Sprintf("t%s_", uuid.NewString()[:8])
		store, err := Open(context.Background(), uri, prefix, 5*time.Second)
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
