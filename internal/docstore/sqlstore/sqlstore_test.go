package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/docstore"
	"github.com/docsql/docsql/internal/docstore/storetest"
)

func openSQLite(t *testing.T) docstore.Store {
	t.Helper()
	cfg := config.StorageConfig{Backend: "sqlite"}
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "docsql.db")

	store, err := docstore.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, openSQLite)
}

func TestSQLiteMatchIDsAcrossChunks(t *testing.T) {
	ctx := context.Background()
	coll := openSQLite(t).Collection("shop", "wide")

	var want []string
	for i := 0; i < matchChunk+20; i++ {
		id := fmt.Sprintf("%04d", i)
		require.NoError(t, coll.Insert(ctx, docstore.Document{ID: id, Value: []byte(id)}))
		if i%2 == 0 {
			want = append(want, id)
		}
	}

	// Missing ids in an early chunk must not end iteration.
	filterIDs := append([]string{}, want...)
	for i := 0; i < matchChunk; i++ {
		filterIDs = append(filterIDs, fmt.Sprintf("x%04d", i))
	}

	cur, err := coll.Find(ctx, docstore.MatchIDs(filterIDs...), docstore.FindOptions{IDsOnly: true})
	require.NoError(t, err)
	docs, err := docstore.Collect(ctx, cur)
	require.NoError(t, err)

	got := make([]string, len(docs))
	for i, d := range docs {
		got[i] = d.ID
		assert.Nil(t, d.Value)
	}
	assert.Equal(t, want, got)
}

func TestDuplicateDetection(t *testing.T) {
	assert.True(t, SQLite.IsDuplicate(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, SQLite.IsDuplicate(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.False(t, SQLite.IsDuplicate(errors.New("boom")))

	assert.True(t, MySQL.IsDuplicate(fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1062})))
	assert.False(t, MySQL.IsDuplicate(&mysql.MySQLError{Number: 1213}))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestOpenRequiresSettings(t *testing.T) {
	_, err := docstore.Open(context.Background(), config.StorageConfig{Backend: "sqlite"})
	assert.Error(t, err)

	_, err = docstore.Open(context.Background(), config.StorageConfig{Backend: "mysql"})
	assert.Error(t, err)
}
