// Package sqlstore implements docstore.Store on a relational database.
// Documents live in one table keyed by (db, coll, id) and posting-list
// members in a second table, so both SQLite and MySQL serve the same schema.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/docsql/docsql/internal/docstore"
)

// matchChunk bounds the number of ids bound into one IN clause.
const matchChunk = 500

// defaultPageSize is used when Find is called without a batch size.
const defaultPageSize = 1000

// Dialect captures the statements that differ between SQL engines.
type Dialect struct {
	Name         string
	Schema       []string
	InsertIgnore string
	Upsert       string
	IsDuplicate  func(error) bool
}

// SQLite is the dialect for mattn/go-sqlite3.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			db TEXT NOT NULL,
			coll TEXT NOT NULL,
			id TEXT NOT NULL,
			value BLOB,
			PRIMARY KEY (db, coll, id)
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			db TEXT NOT NULL,
			coll TEXT NOT NULL,
			id TEXT NOT NULL,
			member TEXT NOT NULL,
			PRIMARY KEY (db, coll, id, member)
		)`,
	},
	InsertIgnore: "INSERT OR IGNORE",
	Upsert: `INSERT INTO documents (db, coll, id, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(db, coll, id) DO UPDATE SET value = excluded.value`,
	IsDuplicate: func(err error) bool {
		var sqliteErr sqlite3.Error
		return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
	},
}

// MySQL is the dialect for go-sql-driver/mysql.
var MySQL = Dialect{
	Name: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			db VARBINARY(128) NOT NULL,
			coll VARBINARY(255) NOT NULL,
			id VARBINARY(512) NOT NULL,
			value LONGBLOB,
			PRIMARY KEY (db, coll, id)
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			db VARBINARY(128) NOT NULL,
			coll VARBINARY(255) NOT NULL,
			id VARBINARY(512) NOT NULL,
			member VARBINARY(512) NOT NULL,
			PRIMARY KEY (db, coll, id, member)
		)`,
	},
	InsertIgnore: "INSERT IGNORE",
	Upsert: `INSERT INTO documents (db, coll, id, value) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`,
	IsDuplicate: func(err error) bool {
		var mysqlErr *mysql.MySQLError
		return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
	},
}

func init() {
	docstore.Register("sqlite", func(ctx context.Context, cfg docstore.Config) (docstore.Store, error) {
		if cfg.SQLite.Path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		db, err := sql.Open("sqlite3", cfg.SQLite.Path+"?_journal_mode=WAL&_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		return New(ctx, db, SQLite)
	})

	docstore.Register("mysql", func(ctx context.Context, cfg docstore.Config) (docstore.Store, error) {
		if cfg.MySQL.DSN == "" {
			return nil, fmt.Errorf("mysql dsn is required")
		}
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql database: %w", err)
		}
		maxOpen := cfg.MySQL.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen / 2)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping mysql: %w", err)
		}
		return New(ctx, db, MySQL)
	})
}

// Store is a docstore.Store backed by database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New creates the schema if needed and returns a store using db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s schema: %w", dialect.Name, err)
		}
	}
	return &Store{db: db, dialect: dialect}, nil
}

// Collection returns a handle to the named collection.
func (s *Store) Collection(database, name string) docstore.Collection {
	return &collection{store: s, db: database, name: name}
}

// DropDatabase removes every document and member of the database.
func (s *Store) DropDatabase(ctx context.Context, database string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE db = ?`, database); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE db = ?`, database)
		return err
	})
}

// Close closes the database handle.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// inTx runs fn in a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type collection struct {
	store *Store
	db    string
	name  string
}

func (c *collection) Insert(ctx context.Context, doc docstore.Document) error {
	return c.store.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (db, coll, id, value) VALUES (?, ?, ?, ?)`,
			c.db, c.name, doc.ID, doc.Value)
		if err != nil {
			if c.store.dialect.IsDuplicate(err) {
				return fmt.Errorf("%w: %s", docstore.ErrDuplicateID, doc.ID)
			}
			return fmt.Errorf("failed to insert document: %w", err)
		}
		for _, member := range doc.Members {
			if err := c.addMemberTx(ctx, tx, doc.ID, member); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *collection) Replace(ctx context.Context, doc docstore.Document) error {
	return c.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, c.store.dialect.Upsert, c.db, c.name, doc.ID, doc.Value); err != nil {
			return fmt.Errorf("failed to replace document: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM members WHERE db = ? AND coll = ? AND id = ?`,
			c.db, c.name, doc.ID); err != nil {
			return fmt.Errorf("failed to clear members: %w", err)
		}
		for _, member := range doc.Members {
			if err := c.addMemberTx(ctx, tx, doc.ID, member); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *collection) FindOne(ctx context.Context, id string) (docstore.Document, error) {
	var value []byte
	err := c.store.db.QueryRowContext(ctx,
		`SELECT value FROM documents WHERE db = ? AND coll = ? AND id = ?`,
		c.db, c.name, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("failed to read document: %w", err)
	}

	doc := docstore.Document{ID: id, Value: value}
	members, err := c.members(ctx, []string{id})
	if err != nil {
		return docstore.Document{}, err
	}
	doc.Members = members[id]
	return doc, nil
}

// Find pages through the collection in id order. A MatchAll filter uses
// keyset pagination; an id filter is served in IN-clause chunks.
func (c *collection) Find(ctx context.Context, filter docstore.Filter, opts docstore.FindOptions) (docstore.Cursor, error) {
	pageSize := opts.BatchSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	if filter.All() {
		after := ""
		first := true
		return docstore.NewPagedCursor(func(ctx context.Context) ([]docstore.Document, error) {
			query := `SELECT id, value FROM documents WHERE db = ? AND coll = ? AND id > ? ORDER BY id LIMIT ?`
			args := []any{c.db, c.name, after, pageSize}
			if first {
				query = `SELECT id, value FROM documents WHERE db = ? AND coll = ? AND id >= ? ORDER BY id LIMIT ?`
				first = false
			}
			docs, err := c.page(ctx, query, args, opts.IDsOnly)
			if err != nil {
				return nil, err
			}
			if len(docs) > 0 {
				after = docs[len(docs)-1].ID
			}
			return docs, nil
		}), nil
	}

	ids := filter.SortedIDs()
	chunk := min(pageSize, matchChunk)
	return docstore.NewPagedCursor(func(ctx context.Context) ([]docstore.Document, error) {
		for len(ids) > 0 {
			n := min(chunk, len(ids))
			batch := ids[:n]
			ids = ids[n:]

			query := `SELECT id, value FROM documents WHERE db = ? AND coll = ? AND id IN (` +
				placeholders(len(batch)) + `) ORDER BY id`
			args := make([]any, 0, len(batch)+2)
			args = append(args, c.db, c.name)
			for _, id := range batch {
				args = append(args, id)
			}
			docs, err := c.page(ctx, query, args, opts.IDsOnly)
			if err != nil {
				return nil, err
			}
			// A chunk with no surviving ids must not end the cursor early.
			if len(docs) > 0 {
				return docs, nil
			}
		}
		return nil, nil
	}), nil
}

// page runs a listing query and attaches members unless idsOnly is set.
func (c *collection) page(ctx context.Context, query string, args []any, idsOnly bool) ([]docstore.Document, error) {
	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var doc docstore.Document
		var value []byte
		if err := rows.Scan(&doc.ID, &value); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if !idsOnly {
			doc.Value = value
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	rows.Close()

	if idsOnly || len(docs) == 0 {
		return docs, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	members, err := c.members(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Members = members[docs[i].ID]
	}
	return docs, nil
}

// members loads the sorted member lists of the given entries.
func (c *collection) members(ctx context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for start := 0; start < len(ids); start += matchChunk {
		batch := ids[start:min(start+matchChunk, len(ids))]
		args := make([]any, 0, len(batch)+2)
		args = append(args, c.db, c.name)
		for _, id := range batch {
			args = append(args, id)
		}

		rows, err := c.store.db.QueryContext(ctx,
			`SELECT id, member FROM members WHERE db = ? AND coll = ? AND id IN (`+
				placeholders(len(batch))+`) ORDER BY id, member`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to read members: %w", err)
		}
		for rows.Next() {
			var id, member string
			if err := rows.Scan(&id, &member); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan member: %w", err)
			}
			out[id] = append(out[id], member)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read members: %w", err)
		}
	}
	return out, nil
}

func (c *collection) DeleteOne(ctx context.Context, id string) error {
	n, err := c.DeleteMany(ctx, []string{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (c *collection) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	var deleted int64
	err := c.store.inTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(ids); start += matchChunk {
			batch := ids[start:min(start+matchChunk, len(ids))]
			args := make([]any, 0, len(batch)+2)
			args = append(args, c.db, c.name)
			for _, id := range batch {
				args = append(args, id)
			}
			in := placeholders(len(batch))

			if _, err := tx.ExecContext(ctx,
				`DELETE FROM members WHERE db = ? AND coll = ? AND id IN (`+in+`)`, args...); err != nil {
				return fmt.Errorf("failed to delete members: %w", err)
			}
			res, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE db = ? AND coll = ? AND id IN (`+in+`)`, args...)
			if err != nil {
				return fmt.Errorf("failed to delete documents: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (c *collection) AddMember(ctx context.Context, id, member string) error {
	return c.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			c.store.dialect.InsertIgnore+` INTO documents (db, coll, id, value) VALUES (?, ?, ?, NULL)`,
			c.db, c.name, id); err != nil {
			return fmt.Errorf("failed to create entry: %w", err)
		}
		return c.addMemberTx(ctx, tx, id, member)
	})
}

func (c *collection) addMemberTx(ctx context.Context, tx *sql.Tx, id, member string) error {
	_, err := tx.ExecContext(ctx,
		c.store.dialect.InsertIgnore+` INTO members (db, coll, id, member) VALUES (?, ?, ?, ?)`,
		c.db, c.name, id, member)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (c *collection) RemoveMember(ctx context.Context, id, member string) (int, error) {
	var left int
	err := c.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM members WHERE db = ? AND coll = ? AND id = ? AND member = ?`,
			c.db, c.name, id, member); err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM members WHERE db = ? AND coll = ? AND id = ?`,
			c.db, c.name, id).Scan(&left); err != nil {
			return fmt.Errorf("failed to count members: %w", err)
		}
		if left == 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE db = ? AND coll = ? AND id = ?`,
				c.db, c.name, id); err != nil {
				return fmt.Errorf("failed to delete empty entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return left, nil
}

func (c *collection) Drop(ctx context.Context) error {
	return c.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE db = ? AND coll = ?`, c.db, c.name); err != nil {
			return fmt.Errorf("failed to drop members: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE db = ? AND coll = ?`, c.db, c.name); err != nil {
			return fmt.Errorf("failed to drop documents: %w", err)
		}
		return nil
	})
}

// placeholders returns n comma-separated bind markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
