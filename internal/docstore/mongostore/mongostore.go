// Package mongostore implements docstore.Store on MongoDB. Each docsql
// database maps to a Mongo database and each collection to a Mongo
// collection; documents are stored as {_id, value, members}.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/docsql/docsql/internal/docstore"
)

func init() {
	docstore.Register("mongodb", func(ctx context.Context, cfg docstore.Config) (docstore.Store, error) {
		return Open(ctx, cfg.Mongo.URI, cfg.Mongo.DatabasePrefix, cfg.Mongo.ConnectTimeout)
	})
}

// record is the stored shape of a docstore.Document.
type record struct {
	ID      string   `bson:"_id"`
	Value   []byte   `bson:"value,omitempty"`
	Members []string `bson:"members,omitempty"`
}

func toRecord(doc docstore.Document) record {
	return record{ID: doc.ID, Value: doc.Value, Members: doc.Members}
}

func (r record) document() docstore.Document {
	members := r.Members
	if len(members) > 0 {
		members = append([]string(nil), members...)
		sort.Strings(members)
	}
	return docstore.Document{ID: r.ID, Value: r.Value, Members: members}
}

// Store is a docstore.Store backed by a Mongo client.
type Store struct {
	client *mongo.Client
	prefix string
}

// Open connects to uri and verifies the connection.
func Open(ctx context.Context, uri, prefix string, timeout time.Duration) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb uri is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return &Store{client: client, prefix: prefix}, nil
}

// databaseName maps a docsql database to its Mongo database.
func databaseName(prefix, database string) string {
	return prefix + database
}

// Collection returns a handle to the named collection.
func (s *Store) Collection(database, name string) docstore.Collection {
	return &collection{coll: s.client.Database(databaseName(s.prefix, database)).Collection(name)}
}

// DropDatabase drops the Mongo database.
func (s *Store) DropDatabase(ctx context.Context, database string) error {
	if err := s.client.Database(databaseName(s.prefix, database)).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop database %s: %w", database, err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type collection struct {
	coll *mongo.Collection
}

func (c *collection) Insert(ctx context.Context, doc docstore.Document) error {
	if _, err := c.coll.InsertOne(ctx, toRecord(doc)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", docstore.ErrDuplicateID, doc.ID)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (c *collection) Replace(ctx context.Context, doc docstore.Document) error {
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, toRecord(doc), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}

func (c *collection) FindOne(ctx context.Context, id string) (docstore.Document, error) {
	var rec record
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("failed to read document: %w", err)
	}
	return rec.document(), nil
}

// filterFor translates a docstore filter into a Mongo query.
func filterFor(filter docstore.Filter) bson.M {
	if filter.All() {
		return bson.M{}
	}
	return bson.M{"_id": bson.M{"$in": filter.SortedIDs()}}
}

// findOptions sorts by _id and trims the projection for id-only reads.
func findOptions(opts docstore.FindOptions) *options.FindOptions {
	fo := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if opts.BatchSize > 0 {
		fo.SetBatchSize(int32(opts.BatchSize))
	}
	if opts.IDsOnly {
		fo.SetProjection(bson.M{"_id": 1})
	}
	return fo
}

func (c *collection) Find(ctx context.Context, filter docstore.Filter, opts docstore.FindOptions) (docstore.Cursor, error) {
	cur, err := c.coll.Find(ctx, filterFor(filter), findOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	return &cursor{cur: cur}, nil
}

func (c *collection) DeleteOne(ctx context.Context, id string) error {
	res, err := c.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if res.DeletedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (c *collection) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := c.coll.DeleteMany(ctx, filterFor(docstore.MatchIDs(ids...)))
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	return res.DeletedCount, nil
}

func (c *collection) AddMember(ctx context.Context, id, member string) error {
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"members": member}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (c *collection) RemoveMember(ctx context.Context, id, member string) (int, error) {
	var rec record
	err := c.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$pull": bson.M{"members": member}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to remove member: %w", err)
	}

	if len(rec.Members) == 0 {
		// Only delete while still empty; a concurrent AddMember may have refilled it.
		_, err := c.coll.DeleteOne(ctx, bson.M{"_id": id, "members": bson.M{"$size": 0}})
		if err != nil {
			return 0, fmt.Errorf("failed to delete empty entry: %w", err)
		}
	}
	return len(rec.Members), nil
}

func (c *collection) Drop(ctx context.Context) error {
	if err := c.coll.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// cursor adapts a mongo.Cursor to docstore.Cursor.
type cursor struct {
	cur *mongo.Cursor
	doc docstore.Document
	err error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if !c.cur.Next(ctx) {
		c.err = c.cur.Err()
		return false
	}
	var rec record
	if err := c.cur.Decode(&rec); err != nil {
		c.err = fmt.Errorf("failed to decode document: %w", err)
		return false
	}
	c.doc = rec.document()
	return true
}

func (c *cursor) Document() docstore.Document {
	return c.doc
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
