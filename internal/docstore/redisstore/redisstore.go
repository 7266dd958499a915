// Package redisstore implements docstore.Store on Redis.
//
// Each collection keeps a sorted set of its ids (all scores zero, so ZRANGEBYLEX
// yields id order), one string key per document value and one set key per
// posting entry's members. A per-database set records which collections exist.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docsql/docsql/internal/docstore"
)

const defaultPageSize = 1000

func init() {
	docstore.Register("redis", func(ctx context.Context, cfg docstore.Config) (docstore.Store, error) {
		rc := cfg.Redis
		return Open(ctx, &redis.Options{
			Addr:        rc.Addr,
			Password:    rc.Password,
			DB:          rc.DB,
			PoolSize:    rc.PoolSize,
			DialTimeout: rc.DialTimeout,
		}, rc.KeyPrefix)
	})
}

// removeMember drops a member and deletes the entry once its set is empty,
// atomically. KEYS: ids, doc, members. ARGV: id, member.
var removeMember = redis.NewScript(`
redis.call('SREM', KEYS[3], ARGV[2])
local left = redis.call('SCARD', KEYS[3])
if left == 0 then
	redis.call('ZREM', KEYS[1], ARGV[1])
	redis.call('DEL', KEYS[2])
end
return left
`)

// Store is a docstore.Store backed by a Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

// Open connects with opts and verifies the connection.
func Open(ctx context.Context, opts *redis.Options, prefix string) (*Store, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Store{client: client, prefix: prefix}, nil
}

// keyspace names the keys of one collection.
type keyspace struct {
	prefix   string
	database string
	name     string
}

func (k keyspace) base() string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, k.database, k.name)
}

func (k keyspace) ids() string {
	return k.base() + ":ids"
}

func (k keyspace) doc(id string) string {
	return k.base() + ":doc:" + id
}

func (k keyspace) members(id string) string {
	return k.base() + ":mem:" + id
}

// collectionsKey names the set of collections of a database.
func collectionsKey(prefix, database string) string {
	return fmt.Sprintf("%s:%s:collections", prefix, database)
}

// lexRange returns the ZRANGEBYLEX bounds of the page after the given id.
func lexRange(after string, first bool, count int) *redis.ZRangeBy {
	lower := "(" + after
	if first {
		lower = "-"
	}
	return &redis.ZRangeBy{Min: lower, Max: "+", Count: int64(count)}
}

// Collection returns a handle to the named collection.
func (s *Store) Collection(database, name string) docstore.Collection {
	return &collection{
		client: s.client,
		keys:   keyspace{prefix: s.prefix, database: database, name: name},
		colls:  collectionsKey(s.prefix, database),
	}
}

// DropDatabase drops every collection recorded for the database.
func (s *Store) DropDatabase(ctx context.Context, database string) error {
	key := collectionsKey(s.prefix, database)
	names, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range names {
		if err := s.Collection(database, name).Drop(ctx); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, key).Err()
}

// Close closes the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close()
}

type collection struct {
	client *redis.Client
	keys   keyspace
	colls  string
}

func (c *collection) Insert(ctx context.Context, doc docstore.Document) error {
	added, err := c.client.ZAddNX(ctx, c.keys.ids(), redis.Z{Member: doc.ID}).Result()
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	if added == 0 {
		return fmt.Errorf("%w: %s", docstore.ErrDuplicateID, doc.ID)
	}
	return c.write(ctx, doc)
}

func (c *collection) Replace(ctx context.Context, doc docstore.Document) error {
	if err := c.client.ZAdd(ctx, c.keys.ids(), redis.Z{Member: doc.ID}).Err(); err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return c.write(ctx, doc)
}

// write stores the value and members of a document whose id is registered.
func (c *collection) write(ctx context.Context, doc docstore.Document) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, c.colls, c.keys.name)
		if doc.Value != nil {
			pipe.Set(ctx, c.keys.doc(doc.ID), doc.Value, 0)
		} else {
			pipe.Del(ctx, c.keys.doc(doc.ID))
		}
		pipe.Del(ctx, c.keys.members(doc.ID))
		if len(doc.Members) > 0 {
			members := make([]any, len(doc.Members))
			for i, m := range doc.Members {
				members[i] = m
			}
			pipe.SAdd(ctx, c.keys.members(doc.ID), members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

func (c *collection) FindOne(ctx context.Context, id string) (docstore.Document, error) {
	err := c.client.ZScore(ctx, c.keys.ids(), id).Err()
	if errors.Is(err, redis.Nil) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("failed to read document: %w", err)
	}

	docs, err := c.load(ctx, []string{id}, false)
	if err != nil {
		return docstore.Document{}, err
	}
	return docs[0], nil
}

// load fetches values and members for ids in one pipeline.
func (c *collection) load(ctx context.Context, ids []string, idsOnly bool) ([]docstore.Document, error) {
	docs := make([]docstore.Document, len(ids))
	for i, id := range ids {
		docs[i].ID = id
	}
	if idsOnly || len(ids) == 0 {
		return docs, nil
	}

	values := make([]*redis.StringCmd, len(ids))
	members := make([]*redis.StringSliceCmd, len(ids))
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			values[i] = pipe.Get(ctx, c.keys.doc(id))
			members[i] = pipe.SMembers(ctx, c.keys.members(id))
		}
		return nil
	})
	// Posting entries have no value key; their GET reports redis.Nil.
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	for i := range ids {
		value, err := values[i].Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to load document %s: %w", ids[i], err)
		}
		docs[i].Value = value

		list, err := members[i].Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load members of %s: %w", ids[i], err)
		}
		if len(list) > 0 {
			sort.Strings(list)
			docs[i].Members = list
		}
	}
	return docs, nil
}

func (c *collection) Find(ctx context.Context, filter docstore.Filter, opts docstore.FindOptions) (docstore.Cursor, error) {
	pageSize := opts.BatchSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	if filter.All() {
		after, first := "", true
		return docstore.NewPagedCursor(func(ctx context.Context) ([]docstore.Document, error) {
			ids, err := c.client.ZRangeByLex(ctx, c.keys.ids(), lexRange(after, first, pageSize)).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to list documents: %w", err)
			}
			first = false
			if len(ids) == 0 {
				return nil, nil
			}
			after = ids[len(ids)-1]
			return c.load(ctx, ids, opts.IDsOnly)
		}), nil
	}

	ids := filter.SortedIDs()
	return docstore.NewPagedCursor(func(ctx context.Context) ([]docstore.Document, error) {
		for len(ids) > 0 {
			n := min(pageSize, len(ids))
			batch := ids[:n]
			ids = ids[n:]

			present, err := c.present(ctx, batch)
			if err != nil {
				return nil, err
			}
			if len(present) > 0 {
				return c.load(ctx, present, opts.IDsOnly)
			}
		}
		return nil, nil
	}), nil
}

// present filters ids down to the ones registered in the collection.
func (c *collection) present(ctx context.Context, ids []string) ([]string, error) {
	scores := make([]*redis.FloatCmd, len(ids))
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			scores[i] = pipe.ZScore(ctx, c.keys.ids(), id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to check documents: %w", err)
	}

	out := make([]string, 0, len(ids))
	for i, id := range ids {
		err := scores[i].Err()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check document %s: %w", id, err)
		}
		out = append(out, id)
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
	if len(ids) == 0 {
		return 0, nil
	}
	removed := make([]*redis.IntCmd, len(ids))
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			removed[i] = pipe.ZRem(ctx, c.keys.ids(), id)
			pipe.Del(ctx, c.keys.doc(id), c.keys.members(id))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}

	var total int64
	for _, cmd := range removed {
		total += cmd.Val()
	}
	return total, nil
}

func (c *collection) AddMember(ctx context.Context, id, member string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, c.colls, c.keys.name)
		pipe.ZAdd(ctx, c.keys.ids(), redis.Z{Member: id})
		pipe.SAdd(ctx, c.keys.members(id), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (c *collection) RemoveMember(ctx context.Context, id, member string) (int, error) {
	keys := []string{c.keys.ids(), c.keys.doc(id), c.keys.members(id)}
	left, err := removeMember.Run(ctx, c.client, keys, id, member).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to remove member: %w", err)
	}
	return left, nil
}

// Drop deletes the collection's keys a page at a time.
func (c *collection) Drop(ctx context.Context) error {
	for {
		ids, err := c.client.ZRangeByLex(ctx, c.keys.ids(), lexRange("", true, defaultPageSize)).Result()
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		if _, err := c.DeleteMany(ctx, ids); err != nil {
			return err
		}
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.keys.ids())
		pipe.SRem(ctx, c.colls, c.keys.name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}
