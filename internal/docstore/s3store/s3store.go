// Package s3store implements docstore.Store on S3-compatible object storage.
//
// Every document is one object at <prefix>/<database>/<collection>/<hex id>.
// Hex-encoding ids keeps arbitrary bytes out of keys and preserves byte
// order, so ListObjectsV2 returns documents in id order. Member updates use
// conditional puts and retry on conflicts.
package s3store

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/semaphore"

	"github.com/docsql/docsql/internal/docstore"
)

const (
	defaultPageSize    = 1000
	defaultConcurrency = 8
	maxDeleteBatch     = 1000
	// maxConflictRetries bounds optimistic member updates.
	maxConflictRetries = 16
)

var errPreconditionFailed = errors.New("precondition failed")

// API is the subset of the S3 client the store uses.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Options configures a Store.
type Options struct {
	Bucket      string
	Prefix      string
	Concurrency int
	MaxRetries  int
}

func init() {
	docstore.Register("s3", func(ctx context.Context, cfg docstore.Config) (docstore.Store, error) {
		sc := cfg.S3
		if sc.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required")
		}

		var loadOpts []func(*awsconfig.LoadOptions) error
		if sc.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(sc.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var s3Opts []func(*s3.Options)
		if sc.Endpoint != "" {
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(sc.Endpoint)
			})
		}
		if sc.UsePathStyle {
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.UsePathStyle = true
			})
		}

		client := s3.NewFromConfig(awsCfg, s3Opts...)
		return New(client, Options{
			Bucket:      sc.Bucket,
			Prefix:      sc.Prefix,
			Concurrency: sc.Concurrency,
			MaxRetries:  sc.MaxRetries,
		}), nil
	})
}

// object is the stored body of a document.
type object struct {
	Value   []byte   `json:"value,omitempty"`
	Members []string `json:"members,omitempty"`
}

// Store is a docstore.Store on an S3 bucket.
type Store struct {
	client      API
	bucket      string
	prefix      string
	concurrency int
	maxRetries  int
}

// New returns a store using client.
func New(client API, opts Options) *Store {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Store{
		client:      client,
		bucket:      opts.Bucket,
		prefix:      strings.Trim(opts.Prefix, "/"),
		concurrency: concurrency,
		maxRetries:  maxRetries,
	}
}

// databasePrefix returns the key prefix of a database, ending in a slash.
func (s *Store) databasePrefix(database string) string {
	if s.prefix == "" {
		return database + "/"
	}
	return s.prefix + "/" + database + "/"
}

// Collection returns a handle to the named collection.
func (s *Store) Collection(database, name string) docstore.Collection {
	return &collection{store: s, prefix: s.databasePrefix(database) + name + "/"}
}

// DropDatabase deletes every object under the database prefix.
func (s *Store) DropDatabase(ctx context.Context, database string) error {
	return s.deletePrefix(ctx, s.databasePrefix(database))
}

// Close is a no-op; the S3 client holds no connections that need closing.
func (s *Store) Close(ctx context.Context) error {
	return nil
}

// deletePrefix removes all objects under prefix in DeleteObjects batches.
func (s *Store) deletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(maxDeleteBatch),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			ids[i] = types.ObjectIdentifier{Key: obj.Key}
		}
		err = s.retryWithBackoff(ctx, func() error {
			_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
	}
	return nil
}

// retryWithBackoff executes the operation with exponential backoff retry.
func (s *Store) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		// Don't retry on precondition failures or not found errors
		if errors.Is(lastErr, errPreconditionFailed) || errors.Is(lastErr, docstore.ErrNotFound) {
			return lastErr
		}

		if attempt < s.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

// isPreconditionFailed reports whether err is a failed If-Match or
// If-None-Match condition.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "StatusCode: 412")
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// encodeID maps a document id to its object name.
func encodeID(id string) string {
	return hex.EncodeToString([]byte(id))
}

// decodeID reverses encodeID.
func decodeID(name string) (string, error) {
	raw, err := hex.DecodeString(name)
	if err != nil {
		return "", fmt.Errorf("malformed object name %q: %w", name, err)
	}
	return string(raw), nil
}

type collection struct {
	store  *Store
	prefix string
}

func (c *collection) key(id string) string {
	return c.prefix + encodeID(id)
}

// get reads a document and its ETag.
func (c *collection) get(ctx context.Context, id string) (docstore.Document, string, error) {
	var out *s3.GetObjectOutput
	err := c.store.retryWithBackoff(ctx, func() error {
		var err error
		out, err = c.store.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.store.bucket),
			Key:    aws.String(c.key(id)),
		})
		if isNotFound(err) {
			return docstore.ErrNotFound
		}
		return err
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return docstore.Document{}, "", err
		}
		return docstore.Document{}, "", fmt.Errorf("failed to get object: %w", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return docstore.Document{}, "", fmt.Errorf("failed to read object: %w", err)
	}
	var obj object
	if err := json.Unmarshal(body, &obj); err != nil {
		return docstore.Document{}, "", fmt.Errorf("failed to decode object %s: %w", id, err)
	}
	return docstore.Document{ID: id, Value: obj.Value, Members: obj.Members}, aws.ToString(out.ETag), nil
}

// put writes a document. With create set the object must not exist yet;
// otherwise a non-empty etag must match the stored object.
func (c *collection) put(ctx context.Context, doc docstore.Document, create bool, etag string) error {
	body, err := json.Marshal(object{Value: doc.Value, Members: doc.Members})
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	return c.store.retryWithBackoff(ctx, func() error {
		input := &s3.PutObjectInput{
			Bucket:      aws.String(c.store.bucket),
			Key:         aws.String(c.key(doc.ID)),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		}
		if create {
			input.IfNoneMatch = aws.String("*")
		} else if etag != "" {
			input.IfMatch = aws.String(etag)
		}

		_, err := c.store.client.PutObject(ctx, input)
		if isPreconditionFailed(err) {
			return errPreconditionFailed
		}
		return err
	})
}

func (c *collection) Insert(ctx context.Context, doc docstore.Document) error {
	err := c.put(ctx, doc, true, "")
	if errors.Is(err, errPreconditionFailed) {
		return fmt.Errorf("%w: %s", docstore.ErrDuplicateID, doc.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (c *collection) Replace(ctx context.Context, doc docstore.Document) error {
	if err := c.put(ctx, doc, false, ""); err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}

func (c *collection) FindOne(ctx context.Context, id string) (docstore.Document, error) {
	doc, _, err := c.get(ctx, id)
	return doc, err
}

// fetch reads documents concurrently, bounded by the store's concurrency.
// Missing ids are dropped; the result keeps the order of ids.
func (c *collection) fetch(ctx context.Context, ids []string) ([]docstore.Document, error) {
	docs := make([]docstore.Document, len(ids))
	found := make([]bool, len(ids))
	sem := semaphore.NewWeighted(int64(c.store.concurrency))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(i int, id string) {
			defer sem.Release(1)
			defer wg.Done()

			doc, _, err := c.get(ctx, id)
			if errors.Is(err, docstore.ErrNotFound) {
				return
			}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			docs[i] = doc
			found[i] = true
		}(i, id)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	out := docs[:0]
	for i, doc := range docs {
		if found[i] {
			out = append(out, doc)
		}
	}
	return out, nil
}

// exists reports which ids have objects, using HEAD requests.
func (c *collection) exists(ctx context.Context, ids []string) ([]string, error) {
	present := make([]bool, len(ids))
	sem := semaphore.NewWeighted(int64(c.store.concurrency))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(i int, id string) {
			defer sem.Release(1)
			defer wg.Done()

			err := c.store.retryWithBackoff(ctx, func() error {
				_, err := c.store.client.HeadObject(ctx, &s3.HeadObjectInput{
					Bucket: aws.String(c.store.bucket),
					Key:    aws.String(c.key(id)),
				})
				if isNotFound(err) {
					return docstore.ErrNotFound
				}
				return err
			})
			if errors.Is(err, docstore.ErrNotFound) {
				return
			}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to check object: %w", err)
				}
				mu.Unlock()
				return
			}
			present[i] = true
		}(i, id)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	out := make([]string, 0, len(ids))
	for i, id := range ids {
		if present[i] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (c *collection) Find(ctx context.Context, filter docstore.Filter, opts docstore.FindOptions) (docstore.Cursor, error) {
	pageSize := opts.BatchSize
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}

	if filter.All() {
		paginator := s3.NewListObjectsV2Paginator(c.store.client, &s3.ListObjectsV2Input{
			Bucket:  aws.String(c.store.bucket),
			Prefix:  aws.String(c.prefix),
			MaxKeys: aws.Int32(int32(pageSize)),
		})
		return docstore.NewPagedCursor(func(ctx context.Context) ([]docstore.Document, error) {
			for paginator.HasMorePages() {
				page, err := paginator.NextPage(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to list objects: %w", err)
				}
				ids := make([]string, 0, len(page.Contents))
				for _, obj := range page.Contents {
					id, err := decodeID(strings.TrimPrefix(aws.ToString(obj.Key), c.prefix))
					if err != nil {
						return nil, err
					}
					ids = append(ids, id)
				}
				if len(ids) == 0 {
					continue
				}
				if opts.IDsOnly {
					return idDocuments(ids), nil
				}
				docs, err := c.fetch(ctx, ids)
				if err != nil {
					return nil, err
				}
				if len(docs) > 0 {
					return docs, nil
				}
			}
			return nil, nil
		}), nil
	}

	ids := filter.SortedIDs()
	return docstore.NewPagedCursor(func(ctx context.Context) ([]docstore.Document, error) {
		for len(ids) > 0 {
			n := min(pageSize, len(ids))
			batch := ids[:n]
			ids = ids[n:]

			var docs []docstore.Document
			if opts.IDsOnly {
				present, err := c.exists(ctx, batch)
				if err != nil {
					return nil, err
				}
				docs = idDocuments(present)
			} else {
				var err error
				if docs, err = c.fetch(ctx, batch); err != nil {
					return nil, err
				}
			}
			if len(docs) > 0 {
				return docs, nil
			}
		}
		return nil, nil
	}), nil
}

func idDocuments(ids []string) []docstore.Document {
	docs := make([]docstore.Document, len(ids))
	for i, id := range ids {
		docs[i].ID = id
	}
	return docs
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

// DeleteMany checks which ids exist, then deletes them. S3 deletes are
// idempotent and do not report whether the object existed.
func (c *collection) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	present, err := c.exists(ctx, ids)
	if err != nil {
		return 0, err
	}

	for start := 0; start < len(present); start += maxDeleteBatch {
		batch := present[start:min(start+maxDeleteBatch, len(present))]
		objects := make([]types.ObjectIdentifier, len(batch))
		for i, id := range batch {
			objects[i] = types.ObjectIdentifier{Key: aws.String(c.key(id))}
		}
		err := c.store.retryWithBackoff(ctx, func() error {
			_, err := c.store.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(c.store.bucket),
				Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("failed to delete objects: %w", err)
		}
	}
	return int64(len(present)), nil
}

// update applies fn to the current member list with optimistic concurrency.
// fn returns the new members and whether anything changed.
func (c *collection) update(ctx context.Context, id string, fn func([]string) ([]string, bool)) ([]string, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		doc, etag, err := c.get(ctx, id)
		create := errors.Is(err, docstore.ErrNotFound)
		if err != nil && !create {
			return nil, err
		}

		members, changed := fn(doc.Members)
		if !changed {
			return members, nil
		}
		if create && len(members) == 0 {
			return nil, nil
		}

		if len(members) == 0 {
			if err := c.deleteIfMatch(ctx, id, etag); err != nil {
				if errors.Is(err, errPreconditionFailed) {
					continue
				}
				return nil, err
			}
			return nil, nil
		}

		doc.ID = id
		doc.Members = members
		err = c.put(ctx, doc, create, etag)
		if errors.Is(err, errPreconditionFailed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return members, nil
	}
	return nil, fmt.Errorf("failed to update members of %s: too many concurrent writers", id)
}

func (c *collection) deleteIfMatch(ctx context.Context, id, etag string) error {
	return c.store.retryWithBackoff(ctx, func() error {
		input := &s3.DeleteObjectInput{
			Bucket: aws.String(c.store.bucket),
			Key:    aws.String(c.key(id)),
		}
		if etag != "" {
			input.IfMatch = aws.String(etag)
		}
		_, err := c.store.client.DeleteObject(ctx, input)
		if isPreconditionFailed(err) {
			return errPreconditionFailed
		}
		return err
	})
}

func (c *collection) AddMember(ctx context.Context, id, member string) error {
	_, err := c.update(ctx, id, func(members []string) ([]string, bool) {
		return docstore.AddSortedMember(members, member)
	})
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (c *collection) RemoveMember(ctx context.Context, id, member string) (int, error) {
	members, err := c.update(ctx, id, func(members []string) ([]string, bool) {
		before := len(members)
		members = docstore.RemoveSortedMember(members, member)
		return members, len(members) != before
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove member: %w", err)
	}
	return len(members), nil
}

func (c *collection) Drop(ctx context.Context) error {
	return c.store.deletePrefix(ctx, c.prefix)
}
