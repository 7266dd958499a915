package docstore

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle wraps store so every collection operation first waits on limiter.
func Throttle(store Store, limiter *rate.Limiter) Store {
	return &throttledStore{inner: store, limiter: limiter}
}

type throttledStore struct {
	inner   Store
	limiter *rate.Limiter
}

func (t *throttledStore) Collection(database, name string) Collection {
	return &throttledCollection{inner: t.inner.Collection(database, name), limiter: t.limiter}
}

func (t *throttledStore) DropDatabase(ctx context.Context, database string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.inner.DropDatabase(ctx, database)
}

func (t *throttledStore) Close(ctx context.Context) error {
	return t.inner.Close(ctx)
}

type throttledCollection struct {
	inner   Collection
	limiter *rate.Limiter
}

func (c *throttledCollection) Insert(ctx context.Context, doc Document) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.inner.Insert(ctx, doc)
}

func (c *throttledCollection) Replace(ctx context.Context, doc Document) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.inner.Replace(ctx, doc)
}

func (c *throttledCollection) FindOne(ctx context.Context, id string) (Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Document{}, err
	}
	return c.inner.FindOne(ctx, id)
}

// Find waits once for the query; iterating the cursor is not throttled.
func (c *throttledCollection) Find(ctx context.Context, filter Filter, opts FindOptions) (Cursor, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.Find(ctx, filter, opts)
}

func (c *throttledCollection) DeleteOne(ctx context.Context, id string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.inner.DeleteOne(ctx, id)
}

func (c *throttledCollection) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return c.inner.DeleteMany(ctx, ids)
}

func (c *throttledCollection) AddMember(ctx context.Context, id, member string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.inner.AddMember(ctx, id, member)
}

func (c *throttledCollection) RemoveMember(ctx context.Context, id, member string) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return c.inner.RemoveMember(ctx, id, member)
}

func (c *throttledCollection) Drop(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.inner.Drop(ctx)
}
