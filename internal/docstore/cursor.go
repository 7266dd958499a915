package docstore

import "context"

// Cursor iterates over Find results.
type Cursor interface {
	// Next advances to the next document. It returns false when the results
	// are exhausted or an error occurred.
	Next(ctx context.Context) bool

	// Document returns the current document.
	Document() Document

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases the cursor.
	Close(ctx context.Context) error
}

// NextBatch reads up to n documents from the cursor. An empty result with a
// nil error means the cursor is exhausted.
func NextBatch(ctx context.Context, cur Cursor, n int) ([]Document, error) {
	if n <= 0 {
		n = 1
	}
	batch := make([]Document, 0, n)
	for len(batch) < n && cur.Next(ctx) {
		batch = append(batch, cur.Document())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

// Collect drains the cursor and closes it.
func Collect(ctx context.Context, cur Cursor) ([]Document, error) {
	defer cur.Close(ctx)

	var docs []Document
	for cur.Next(ctx) {
		docs = append(docs, cur.Document())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// SliceCursor is a Cursor over documents already held in memory.
type SliceCursor struct {
	docs []Document
	pos  int
	err  error
}

// NewSliceCursor returns a cursor over docs.
func NewSliceCursor(docs []Document) *SliceCursor {
	return &SliceCursor{docs: docs, pos: -1}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *SliceCursor) Document() Document {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return Document{}
	}
	return c.docs[c.pos]
}

func (c *SliceCursor) Err() error {
	return c.err
}

func (c *SliceCursor) Close(ctx context.Context) error {
	c.docs = nil
	return nil
}

// PageFunc fetches the next page of a listing. An empty page ends it.
type PageFunc func(ctx context.Context) ([]Document, error)

// PagedCursor is a Cursor that pulls documents a page at a time. Network
// backends use it to keep one round trip per page.
type PagedCursor struct {
	next PageFunc
	page []Document
	pos  int
	cur  Document
	err  error
	done bool
}

// NewPagedCursor returns a cursor that calls next whenever its current page
// is exhausted.
func NewPagedCursor(next PageFunc) *PagedCursor {
	return &PagedCursor{next: next}
}

func (c *PagedCursor) Next(ctx context.Context) bool {
	for {
		if c.err != nil || c.done {
			return false
		}
		if c.pos < len(c.page) {
			c.cur = c.page[c.pos]
			c.pos++
			return true
		}
		if err := ctx.Err(); err != nil {
			c.err = err
			return false
		}
		page, err := c.next(ctx)
		if err != nil {
			c.err = err
			return false
		}
		if len(page) == 0 {
			c.done = true
			return false
		}
		c.page, c.pos = page, 0
	}
}

func (c *PagedCursor) Document() Document {
	return c.cur
}

func (c *PagedCursor) Err() error {
	return c.err
}

func (c *PagedCursor) Close(ctx context.Context) error {
	c.done = true
	c.page = nil
	return nil
}
