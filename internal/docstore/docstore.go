// Package docstore provides the document-store abstraction rows, posting
// lists and catalog records are persisted in. Backends live in subpackages
// and register themselves by name.
package docstore

import (
	"context"
	"errors"
	"sort"
)

// Common errors for document operations.
var (
	ErrNotFound    = errors.New("document not found")
	ErrDuplicateID = errors.New("duplicate document id")
	ErrClosed      = errors.New("store closed")
)

// Document is a single stored entry. Rows carry an encoded Value; posting
// entries carry a sorted Members list and no Value.
type Document struct {
	ID      string
	Value   []byte
	Members []string
}

// Store abstracts a document database holding named collections grouped by
// database.
type Store interface {
	// Collection returns a handle to the named collection of a database.
	// Collections come into existence on first write.
	Collection(database, name string) Collection

	// DropDatabase removes every collection of the database.
	DropDatabase(ctx context.Context, database string) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Collection is a set of documents addressed by exact id.
type Collection interface {
	// Insert stores a new document. Returns ErrDuplicateID if the id exists.
	Insert(ctx context.Context, doc Document) error

	// Replace stores the document, overwriting any existing one.
	Replace(ctx context.Context, doc Document) error

	// FindOne returns the document with the given id or ErrNotFound.
	FindOne(ctx context.Context, id string) (Document, error)

	// Find returns a cursor over the documents matching filter, in id order.
	Find(ctx context.Context, filter Filter, opts FindOptions) (Cursor, error)

	// DeleteOne removes the document with the given id or returns ErrNotFound.
	DeleteOne(ctx context.Context, id string) error

	// DeleteMany removes the listed ids and reports how many existed.
	DeleteMany(ctx context.Context, ids []string) (int64, error)

	// AddMember adds member to the entry's member set, creating the entry
	// when absent. Adding an existing member is a no-op.
	AddMember(ctx context.Context, id, member string) error

	// RemoveMember removes member from the entry and returns the number of
	// members left. The entry is deleted when none remain. A missing entry
	// reports zero remaining.
	RemoveMember(ctx context.Context, id, member string) (int, error)

	// Drop removes the collection and all of its documents.
	Drop(ctx context.Context) error
}

// Filter selects documents for Find. A nil IDs slice matches every document.
type Filter struct {
	IDs []string
	all bool
}

// MatchAll returns a filter matching every document.
func MatchAll() Filter {
	return Filter{all: true}
}

// MatchIDs returns a filter matching the listed ids, like Mongo's $in.
func MatchIDs(ids ...string) Filter {
	if ids == nil {
		ids = []string{}
	}
	return Filter{IDs: ids}
}

// All reports whether the filter matches every document.
func (f Filter) All() bool {
	return f.all || f.IDs == nil
}

// SortedIDs returns the filter's ids deduplicated in ascending order.
func (f Filter) SortedIDs() []string {
	seen := make(map[string]struct{}, len(f.IDs))
	out := make([]string, 0, len(f.IDs))
	for _, id := range f.IDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FindOptions tunes a Find call.
type FindOptions struct {
	// IDsOnly skips loading values and members.
	IDsOnly bool
	// BatchSize is a hint for how many documents a backend fetches per round trip.
	BatchSize int
}

// AddSortedMember inserts member into a sorted slice, returning the new slice
// and whether it was added.
func AddSortedMember(members []string, member string) ([]string, bool) {
	i := sort.SearchStrings(members, member)
	if i < len(members) && members[i] == member {
		return members, false
	}
	members = append(members, "")
	copy(members[i+1:], members[i:])
	members[i] = member
	return members, true
}

// RemoveSortedMember removes member from a sorted slice.
func RemoveSortedMember(members []string, member string) []string {
	i := sort.SearchStrings(members, member)
	if i < len(members) && members[i] == member {
		return append(members[:i], members[i+1:]...)
	}
	return members
}
