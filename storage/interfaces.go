package storage

import (
	"context"

	"github.com/poiesic/docingest/core"
)

// DocumentStore persists ingested documents and answers similarity queries.
// Implementations must be thread-safe and support concurrent access.
type DocumentStore interface {
	// Put writes a new record. Text, embedding and metadata commit together
	// or not at all.
	// Returns ErrDuplicateID if a record with the same ID exists; the
	// existing record is left untouched.
	// Returns core.ErrDimensionMismatch if the embedding length differs from
	// the store's dimension. The first successful Put locks the dimension
	// when none was configured.
	Put(ctx context.Context, record *core.StoredRecord) error

	// Get retrieves a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	Get(ctx context.Context, id core.ID) (*core.StoredRecord, error)

	// Delete removes a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	Delete(ctx context.Context, id core.ID) error

	// NearestNeighbors returns up to k records closest to query.
	// Results are scored by cosine similarity and ordered highest first.
	// The candidate set may be approximate.
	NearestNeighbors(ctx context.Context, query []float32, k int) ([]*core.SearchResult, error)

	// Dimension returns the locked embedding length, or 0 if no record has
	// been written and none was configured.
	Dimension(ctx context.Context) (int, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close closes the store and releases resources.
	Close() error
}
