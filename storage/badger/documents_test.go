package badger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	store, err := NewMemoryStore(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newRecord(text string, embedding ...float32) *core.StoredRecord {
	return &core.StoredRecord{
		ID:          core.NewID(),
		Filename:    text + ".png",
		Text:        text,
		Embedding:   embedding,
		Kind:        core.KindImage,
		UploadedAt:  time.Now().UTC().Truncate(time.Millisecond),
		ContentHash: core.HashContent([]byte(text)),
	}
}

func TestStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := newRecord("invoice", 0.1, 0.2, 0.3)
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, record.Filename, got.Filename)
	assert.Equal(t, record.Text, got.Text)
	assert.Equal(t, record.Embedding, got.Embedding)
	assert.Equal(t, record.Kind, got.Kind)
	assert.Equal(t, record.ContentHash, got.ContentHash)
	assert.True(t, record.UploadedAt.Equal(got.UploadedAt))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_PutSetsUploadedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := newRecord("x", 1, 0)
	record.UploadedAt = time.Time{}

	require.NoError(t, store.Put(ctx, record))
	assert.True(t, record.UploadedAt.IsZero(), "caller's record must not be modified")

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, got.UploadedAt.IsZero())
}

func TestStore_PutDoesNotRetainCallerSlices(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := newRecord("x", 1, 0)

	require.NoError(t, store.Put(ctx, record))
	record.Embedding[0], record.Embedding[1] = 0, 1

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, got.Embedding)

	results, err := store.NearestNeighbors(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestStore_EmptyTextIsStored(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := newRecord("", 1, 0)
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Text)
}

func TestStore_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	original := newRecord("original", 1, 0)
	require.NoError(t, store.Put(ctx, original))

	duplicate := newRecord("imposter", 0, 1)
	duplicate.ID = original.ID
	err := store.Put(ctx, duplicate)
	assert.ErrorIs(t, err, storage.ErrDuplicateID)

	got, err := store.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Text)
	assert.Equal(t, []float32{1, 0}, got.Embedding)

	count, _ := store.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestStore_DimensionLockedByFirstWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dim, err := store.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, dim)

	require.NoError(t, store.Put(ctx, newRecord("first", 1, 2, 3)))

	dim, err = store.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	err = store.Put(ctx, newRecord("short", 1, 2))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	err = store.Put(ctx, newRecord("long", 1, 2, 3, 4))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	count, _ := store.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestStore_WithDimension(t *testing.T) {
	store := newTestStore(t, WithDimension(4))
	ctx := context.Background()

	dim, err := store.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, dim)

	assert.ErrorIs(t, store.Put(ctx, newRecord("three", 1, 2, 3)), core.ErrDimensionMismatch)
	assert.NoError(t, store.Put(ctx, newRecord("four", 1, 2, 3, 4)))

	_, err = NewMemoryStore(WithDimension(0))
	assert.Error(t, err)
}

func TestStore_InvalidRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Put(ctx, nil), storage.ErrInvalidRecord)
	assert.ErrorIs(t, store.Put(ctx, newRecord("no vector")), storage.ErrInvalidRecord)

	dim, _ := store.Dimension(ctx)
	assert.Equal(t, 0, dim)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	keep := newRecord("keep", 1, 0)
	drop := newRecord("drop", 0.9, 0.1)
	require.NoError(t, store.Put(ctx, keep))
	require.NoError(t, store.Put(ctx, drop))

	require.NoError(t, store.Delete(ctx, drop.ID))

	_, err := store.Get(ctx, drop.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, drop.ID), storage.ErrNotFound)

	results, err := store.NearestNeighbors(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, keep.ID, results[0].Record.ID)

	// Update is delete plus reinsert under the same ID
	drop.Text = "reinserted"
	require.NoError(t, store.Put(ctx, drop))
	got, err := store.Get(ctx, drop.ID)
	require.NoError(t, err)
	assert.Equal(t, "reinserted", got.Text)
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), core.NewID())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_NearestNeighbors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []*core.StoredRecord{
		newRecord("east", 1, 0, 0),
		newRecord("north", 0, 1, 0),
		newRecord("up", 0, 0, 1),
		newRecord("northeast", 1, 1, 0),
		newRecord("west", -1, 0, 0),
	}
	for _, r := range records {
		require.NoError(t, store.Put(ctx, r))
	}

	results, err := store.NearestNeighbors(ctx, []float32{1, 0.2, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "east", results[0].Record.Text)
	assert.Equal(t, "northeast", results[1].Record.Text)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.InDelta(t, storage.CosineSimilarity([]float32{1, 0.2, 0}, []float32{1, 0, 0}), results[0].Score, 1e-6)

	all, err := store.NearestNeighbors(ctx, []float32{1, 0, 0}, 100)
	require.NoError(t, err)
	assert.Len(t, all, len(records))
	assert.Equal(t, "west", all[len(all)-1].Record.Text)
}

func TestStore_NearestNeighborsInvalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	results, err := store.NearestNeighbors(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = store.NearestNeighbors(ctx, []float32{1, 0}, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	_, err = store.NearestNeighbors(ctx, nil, 3)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	require.NoError(t, store.Put(ctx, newRecord("a", 1, 0)))
	_, err = store.NearestNeighbors(ctx, []float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestStore_ReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir)
	require.NoError(t, err)
	first := newRecord("first", 1, 0)
	second := newRecord("second", 0, 1)
	require.NoError(t, store.Put(ctx, first))
	require.NoError(t, store.Put(ctx, second))
	require.NoError(t, store.Close())

	store, err = Open(dir)
	require.NoError(t, err)
	defer store.Close()

	dim, err := store.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dim)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := store.NearestNeighbors(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, second.ID, results[0].Record.ID)
}

func TestStore_ReopenWithConflictingDimension(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), newRecord("a", 1, 0, 0)))
	require.NoError(t, store.Close())

	_, err = Open(dir, WithDimension(8))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	store, err = Open(dir, WithDimension(3))
	require.NoError(t, err)
	store.Close()
}

func TestStore_Closed(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Put(ctx, newRecord("a", 1)), storage.ErrStorageClosed)
	_, err = store.Get(ctx, core.NewID())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = store.NearestNeighbors(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = store.Count(ctx)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestStore_ConcurrentPuts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(ctx, newRecord(fmt.Sprintf("doc-%d", i), float32(i+1), 1)))
		}()
	}
	wg.Wait()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func TestStore_ConcurrentDuplicatePuts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := core.NewID()

	var wg sync.WaitGroup
	var succeeded, duplicates atomic.Int32
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := newRecord(fmt.Sprintf("racer-%d", i), 1, 0)
			r.ID = id
			err := store.Put(ctx, r)
			switch {
			case err == nil:
				succeeded.Add(1)
			case assert.ErrorIs(t, err, storage.ErrDuplicateID):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(9), duplicates.Load())
}
