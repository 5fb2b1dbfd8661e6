// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/storage"
	"github.com/poiesic/docingest/storage/index"
)

// Store implements storage.DocumentStore for BadgerDB.
// Records live on disk; an HNSW graph over their embeddings is kept in
// memory and rebuilt when the store is opened.
type Store struct {
	backend     *Backend
	ownsBackend bool
	index       *index.HNSW
	logger      *slog.Logger

	// mu serializes writes so the duplicate check, the dimension lock and
	// the index update happen as one step.
	mu        sync.Mutex
	dimension atomic.Int64
	closed    atomic.Bool

	configuredDimension int
}

var _ storage.DocumentStore = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store) error

// WithDimension locks the embedding length before any record is written.
// Opening an existing store with a different dimension fails.
func WithDimension(dimension int) StoreOption {
	return func(s *Store) error {
		if dimension <= 0 {
			return fmt.Errorf("dimension must be positive, got %d", dimension)
		}
		s.configuredDimension = dimension
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// Open opens or creates a store at path. The store owns the database and
// closes it on Close.
func Open(path string, opts ...StoreOption) (*Store, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(backend, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	s.ownsBackend = true
	return s, nil
}

// NewStore creates a Store on an open backend. Closing the store leaves
// the backend open.
func NewStore(backend *Backend, opts ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}

	s := &Store{
		backend: backend,
		index:   index.NewHNSW(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "badger_store")

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load restores the dimension lock and rebuilds the in-memory index.
func (s *Store) load() error {
	stored, err := s.readDimension()
	if err != nil {
		return err
	}

	if s.configuredDimension > 0 {
		if stored > 0 && stored != s.configuredDimension {
			return fmt.Errorf("%w: store holds %d dimensions, configured %d",
				core.ErrDimensionMismatch, stored, s.configuredDimension)
		}
		if stored == 0 {
			if err := s.writeDimension(s.configuredDimension); err != nil {
				return err
			}
			stored = s.configuredDimension
		}
	}
	s.dimension.Store(int64(stored))

	start := time.Now()
	count := 0
	err = s.backend.Scan(recordScanPrefix(), func(key, value []byte) error {
		record, err := storage.UnmarshalRecord(value)
		if err != nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}
		s.index.Add(string(record.ID), record.Embedding)
		count++
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("loaded document index", "records", count, "dimension", stored, "elapsed", time.Since(start))
	return nil
}

func (s *Store) readDimension() (int, error) {
	var dimension int
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeDimensionKey())
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 4 {
				return fmt.Errorf("%w: dimension value has %d bytes", storage.ErrSerializationFailed, len(val))
			}
			dimension = int(binary.BigEndian.Uint32(val))
			return nil
		})
	}, false)
	return dimension, err
}

func (s *Store) writeDimension(dimension int) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeDimensionKey(), encodeDimension(dimension)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

func encodeDimension(dimension int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(dimension))
	return buf
}

// Put writes a new record.
func (s *Store) Put(ctx context.Context, record *core.StoredRecord) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if err := storage.ValidateRecord(record); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	record = storage.StoreCopy(record)

	s.mu.Lock()
	defer s.mu.Unlock()

	dimension := int(s.dimension.Load())
	if err := storage.CheckDimension(dimension, len(record.Embedding)); err != nil {
		return err
	}

	value, err := storage.MarshalRecord(record)
	if err != nil {
		return err
	}

	key := makeRecordKey(record.ID)
	err = s.backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		if err == nil {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateID, record.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := tx.Set(key, value); err != nil {
			return err
		}
		// The first record locks the dimension in the same transaction
		if dimension == 0 {
			if err := tx.Set(makeDimensionKey(), encodeDimension(len(record.Embedding))); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}

	if dimension == 0 {
		s.dimension.Store(int64(len(record.Embedding)))
		s.logger.Info("locked embedding dimension", "dimension", len(record.Embedding))
	}
	s.index.Add(string(record.ID), record.Embedding)
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id core.ID) (*core.StoredRecord, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}

	var record *core.StoredRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		record, err = readRecord(tx, id)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes a record by ID.
func (s *Store) Delete(ctx context.Context, id core.ID) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := makeRecordKey(id)
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		if _, err := tx.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
			}
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}

	s.index.Delete(string(id))
	return nil
}

// NearestNeighbors returns up to k records closest to query.
func (s *Store) NearestNeighbors(ctx context.Context, query []float32, k int) ([]*core.SearchResult, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", storage.ErrInvalidQuery, k)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", storage.ErrInvalidQuery)
	}
	if err := storage.CheckDimension(int(s.dimension.Load()), len(query)); err != nil {
		return nil, err
	}

	candidates := s.index.Search(query, k)
	results := make([]*core.SearchResult, 0, len(candidates))

	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			record, err := readRecord(tx, core.ID(c.ID))
			if errors.Is(err, storage.ErrNotFound) {
				// Deleted between index search and read
				continue
			}
			if err != nil {
				return err
			}
			results = append(results, &core.SearchResult{
				Record: record,
				Score:  storage.CosineSimilarity(query, record.Embedding),
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	storage.SortResults(results)
	return results, nil
}

// Dimension returns the locked embedding length, or 0 if unlocked.
func (s *Store) Dimension(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	return int(s.dimension.Load()), nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	return s.index.Len(), nil
}

// Close marks the store closed and closes the database if the store owns it.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownsBackend {
		return s.backend.Close()
	}
	return nil
}

func readRecord(tx *badger.Txn, id core.ID) (*core.StoredRecord, error) {
	item, err := tx.Get(makeRecordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var record *core.StoredRecord
	err = item.Value(func(val []byte) error {
		record, err = storage.UnmarshalRecord(val)
		return err
	})
	return record, err
}
