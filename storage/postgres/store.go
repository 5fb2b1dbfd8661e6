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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/retry"
	"github.com/poiesic/docingest/storage"
)

// SQLSTATE unique_violation
const uniqueViolation = "23505"

// Store implements storage.DocumentStore on PostgreSQL with pgvector.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// dimension caches docstore_meta.dimension once it is locked.
	dimension atomic.Int64
	closed    atomic.Bool

	configuredDimension int
	retryPolicy         retry.Policy
	maxOpenConns        int
}

var _ storage.DocumentStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithDimension locks the embedding length before any record is written.
func WithDimension(dimension int) Option {
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
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithRetryPolicy controls how connection bring-up is retried.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(s *Store) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		s.retryPolicy = policy
		return nil
	}
}

// WithMaxOpenConns limits the connection pool size.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) error {
		if n <= 0 {
			return fmt.Errorf("max open connections must be positive, got %d", n)
		}
		s.maxOpenConns = n
		return nil
	}
}

// Open connects to the database at dsn, creates the schema if needed and
// restores the dimension lock.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database url is empty")
	}

	s := &Store{
		logger:       slog.Default(),
		retryPolicy:  retry.DefaultPolicy(),
		maxOpenConns: 20,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "postgres_store")
	if s.retryPolicy.Logger == nil {
		s.retryPolicy.Logger = s.logger
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(max(1, s.maxOpenConns/2))
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)
	s.db = db

	err = retry.Do(ctx, s.retryPolicy, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	if err := s.applyConfiguredDimension(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) applyConfiguredDimension(ctx context.Context) error {
	stored, err := s.Dimension(ctx)
	if err != nil {
		return err
	}
	if s.configuredDimension == 0 {
		return nil
	}
	if stored > 0 {
		return storage.CheckDimension(stored, s.configuredDimension)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	stored, err = lockedDimension(ctx, tx, true)
	if err != nil {
		return err
	}
	if stored > 0 {
		if err := storage.CheckDimension(stored, s.configuredDimension); err != nil {
			return err
		}
	} else if err := lockDimension(ctx, tx, s.configuredDimension); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	s.dimension.Store(int64(s.configuredDimension))
	return nil
}

// lockedDimension reads the dimension row under a row lock. forUpdate is
// needed when the caller may set the dimension.
func lockedDimension(ctx context.Context, tx *sql.Tx, forUpdate bool) (int, error) {
	q := `SELECT dimension FROM docstore_meta WHERE id = 1 FOR SHARE`
	if forUpdate {
		q = `SELECT dimension FROM docstore_meta WHERE id = 1 FOR UPDATE`
	}
	var dimension int
	if err := tx.QueryRowContext(ctx, q).Scan(&dimension); err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	return dimension, nil
}

// lockDimension records dimension and builds the ANN index for it.
func lockDimension(ctx context.Context, tx *sql.Tx, dimension int) error {
	if _, err := tx.ExecContext(ctx, `UPDATE docstore_meta SET dimension = $1 WHERE id = 1`, dimension); err != nil {
		return fmt.Errorf("lock dimension: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createIndexSQL(dimension)); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	return nil
}

func createIndexSQL(dimension int) string {
	return fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS documents_embedding_hnsw ON documents USING hnsw ((%s) vector_cosine_ops)`,
		vectorCast("embedding", dimension))
}

// vectorCast casts expr to a fixed length vector so the expression index
// can serve queries.
func vectorCast(expr string, dimension int) string {
	return fmt.Sprintf("(%s)::vector(%d)", expr, dimension)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Put writes a new record.
func (s *Store) Put(ctx context.Context, record *core.StoredRecord) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if err := storage.ValidateRecord(record); err != nil {
		return err
	}
	record = storage.StoreCopy(record)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	// A locked dimension never changes, so a shared lock is enough
	// once the cache is warm.
	dimension, err := lockedDimension(ctx, tx, s.dimension.Load() == 0)
	if err != nil {
		return err
	}
	if err := storage.CheckDimension(dimension, len(record.Embedding)); err != nil {
		return err
	}
	if dimension == 0 {
		if err := lockDimension(ctx, tx, len(record.Embedding)); err != nil {
			return err
		}
	}

	const q = `
		INSERT INTO documents (id, filename, kind, text, embedding, content_hash, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.ExecContext(ctx, q,
		string(record.ID), record.Filename, record.Kind.String(), record.Text,
		pgvector.NewVector(record.Embedding), record.ContentHash, record.UploadedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateID, record.ID)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}

	if dimension == 0 {
		s.dimension.Store(int64(len(record.Embedding)))
		s.logger.Info("locked embedding dimension", "dimension", len(record.Embedding))
	}
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id core.ID) (*core.StoredRecord, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}

	const q = `
		SELECT id, filename, kind, text, embedding, content_hash, uploaded_at
		FROM documents WHERE id = $1
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, q, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
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

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
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

	dimension, err := s.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dimension == 0 {
		return nil, nil
	}
	if err := storage.CheckDimension(dimension, len(query)); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT id, filename, kind, text, embedding, content_hash, uploaded_at
		FROM documents
		ORDER BY %s <=> %s
		LIMIT $2
	`, vectorCast("embedding", dimension), vectorCast("$1", dimension))

	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.SearchResult
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, &core.SearchResult{
			Record: record,
			Score:  storage.CosineSimilarity(query, record.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
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
	if d := s.dimension.Load(); d > 0 {
		return int(d), nil
	}

	var dimension int
	if err := s.db.QueryRowContext(ctx, `SELECT dimension FROM docstore_meta WHERE id = 1`).Scan(&dimension); err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	if dimension > 0 {
		s.dimension.Store(int64(dimension))
	}
	return dimension, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*core.StoredRecord, error) {
	var (
		id, kind  string
		embedding pgvector.Vector
		record    core.StoredRecord
	)
	if err := row.Scan(&id, &record.Filename, &kind, &record.Text, &embedding, &record.ContentHash, &record.UploadedAt); err != nil {
		return nil, err
	}
	k, err := core.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	record.ID = core.ID(id)
	record.Kind = k
	record.Embedding = embedding.Slice()
	return &record, nil
}
