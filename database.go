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

package docingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/ai/openai"
	"github.com/poiesic/docingest/ingestion"
	"github.com/poiesic/docingest/retry"
	"github.com/poiesic/docingest/search"
	"github.com/poiesic/docingest/storage"
	"github.com/poiesic/docingest/storage/badger"
	"github.com/poiesic/docingest/storage/postgres"
)

// ErrStoreRequired is returned by NewDatabaseWithStore when store is nil.
var ErrStoreRequired = errors.New("document store is required")

// Database is the main entry point for docingest.
// It owns a document store and an AI provider and hands out
// ingestion pipelines and searchers bound to both.
type Database struct {
	store    storage.DocumentStore
	provider ai.AIProvider
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig    *ai.Config
	provider    ai.AIProvider
	dimension   int
	retryPolicy *retry.Policy
	logger      *slog.Logger
}

// WithAIConfig sets the configuration used to build the default OpenAI-compatible provider.
func WithAIConfig(config *ai.Config) DatabaseOption {
	return func(opts *databaseOptions) {
		opts.aiConfig = config
	}
}

// WithProvider supplies a ready AI provider. The Database takes ownership
// and closes it on Close.
func WithProvider(provider ai.AIProvider) DatabaseOption {
	return func(opts *databaseOptions) {
		opts.provider = provider
	}
}

// WithDimension locks the store's embedding dimension up front.
// When unset, the AI config's EmbeddingDimensions is used if positive.
func WithDimension(dimension int) DatabaseOption {
	return func(opts *databaseOptions) {
		opts.dimension = dimension
	}
}

// WithRetryPolicy sets the connection retry policy for the postgres backend.
func WithRetryPolicy(policy retry.Policy) DatabaseOption {
	return func(opts *databaseOptions) {
		opts.retryPolicy = &policy
	}
}

// WithLogger sets the logger handed to the store, pipelines and searchers.
// When unset each component uses its own default.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(opts *databaseOptions) {
		opts.logger = logger
	}
}

func buildOptions(opts []DatabaseOption) *databaseOptions {
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.dimension == 0 && options.aiConfig != nil && options.aiConfig.EmbeddingDimensions > 0 {
		options.dimension = options.aiConfig.EmbeddingDimensions
	}
	return options
}

// NewDatabase opens a BadgerDB-backed database at filePath.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options := buildOptions(opts)

	var storeOpts []badger.StoreOption
	if options.logger != nil {
		storeOpts = append(storeOpts, badger.WithLogger(options.logger))
	}
	if options.dimension > 0 {
		storeOpts = append(storeOpts, badger.WithDimension(options.dimension))
	}
	store, err := badger.Open(filePath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	return newDatabase(store, options)
}

// NewPostgresDatabase connects to the PostgreSQL database at dsn,
// creating the schema if needed.
func NewPostgresDatabase(ctx context.Context, dsn string, opts ...DatabaseOption) (*Database, error) {
	options := buildOptions(opts)

	var storeOpts []postgres.Option
	if options.logger != nil {
		storeOpts = append(storeOpts, postgres.WithLogger(options.logger))
	}
	if options.dimension > 0 {
		storeOpts = append(storeOpts, postgres.WithDimension(options.dimension))
	}
	if options.retryPolicy != nil {
		storeOpts = append(storeOpts, postgres.WithRetryPolicy(*options.retryPolicy))
	}
	store, err := postgres.Open(ctx, dsn, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	return newDatabase(store, options)
}

// NewDatabaseWithStore wraps an already opened store. The Database takes
// ownership of the store and closes it on Close.
func NewDatabaseWithStore(store storage.DocumentStore, opts ...DatabaseOption) (*Database, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	return newDatabase(store, buildOptions(opts))
}

func newDatabase(store storage.DocumentStore, options *databaseOptions) (*Database, error) {
	provider := options.provider
	if provider == nil {
		var err error
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create AI provider: %w", err)
		}
	}

	return &Database{
		store:    store,
		provider: provider,
		logger:   options.logger,
	}, nil
}

// Store returns the underlying document store.
func (db *Database) Store() storage.DocumentStore {
	return db.store
}

// Provider returns the AI provider.
func (db *Database) Provider() ai.AIProvider {
	return db.provider
}

// Close releases the AI provider and the store.
func (db *Database) Close() error {
	var errs []error
	if db.provider != nil {
		if err := db.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close AI provider: %w", err))
		}
	}
	if db.store != nil {
		if err := db.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close document store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewIngestionPipeline creates an ingestion pipeline bound to this database.
// Callers must call Release on the pipeline when done.
func (db *Database) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	if db.logger != nil {
		opts = append([]ingestion.Option{ingestion.WithLogger(db.logger)}, opts...)
	}
	return ingestion.NewPipeline(db.store, db.provider, opts...)
}

// NewSearcher creates a searcher bound to this database.
func (db *Database) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	if db.logger != nil {
		opts = append([]search.Option{search.WithLogger(db.logger)}, opts...)
	}
	return search.NewSearcher(db.store, db.provider, opts...)
}
