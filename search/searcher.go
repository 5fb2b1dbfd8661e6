package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/storage"
)

// Searcher finds stored documents whose text is semantically close to a query.
type Searcher struct {
	store         storage.DocumentStore
	embedder      ai.Embedder
	minScore      float32
	verbatimBoost float32
	logger        *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMinScore drops results whose cosine similarity is below score.
// Default is -1, which keeps everything.
func WithMinScore(score float32) Option {
	return func(s *Searcher) error {
		if score < -1 || score > 1 {
			return fmt.Errorf("min score must be within [-1, 1], got %f", score)
		}
		s.minScore = score
		return nil
	}
}

// WithVerbatimBoost adds boost to the score of documents that contain
// every non stop word of the query. Default is 0.
func WithVerbatimBoost(boost float32) Option {
	return func(s *Searcher) error {
		if boost < 0 {
			return fmt.Errorf("verbatim boost cannot be negative, got %f", boost)
		}
		s.verbatimBoost = boost
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(store storage.DocumentStore, provider ai.AIProvider, opts ...Option) (*Searcher, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Searcher{
		store:    store,
		embedder: provider.Embedder(),
		minScore: -1,
		logger:   slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "searcher")

	return s, nil
}

// FindSimilar searches for documents similar to the query.
// Returns up to maxHits results, highest score first.
func (s *Searcher) FindSimilar(ctx context.Context, query string, maxHits int) ([]*core.SearchResult, error) {
	return s.FindSimilarWithMonitor(ctx, query, maxHits, nil)
}

// FindSimilarWithMonitor searches for documents similar to the query with monitoring.
// The monitor receives callbacks at each stage of the search process.
func (s *Searcher) FindSimilarWithMonitor(ctx context.Context, query string, maxHits int, monitor SearchMonitor) ([]*core.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if maxHits <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, maxHits)
	}
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	monitor.Start(query)

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrEmbedding, err)
	}
	monitor.AfterEmbedding(len(embedding))

	results, err := s.findByVector(ctx, embedding, maxHits)
	if err != nil {
		return nil, err
	}
	monitor.AfterNearestNeighbors(results)

	if s.verbatimBoost > 0 {
		boosted := false
		for _, r := range results {
			if containsAllQueryWords(r.Record.Text, query) {
				r.Score += s.verbatimBoost
				boosted = true
				monitor.VerbatimHit(r.Record)
			}
		}
		if boosted {
			storage.SortResults(results)
		}
	}
	monitor.Finish(results)

	return results, nil
}

// FindByVector returns up to maxHits documents nearest to vector.
func (s *Searcher) FindByVector(ctx context.Context, vector []float32, maxHits int) ([]*core.SearchResult, error) {
	if maxHits <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, maxHits)
	}
	return s.findByVector(ctx, vector, maxHits)
}

func (s *Searcher) findByVector(ctx context.Context, vector []float32, maxHits int) ([]*core.SearchResult, error) {
	matches, err := s.store.NearestNeighbors(ctx, vector, maxHits)
	if err != nil {
		s.logger.Error("error querying for similar records", "err", err)
		return nil, err
	}

	results := make([]*core.SearchResult, 0, len(matches))
	for _, m := range matches {
		if m.Score >= s.minScore {
			results = append(results, m)
		}
	}
	return results, nil
}
