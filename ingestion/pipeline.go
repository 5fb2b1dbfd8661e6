package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/extract"
	"github.com/poiesic/docingest/preprocess"
	"github.com/poiesic/docingest/storage"
)

// Pipeline orchestrates the ingestion of document batches.
// It bounds the number of documents in flight with a shared worker pool.
type Pipeline struct {
	store          storage.DocumentStore
	embedder       ai.Embedder
	recognizer     ai.TextRecognizer
	normalizer     preprocess.Normalizer
	extractor      Extractor
	extractOptions []extract.Option
	pool           *ants.Pool
	observer       observers
	maxBatchSize   int
	maxFileSize    int64
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the maximum number of documents processed at once.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithMaxBatchSize sets the largest accepted batch.
// Default is core.DefaultMaxBatchSize.
func WithMaxBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("max batch size must be positive, got %d", n)
		}
		p.maxBatchSize = n
		return nil
	}
}

// WithMaxFileSize sets the largest accepted file in bytes, inclusive.
// Default is core.DefaultMaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("max file size must be positive, got %d", n)
		}
		p.maxFileSize = n
		return nil
	}
}

// WithObserver adds an observer that sees every state transition.
func WithObserver(observer Observer) Option {
	return func(p *Pipeline) error {
		if observer != nil {
			p.observer = append(p.observer, observer)
		}
		return nil
	}
}

// WithNormalizer replaces the default image normalizer.
func WithNormalizer(normalizer preprocess.Normalizer) Option {
	return func(p *Pipeline) error {
		if normalizer == nil {
			return errors.New("normalizer cannot be nil")
		}
		p.normalizer = normalizer
		return nil
	}
}

// WithExtractor replaces the default extractor built on the provider's
// text recognizer.
func WithExtractor(extractor Extractor) Option {
	return func(p *Pipeline) error {
		if extractor == nil {
			return errors.New("extractor cannot be nil")
		}
		p.extractor = extractor
		return nil
	}
}

// WithExtractOptions configures the default extractor. Ignored when
// WithExtractor is used.
func WithExtractOptions(opts ...extract.Option) Option {
	return func(p *Pipeline) error {
		p.extractOptions = append(p.extractOptions, opts...)
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(store storage.DocumentStore, provider ai.AIProvider, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}
	if provider.Embedder() == nil {
		return nil, ErrEmbedderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:        store,
		embedder:     provider.Embedder(),
		recognizer:   provider.TextRecognizer(),
		pool:         pool,
		maxBatchSize: core.DefaultMaxBatchSize,
		maxFileSize:  core.DefaultMaxFileSize,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	// Build stages after options are applied so they get the final logger
	if p.normalizer == nil {
		p.normalizer = preprocess.NewImageNormalizer(preprocess.WithLogger(p.logger))
	}
	if p.extractor == nil {
		extractOpts := append([]extract.Option{extract.WithLogger(p.logger)}, p.extractOptions...)
		extractor, err := extract.NewExtractor(p.recognizer, extractOpts...)
		if err != nil {
			p.Release()
			return nil, err
		}
		p.extractor = extractor
	}

	return p, nil
}

type indexedOutcome struct {
	index   int
	outcome *core.Outcome
}

// Ingest runs every submission through the pipeline and returns one
// outcome per submission, aligned with the input order.
//
// The only error Ingest returns is a batch-level validation error, in
// which case no document is processed. Per-document failures are reported
// in the outcomes. Cancelling ctx fails every document that has not
// reached Done; stored documents are kept.
func (p *Pipeline) Ingest(ctx context.Context, submissions []core.Submission) ([]*core.Outcome, error) {
	if err := core.ValidateBatch(len(submissions), p.maxBatchSize); err != nil {
		return nil, err
	}

	start := time.Now()
	outcomes := make([]*core.Outcome, len(submissions))
	results := make(chan indexedOutcome, len(submissions))

	for i := range submissions {
		doc := newTracker(i, &submissions[i], p.observer)

		err := p.pool.Submit(func() {
			results <- indexedOutcome{index: i, outcome: p.safeProcess(ctx, doc)}
		})
		if err != nil {
			results <- indexedOutcome{index: i, outcome: doc.fail(fmt.Errorf("scheduling document: %w", err))}
		}
	}

	failed := 0
	for range submissions {
		r := <-results
		outcomes[r.index] = r.outcome
		if !r.outcome.OK() {
			failed++
		}
	}

	p.logger.Info("batch ingested",
		"documents", len(submissions), "failed", failed, "elapsed", time.Since(start))
	return outcomes, nil
}

// safeProcess runs process and converts a panic into a Failed outcome.
// The batch collects exactly one result per document, so a task must
// always deliver one.
func (p *Pipeline) safeProcess(ctx context.Context, t *tracker) (outcome *core.Outcome) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		p.logger.Error("document processing panicked",
			"document", t.id, "filename", t.submission.Filename, "state", t.state, "panic", r)
		err := fmt.Errorf("%w: %w: %v", stageError(t.state), ErrPanicked, r)
		if t.state.Terminal() {
			outcome = &core.Outcome{
				DocumentID: t.id,
				Filename:   t.submission.Filename,
				State:      t.state,
				Stage:      t.state,
			}
			if t.state == core.StateFailed {
				outcome.Err = err
			}
			return
		}
		outcome = t.fail(err)
	}()
	return p.process(ctx, t)
}

// stageError returns the sentinel for failures that originate in state.
func stageError(state core.State) error {
	switch state {
	case core.StatePreprocessing:
		return core.ErrNormalization
	case core.StateExtracting:
		return core.ErrExtraction
	case core.StateEmbedding:
		return core.ErrEmbedding
	case core.StateStoring, core.StateDone:
		return core.ErrStore
	default:
		return core.ErrInvalidSubmission
	}
}

// process runs one document's chain. It never returns nil.
func (p *Pipeline) process(ctx context.Context, t *tracker) *core.Outcome {
	sub := t.submission
	kind, err := core.ValidateSubmission(sub, p.maxFileSize)
	if err != nil {
		p.logger.Warn("rejected submission", "filename", sub.Filename, "err", err)
		return t.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return t.fail(cancelled(err))
	}

	doc := &core.Document{
		ID:       t.id,
		Filename: sub.Filename,
		Kind:     kind,
		MIMEType: sub.MIMEType,
		Raw:      sub.Data,
	}
	logger := p.logger.With("document", doc.ID, "filename", doc.Filename)

	if kind == core.KindImage {
		t.advance(core.StatePreprocessing)
		normalized, err := p.normalizer.Normalize(ctx, doc.Raw)
		if err != nil {
			logger.Warn("normalization unavailable, using original image", "err", err)
		} else {
			doc.Preprocessed = normalized
		}
	}

	if err := ctx.Err(); err != nil {
		return t.fail(cancelled(err))
	}
	t.advance(core.StateExtracting)
	result, err := p.extractor.Extract(ctx, doc)
	if err != nil {
		return t.fail(p.reason(ctx, err))
	}

	if err := ctx.Err(); err != nil {
		return t.fail(cancelled(err))
	}
	t.advance(core.StateEmbedding)
	vector, err := p.embedder.EmbedText(ctx, result.Text)
	if err != nil {
		return t.fail(p.reason(ctx, fmt.Errorf("%w: %w", core.ErrEmbedding, err)))
	}
	dimension, err := p.store.Dimension(ctx)
	if err != nil {
		return t.fail(p.reason(ctx, fmt.Errorf("%w: %w", core.ErrStore, err)))
	}
	if err := storage.CheckDimension(dimension, len(vector)); err != nil {
		return t.fail(fmt.Errorf("%w: %w", core.ErrEmbedding, err))
	}

	if err := ctx.Err(); err != nil {
		return t.fail(cancelled(err))
	}
	t.advance(core.StateStoring)
	record := &core.StoredRecord{
		ID:          doc.ID,
		Filename:    doc.Filename,
		Text:        result.Text,
		Embedding:   vector,
		Kind:        doc.Kind,
		UploadedAt:  time.Now().UTC(),
		ContentHash: core.HashContent(doc.Raw),
	}
	if err := p.store.Put(ctx, record); err != nil {
		return t.fail(p.reason(ctx, fmt.Errorf("%w: %w", core.ErrStore, err)))
	}

	logger.Debug("document stored", "kind", doc.Kind, "text_length", len(result.Text))
	return t.done(result.Text)
}

// reason marks err as a cancellation when the batch context has ended.
func (p *Pipeline) reason(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, core.ErrCancelled) {
		return fmt.Errorf("%w: %w", core.ErrCancelled, err)
	}
	return err
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", core.ErrCancelled, cause)
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
