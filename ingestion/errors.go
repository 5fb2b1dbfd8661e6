package ingestion

import "errors"

var (
	// ErrStoreRequired is returned when a document store is not provided.
	ErrStoreRequired = errors.New("document store required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrEmbedderRequired is returned when the AI provider has no embedder.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrPanicked marks a document whose processing panicked.
	ErrPanicked = errors.New("document processing panicked")
)
