package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Empty text is valid input and yields the model's embedding of "".
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// TextRecognizer transcribes the text visible in an image using an
// image-understanding model.
// Implementations must be thread-safe for concurrent use.
type TextRecognizer interface {
	// StreamText sends image and instruction to the model and calls fn with
	// each chunk of the transcript as it arrives. Chunks are delivered in
	// order. If fn returns an error the stream is aborted and that error is
	// returned. A nil return means the transcript is complete.
	StreamText(ctx context.Context, image []byte, mimeType, instruction string, fn func(chunk string) error) error
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// TextRecognizer returns the image transcription service.
	// The returned TextRecognizer is safe for concurrent use.
	TextRecognizer() TextRecognizer

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
