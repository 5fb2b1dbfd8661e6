// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.TextRecognizer,
// and ai.AIProvider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	mockProvider := mock.NewMockProvider()
//	vector, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	recognizer := mock.NewMockTextRecognizer()
//	recognizer.Transcript = "INVOICE 42"
//
//	// Check call counts
//	count := recognizer.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: deterministic unit vectors derived from a text hash
//   - MockTextRecognizer: streams Transcript in fixed-size chunks
//   - MockProvider: aggregates both
package mock
