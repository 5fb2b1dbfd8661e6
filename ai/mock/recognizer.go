package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MockTextRecognizer is a test double for ai.TextRecognizer.
// By default it streams Transcript in small chunks, or a description of the
// image size when Transcript is empty.
type MockTextRecognizer struct {
	// StreamTextFunc is called by StreamText if set.
	StreamTextFunc func(ctx context.Context, image []byte, mimeType, instruction string, fn func(chunk string) error) error

	// Transcript is streamed back when StreamTextFunc is nil.
	Transcript string

	// ChunkSize controls how Transcript is split. Default is 8 bytes.
	ChunkSize int

	callCount atomic.Int64

	mu           sync.Mutex
	lastMIMEType string
	lastImage    []byte
}

// NewMockTextRecognizer creates a mock recognizer with default behavior.
func NewMockTextRecognizer() *MockTextRecognizer {
	return &MockTextRecognizer{}
}

// StreamText records the call and streams the configured transcript.
func (m *MockTextRecognizer) StreamText(ctx context.Context, image []byte, mimeType, instruction string, fn func(chunk string) error) error {
	m.callCount.Add(1)
	m.mu.Lock()
	m.lastMIMEType = mimeType
	m.lastImage = image
	m.mu.Unlock()

	if m.StreamTextFunc != nil {
		return m.StreamTextFunc(ctx, image, mimeType, instruction, fn)
	}

	text := m.Transcript
	if text == "" {
		text = fmt.Sprintf("transcript of %d bytes", len(image))
	}
	size := m.ChunkSize
	if size <= 0 {
		size = 8
	}
	for len(text) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(size, len(text))
		if err := fn(text[:n]); err != nil {
			return err
		}
		text = text[n:]
	}
	return nil
}

// CallCount returns the number of StreamText calls.
func (m *MockTextRecognizer) CallCount() int {
	return int(m.callCount.Load())
}

// LastMIMEType returns the MIME type passed to the most recent call.
func (m *MockTextRecognizer) LastMIMEType() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMIMEType
}

// LastImage returns the image passed to the most recent call.
func (m *MockTextRecognizer) LastImage() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastImage
}

// Reset clears the call count and injected behavior.
func (m *MockTextRecognizer) Reset() {
	m.callCount.Store(0)
	m.StreamTextFunc = nil
	m.Transcript = ""
}
