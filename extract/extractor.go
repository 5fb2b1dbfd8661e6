package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/core"
)

// PDFReader reads the embedded text layer of a PDF.
// Implementations must be thread-safe for concurrent use.
type PDFReader interface {
	ReadText(ctx context.Context, data []byte) (string, error)
}

// Extractor turns documents into plain text. Images go to a TextRecognizer,
// PDFs go to a PDFReader; a document never uses both paths.
type Extractor struct {
	recognizer  ai.TextRecognizer
	pdfReader   PDFReader
	instruction string
	timeout     time.Duration
	logger      *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor) error

// WithPDFReader replaces the default docconv based reader.
func WithPDFReader(reader PDFReader) Option {
	return func(e *Extractor) error {
		if reader == nil {
			return ErrPDFReaderRequired
		}
		e.pdfReader = reader
		return nil
	}
}

// WithInstruction sets the prompt sent along with every image.
func WithInstruction(instruction string) Option {
	return func(e *Extractor) error {
		if strings.TrimSpace(instruction) == "" {
			instruction = ai.DefaultInstruction
		}
		e.instruction = instruction
		return nil
	}
}

// WithTimeout bounds a single extraction. Zero means no limit beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) error {
		if d < 0 {
			return fmt.Errorf("timeout cannot be negative: %s", d)
		}
		e.timeout = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewExtractor creates an extractor backed by recognizer for images.
func NewExtractor(recognizer ai.TextRecognizer, opts ...Option) (*Extractor, error) {
	if recognizer == nil {
		return nil, ErrRecognizerRequired
	}

	e := &Extractor{
		recognizer:  recognizer,
		pdfReader:   NewDocconvReader(),
		instruction: ai.DefaultInstruction,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "extractor")

	return e, nil
}

// Extract returns the text of doc. The result only becomes visible once
// extraction completed; partial transcripts are never returned.
// Errors wrap core.ErrExtraction and one of core.ErrRecognizerFailed,
// core.ErrExtractionTimeout, core.ErrMalformedPDF or core.ErrUnsupportedKind.
func (e *Extractor) Extract(ctx context.Context, doc *core.Document) (*core.ExtractionResult, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: document is nil", core.ErrExtraction)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var (
		text string
		err  error
	)
	switch doc.Kind {
	case core.KindImage:
		text, err = e.transcribe(ctx, doc)
	case core.KindPDF:
		text, err = e.readPDF(ctx, doc)
	default:
		return nil, fmt.Errorf("%w: %w: %s", core.ErrExtraction, core.ErrUnsupportedKind, doc.Kind)
	}
	if err != nil {
		e.logger.Warn("extraction failed", "document", doc.ID, "kind", doc.Kind, "err", err)
		return nil, err
	}

	e.logger.Debug("extracted text", "document", doc.ID, "kind", doc.Kind, "length", len(text))
	return &core.ExtractionResult{Text: text, SourceKind: doc.Kind}, nil
}

func (e *Extractor) transcribe(ctx context.Context, doc *core.Document) (string, error) {
	image, mimeType := doc.Preprocessed, core.MIMETypePNG
	if len(image) == 0 {
		image, mimeType = doc.Raw, doc.MIMEType
	}

	var transcript strings.Builder
	err := e.recognizer.StreamText(ctx, image, mimeType, e.instruction, func(chunk string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		transcript.WriteString(chunk)
		return nil
	})
	if err != nil {
		return "", classify(ctx, core.ErrRecognizerFailed, err)
	}
	// A stream can end without error after the deadline fired.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", classify(ctx, core.ErrRecognizerFailed, ctxErr)
	}
	return transcript.String(), nil
}

func (e *Extractor) readPDF(ctx context.Context, doc *core.Document) (string, error) {
	text, err := e.pdfReader.ReadText(ctx, doc.Raw)
	if err != nil {
		return "", classify(ctx, core.ErrMalformedPDF, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", classify(ctx, core.ErrMalformedPDF, ctxErr)
	}
	return text, nil
}

// classify wraps err with core.ErrExtraction and the most specific reason.
// Timeouts win over the path specific reason.
func classify(ctx context.Context, reason, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", core.ErrExtraction, core.ErrExtractionTimeout, err)
	}
	return fmt.Errorf("%w: %w: %w", core.ErrExtraction, reason, err)
}
