package extract

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/ai/mock"
	"github.com/poiesic/docingest/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPDFReader implements PDFReader for testing
type testPDFReader struct {
	text  string
	err   error
	calls atomic.Int32
}

func (r *testPDFReader) ReadText(ctx context.Context, data []byte) (string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return "", r.err
	}
	return r.text, nil
}

func newTestExtractor(t *testing.T, recognizer ai.TextRecognizer, pdf PDFReader, opts ...Option) *Extractor {
	t.Helper()
	opts = append([]Option{WithPDFReader(pdf)}, opts...)
	e, err := NewExtractor(recognizer, opts...)
	require.NoError(t, err)
	return e
}

func imageDoc(preprocessed []byte) *core.Document {
	return &core.Document{
		ID:           core.NewID(),
		Filename:     "scan.jpg",
		Kind:         core.KindImage,
		MIMEType:     core.MIMETypeJPEG,
		Raw:          []byte("raw-jpeg"),
		Preprocessed: preprocessed,
	}
}

func TestNewExtractor_RequiresRecognizer(t *testing.T) {
	_, err := NewExtractor(nil)
	assert.ErrorIs(t, err, ErrRecognizerRequired)

	_, err = NewExtractor(mock.NewMockTextRecognizer(), WithPDFReader(nil))
	assert.ErrorIs(t, err, ErrPDFReaderRequired)

	_, err = NewExtractor(mock.NewMockTextRecognizer(), WithTimeout(-time.Second))
	assert.Error(t, err)
}

func TestExtract_ImageUsesPreprocessedBytes(t *testing.T) {
	recognizer := mock.NewMockTextRecognizer()
	recognizer.Transcript = "Line one\nLine two"
	pdf := &testPDFReader{}
	e := newTestExtractor(t, recognizer, pdf)

	res, err := e.Extract(context.Background(), imageDoc([]byte("normalized-png")))
	require.NoError(t, err)

	assert.Equal(t, "Line one\nLine two", res.Text)
	assert.Equal(t, core.KindImage, res.SourceKind)
	assert.Equal(t, core.MIMETypePNG, recognizer.LastMIMEType())
	assert.Equal(t, []byte("normalized-png"), recognizer.LastImage())
	assert.Equal(t, int32(0), pdf.calls.Load())
}

func TestExtract_ImageFallsBackToRaw(t *testing.T) {
	recognizer := mock.NewMockTextRecognizer()
	e := newTestExtractor(t, recognizer, &testPDFReader{})

	_, err := e.Extract(context.Background(), imageDoc(nil))
	require.NoError(t, err)

	assert.Equal(t, core.MIMETypeJPEG, recognizer.LastMIMEType())
	assert.Equal(t, []byte("raw-jpeg"), recognizer.LastImage())
}

func TestExtract_InstructionIsSent(t *testing.T) {
	var got string
	recognizer := mock.NewMockTextRecognizer()
	recognizer.StreamTextFunc = func(ctx context.Context, image []byte, mimeType, instruction string, fn func(string) error) error {
		got = instruction
		return nil
	}

	e := newTestExtractor(t, recognizer, &testPDFReader{})
	_, err := e.Extract(context.Background(), imageDoc(nil))
	require.NoError(t, err)
	assert.Equal(t, ai.DefaultInstruction, got)

	e = newTestExtractor(t, recognizer, &testPDFReader{}, WithInstruction("Read it."))
	_, err = e.Extract(context.Background(), imageDoc(nil))
	require.NoError(t, err)
	assert.Equal(t, "Read it.", got)
}

func TestExtract_EmptyTranscriptIsValid(t *testing.T) {
	recognizer := mock.NewMockTextRecognizer()
	recognizer.StreamTextFunc = func(context.Context, []byte, string, string, func(string) error) error {
		return nil
	}
	e := newTestExtractor(t, recognizer, &testPDFReader{})

	res, err := e.Extract(context.Background(), imageDoc(nil))
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
}

func TestExtract_MidStreamFailureDiscardsPartialText(t *testing.T) {
	recognizer := mock.NewMockTextRecognizer()
	recognizer.StreamTextFunc = func(ctx context.Context, image []byte, mimeType, instruction string, fn func(string) error) error {
		if err := fn("partial "); err != nil {
			return err
		}
		return errors.New("connection reset")
	}
	e := newTestExtractor(t, recognizer, &testPDFReader{})

	res, err := e.Extract(context.Background(), imageDoc(nil))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, core.ErrExtraction)
	assert.ErrorIs(t, err, core.ErrRecognizerFailed)
	assert.NotErrorIs(t, err, core.ErrExtractionTimeout)
}

func TestExtract_Timeout(t *testing.T) {
	recognizer := mock.NewMockTextRecognizer()
	recognizer.StreamTextFunc = func(ctx context.Context, image []byte, mimeType, instruction string, fn func(string) error) error {
		<-ctx.Done()
		return ctx.Err()
	}
	e := newTestExtractor(t, recognizer, &testPDFReader{}, WithTimeout(20*time.Millisecond))

	_, err := e.Extract(context.Background(), imageDoc(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExtraction)
	assert.ErrorIs(t, err, core.ErrExtractionTimeout)
}

func TestExtract_PDFUsesTextLayerOnly(t *testing.T) {
	recognizer := mock.NewMockTextRecognizer()
	pdf := &testPDFReader{text: "Quarterly report"}
	e := newTestExtractor(t, recognizer, pdf)

	doc := &core.Document{ID: core.NewID(), Kind: core.KindPDF, MIMEType: core.MIMETypePDF, Raw: []byte("%PDF-1.7")}
	res, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, "Quarterly report", res.Text)
	assert.Equal(t, core.KindPDF, res.SourceKind)
	assert.Equal(t, int32(1), pdf.calls.Load())
	assert.Equal(t, 0, recognizer.CallCount())
}

func TestExtract_MalformedPDF(t *testing.T) {
	pdf := &testPDFReader{err: errors.New("no xref table")}
	e := newTestExtractor(t, mock.NewMockTextRecognizer(), pdf)

	doc := &core.Document{ID: core.NewID(), Kind: core.KindPDF, Raw: []byte("%PDF-broken")}
	_, err := e.Extract(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExtraction)
	assert.ErrorIs(t, err, core.ErrMalformedPDF)
}

func TestExtract_UnsupportedKind(t *testing.T) {
	e := newTestExtractor(t, mock.NewMockTextRecognizer(), &testPDFReader{})

	_, err := e.Extract(context.Background(), &core.Document{ID: core.NewID(), Raw: []byte("x")})
	assert.ErrorIs(t, err, core.ErrUnsupportedKind)

	_, err = e.Extract(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrExtraction)
}

func TestDocconvReader_RejectsNonPDF(t *testing.T) {
	_, err := NewDocconvReader().ReadText(context.Background(), []byte("PK\x03\x04 zip file"))
	assert.ErrorIs(t, err, core.ErrMalformedPDF)
}
