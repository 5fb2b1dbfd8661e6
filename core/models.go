package core

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ID is an opaque document identifier. IDs are assigned when ingestion
// starts and are never reused.
type ID string

// NewID returns a fresh random document ID.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}

// HashContent returns the hex encoded BLAKE2b-256 digest of data.
// Identical bytes always produce the same digest.
func HashContent(data []byte) string {
	h, _ := blake2b.New(32, nil)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Kind identifies how a document's text is obtained.
type Kind int

const (
	// KindImage is a raster image that is normalized and transcribed by a vision model.
	KindImage Kind = iota + 1
	// KindPDF is a PDF whose embedded text layer is read directly.
	KindPDF
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "image":
		return KindImage, nil
	case "pdf":
		return KindPDF, nil
	default:
		return 0, ErrUnsupportedKind
	}
}

// Accepted MIME types.
const (
	MIMETypePDF  = "application/pdf"
	MIMETypePNG  = "image/png"
	MIMETypeJPEG = "image/jpeg"
	mimeTypeJPG  = "image/jpg" // non-standard, sent by some browsers
)

// KindFromMIME maps a declared MIME type to a document Kind.
// Parameters such as "; charset=binary" are ignored.
func KindFromMIME(mimeType string) (Kind, error) {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.ToLower(strings.TrimSpace(base)) {
	case MIMETypePDF:
		return KindPDF, nil
	case MIMETypePNG, MIMETypeJPEG, mimeTypeJPG:
		return KindImage, nil
	default:
		return 0, ErrUnsupportedKind
	}
}

// Submission is a single file handed to the pipeline by a caller.
type Submission struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Document is a submission that has entered the pipeline.
type Document struct {
	ID       ID
	Filename string // display and audit only
	Kind     Kind
	MIMEType string
	Raw      []byte // never modified after submission
	// Preprocessed holds the normalized PNG for images. Nil when the
	// document is a PDF or normalization failed.
	Preprocessed []byte
}

// ExtractionResult is the text recovered from one document.
// Empty Text is a valid result.
type ExtractionResult struct {
	Text       string
	SourceKind Kind
}

// StoredRecord is the unit persisted by a document store.
// Records are immutable once written.
type StoredRecord struct {
	ID          ID
	Filename    string
	Text        string
	Embedding   []float32
	Kind        Kind
	UploadedAt  time.Time
	ContentHash string // HashContent of the raw bytes
}

// SearchResult pairs a stored record with its similarity to a query.
type SearchResult struct {
	Record *StoredRecord
	Score  float32
}
