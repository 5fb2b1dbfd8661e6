package extract

import (
	"bytes"
	"context"
	"strings"

	"code.sajari.com/docconv"
	"github.com/poiesic/docingest/core"
)

// DocconvReader extracts the PDF text layer with docconv.
// Text is returned as plain concatenated lines; layout beyond line breaks is not preserved.
type DocconvReader struct{}

var _ PDFReader = (*DocconvReader)(nil)

// NewDocconvReader creates a docconv backed PDF reader.
func NewDocconvReader() *DocconvReader {
	return &DocconvReader{}
}

// ReadText converts data and returns its body text with surrounding whitespace trimmed.
func (r *DocconvReader) ReadText(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", core.ErrMalformedPDF
	}

	resp, err := docconv.Convert(bytes.NewReader(data), core.MIMETypePDF, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Body), nil
}
