package extract

import "errors"

var (
	// ErrRecognizerRequired is returned when a text recognizer is not provided.
	ErrRecognizerRequired = errors.New("text recognizer required")

	// ErrPDFReaderRequired is returned when a nil PDF reader is configured.
	ErrPDFReaderRequired = errors.New("pdf reader required")
)
