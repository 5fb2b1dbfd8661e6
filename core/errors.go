// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import "errors"

// Submission validation errors
var (
	// ErrInvalidSubmission wraps every error produced before a document enters the pipeline.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrBatchTooLarge indicates a batch holds more files than allowed.
	ErrBatchTooLarge = errors.New("too many files in batch")

	// ErrFileTooLarge indicates a file exceeds the per-file size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedKind indicates a MIME type or kind that cannot be ingested.
	ErrUnsupportedKind = errors.New("unsupported document kind")

	// ErrEmptyContent indicates a submission with no bytes.
	ErrEmptyContent = errors.New("content cannot be empty")
)

// Pipeline stage errors
var (
	// ErrNormalization indicates an image could not be normalized.
	// It never fails a document; the raw bytes are used instead.
	ErrNormalization = errors.New("normalization failed")

	// ErrExtraction indicates text could not be extracted.
	ErrExtraction = errors.New("extraction failed")

	// ErrRecognizerFailed indicates the remote text recognition call failed.
	ErrRecognizerFailed = errors.New("text recognizer failed")

	// ErrExtractionTimeout indicates extraction did not finish in time.
	ErrExtractionTimeout = errors.New("extraction timed out")

	// ErrMalformedPDF indicates a PDF whose text layer could not be read.
	ErrMalformedPDF = errors.New("malformed or unsupported pdf")

	// ErrEmbedding indicates the embedding call failed.
	ErrEmbedding = errors.New("embedding failed")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// store's fixed dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrStore indicates the document store rejected or failed a write.
	ErrStore = errors.New("store failed")

	// ErrCancelled indicates the batch was cancelled before the document finished.
	ErrCancelled = errors.New("ingestion cancelled")
)
