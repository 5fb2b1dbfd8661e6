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

import "fmt"

// Default submission limits.
const (
	DefaultMaxBatchSize = 10
	DefaultMaxFileSize  = 10 << 20 // 10 MiB
)

// ValidateBatch checks the number of files in a batch against max.
// A non-positive max disables the check.
func ValidateBatch(count, max int) error {
	if max > 0 && count > max {
		return fmt.Errorf("%w: %w: %d files, limit is %d", ErrInvalidSubmission, ErrBatchTooLarge, count, max)
	}
	return nil
}

// ValidateSubmission checks a single submission and returns its Kind.
//
// Validation rules:
//   - Data must not be empty
//   - Data must not exceed maxSize bytes (a non-positive maxSize disables the check)
//   - MIMEType must be one of application/pdf, image/png, image/jpeg
//
// Filename is not validated; it is informational only.
func ValidateSubmission(sub *Submission, maxSize int64) (Kind, error) {
	if sub == nil {
		return 0, fmt.Errorf("%w: submission is nil", ErrInvalidSubmission)
	}

	if len(sub.Data) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrInvalidSubmission, ErrEmptyContent)
	}

	if maxSize > 0 && int64(len(sub.Data)) > maxSize {
		return 0, fmt.Errorf("%w: %w: %d bytes, limit is %d", ErrInvalidSubmission, ErrFileTooLarge, len(sub.Data), maxSize)
	}

	kind, err := KindFromMIME(sub.MIMEType)
	if err != nil {
		return 0, fmt.Errorf("%w: %w: %q", ErrInvalidSubmission, err, sub.MIMEType)
	}
	return kind, nil
}
