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

package storage

import (
	"fmt"
	"slices"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/poiesic/docingest/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// recordVersion is bumped whenever recordEnvelope changes shape.
const recordVersion = 1

type recordEnvelope struct {
	Version     int       `json:"v"`
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"embedding"`
	Kind        string    `json:"kind"`
	UploadedAt  time.Time `json:"uploaded_at"`
	ContentHash string    `json:"content_hash,omitempty"`
}

// MarshalRecord serializes a StoredRecord to bytes.
func MarshalRecord(record *core.StoredRecord) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: record is nil", ErrSerializationFailed)
	}
	data, err := json.Marshal(recordEnvelope{
		Version:     recordVersion,
		ID:          string(record.ID),
		Filename:    record.Filename,
		Text:        record.Text,
		Embedding:   record.Embedding,
		Kind:        record.Kind.String(),
		UploadedAt:  record.UploadedAt,
		ContentHash: record.ContentHash,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalRecord deserializes a StoredRecord from bytes.
func UnmarshalRecord(data []byte) (*core.StoredRecord, error) {
	var env recordEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if env.Version != recordVersion {
		return nil, fmt.Errorf("%w: unknown record version %d", ErrSerializationFailed, env.Version)
	}
	kind, err := core.ParseKind(env.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &core.StoredRecord{
		ID:          core.ID(env.ID),
		Filename:    env.Filename,
		Text:        env.Text,
		Embedding:   env.Embedding,
		Kind:        kind,
		UploadedAt:  env.UploadedAt,
		ContentHash: env.ContentHash,
	}, nil
}

// ValidateRecord checks the fields every backend requires before a write.
func ValidateRecord(record *core.StoredRecord) error {
	switch {
	case record == nil:
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	case record.ID == "":
		return fmt.Errorf("%w: id is empty", ErrInvalidRecord)
	case len(record.Embedding) == 0:
		return fmt.Errorf("%w: embedding is empty", ErrInvalidRecord)
	}
	return nil
}

// StoreCopy returns the copy of record a backend persists. The caller's
// record and embedding slice are never modified or retained. A zero
// UploadedAt is stamped with the current UTC time.
func StoreCopy(record *core.StoredRecord) *core.StoredRecord {
	cp := *record
	cp.Embedding = slices.Clone(record.Embedding)
	if cp.UploadedAt.IsZero() {
		cp.UploadedAt = time.Now().UTC()
	}
	return &cp
}

// CheckDimension returns core.ErrDimensionMismatch when a locked dimension
// and a vector length disagree. A zero dimension is not locked.
func CheckDimension(dimension, length int) error {
	if dimension > 0 && dimension != length {
		return fmt.Errorf("%w: store holds %d dimensions, got %d", core.ErrDimensionMismatch, dimension, length)
	}
	return nil
}
