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

// Package storage provides the storage abstraction layer for docingest.
//
// DocumentStore decouples the ingestion pipeline and search from the
// backend that holds records. Two backends are provided:
//
//   - storage/badger: embedded BadgerDB with an in-memory HNSW graph
//   - storage/postgres: PostgreSQL with the pgvector extension
//
// # Dimension Lock
//
// Every store holds embeddings of a single length. The length is either
// configured up front or taken from the first successful Put, and never
// changes afterwards. Writes with a different length fail with
// core.ErrDimensionMismatch; vectors are never truncated or padded.
//
// # Usage
//
//	store, err := badger.NewStore("/path/to/db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore()
//
// # Thread Safety
//
// All store implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All store methods accept context.Context for cancellation
// and timeout support.
package storage
