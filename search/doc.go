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

// Package search provides semantic search over ingested documents.
//
// The Searcher embeds a query with the same model used during ingestion
// and asks the document store for its nearest neighbors. Results are
// scored by cosine similarity, optionally filtered by a minimum score and
// boosted when the document contains every query word (stop words
// excluded).
package search
