// Package postgres implements storage.DocumentStore on PostgreSQL with the
// pgvector extension.
//
// The schema is created on first connect from an embedded script. Embeddings
// are stored in an unsized vector column; the first write (or WithDimension)
// locks the length in docstore_meta and builds an HNSW cosine index on the
// column cast to that length.
package postgres
