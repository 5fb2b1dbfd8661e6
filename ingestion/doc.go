// Package ingestion provides pipeline orchestration for ingesting documents.
//
// The Pipeline type runs a batch of submissions through the ingestion
// workflow, one chain per document:
//
//	Queued -> Preprocessing (images only) -> Extracting -> Embedding -> Storing -> Done
//
// Any stage may end the chain in Failed. Documents are processed
// concurrently on a bounded worker pool and fail independently; Ingest
// returns exactly one outcome per submission, in submission order.
//
// Image normalization failures are soft: the raw bytes are sent to the
// text recognizer instead. Extraction, embedding and store failures are
// hard and end the document's chain. Nothing is retried.
package ingestion
