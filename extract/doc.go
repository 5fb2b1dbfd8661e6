// Package extract turns ingested documents into plain text.
//
// Dispatch is by document kind. Images are transcribed by an
// ai.TextRecognizer; the streamed transcript is accumulated privately and
// only returned once the stream completes. PDFs are read through their
// embedded text layer and never reach the recognizer.
package extract
