// Package retry runs fallible operations with exponential backoff.
package retry
