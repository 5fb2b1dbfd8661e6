// Package index implements an approximate nearest neighbor graph used by
// embedded document stores. Callers re-score candidates exactly; the graph
// only narrows the set.
package index
