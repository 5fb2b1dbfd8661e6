package search

import (
	"github.com/poiesic/docingest/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string)
	AfterEmbedding(dimensions int)
	AfterNearestNeighbors(results []*core.SearchResult)
	VerbatimHit(record *core.StoredRecord)
	Finish(results []*core.SearchResult)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                               {}
func (n *noopMonitor) AfterEmbedding(_ int)                         {}
func (n *noopMonitor) AfterNearestNeighbors(_ []*core.SearchResult) {}
func (n *noopMonitor) VerbatimHit(_ *core.StoredRecord)             {}
func (n *noopMonitor) Finish(_ []*core.SearchResult)                {}
