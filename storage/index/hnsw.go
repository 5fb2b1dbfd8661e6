package index

import (
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/poiesic/docingest/storage"
)

const (
	MaxLevel       = 16
	M              = 16 // Max connections per layer
	M0             = 32 // Max connections for layer 0
	EfConstruction = 40
	EfSearch       = 50
)

type node struct {
	id        string
	vector    []float32
	level     int
	neighbors [][]string // [level][neighbors]
	deleted   bool
}

// HNSW is an in-memory hierarchical navigable small world graph over
// cosine distance. Deleted nodes stay in the graph for navigation but are
// never returned.
type HNSW struct {
	nodes           map[string]*node
	entryPoint      string
	currentMaxLevel int
	live            int
	mu              sync.RWMutex
}

// Candidate is a search hit with its cosine distance to the query.
type Candidate struct {
	ID       string
	Distance float32
}

func NewHNSW() *HNSW {
	return &HNSW{
		nodes:           make(map[string]*node),
		currentMaxLevel: -1,
	}
}

// Len returns the number of live entries.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.live
}

// Add inserts vector under id. Re-adding a deleted id revives it with the
// new vector and reconnects it to the graph; re-adding a live id is a no-op.
func (h *HNSW) Add(id string, vector []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.nodes[id]; ok {
		if existing.deleted {
			existing.deleted = false
			h.live++
			if !slices.Equal(existing.vector, vector) {
				existing.vector = vector
				h.relink(existing)
			}
		}
		return
	}

	level := randomLevel()
	n := &node{
		id:        id,
		vector:    vector,
		level:     level,
		neighbors: make([][]string, level+1),
	}
	h.nodes[id] = n
	h.live++

	if h.currentMaxLevel == -1 {
		h.entryPoint = id
		h.currentMaxLevel = level
		return
	}

	h.link(n, h.entryPoint, h.currentMaxLevel)

	if level > h.currentMaxLevel {
		h.entryPoint = id
		h.currentMaxLevel = level
	}
}

// link connects an unreachable node n to the graph, starting the descent
// at ep on level top.
func (h *HNSW) link(n *node, ep string, top int) {
	// Descend to the node's top level greedily
	for l := top; l > n.level; l-- {
		ep = h.searchLayer(n.vector, ep, l)
	}

	for l := min(n.level, top); l >= 0; l-- {
		nearest := h.searchLayerK(n.vector, ep, EfConstruction, l)

		m := M
		if l == 0 {
			m = M0
		}
		if len(nearest) > m {
			nearest = nearest[:m]
		}

		// Connect bidirectionally
		n.neighbors[l] = make([]string, 0, len(nearest))
		for _, c := range nearest {
			n.neighbors[l] = append(n.neighbors[l], c.ID)
			neighbor := h.nodes[c.ID]
			neighbor.neighbors[l] = append(neighbor.neighbors[l], n.id)
			if len(neighbor.neighbors[l]) > m {
				h.prune(neighbor, l, m)
			}
		}

		if len(nearest) > 0 {
			ep = nearest[0].ID
		}
	}
}

// relink drops every edge of n, which were chosen for its old vector,
// and links it again. Revivals are rare, so the full scan is acceptable.
func (h *HNSW) relink(n *node) {
	for _, other := range h.nodes {
		if other == n {
			continue
		}
		for l := range other.neighbors {
			other.neighbors[l] = slices.DeleteFunc(other.neighbors[l], func(id string) bool {
				return id == n.id
			})
		}
	}
	for l := range n.neighbors {
		n.neighbors[l] = nil
	}

	ep, top := h.entryPoint, h.currentMaxLevel
	if ep == n.id {
		// n keeps the entry point; descend from the tallest other node instead.
		ep, top = "", -1
		for id, other := range h.nodes {
			if other != n && other.level > top {
				ep, top = id, other.level
			}
		}
		if ep == "" {
			return
		}
	}
	h.link(n, ep, top)
}

// Delete hides id from search results.
func (h *HNSW) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n, ok := h.nodes[id]; ok && !n.deleted {
		n.deleted = true
		h.live--
	}
}

// Search returns up to k live entries nearest to query, closest first.
func (h *HNSW) Search(query []float32, k int) []Candidate {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.currentMaxLevel == -1 || k <= 0 {
		return nil
	}

	ep := h.entryPoint
	for l := h.currentMaxLevel; l > 0; l-- {
		ep = h.searchLayer(query, ep, l)
	}

	// Widen the beam by the number of hidden nodes so deletions don't starve results
	ef := max(EfSearch, k) + (len(h.nodes) - h.live)
	found := h.searchLayerK(query, ep, ef, 0)

	results := make([]Candidate, 0, min(k, len(found)))
	for _, c := range found {
		if h.nodes[c.ID].deleted {
			continue
		}
		results = append(results, c)
		if len(results) == k {
			break
		}
	}
	return results
}

// searchLayer finds the single nearest node at a level (greedy search)
func (h *HNSW) searchLayer(query []float32, entryPoint string, level int) string {
	curr := entryPoint
	currDist := distance(query, h.nodes[curr].vector)

	changed := true
	for changed {
		changed = false
		for _, neighborID := range h.nodes[curr].neighbors[level] {
			d := distance(query, h.nodes[neighborID].vector)
			if d < currDist {
				currDist = d
				curr = neighborID
				changed = true
			}
		}
	}
	return curr
}

// searchLayerK finds the k nearest nodes at a level, closest first.
func (h *HNSW) searchLayerK(query []float32, entryPoint string, k int, level int) []Candidate {
	visited := map[string]bool{entryPoint: true}
	start := Candidate{ID: entryPoint, Distance: distance(query, h.nodes[entryPoint].vector)}
	candidates := []Candidate{start}
	results := []Candidate{start}

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]

		if len(results) >= k && c.Distance > results[len(results)-1].Distance {
			continue
		}

		n := h.nodes[c.ID]
		if level >= len(n.neighbors) {
			continue
		}
		for _, neighborID := range n.neighbors[level] {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true
			d := distance(query, h.nodes[neighborID].vector)

			if len(results) < k || d < results[len(results)-1].Distance {
				res := Candidate{ID: neighborID, Distance: d}
				candidates = append(candidates, res)
				results = append(results, res)

				slices.SortFunc(results, byDistance)
				if len(results) > k {
					results = results[:k]
				}
				slices.SortFunc(candidates, byDistance)
			}
		}
	}

	return results
}

// prune keeps the m closest neighbors of n at level.
func (h *HNSW) prune(n *node, level, m int) {
	kept := make([]Candidate, 0, len(n.neighbors[level]))
	for _, id := range n.neighbors[level] {
		kept = append(kept, Candidate{ID: id, Distance: distance(n.vector, h.nodes[id].vector)})
	}
	slices.SortFunc(kept, byDistance)
	n.neighbors[level] = n.neighbors[level][:0]
	for _, c := range kept[:m] {
		n.neighbors[level] = append(n.neighbors[level], c.ID)
	}
}

func byDistance(a, b Candidate) int {
	if a.Distance < b.Distance {
		return -1
	}
	if a.Distance > b.Distance {
		return 1
	}
	return 0
}

func randomLevel() int {
	lvl := 0
	for rand.Float64() < 0.5 && lvl < MaxLevel {
		lvl++
	}
	return lvl
}

// distance is the cosine distance, 1 - cosine similarity.
func distance(a, b []float32) float32 {
	return 1 - storage.CosineSimilarity(a, b)
}
