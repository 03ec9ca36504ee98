package retrieval

import (
	"context"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kraklabs/tonebase-ask/internal/model"
)

// HNSWSearcher is a standalone, non-Postgres DenseSearcher for local
// development and single-node deployments: an in-process cosine HNSW
// graph with chunk metadata kept alongside in a plain map.
type HNSWSearcher struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
	chunk map[string]model.Chunk
}

// NewHNSWSearcher creates an empty HNSWSearcher.
func NewHNSWSearcher() *HNSWSearcher {
	graph := hnsw.NewGraph[string]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	return &HNSWSearcher{graph: graph, chunk: make(map[string]model.Chunk)}
}

var _ DenseSearcher = (*HNSWSearcher)(nil)

// Add inserts or replaces chunks by ID. Embeddings are expected
// pre-normalized per the chunk data model invariant.
func (h *HNSWSearcher) Add(chunks []model.Chunk) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range chunks {
		h.graph.Add(hnsw.MakeNode(c.ID, c.Embedding))
		h.chunk[c.ID] = c
	}
}

// Search returns up to k chunks ordered by cosine similarity to
// queryVector descending.
func (h *HNSWSearcher) Search(ctx context.Context, queryVector []float32, k int) ([]model.RetrievedChunk, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph.Len() == 0 {
		return nil, nil
	}

	nodes := h.graph.Search(queryVector, k)
	out := make([]model.RetrievedChunk, 0, len(nodes))
	for i, node := range nodes {
		c, ok := h.chunk[node.Key]
		if !ok {
			continue
		}
		distance := h.graph.Distance(queryVector, node.Value)
		similarity := 1 - float64(distance)
		out = append(out, model.RetrievedChunk{Chunk: c, DenseScore: similarity, Rank: i + 1})
	}
	return out, nil
}

// Count returns the number of indexed chunks, used by health checks to
// confirm the in-process index loaded.
func (h *HNSWSearcher) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chunk)
}

// Chunks returns a snapshot of every indexed chunk, used by
// MemoryLexicalSearcher to recall candidates without its own Postgres
// table in standalone mode.
func (h *HNSWSearcher) Chunks() []model.Chunk {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.Chunk, 0, len(h.chunk))
	for _, c := range h.chunk {
		out = append(out, c)
	}
	return out
}
