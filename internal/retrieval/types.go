// Package retrieval provides the dense and lexical search backends that
// HybridSearch fuses: a pgvector-backed ANN index, a standalone in-process
// HNSW index, and a Postgres tsvector-backed lexical match-recall step
// feeding the hand-rolled BM25 scorer in internal/service.
package retrieval

import (
	"context"

	"github.com/kraklabs/tonebase-ask/internal/model"
)

// DenseSearcher performs approximate nearest-neighbor search over chunk
// embeddings using cosine similarity, returning up to k chunks ordered by
// similarity descending.
type DenseSearcher interface {
	Search(ctx context.Context, queryVector []float32, k int) ([]model.RetrievedChunk, error)
}

// LexicalSearcher performs BM25 search over chunk text, returning up to k
// chunks ordered by score descending.
type LexicalSearcher interface {
	Search(ctx context.Context, queryText string, k int) ([]model.RetrievedChunk, error)
}
