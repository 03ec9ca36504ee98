package retrieval

import (
	"context"
	"math"
	"testing"

	"github.com/kraklabs/tonebase-ask/internal/model"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestHNSWSearcher_SearchReturnsCosineSimilarity(t *testing.T) {
	h := NewHNSWSearcher()
	h.Add([]model.Chunk{
		{ID: "same", SourcePath: "a.md", Text: "identical direction", Embedding: []float32{1, 0}},
		{ID: "orthogonal", SourcePath: "b.md", Text: "perpendicular direction", Embedding: []float32{0, 1}},
		{ID: "opposite", SourcePath: "c.md", Text: "opposite direction", Embedding: []float32{-1, 0}},
	})

	results, err := h.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}

	want := map[string]float64{"same": 1.0, "orthogonal": 0.0, "opposite": -1.0}
	for _, r := range results {
		exp, ok := want[r.Chunk.ID]
		if !ok {
			t.Fatalf("unexpected chunk id %q in results", r.Chunk.ID)
		}
		if !approxEqual(r.DenseScore, exp, 1e-6) {
			t.Fatalf("chunk %q DenseScore = %v, want %v (cosine similarity, not the pgvector.go-mismatched (1+cos)/2 value)", r.Chunk.ID, r.DenseScore, exp)
		}
	}

	if results[0].Chunk.ID != "same" {
		t.Fatalf("top result = %s, want same (highest cosine similarity)", results[0].Chunk.ID)
	}
}

func TestHNSWSearcher_AddAndCount(t *testing.T) {
	h := NewHNSWSearcher()
	if got := h.Count(); got != 0 {
		t.Fatalf("Count on empty searcher = %d, want 0", got)
	}

	h.Add([]model.Chunk{
		{ID: "c1", Embedding: []float32{1, 0}},
		{ID: "c2", Embedding: []float32{0, 1}},
	})
	if got := h.Count(); got != 2 {
		t.Fatalf("Count after Add = %d, want 2", got)
	}

	// Re-adding an existing ID replaces rather than duplicates.
	h.Add([]model.Chunk{{ID: "c1", Embedding: []float32{1, 1}}})
	if got := h.Count(); got != 2 {
		t.Fatalf("Count after re-Add = %d, want 2", got)
	}
}

func TestHNSWSearcher_SearchOnEmptyIndexReturnsNil(t *testing.T) {
	h := NewHNSWSearcher()
	results, err := h.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Fatalf("results = %v, want nil", results)
	}
}

func TestHNSWSearcher_Chunks(t *testing.T) {
	h := NewHNSWSearcher()
	h.Add([]model.Chunk{
		{ID: "c1", Embedding: []float32{1, 0}},
		{ID: "c2", Embedding: []float32{0, 1}},
	})

	chunks := h.Chunks()
	if len(chunks) != 2 {
		t.Fatalf("len(Chunks()) = %d, want 2", len(chunks))
	}
}
