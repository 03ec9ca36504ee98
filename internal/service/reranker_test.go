package service

import (
	"testing"

	"github.com/kraklabs/tonebase-ask/internal/model"
)

func testRerankerConfig() RerankerConfig {
	return RerankerConfig{
		MaxPerDocument: 1,
		CourseBoost:    1.25,
		FilenameBoost:  1.20,
		MMRLambda:      0,
		AuthoritySubstr: []string{"/courses/"},
		FilenameKeywords: map[string][]string{
			"mastering": {"mastering", "masterclass"},
		},
	}
}

func TestReranker_AuthorityBoostFavorsCoursePaths(t *testing.T) {
	r := NewReranker(testRerankerConfig())
	candidates := []model.RetrievedChunk{
		{Chunk: model.Chunk{ID: "a", SourcePath: "/youtube/video1.mp4", SourceName: "video1"}, Score: 0.6},
		{Chunk: model.Chunk{ID: "b", SourcePath: "/courses/eq101.pdf", SourceName: "eq101"}, Score: 0.5},
	}

	out := r.Rerank(candidates, "general", 2)
	if out[0].Chunk.ID != "b" {
		t.Fatalf("expected course-path chunk to rank first after authority boost, got %q", out[0].Chunk.ID)
	}
}

func TestReranker_FilenameBoostAppliesForMatchingIntent(t *testing.T) {
	r := NewReranker(testRerankerConfig())
	candidates := []model.RetrievedChunk{
		{Chunk: model.Chunk{ID: "a", SourcePath: "/x/unrelated.pdf", SourceName: "unrelated.pdf"}, Score: 0.6},
		{Chunk: model.Chunk{ID: "b", SourcePath: "/x/mastering-guide.pdf", SourceName: "mastering-guide.pdf"}, Score: 0.55},
	}

	out := r.Rerank(candidates, "mastering", 2)
	if out[0].Chunk.ID != "b" {
		t.Fatalf("expected filename-matching chunk to rank first for mastering intent, got %q", out[0].Chunk.ID)
	}
}

func TestReranker_DiversityCapsPerDocument(t *testing.T) {
	r := NewReranker(testRerankerConfig())
	candidates := []model.RetrievedChunk{
		{Chunk: model.Chunk{ID: "a1", SourcePath: "/doc-a.pdf", SourceName: "doc-a", ChunkIndex: 0}, Score: 0.9},
		{Chunk: model.Chunk{ID: "a2", SourcePath: "/doc-a.pdf", SourceName: "doc-a", ChunkIndex: 1}, Score: 0.85},
		{Chunk: model.Chunk{ID: "b1", SourcePath: "/doc-b.pdf", SourceName: "doc-b", ChunkIndex: 0}, Score: 0.7},
	}

	out := r.Rerank(candidates, "general", 3)

	seen := make(map[string]int)
	for _, c := range out {
		seen[c.Chunk.SourcePath]++
	}
	for path, count := range seen {
		if count > 1 {
			t.Fatalf("source_path %q appears %d times, want at most 1 (max_per_document=1)", path, count)
		}
	}
}

func TestReranker_OutputRanksAreOneBasedAndGapFree(t *testing.T) {
	r := NewReranker(testRerankerConfig())
	candidates := []model.RetrievedChunk{
		{Chunk: model.Chunk{ID: "a", SourcePath: "/a.pdf"}, Score: 0.9},
		{Chunk: model.Chunk{ID: "b", SourcePath: "/b.pdf"}, Score: 0.8},
		{Chunk: model.Chunk{ID: "c", SourcePath: "/c.pdf"}, Score: 0.7},
	}

	out := r.Rerank(candidates, "general", 3)
	for i, c := range out {
		if c.Rank != i+1 {
			t.Fatalf("result %d has rank %d, want %d", i, c.Rank, i+1)
		}
	}
}

func TestReranker_ScoresClippedToUnitRange(t *testing.T) {
	r := NewReranker(testRerankerConfig())
	candidates := []model.RetrievedChunk{
		{Chunk: model.Chunk{ID: "a", SourcePath: "/courses/x.pdf"}, Score: 0.95},
	}

	out := r.Rerank(candidates, "general", 1)
	if out[0].Score > 1 || out[0].Score < 0 {
		t.Fatalf("score = %v, want within [0,1]", out[0].Score)
	}
}

func TestReranker_RespectsTopK(t *testing.T) {
	r := NewReranker(testRerankerConfig())
	candidates := []model.RetrievedChunk{
		{Chunk: model.Chunk{ID: "a", SourcePath: "/a.pdf"}, Score: 0.9},
		{Chunk: model.Chunk{ID: "b", SourcePath: "/b.pdf"}, Score: 0.8},
		{Chunk: model.Chunk{ID: "c", SourcePath: "/c.pdf"}, Score: 0.7},
	}

	out := r.Rerank(candidates, "general", 2)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}
