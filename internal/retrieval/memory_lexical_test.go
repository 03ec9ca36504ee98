package retrieval

import (
	"context"
	"testing"

	"github.com/kraklabs/tonebase-ask/internal/model"
	"github.com/kraklabs/tonebase-ask/internal/service"
)

type fixedChunkSource struct {
	chunks []model.Chunk
}

func (f fixedChunkSource) Chunks() []model.Chunk { return f.chunks }

func lexicalFixtureCorpus() []model.Chunk {
	return []model.Chunk{
		{ID: "c1", SourcePath: "a.md", Text: "sidechain compression ducks the bass under the kick drum"},
		{ID: "c2", SourcePath: "b.md", Text: "EQ a vocal by rolling off low end below 100hz"},
		{ID: "c3", SourcePath: "c.md", Text: "kick drum tuning and sidechain sidechain sidechain ducking tricks"},
		{ID: "c4", SourcePath: "d.md", Text: "reverb and delay send levels for a mix bus"},
	}
}

func TestMemoryLexicalSearcher_RanksMatchingChunksAboveUnrelated(t *testing.T) {
	scorer := service.NewBM25Scorer(service.DefaultBM25Params)
	searcher := NewMemoryLexicalSearcher(fixedChunkSource{chunks: lexicalFixtureCorpus()}, scorer)

	results, err := searcher.Search(context.Background(), "sidechain kick drum", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one match")
	}

	for _, r := range results {
		if r.Chunk.ID == "c4" {
			t.Fatal("expected unrelated reverb/delay chunk to score 0 and be excluded")
		}
	}
	if results[0].Chunk.ID != "c3" {
		t.Fatalf("top result = %s, want c3 (repeats 'sidechain' and contains 'kick drum')", results[0].Chunk.ID)
	}
}

func TestMemoryLexicalSearcher_RespectsK(t *testing.T) {
	scorer := service.NewBM25Scorer(service.DefaultBM25Params)
	searcher := NewMemoryLexicalSearcher(fixedChunkSource{chunks: lexicalFixtureCorpus()}, scorer)

	results, err := searcher.Search(context.Background(), "sidechain kick drum mix", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Rank != 1 {
		t.Fatalf("Rank = %d, want 1", results[0].Rank)
	}
}

func TestMemoryLexicalSearcher_EmptyQueryReturnsNil(t *testing.T) {
	scorer := service.NewBM25Scorer(service.DefaultBM25Params)
	searcher := NewMemoryLexicalSearcher(fixedChunkSource{chunks: lexicalFixtureCorpus()}, scorer)

	results, err := searcher.Search(context.Background(), "   ", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Fatalf("results = %v, want nil", results)
	}
}

func TestMemoryLexicalSearcher_NoMatchReturnsEmpty(t *testing.T) {
	scorer := service.NewBM25Scorer(service.DefaultBM25Params)
	searcher := NewMemoryLexicalSearcher(fixedChunkSource{chunks: lexicalFixtureCorpus()}, scorer)

	results, err := searcher.Search(context.Background(), "xylophone glockenspiel", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("len(results) = %d, want 0", len(results))
	}
}
