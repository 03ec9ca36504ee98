package service

import (
	"math"
	"testing"
)

func TestTokenize_LowercasesAndSplits(t *testing.T) {
	got := Tokenize("Sidechain Compression, and LUFS-targets!")
	want := []string{"sidechain", "compression", "and", "lufs", "targets"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBM25Scorer_HigherTermFrequencyScoresHigher(t *testing.T) {
	scorer := NewBM25Scorer(DefaultBM25Params)
	stats := CorpusStats{
		TotalDocs: 100,
		AvgDocLen: 50,
		DocFreq:   map[string]int{"mastering": 10},
	}
	query := []string{"mastering"}

	low := scorer.Score(query, map[string]int{"mastering": 1}, 50, stats)
	high := scorer.Score(query, map[string]int{"mastering": 5}, 50, stats)

	if high <= low {
		t.Fatalf("high=%v should exceed low=%v as term frequency increases", high, low)
	}
}

func TestBM25Scorer_RarerTermScoresHigher(t *testing.T) {
	scorer := NewBM25Scorer(DefaultBM25Params)
	stats := CorpusStats{
		TotalDocs: 100,
		AvgDocLen: 50,
		DocFreq:   map[string]int{"rare": 2, "common": 80},
	}

	rareScore := scorer.Score([]string{"rare"}, map[string]int{"rare": 2}, 50, stats)
	commonScore := scorer.Score([]string{"common"}, map[string]int{"common": 2}, 50, stats)

	if rareScore <= commonScore {
		t.Fatalf("rareScore=%v should exceed commonScore=%v (lower document frequency => higher IDF)", rareScore, commonScore)
	}
}

func TestBM25Scorer_LongerDocumentsPenalized(t *testing.T) {
	scorer := NewBM25Scorer(DefaultBM25Params)
	stats := CorpusStats{
		TotalDocs: 100,
		AvgDocLen: 50,
		DocFreq:   map[string]int{"mastering": 10},
	}
	query := []string{"mastering"}

	short := scorer.Score(query, map[string]int{"mastering": 2}, 50, stats)
	long := scorer.Score(query, map[string]int{"mastering": 2}, 500, stats)

	if long >= short {
		t.Fatalf("long=%v should score lower than short=%v for equal term frequency", long, short)
	}
}

func TestBM25Scorer_UnseenTermContributesZero(t *testing.T) {
	scorer := NewBM25Scorer(DefaultBM25Params)
	stats := CorpusStats{TotalDocs: 100, AvgDocLen: 50, DocFreq: map[string]int{"mastering": 10}}

	score := scorer.Score([]string{"unrelated"}, map[string]int{"mastering": 2}, 50, stats)
	if score != 0 {
		t.Fatalf("score = %v, want 0 for a query term absent from corpus stats", score)
	}
}

func TestBM25Scorer_NoCorpusStatsReturnsZero(t *testing.T) {
	scorer := NewBM25Scorer(DefaultBM25Params)
	score := scorer.Score([]string{"mastering"}, map[string]int{"mastering": 1}, 50, CorpusStats{})
	if math.Abs(score) > 1e-9 {
		t.Fatalf("score = %v, want 0 with empty corpus stats", score)
	}
}
