package retrieval

import (
	"context"
	"sort"

	"github.com/kraklabs/tonebase-ask/internal/model"
	"github.com/kraklabs/tonebase-ask/internal/service"
)

// ChunkSource supplies the candidate pool a MemoryLexicalSearcher scores
// against. HNSWSearcher implements it via Chunks.
type ChunkSource interface {
	Chunks() []model.Chunk
}

// MemoryLexicalSearcher is the standalone, non-Postgres LexicalSearcher
// counterpart to HNSWSearcher: it recalls every chunk from source and
// scores each with the same Okapi BM25 scorer the Postgres path uses,
// trading recall efficiency for zero external dependencies.
type MemoryLexicalSearcher struct {
	source ChunkSource
	scorer *service.BM25Scorer
}

// NewMemoryLexicalSearcher creates a MemoryLexicalSearcher over source.
func NewMemoryLexicalSearcher(source ChunkSource, scorer *service.BM25Scorer) *MemoryLexicalSearcher {
	return &MemoryLexicalSearcher{source: source, scorer: scorer}
}

var _ LexicalSearcher = (*MemoryLexicalSearcher)(nil)

// Search scores every chunk in source against queryText and returns the
// top k by BM25 score.
func (m *MemoryLexicalSearcher) Search(ctx context.Context, queryText string, k int) ([]model.RetrievedChunk, error) {
	queryTerms := service.Tokenize(queryText)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	chunks := m.source.Chunks()
	stats := service.CorpusStats{
		TotalDocs: len(chunks),
		DocFreq:   make(map[string]int, len(queryTerms)),
	}
	docTerms := make([][]string, len(chunks))
	var totalLen int
	for i, c := range chunks {
		terms := service.Tokenize(c.Text)
		docTerms[i] = terms
		totalLen += len(terms)
		seen := make(map[string]bool, len(queryTerms))
		for _, qt := range queryTerms {
			if seen[qt] {
				continue
			}
			for _, t := range terms {
				if t == qt {
					stats.DocFreq[qt]++
					seen[qt] = true
					break
				}
			}
		}
	}
	if stats.TotalDocs > 0 {
		stats.AvgDocLen = float64(totalLen) / float64(stats.TotalDocs)
	}

	scored := make([]model.RetrievedChunk, 0, len(chunks))
	for i, c := range chunks {
		tf := service.TermFrequencies(docTerms[i])
		score := m.scorer.Score(queryTerms, tf, len(docTerms[i]), stats)
		if score <= 0 {
			continue
		}
		scored = append(scored, model.RetrievedChunk{Chunk: c, LexicalScore: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].LexicalScore > scored[j].LexicalScore })
	if len(scored) > k {
		scored = scored[:k]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored, nil
}
