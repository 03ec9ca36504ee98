package service

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/tonebase-ask/internal/model"
	"github.com/kraklabs/tonebase-ask/internal/retrieval"
)

// RRFConfig are the reciprocal-rank-fusion weights and constant.
type RRFConfig struct {
	WeightDense    float64
	WeightLexical  float64
	K              int
}

// DefaultRRFConfig matches spec §4.7: w_dense=0.7, w_lex=0.3, K=60.
var DefaultRRFConfig = RRFConfig{WeightDense: 0.7, WeightLexical: 0.3, K: 60}

// HybridSearch runs dense ANN and lexical BM25 retrieval concurrently and
// fuses them with weighted reciprocal rank fusion.
type HybridSearch struct {
	dense   retrieval.DenseSearcher
	lexical retrieval.LexicalSearcher
	rrf     RRFConfig
}

// NewHybridSearch wires the two retrieval backends behind one fused search.
func NewHybridSearch(dense retrieval.DenseSearcher, lexical retrieval.LexicalSearcher, rrf RRFConfig) *HybridSearch {
	if rrf.K == 0 {
		rrf = DefaultRRFConfig
	}
	return &HybridSearch{dense: dense, lexical: lexical, rrf: rrf}
}

// Search returns up to kPool fused candidates for (queryVector, queryText).
func (h *HybridSearch) Search(ctx context.Context, queryVector []float32, queryText string, kPool int) ([]model.RetrievedChunk, error) {
	var denseResults, lexicalResults []model.RetrievedChunk

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		denseResults, err = h.dense.Search(gCtx, queryVector, kPool)
		return err
	})
	g.Go(func() error {
		var err error
		lexicalResults, err = h.lexical.Search(gCtx, queryText, kPool)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service.HybridSearch: %w", err)
	}

	return fuse(denseResults, lexicalResults, h.rrf, kPool), nil
}

type fusionEntry struct {
	chunk      model.Chunk
	denseScore float64
	lexScore   float64
	rrfScore   float64
}

// fuse computes weighted RRF across the two ranked lists and returns the
// top kPool candidates, ties broken by higher dense score then
// lexicographic source path.
func fuse(dense, lexical []model.RetrievedChunk, rrf RRFConfig, kPool int) []model.RetrievedChunk {
	entries := make(map[string]*fusionEntry)

	// denseBestRank/lexBestRank track the best (lowest) rank seen per chunk
	// id within a single list, so a chunk that somehow appears twice in one
	// list contributes only its strongest occurrence — "dedup keeping the
	// max contribution" — before lists are summed.
	denseBestRank := make(map[string]int)
	for rank, rc := range dense {
		if best, ok := denseBestRank[rc.Chunk.ID]; ok && best <= rank {
			continue
		}
		denseBestRank[rc.Chunk.ID] = rank
		e := entryFor(entries, rc.Chunk)
		e.denseScore = rc.DenseScore
	}

	lexBestRank := make(map[string]int)
	for rank, rc := range lexical {
		if best, ok := lexBestRank[rc.Chunk.ID]; ok && best <= rank {
			continue
		}
		lexBestRank[rc.Chunk.ID] = rank
		e := entryFor(entries, rc.Chunk)
		e.lexScore = rc.LexicalScore
	}

	for id, rank := range denseBestRank {
		entries[id].rrfScore += rrf.WeightDense / float64(rrf.K+rank+1)
	}
	for id, rank := range lexBestRank {
		entries[id].rrfScore += rrf.WeightLexical / float64(rrf.K+rank+1)
	}

	fused := make([]*fusionEntry, 0, len(entries))
	for _, e := range entries {
		fused = append(fused, e)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].rrfScore != fused[j].rrfScore {
			return fused[i].rrfScore > fused[j].rrfScore
		}
		if fused[i].denseScore != fused[j].denseScore {
			return fused[i].denseScore > fused[j].denseScore
		}
		return fused[i].chunk.SourcePath < fused[j].chunk.SourcePath
	})

	if kPool > 0 && len(fused) > kPool {
		fused = fused[:kPool]
	}

	out := make([]model.RetrievedChunk, len(fused))
	for i, e := range fused {
		out[i] = model.RetrievedChunk{
			Chunk:       e.chunk,
			Score:       e.rrfScore,
			Rank:        i + 1,
			DenseScore:  e.denseScore,
			LexicalScore: e.lexScore,
		}
	}
	return out
}

func entryFor(entries map[string]*fusionEntry, chunk model.Chunk) *fusionEntry {
	e, ok := entries[chunk.ID]
	if !ok {
		e = &fusionEntry{chunk: chunk}
		entries[chunk.ID] = e
	}
	return e
}
