package service

import (
	"math"
	"sort"
	"strings"

	"github.com/kraklabs/tonebase-ask/internal/config"
	"github.com/kraklabs/tonebase-ask/internal/model"
)

// RerankerConfig are the Reranker's tunable knobs, sourced from
// config.Config and config.Rules.
type RerankerConfig struct {
	MaxPerDocument  int
	CourseBoost     float64
	FilenameBoost   float64
	MMRLambda       float64
	AuthoritySubstr []string
	FilenameKeywords map[string][]string
}

// Reranker transforms fused candidates into an ordered top_k list via
// authority boost, filename boost, per-document diversity cap, and
// optional MMR refinement.
type Reranker struct {
	cfg RerankerConfig
}

// NewReranker builds a Reranker from service config and rules.
func NewReranker(cfg RerankerConfig) *Reranker {
	return &Reranker{cfg: cfg}
}

// Rerank runs the full pipeline and returns at most topK chunks, 1-based
// gap-free ranks, scores clipped to [0, 1].
func (r *Reranker) Rerank(candidates []model.RetrievedChunk, intent string, topK int) []model.RetrievedChunk {
	boosted := make([]model.RetrievedChunk, len(candidates))
	copy(boosted, candidates)

	for i := range boosted {
		boosted[i].Score = r.authorityBoost(boosted[i].Chunk.SourcePath, boosted[i].Score)
		boosted[i].Score = r.filenameBoost(boosted[i].Chunk.SourceName, intent, boosted[i].Score)
	}

	sort.Slice(boosted, func(i, j int) bool { return boosted[i].Score > boosted[j].Score })

	diverse := r.diversify(boosted, topK)

	final := diverse
	if r.cfg.MMRLambda > 0 {
		final = mmr(diverse, r.cfg.MMRLambda, topK)
	}
	if len(final) > topK {
		final = final[:topK]
	}

	out := make([]model.RetrievedChunk, len(final))
	for i, c := range final {
		c.Score = clip01(c.Score)
		c.Rank = i + 1
		out[i] = c
	}
	return out
}

func (r *Reranker) authorityBoost(sourcePath string, score float64) float64 {
	lower := strings.ToLower(sourcePath)
	for _, substr := range r.cfg.AuthoritySubstr {
		if strings.Contains(lower, strings.ToLower(substr)) {
			boost := r.cfg.CourseBoost
			if boost == 0 {
				boost = 1.25
			}
			return score * boost
		}
	}
	return score
}

func (r *Reranker) filenameBoost(sourceName, intent string, score float64) float64 {
	keywords := r.cfg.FilenameKeywords[intent]
	if len(keywords) == 0 {
		return score
	}
	lower := strings.ToLower(sourceName)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			boost := r.cfg.FilenameBoost
			if boost == 0 {
				boost = 1.20
			}
			return score * boost
		}
	}
	return score
}

// diversify walks candidates in score order, admitting at most
// MaxPerDocument per source path, until topK is filled or the pool is
// exhausted.
func (r *Reranker) diversify(sorted []model.RetrievedChunk, topK int) []model.RetrievedChunk {
	maxPerDoc := r.cfg.MaxPerDocument
	if maxPerDoc <= 0 {
		maxPerDoc = 1
	}

	perDoc := make(map[string]int)
	var out []model.RetrievedChunk
	for _, c := range sorted {
		if perDoc[c.Chunk.SourcePath] >= maxPerDoc {
			continue
		}
		perDoc[c.Chunk.SourcePath]++
		out = append(out, c)
		if len(out) >= topK && topK > 0 {
			break
		}
	}
	return out
}

// mmr greedily reorders admitted candidates by maximal marginal relevance:
// at each step pick the candidate maximizing
// λ*relevance - (1-λ)*max_similarity_to_already_selected, using dense
// embeddings to measure topical overlap.
func mmr(candidates []model.RetrievedChunk, lambda float64, topK int) []model.RetrievedChunk {
	if len(candidates) == 0 {
		return candidates
	}

	remaining := make([]model.RetrievedChunk, len(candidates))
	copy(remaining, candidates)

	selected := []model.RetrievedChunk{remaining[0]}
	remaining = remaining[1:]

	for len(selected) < len(candidates) && len(remaining) > 0 {
		if topK > 0 && len(selected) >= topK {
			break
		}
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				sim := cosineSimilarity(cand.Chunk.Embedding, sel.Chunk.Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := lambda*cand.Score - (1-lambda)*maxSim
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// RerankerConfigFromRules merges config.Config knobs with the authority and
// filename-boost tables loaded from config.Rules.
func RerankerConfigFromRules(cfg *config.Config, rules *config.Rules) RerankerConfig {
	return RerankerConfig{
		MaxPerDocument:   cfg.RerankMaxPerDocument,
		CourseBoost:      cfg.RerankCourseBoost,
		FilenameBoost:    cfg.RerankFilenameBoost,
		MMRLambda:        cfg.RerankMMRLambda,
		AuthoritySubstr:  rules.Authority,
		FilenameKeywords: rules.Filenames,
	}
}
