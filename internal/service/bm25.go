package service

import (
	"math"
	"regexp"
	"strings"
)

// BM25Params are the Okapi BM25 tuning constants. Spec fixes both at their
// conventional defaults rather than exposing them as per-request knobs.
type BM25Params struct {
	K1 float64
	B  float64
}

// DefaultBM25Params matches spec §4.7: k1=1.2, b=0.75.
var DefaultBM25Params = BM25Params{K1: 1.2, B: 0.75}

// CorpusStats are the aggregate values BM25's IDF and length-normalization
// terms need, fetched once per query rather than per-candidate.
type CorpusStats struct {
	TotalDocs int
	AvgDocLen float64
	// DocFreq[term] is the number of chunks containing term at least once.
	DocFreq map[string]int
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize lowercases text and splits it into alphanumeric terms. Used both
// to build per-chunk term frequencies at index time and to tokenize the
// query at search time, so the two sides agree on what a "term" is.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// TermFrequencies counts occurrences of each term in tokens.
func TermFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}

// BM25Scorer computes Okapi BM25 scores for candidate chunks that a
// Postgres tsvector match-recall step has already narrowed down. The
// match-recall query returns which chunks contain any query term; the
// exact score (which Postgres's built-in ts_rank_cd does not compute as
// standard BM25) is then calculated here from term frequency, chunk
// length, and the corpus-wide stats.
type BM25Scorer struct {
	params BM25Params
}

// NewBM25Scorer creates a scorer with the given k1/b. Zero values fall back
// to DefaultBM25Params.
func NewBM25Scorer(params BM25Params) *BM25Scorer {
	if params.K1 == 0 && params.B == 0 {
		params = DefaultBM25Params
	}
	return &BM25Scorer{params: params}
}

// Score computes BM25(queryTerms, doc) given the document's own term
// frequencies, its token length, and corpus-wide stats.
func (s *BM25Scorer) Score(queryTerms []string, docTermFreq map[string]int, docLen int, stats CorpusStats) float64 {
	if stats.TotalDocs == 0 || stats.AvgDocLen == 0 {
		return 0
	}

	qtf := TermFrequencies(queryTerms)

	var score float64
	for term, qCount := range qtf {
		tf := docTermFreq[term]
		if tf == 0 {
			continue
		}
		df := stats.DocFreq[term]
		if df == 0 {
			continue
		}

		idf := math.Log(1 + (float64(stats.TotalDocs)-float64(df)+0.5)/(float64(df)+0.5))
		numerator := float64(tf) * (s.params.K1 + 1)
		denominator := float64(tf) + s.params.K1*(1-s.params.B+s.params.B*float64(docLen)/stats.AvgDocLen)
		score += float64(qCount) * idf * (numerator / denominator)
	}
	return score
}
