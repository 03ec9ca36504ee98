package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kraklabs/tonebase-ask/internal/model"
	"github.com/kraklabs/tonebase-ask/internal/service"
)

// PgLexicalSearcher implements LexicalSearcher using a Postgres tsvector
// match-recall step to find candidate chunks, then scores them with the
// hand-rolled BM25Scorer (ts_rank_cd is not standard BM25).
type PgLexicalSearcher struct {
	pool   *pgxpool.Pool
	table  string
	scorer *service.BM25Scorer
}

// NewPgLexicalSearcher creates a PgLexicalSearcher against the given chunk
// table (expects a content_tsv tsvector column with a GIN index, plus the
// columns pgvector.go's table also reads).
func NewPgLexicalSearcher(pool *pgxpool.Pool, table string, scorer *service.BM25Scorer) *PgLexicalSearcher {
	return &PgLexicalSearcher{pool: pool, table: table, scorer: scorer}
}

var _ LexicalSearcher = (*PgLexicalSearcher)(nil)

// Search recalls chunks whose content_tsv matches any query term, then
// scores each with Okapi BM25 against corpus-wide stats fetched by
// corpusStats.
func (p *PgLexicalSearcher) Search(ctx context.Context, queryText string, k int) ([]model.RetrievedChunk, error) {
	queryTerms := service.Tokenize(queryText)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	stats, err := p.corpusStats(ctx, queryTerms)
	if err != nil {
		return nil, fmt.Errorf("retrieval.PgLexicalSearcher.Search: %w", err)
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, source_path, source_name, page_number, chunk_index,
		       token_start, token_end, content, sub_domain
		FROM %s
		WHERE content_tsv @@ plainto_tsquery('english', $1)
		LIMIT $2
	`, p.table), queryText, k*4)
	if err != nil {
		return nil, fmt.Errorf("retrieval.PgLexicalSearcher.Search: recall: %w", err)
	}
	defer rows.Close()

	var candidates []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.SourcePath, &c.SourceName, &c.PageNumber, &c.ChunkIndex,
			&c.TokenStart, &c.TokenEnd, &c.Text, &c.SubDomain); err != nil {
			return nil, fmt.Errorf("retrieval.PgLexicalSearcher.Search: scan: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieval.PgLexicalSearcher.Search: %w", err)
	}

	scored := make([]model.RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		tf := service.TermFrequencies(service.Tokenize(c.Text))
		docLen := len(service.Tokenize(c.Text))
		score := p.scorer.Score(queryTerms, tf, docLen, stats)
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

// corpusStats fetches the aggregate document count and average document
// length in one query, then each distinct query term's document frequency
// with one count query per term.
func (p *PgLexicalSearcher) corpusStats(ctx context.Context, queryTerms []string) (service.CorpusStats, error) {
	var stats service.CorpusStats
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT count(*), coalesce(avg(token_end - token_start), 0)
		FROM %s
	`, p.table)).Scan(&stats.TotalDocs, &stats.AvgDocLen)
	if err != nil {
		return stats, fmt.Errorf("corpus stats: %w", err)
	}

	stats.DocFreq = make(map[string]int, len(queryTerms))
	for _, term := range uniqueTerms(queryTerms) {
		var df int
		err := p.pool.QueryRow(ctx, fmt.Sprintf(`
			SELECT count(*) FROM %s WHERE content_tsv @@ plainto_tsquery('english', $1)
		`, p.table), term).Scan(&df)
		if err != nil {
			return stats, fmt.Errorf("doc freq for %q: %w", term, err)
		}
		stats.DocFreq[term] = df
	}
	return stats, nil
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	var out []string
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
