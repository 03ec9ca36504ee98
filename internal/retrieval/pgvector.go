package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/kraklabs/tonebase-ask/internal/model"
)

// PgvectorSearcher is the production DenseSearcher, backed by a pgvector
// ivfflat index ordered by cosine distance.
type PgvectorSearcher struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgvectorSearcher creates a PgvectorSearcher against the given chunk
// table (expects columns id, source_path, source_name, page_number,
// chunk_index, token_start, token_end, content, sub_domain, embedding).
func NewPgvectorSearcher(pool *pgxpool.Pool, table string) *PgvectorSearcher {
	return &PgvectorSearcher{pool: pool, table: table}
}

var _ DenseSearcher = (*PgvectorSearcher)(nil)

// Search orders chunks by cosine distance to queryVector ascending
// (1 - cosine_similarity), converting back to similarity for DenseScore.
func (p *PgvectorSearcher) Search(ctx context.Context, queryVector []float32, k int) ([]model.RetrievedChunk, error) {
	vec := pgvector.NewVector(queryVector)
	query := fmt.Sprintf(`
		SELECT id, source_path, source_name, page_number, chunk_index,
		       token_start, token_end, content, sub_domain,
		       1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, p.table)

	rows, err := p.pool.Query(ctx, query, vec, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval.PgvectorSearcher.Search: %w", err)
	}
	defer rows.Close()

	var out []model.RetrievedChunk
	rank := 0
	for rows.Next() {
		var c model.Chunk
		var similarity float64
		if err := rows.Scan(&c.ID, &c.SourcePath, &c.SourceName, &c.PageNumber, &c.ChunkIndex,
			&c.TokenStart, &c.TokenEnd, &c.Text, &c.SubDomain, &similarity); err != nil {
			return nil, fmt.Errorf("retrieval.PgvectorSearcher.Search: scan: %w", err)
		}
		rank++
		out = append(out, model.RetrievedChunk{Chunk: c, DenseScore: similarity, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieval.PgvectorSearcher.Search: %w", err)
	}
	return out, nil
}
