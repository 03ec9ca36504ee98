// Package memory implements the per-session memory store: a small
// modernc.org/sqlite-backed table of typed entries, searched by cosine
// similarity with time decay computed in Go since sqlite has no native
// vector type.
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kraklabs/tonebase-ask/internal/clock"
	"github.com/kraklabs/tonebase-ask/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
  id          TEXT PRIMARY KEY,
  session_id  TEXT NOT NULL,
  memory_type TEXT NOT NULL,
  content     TEXT NOT NULL,
  embedding   BLOB NOT NULL,
  created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
`

// Store is the embedded relational store backing MemoryStore operations.
// Reader-many/writer-one per session is left to sqlite's own locking; Store
// itself adds no extra synchronization.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Open creates or opens the sqlite database at path and ensures the schema
// exists.
func Open(path string, c clock.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory.Open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory.Open: migrate: %w", err)
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Store{db: db, clock: c}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Add inserts a new memory entry. created_at defaults to now if the caller
// left it zero.
func (s *Store) Add(ctx context.Context, entry model.MemoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, session_id, memory_type, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, string(entry.Type), entry.Content, encodeVector(entry.Embedding), entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("memory.Add: %w", err)
	}
	return nil
}

// List returns every memory for sessionID, most recent first.
func (s *Store) List(ctx context.Context, sessionID string) ([]model.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, memory_type, content, embedding, created_at FROM memories WHERE session_id = ? ORDER BY created_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory.List: %w", err)
	}
	defer rows.Close()

	var out []model.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("memory.List: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Search returns the k memories for sessionID with the highest
// time-decayed cosine similarity to queryVector, regardless of threshold —
// MemoryInjector applies the trigger threshold and grouping on top of this.
func (s *Store) Search(ctx context.Context, sessionID string, queryVector []float32, k int, decayLambdaPerDay float64) ([]model.ScoredMemory, error) {
	entries, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	scored := make([]model.ScoredMemory, 0, len(entries))
	for _, e := range entries {
		sim := cosineSimilarity(queryVector, e.Embedding)
		days := now.Sub(e.CreatedAt).Hours() / 24
		if days < 0 {
			days = 0
		}
		decayed := sim * math.Exp(-decayLambdaPerDay*days)
		scored = append(scored, model.ScoredMemory{Entry: e, DecayedScore: decayed})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].DecayedScore > scored[j].DecayedScore })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func scanEntry(rows *sql.Rows) (model.MemoryEntry, error) {
	var e model.MemoryEntry
	var memType string
	var blob []byte
	var createdAtUnix int64
	if err := rows.Scan(&e.ID, &e.SessionID, &memType, &e.Content, &blob, &createdAtUnix); err != nil {
		return e, err
	}
	e.Type = model.MemoryType(memType)
	e.Embedding = decodeVector(blob)
	e.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	return e, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
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
