package service

import (
	"fmt"
	"strings"

	"github.com/kraklabs/tonebase-ask/internal/model"
)

// ContextBuilder assembles the numbered context block the prompt cites
// against, and the source map the final citation indices resolve through.
type ContextBuilder struct {
	// CharBudget bounds the total length of the numbered text. Chunks are
	// token-equivalent budgeted here in characters, which is the teacher's
	// convention for a text budget derived from a model's context window
	// minus a safety margin.
	CharBudget int
}

// NewContextBuilder creates a ContextBuilder with the given character
// budget. A zero budget disables truncation.
func NewContextBuilder(charBudget int) *ContextBuilder {
	return &ContextBuilder{CharBudget: charBudget}
}

// Build renders chunks (already ranked best-first) into numbered blocks and
// a dense, gap-free 1-based source map. When the rendered text would exceed
// CharBudget, lowest-ranked blocks are dropped first and the remainder is
// renumbered so the map stays dense.
func (b *ContextBuilder) Build(chunks []model.RetrievedChunk) (numberedText string, sourceMap map[int]model.RetrievedChunk) {
	kept := chunks
	if b.CharBudget > 0 {
		kept = b.fitToBudget(chunks)
	}

	var sb strings.Builder
	sourceMap = make(map[int]model.RetrievedChunk, len(kept))
	for i, c := range kept {
		idx := i + 1
		sb.WriteString(renderBlock(idx, c))
		sourceMap[idx] = c
	}
	return sb.String(), sourceMap
}

func renderBlock(idx int, c model.RetrievedChunk) string {
	page := "?"
	if c.Chunk.PageNumber != nil {
		page = fmt.Sprintf("%d", *c.Chunk.PageNumber)
	}
	return fmt.Sprintf("[%d] (%s, p.%s, score: %.2f)\n%s\n", idx, c.Chunk.SourceName, page, c.Score, c.Chunk.Text)
}

// fitToBudget drops chunks from the end (lowest-ranked, since chunks is
// assumed best-first) until the rendered total fits CharBudget.
func (b *ContextBuilder) fitToBudget(chunks []model.RetrievedChunk) []model.RetrievedChunk {
	for n := len(chunks); n > 0; n-- {
		total := 0
		for i := 0; i < n; i++ {
			total += len(renderBlock(i+1, chunks[i]))
		}
		if total <= b.CharBudget {
			return chunks[:n]
		}
	}
	return nil
}
