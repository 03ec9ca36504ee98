package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kraklabs/tonebase-ask/internal/model"
)

// MemorySearcher is the subset of internal/memory.Store that MemoryInjector
// consumes, kept narrow for testability.
type MemorySearcher interface {
	Search(ctx context.Context, sessionID string, queryVector []float32, k int, decayLambdaPerDay float64) ([]model.ScoredMemory, error)
}

// MemoryInjector retrieves time-decayed memories for a session and formats
// them into the block the orchestrator prepends to the user prompt. A
// store failure is non-fatal: Inject returns an empty block and the
// orchestrator attaches the memory_unavailable warning instead of failing
// the request.
type MemoryInjector struct {
	store             MemorySearcher
	topK              int
	decayLambdaPerDay float64
	triggerThreshold  float64
}

// NewMemoryInjector builds a MemoryInjector with the spec defaults
// (k=5, λ=0.1/day, trigger threshold 0.35) overridable via config.
func NewMemoryInjector(store MemorySearcher, topK int, decayLambdaPerDay, triggerThreshold float64) *MemoryInjector {
	return &MemoryInjector{store: store, topK: topK, decayLambdaPerDay: decayLambdaPerDay, triggerThreshold: triggerThreshold}
}

// Inject returns the formatted memory block for (sessionID, queryVector),
// or ("", err) if the store failed.
func (m *MemoryInjector) Inject(ctx context.Context, sessionID string, queryVector []float32) (string, error) {
	scored, err := m.store.Search(ctx, sessionID, queryVector, m.topK, m.decayLambdaPerDay)
	if err != nil {
		return "", fmt.Errorf("service.MemoryInjector: %w", err)
	}

	var above []model.ScoredMemory
	for _, s := range scored {
		if s.DecayedScore >= m.triggerThreshold {
			above = append(above, s)
		}
	}
	if len(above) == 0 {
		return "", nil
	}

	sort.SliceStable(above, func(i, j int) bool { return above[i].DecayedScore > above[j].DecayedScore })

	byType := make(map[model.MemoryType][]model.ScoredMemory)
	var typeOrder []model.MemoryType
	for _, s := range above {
		if _, ok := byType[s.Entry.Type]; !ok {
			typeOrder = append(typeOrder, s.Entry.Type)
		}
		byType[s.Entry.Type] = append(byType[s.Entry.Type], s)
	}

	var sb strings.Builder
	sb.WriteString("Relevant memory from past sessions:\n")
	for _, t := range typeOrder {
		sb.WriteString(fmt.Sprintf("%s:\n", t))
		for _, s := range byType[t] {
			sb.WriteString("- ")
			sb.WriteString(s.Entry.Content)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}
