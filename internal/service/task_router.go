package service

import (
	"strings"

	"github.com/kraklabs/tonebase-ask/internal/config"
)

// TaskRoute is the result of classifying a query: which tier it belongs to
// and the ordered provider chain to walk.
type TaskRoute struct {
	Tier       string
	Chain      []string
	Confidence float64
}

// TaskRouter classifies a query into a model tier using keyword signals
// loaded from config.Rules, each tier carrying its own fallback chain.
type TaskRouter struct {
	enabled      bool
	tiers        map[string]config.TierRule
	order        []string // deterministic evaluation order
	staticChain  []string
}

// NewTaskRouter builds a TaskRouter from rules. order fixes which tier wins
// when multiple match equally (ties otherwise broken on map iteration,
// which Go does not guarantee stable). When enabled is false, every query
// routes through staticChain regardless of content.
func NewTaskRouter(enabled bool, rules *config.Rules, order []string, staticChain []string) *TaskRouter {
	return &TaskRouter{enabled: enabled, tiers: rules.Tiers, order: order, staticChain: staticChain}
}

// Route classifies query and returns its tier and fallback chain.
func (r *TaskRouter) Route(query string) TaskRoute {
	if !r.enabled {
		return TaskRoute{Tier: "static", Chain: r.staticChain, Confidence: 1}
	}

	normalized := strings.ToLower(query)

	bestTier := "factual"
	bestMatches := 0
	for _, tier := range r.order {
		rule, ok := r.tiers[tier]
		if !ok {
			continue
		}
		matches := countMatches(normalized, rule.Signals)
		if matches > bestMatches {
			bestMatches = matches
			bestTier = tier
		}
	}

	confidence := float64(bestMatches) / float64(bestMatches+1)
	chain := r.tiers[bestTier].Chain
	if len(chain) == 0 {
		chain = r.tiers["factual"].Chain
	}
	return TaskRoute{Tier: bestTier, Chain: chain, Confidence: confidence}
}

func countMatches(normalized string, signals []string) int {
	count := 0
	for _, s := range signals {
		if strings.Contains(normalized, strings.ToLower(s)) {
			count++
		}
	}
	return count
}
