package service

import "errors"

// Sentinel errors surfaced by AskOrchestrator and the components it wires
// together. Embedding-specific sentinels live in embedder.go next to the
// component that raises them.
var (
	// ErrRateLimited is returned by Admit when the session's sliding
	// window is exhausted. Hard fail, no stage beyond admission runs.
	ErrRateLimited = errors.New("rate_limited")

	// ErrInsufficientKnowledge marks a refusal: zero search candidates or
	// a top score below the confidence threshold.
	ErrInsufficientKnowledge = errors.New("insufficient_knowledge")

	// ErrSearchUnavailable marks the hybrid search failing: either retrieval
	// leg (dense or lexical) returning an error fails the whole search.
	ErrSearchUnavailable = errors.New("search_unavailable")

	// ErrGenerationUnavailable marks every provider in the selected
	// tier's fallback chain exhausted.
	ErrGenerationUnavailable = errors.New("llm_unavailable")
)
