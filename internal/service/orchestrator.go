package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kraklabs/tonebase-ask/internal/cache"
	"github.com/kraklabs/tonebase-ask/internal/clock"
	"github.com/kraklabs/tonebase-ask/internal/model"
)

// AskRequest is the orchestrator's entry point, corresponding to the POST
// /ask and POST /ask/stream request bodies. Zero-valued TopK,
// ConfidenceThreshold, Temperature, and MaxTokens fall back to configured
// defaults.
type AskRequest struct {
	SessionID           string
	Query               string
	TopK                int
	ConfidenceThreshold float64
	Temperature         float64
	MaxTokens           int
}

// AskOrchestrator runs the nine-stage ask pipeline described in the
// component design: admit, cache lookup, expand, embed, hybrid search,
// rerank, confidence gate, memory injection + prompt assembly, and
// route + generate + validate citations.
type AskOrchestrator struct {
	rateLimiter    *RateLimiter
	responseCache  cache.ResponseCache
	expander       *QueryExpander
	embedder       *EmbeddingClient
	hybrid         *HybridSearch
	reranker       *Reranker
	confidenceGate *ConfidenceGate
	memoryInjector *MemoryInjector
	contextBuilder *ContextBuilder
	promptBuilder  *PromptBuilder
	taskRouter     *TaskRouter
	generation     *GenerationClient
	clock          clock.Clock

	topKDefault                int
	kPoolMultiplier            int
	confidenceThresholdDefault float64
}

// NewAskOrchestrator wires every pipeline stage's dependency. All pointer
// arguments must be non-nil except memoryInjector, which may be nil to run
// without per-session memory (injection becomes a permanent miss).
func NewAskOrchestrator(
	rateLimiter *RateLimiter,
	responseCache cache.ResponseCache,
	expander *QueryExpander,
	embedder *EmbeddingClient,
	hybrid *HybridSearch,
	reranker *Reranker,
	confidenceGate *ConfidenceGate,
	memoryInjector *MemoryInjector,
	contextBuilder *ContextBuilder,
	promptBuilder *PromptBuilder,
	taskRouter *TaskRouter,
	generation *GenerationClient,
	c clock.Clock,
	topKDefault, kPoolMultiplier int,
	confidenceThresholdDefault float64,
) *AskOrchestrator {
	if c == nil {
		c = clock.Real{}
	}
	return &AskOrchestrator{
		rateLimiter:                rateLimiter,
		responseCache:              responseCache,
		expander:                   expander,
		embedder:                   embedder,
		hybrid:                     hybrid,
		reranker:                   reranker,
		confidenceGate:             confidenceGate,
		memoryInjector:             memoryInjector,
		contextBuilder:             contextBuilder,
		promptBuilder:              promptBuilder,
		taskRouter:                 taskRouter,
		generation:                 generation,
		clock:                      c,
		topKDefault:                topKDefault,
		kPoolMultiplier:            kPoolMultiplier,
		confidenceThresholdDefault: confidenceThresholdDefault,
	}
}

// Ask runs the full pipeline for one request. A non-nil error means a hard
// failure (rate limited, embedding unavailable, search unavailable) that
// the HTTP boundary maps to a status code rather than a 200 envelope.
// Refusal and degraded mode are NOT errors: they return a populated
// envelope with mode = refused / degraded respectively.
func (o *AskOrchestrator) Ask(ctx context.Context, req AskRequest) (*model.Envelope, error) {
	start := o.clock.Now()
	topK := req.TopK
	if topK <= 0 {
		topK = o.topKDefault
	}
	threshold := req.ConfidenceThreshold
	if threshold <= 0 {
		threshold = o.confidenceThresholdDefault
	}
	// TaskRouter.Route is pure keyword matching with no I/O, so it is cheap
	// enough to resolve here, before the cache lookup needs the tier for
	// its key.
	route := o.taskRouter.Route(req.Query)

	// Stage 1: admit.
	if ok, retryAfter := o.rateLimiter.Admit(req.SessionID); !ok {
		return nil, fmt.Errorf("service.AskOrchestrator.Ask: %w (retry after %s)", ErrRateLimited, retryAfter)
	}

	// Stage 2: response cache lookup.
	if cached, hit := o.responseCache.Get(ctx, req.SessionID, req.Query, topK, threshold, route.Tier); hit {
		env := *cached
		env.Usage.CacheHit = true
		env.Usage.TotalMs = o.clock.Now().Sub(start).Milliseconds()
		return &env, nil
	}

	// Stage 3: expand. Never fails.
	expanded, intentTag := o.expander.Expand(req.Query)

	// Stage 4: embed.
	embedStart := o.clock.Now()
	queryVector, err := o.embedder.EmbedOne(ctx, expanded)
	embeddingMs := o.clock.Now().Sub(embedStart).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("service.AskOrchestrator.Ask: %w", err)
	}

	// Stage 5: hybrid search.
	searchStart := o.clock.Now()
	kPool := topK * o.kPoolMultiplier
	if kPool < topK {
		kPool = topK
	}
	candidates, err := o.hybrid.Search(ctx, queryVector, expanded, kPool)
	searchMs := o.clock.Now().Sub(searchStart).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("service.AskOrchestrator.Ask: %w", errors.Join(ErrSearchUnavailable, err))
	}
	if len(candidates) == 0 {
		return o.refuse(start, embeddingMs, searchMs), nil
	}

	// Stage 6: rerank + diversity.
	rerankStart := o.clock.Now()
	reranked := o.reranker.Rerank(candidates, intentTag, topK)
	rerankMs := o.clock.Now().Sub(rerankStart).Milliseconds()
	if len(reranked) == 0 {
		return o.refuse(start, embeddingMs, searchMs), nil
	}

	// Stage 7: confidence gate. Gates on the top candidate's dense
	// similarity rather than its boosted/fused Score: the threshold
	// (default 0.58) is calibrated against cosine similarity, while Score
	// carries RRF-fusion and authority/filename multipliers on a
	// different scale meant for ranking, not for the refusal decision.
	if !o.confidenceGate.Decide(reranked[0].DenseScore, threshold) {
		return o.refuse(start, embeddingMs, searchMs), nil
	}

	// Stage 8: memory injection -> prompt assembly.
	var warnings []model.Warning
	var memoryBlock string
	if o.memoryInjector != nil {
		block, err := o.memoryInjector.Inject(ctx, req.SessionID, queryVector)
		if err != nil {
			warnings = append(warnings, model.WarnMemoryUnavailable)
		} else {
			memoryBlock = block
		}
	}
	numberedText, sourceMap := o.contextBuilder.Build(reranked)
	system, user := o.promptBuilder.Build(req.Query, numberedText, memoryBlock)

	// Stage 9: generate + validate citations (route resolved above).
	genStart := o.clock.Now()
	genResp, providerID, genErr := o.generation.Generate(ctx, route.Chain, GenerateRequest{
		System:      system,
		User:        user,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	generationMs := o.clock.Now().Sub(genStart).Milliseconds()

	var env model.Envelope
	if genErr != nil {
		env = model.Envelope{
			Answer:    degradedAnswer(reranked),
			Mode:      model.ModeDegraded,
			Citations: nil,
			Sources:   buildSources(sourceMap),
			Warnings:  append(warnings, model.WarnLLMUnavailable),
			Usage: model.Usage{
				Tier: route.Tier,
			},
		}
	} else {
		citations, invalidCitations := ValidateCitations(genResp.Text, sourceMap)
		if invalidCitations {
			warnings = append(warnings, model.WarnInvalidCitations)
		}
		env = model.Envelope{
			Answer:    genResp.Text,
			Mode:      model.ModeRAG,
			Citations: citations,
			Sources:   buildSources(sourceMap),
			Warnings:  warnings,
			Usage: model.Usage{
				Tier:         route.Tier,
				Model:        providerID,
				InputTokens:  genResp.Usage.InputTokens,
				OutputTokens: genResp.Usage.OutputTokens,
			},
		}
	}

	env.Usage.EmbeddingMs = embeddingMs
	env.Usage.SearchMs = searchMs
	env.Usage.RerankMs = rerankMs
	env.Usage.GenerationMs = generationMs
	env.Usage.TotalMs = o.clock.Now().Sub(start).Milliseconds()

	o.cacheResponse(ctx, req, topK, threshold, route.Tier, env)
	return &env, nil
}

// SearchResult is the stages-1-6-only result returned by Search, used by
// POST /search to expose retrieval and reranking without generation.
type SearchResult struct {
	Chunks      []model.RetrievedChunk
	EmbeddingMs int64
	SearchMs    int64
	RerankMs    int64
}

// Search runs admit -> expand -> embed -> hybrid search -> rerank and
// returns the reranked chunks directly, skipping the confidence gate,
// memory injection, and generation stages.
func (o *AskOrchestrator) Search(ctx context.Context, sessionID, query string, topK int) (*SearchResult, error) {
	if topK <= 0 {
		topK = o.topKDefault
	}

	if ok, retryAfter := o.rateLimiter.Admit(sessionID); !ok {
		return nil, fmt.Errorf("service.AskOrchestrator.Search: %w (retry after %s)", ErrRateLimited, retryAfter)
	}

	expanded, intentTag := o.expander.Expand(query)

	embedStart := o.clock.Now()
	queryVector, err := o.embedder.EmbedOne(ctx, expanded)
	embeddingMs := o.clock.Now().Sub(embedStart).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("service.AskOrchestrator.Search: %w", err)
	}

	searchStart := o.clock.Now()
	kPool := topK * o.kPoolMultiplier
	if kPool < topK {
		kPool = topK
	}
	candidates, err := o.hybrid.Search(ctx, queryVector, expanded, kPool)
	searchMs := o.clock.Now().Sub(searchStart).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("service.AskOrchestrator.Search: %w", errors.Join(ErrSearchUnavailable, err))
	}

	rerankStart := o.clock.Now()
	reranked := o.reranker.Rerank(candidates, intentTag, topK)
	rerankMs := o.clock.Now().Sub(rerankStart).Milliseconds()

	return &SearchResult{Chunks: reranked, EmbeddingMs: embeddingMs, SearchMs: searchMs, RerankMs: rerankMs}, nil
}

// AskStream runs the same nine stages as Ask but emits progress over out as
// server-sent events in the order step* -> sources -> chunk* -> done|error,
// per §4.13. The only hard failures it reports as errors are admit and
// embed; every other stage short-circuits to a refused or degraded envelope
// delivered via a done event, matching Ask's non-error refusal/degradation
// semantics. AskStream never closes out; the caller owns its lifecycle.
func (o *AskOrchestrator) AskStream(ctx context.Context, req AskRequest, out chan<- StreamEvent) error {
	start := o.clock.Now()
	topK := req.TopK
	if topK <= 0 {
		topK = o.topKDefault
	}
	threshold := req.ConfidenceThreshold
	if threshold <= 0 {
		threshold = o.confidenceThresholdDefault
	}
	route := o.taskRouter.Route(req.Query)

	sendStep := func(step string) {
		select {
		case out <- StreamEvent{Type: StreamEventStep, Step: step}:
		case <-ctx.Done():
		}
	}
	sendDone := func(env *model.Envelope) {
		select {
		case out <- StreamEvent{Type: StreamEventDone, Envelope: env}:
		case <-ctx.Done():
		}
	}

	sendStep("admit")
	if ok, retryAfter := o.rateLimiter.Admit(req.SessionID); !ok {
		err := fmt.Errorf("service.AskOrchestrator.AskStream: %w (retry after %s)", ErrRateLimited, retryAfter)
		out <- StreamEvent{Type: StreamEventError, Err: err}
		return err
	}

	sendStep("cache_lookup")
	if cached, hit := o.responseCache.Get(ctx, req.SessionID, req.Query, topK, threshold, route.Tier); hit {
		env := *cached
		env.Usage.CacheHit = true
		env.Usage.TotalMs = o.clock.Now().Sub(start).Milliseconds()
		out <- StreamEvent{Type: StreamEventSources, Sources: env.Sources}
		out <- StreamEvent{Type: StreamEventChunk, Text: env.Answer}
		sendDone(&env)
		return nil
	}

	sendStep("expand")
	expanded, intentTag := o.expander.Expand(req.Query)

	sendStep("embed")
	embedStart := o.clock.Now()
	queryVector, err := o.embedder.EmbedOne(ctx, expanded)
	embeddingMs := o.clock.Now().Sub(embedStart).Milliseconds()
	if err != nil {
		wrapped := fmt.Errorf("service.AskOrchestrator.AskStream: %w", err)
		out <- StreamEvent{Type: StreamEventError, Err: wrapped}
		return wrapped
	}

	sendStep("search")
	searchStart := o.clock.Now()
	kPool := topK * o.kPoolMultiplier
	if kPool < topK {
		kPool = topK
	}
	candidates, err := o.hybrid.Search(ctx, queryVector, expanded, kPool)
	searchMs := o.clock.Now().Sub(searchStart).Milliseconds()
	if err != nil {
		sendDone(o.refuse(start, embeddingMs, searchMs))
		return nil
	}
	if len(candidates) == 0 {
		sendDone(o.refuse(start, embeddingMs, searchMs))
		return nil
	}

	sendStep("rerank")
	rerankStart := o.clock.Now()
	reranked := o.reranker.Rerank(candidates, intentTag, topK)
	rerankMs := o.clock.Now().Sub(rerankStart).Milliseconds()
	if len(reranked) == 0 {
		sendDone(o.refuse(start, embeddingMs, searchMs))
		return nil
	}

	sendStep("confidence_gate")
	if !o.confidenceGate.Decide(reranked[0].DenseScore, threshold) {
		sendDone(o.refuse(start, embeddingMs, searchMs))
		return nil
	}

	sendStep("memory_injection")
	var warnings []model.Warning
	var memoryBlock string
	if o.memoryInjector != nil {
		block, err := o.memoryInjector.Inject(ctx, req.SessionID, queryVector)
		if err != nil {
			warnings = append(warnings, model.WarnMemoryUnavailable)
		} else {
			memoryBlock = block
		}
	}
	numberedText, sourceMap := o.contextBuilder.Build(reranked)
	system, user := o.promptBuilder.Build(req.Query, numberedText, memoryBlock)

	select {
	case out <- StreamEvent{Type: StreamEventSources, Sources: buildSources(sourceMap)}:
	case <-ctx.Done():
		return ctx.Err()
	}

	sendStep("generate")
	genStart := o.clock.Now()

	// Relay through an internal channel rather than handing out directly to
	// GenerateStream: the orchestrator needs the accumulated text from the
	// provider's own done event to validate citations before emitting its
	// own done event, so chunks are forwarded as they arrive and the
	// provider's done/error events are intercepted rather than passed through.
	relay := make(chan StreamEvent)
	type streamResult struct {
		id  string
		err error
	}
	resultCh := make(chan streamResult, 1)
	go func() {
		id, err := o.generation.GenerateStream(ctx, route.Chain, GenerateRequest{
			System:      system,
			User:        user,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}, relay)
		resultCh <- streamResult{id: id, err: err}
	}()

	var genResp GenerateResponse
	var providerID string
	var genErr error
relayLoop:
	for {
		select {
		case ev := <-relay:
			switch ev.Type {
			case StreamEventChunk:
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			case StreamEventDone:
				genResp = ev.Final
				res := <-resultCh
				providerID, genErr = res.id, res.err
				break relayLoop
			}
		case res := <-resultCh:
			providerID, genErr = res.id, res.err
			break relayLoop
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	generationMs := o.clock.Now().Sub(genStart).Milliseconds()

	var env model.Envelope
	if genErr != nil {
		env = model.Envelope{
			Answer:    degradedAnswer(reranked),
			Mode:      model.ModeDegraded,
			Citations: nil,
			Sources:   buildSources(sourceMap),
			Warnings:  append(warnings, model.WarnLLMUnavailable),
			Usage:     model.Usage{Tier: route.Tier},
		}
		env.Usage.EmbeddingMs = embeddingMs
		env.Usage.SearchMs = searchMs
		env.Usage.RerankMs = rerankMs
		env.Usage.GenerationMs = generationMs
		env.Usage.TotalMs = o.clock.Now().Sub(start).Milliseconds()
		select {
		case out <- StreamEvent{Type: StreamEventChunk, Text: env.Answer}:
		case <-ctx.Done():
			return ctx.Err()
		}
		sendDone(&env)
		o.cacheResponse(ctx, req, topK, threshold, route.Tier, env)
		return nil
	}

	citations, invalidCitations := ValidateCitations(genResp.Text, sourceMap)
	if invalidCitations {
		warnings = append(warnings, model.WarnInvalidCitations)
	}
	env = model.Envelope{
		Answer:    genResp.Text,
		Mode:      model.ModeRAG,
		Citations: citations,
		Sources:   buildSources(sourceMap),
		Warnings:  warnings,
		Usage: model.Usage{
			Tier:         route.Tier,
			Model:        providerID,
			InputTokens:  genResp.Usage.InputTokens,
			OutputTokens: genResp.Usage.OutputTokens,
		},
	}
	env.Usage.EmbeddingMs = embeddingMs
	env.Usage.SearchMs = searchMs
	env.Usage.RerankMs = rerankMs
	env.Usage.GenerationMs = generationMs
	env.Usage.TotalMs = o.clock.Now().Sub(start).Milliseconds()
	sendDone(&env)
	o.cacheResponse(ctx, req, topK, threshold, route.Tier, env)
	return nil
}

func (o *AskOrchestrator) refuse(start time.Time, embeddingMs, searchMs int64) *model.Envelope {
	env := &model.Envelope{
		Mode:      model.ModeRefused,
		Answer:    "I don't have enough grounded information in the knowledge base to answer that confidently.",
		Citations: nil,
		Sources:   nil,
		Warnings:  []model.Warning{model.WarnInsufficientKnowledge},
		Usage: model.Usage{
			EmbeddingMs: embeddingMs,
			SearchMs:    searchMs,
			TotalMs:     o.clock.Now().Sub(start).Milliseconds(),
		},
	}
	return env
}

// cacheResponse stores a copy of env with TotalMs zeroed (the spec's cache
// value is the envelope minus the dynamic total_ms field) so later hits
// recompute their own elapsed time.
func (o *AskOrchestrator) cacheResponse(ctx context.Context, req AskRequest, topK int, threshold float64, tier string, env model.Envelope) {
	stored := env
	stored.Usage.TotalMs = 0
	stored.Usage.CacheHit = false
	o.responseCache.Set(ctx, req.SessionID, req.Query, topK, threshold, tier, &stored)
}

// degradedAnswer concatenates the raw text of the reranked chunks in rank
// order, used when every generation provider in the chain is exhausted.
func degradedAnswer(chunks []model.RetrievedChunk) string {
	sorted := make([]model.RetrievedChunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	var sb strings.Builder
	for i, c := range sorted {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(c.Chunk.Text)
	}
	return sb.String()
}

// buildSources projects sourceMap (1..N) into the envelope-facing
// SourceRef list, in index order.
func buildSources(sourceMap map[int]model.RetrievedChunk) []model.SourceRef {
	if len(sourceMap) == 0 {
		return nil
	}
	indices := make([]int, 0, len(sourceMap))
	for i := range sourceMap {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	out := make([]model.SourceRef, 0, len(indices))
	for _, i := range indices {
		c := sourceMap[i]
		out = append(out, model.SourceRef{
			ChunkID:    c.Chunk.ID,
			SourcePath: c.Chunk.SourcePath,
			SourceName: c.Chunk.SourceName,
			PageNumber: c.Chunk.PageNumber,
			Excerpt:    excerpt(c.Chunk.Text, 240),
			Score:      c.Score,
		})
	}
	return out
}

func excerpt(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
