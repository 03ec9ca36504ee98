package handler

import (
	"context"
	"time"

	"github.com/kraklabs/tonebase-ask/internal/breaker"
	"github.com/kraklabs/tonebase-ask/internal/cache"
	"github.com/kraklabs/tonebase-ask/internal/clock"
	"github.com/kraklabs/tonebase-ask/internal/config"
	"github.com/kraklabs/tonebase-ask/internal/memory"
	"github.com/kraklabs/tonebase-ask/internal/model"
	"github.com/kraklabs/tonebase-ask/internal/service"
)

// fakeDenseSearcher and fakeLexicalSearcher back retrieval.DenseSearcher /
// retrieval.LexicalSearcher with canned results, mirroring the service
// package's own orchestrator test doubles so the HTTP boundary can be
// exercised against a real, fully-wired AskOrchestrator.
type fakeDenseSearcher struct {
	results []model.RetrievedChunk
	err     error
}

func (f *fakeDenseSearcher) Search(ctx context.Context, queryVector []float32, k int) ([]model.RetrievedChunk, error) {
	return f.results, f.err
}

type fakeLexicalSearcher struct {
	results []model.RetrievedChunk
	err     error
}

func (f *fakeLexicalSearcher) Search(ctx context.Context, queryText string, k int) ([]model.RetrievedChunk, error) {
	return f.results, f.err
}

type fakeEmbedder struct {
	vectors [][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		if i < len(f.vectors) {
			out[i] = f.vectors[i]
		} else {
			out[i] = f.vectors[0]
		}
	}
	return out, nil
}

type fakeMemorySearcher struct{}

func (f *fakeMemorySearcher) Search(ctx context.Context, sessionID string, queryVector []float32, k int, decayLambdaPerDay float64) ([]model.ScoredMemory, error) {
	return nil, nil
}

type fakeGenerator struct {
	resp service.GenerateResponse
	err  error
}

func (f *fakeGenerator) Generate(ctx context.Context, req service.GenerateRequest) (service.GenerateResponse, error) {
	return f.resp, f.err
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, req service.GenerateRequest, out chan<- service.StreamEvent) error {
	if f.err != nil {
		return f.err
	}
	select {
	case out <- service.StreamEvent{Type: service.StreamEventChunk, Text: f.resp.Text}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case out <- service.StreamEvent{Type: service.StreamEventDone, Final: f.resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// testDeps wires a full, real AskOrchestrator plus a real in-memory memory
// store, so handler tests exercise actual request/response marshaling
// rather than stopping at the validation short-circuit.
type testDeps struct {
	orch     *service.AskOrchestrator
	dense    *fakeDenseSearcher
	gen      *fakeGenerator
	memory   *memory.Store
	embedder *service.EmbeddingClient
	embed    *fakeEmbedder
	fc       *clock.Fake
}

// orchEmbedder returns the EmbeddingClient wired into this harness, for
// handlers that need it directly (e.g. MemoryWrite).
func (d *testDeps) orchEmbedder() *service.EmbeddingClient { return d.embedder }

func newTestDeps() *testDeps {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	rl := service.NewRateLimiter(service.RateLimiterConfig{MaxRequests: 1000, Window: time.Minute, CleanupInterval: time.Hour}, fc)
	respCache := cache.NewMemoryResponseCache(100, time.Hour, fc)

	rules := &config.Rules{Tiers: map[string]config.TierRule{
		"factual": {Chain: []string{"fast"}},
	}}
	expander := service.NewQueryExpander(rules)

	fe := &fakeEmbedder{vectors: [][]float32{{1, 0, 0, 0}}}
	embedCache := cache.NewEmbeddingCache(100, time.Hour, fc)
	embedBreaker := breaker.New(breaker.Config{FailureThreshold: 3, Cooldown: 30 * time.Second, Clock: fc})
	embedder := service.NewEmbeddingClient(fe, embedCache, embedBreaker, 4)

	dense := &fakeDenseSearcher{}
	lexical := &fakeLexicalSearcher{}
	hybrid := service.NewHybridSearch(dense, lexical, service.DefaultRRFConfig)

	reranker := service.NewReranker(service.RerankerConfig{MaxPerDocument: 3, CourseBoost: 1.25, FilenameBoost: 1.20, MMRLambda: 0})
	confGate := service.NewConfidenceGate(0.58)

	memStore, err := memory.Open(":memory:", fc)
	if err != nil {
		panic(err)
	}
	memInjector := service.NewMemoryInjector(&fakeMemorySearcher{}, 5, 0.1, 0.35)

	ctxBuilder := service.NewContextBuilder(0)
	promptBuilder := service.NewPromptBuilder()

	taskRouter := service.NewTaskRouter(true, rules, []string{"factual"}, nil)

	gen := &fakeGenerator{resp: service.GenerateResponse{Text: "Compress the kick with a fast attack [1]."}}
	genClient := service.NewGenerationClient([]service.Provider{
		{ID: "fast", Gen: gen, Stream: gen, Breaker: breaker.New(breaker.Config{FailureThreshold: 3, Cooldown: 30 * time.Second, Clock: fc})},
	})

	orch := service.NewAskOrchestrator(rl, respCache, expander, embedder, hybrid, reranker, confGate, memInjector, ctxBuilder, promptBuilder, taskRouter, genClient, fc, 3, 3, 0.58)

	return &testDeps{orch: orch, dense: dense, gen: gen, memory: memStore, embedder: embedder, embed: fe, fc: fc}
}

func chunkAt(id, path string, denseScore float64, rank int) model.RetrievedChunk {
	return model.RetrievedChunk{
		Chunk:      model.Chunk{ID: id, SourcePath: path, SourceName: path, Text: "content of " + id, TokenEnd: 10},
		DenseScore: denseScore,
		Rank:       rank,
	}
}
