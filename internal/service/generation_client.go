package service

import (
	"context"
	"fmt"

	"github.com/kraklabs/tonebase-ask/internal/breaker"
	"github.com/kraklabs/tonebase-ask/internal/model"
)

// GenerateRequest is the provider-agnostic generation request built by
// PromptBuilder and routed by TaskRouter.
type GenerateRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// GenerationUsage carries token accounting and the model identifier that
// actually served a request.
type GenerationUsage struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// GenerateResponse is the result of one unary generation call.
type GenerateResponse struct {
	Text  string
	Usage GenerationUsage
}

// StreamEventType enumerates the SSE event kinds emitted in partial order
// step* -> sources -> chunk* -> done|error.
type StreamEventType string

const (
	StreamEventStep    StreamEventType = "step"
	StreamEventSources StreamEventType = "sources"
	StreamEventChunk   StreamEventType = "chunk"
	StreamEventDone    StreamEventType = "done"
	StreamEventError   StreamEventType = "error"
)

// StreamEvent is one event on a generation stream. Only the field matching
// Type is meaningful. Envelope is populated only on the orchestrator-level
// done event (the provider-level done that precedes it carries Final
// instead); HTTP boundaries serialize Envelope directly as the done
// payload's data.
type StreamEvent struct {
	Type     StreamEventType
	Step     string
	Text     string // chunk payload
	Final    GenerateResponse
	Sources  []model.SourceRef // set only on the sources event
	Envelope *model.Envelope   // set only on the orchestrator-level done event
	Err      error
}

// Generator is the minimal unary generation capability a provider exposes.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// StreamingGenerator is the streaming analog. Implementations must emit
// chunk* events to out followed by exactly one done event and then return,
// honoring ctx cancellation by aborting the remote call and stopping
// emission (already-sent events are not retracted). out is never closed by
// GenerateStream; the caller owns its lifecycle.
type StreamingGenerator interface {
	GenerateStream(ctx context.Context, req GenerateRequest, out chan<- StreamEvent) error
}

// Provider pairs a named generation backend with its own circuit breaker,
// per spec §4.2 ("Breakers are per-dependency").
type Provider struct {
	ID      string
	Gen     Generator
	Stream  StreamingGenerator // nil if the provider does not support streaming
	Breaker *breaker.Breaker
}

// GenerationClient walks a tier's fallback chain of providers, trying each
// in order until one succeeds, using each provider's own breaker so an
// open breaker costs no remote call.
type GenerationClient struct {
	providers map[string]Provider
}

// NewGenerationClient indexes providers by ID. At least two providers
// should be registered for the realtime fallback story to hold.
func NewGenerationClient(providers []Provider) *GenerationClient {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.ID] = p
	}
	return &GenerationClient{providers: m}
}

// Generate walks chain in order (pick(i) -> dispatch(i) -> {ok, retry(i+1),
// exhausted}) and returns the first successful response along with the
// provider ID that served it. If every provider in chain fails or is
// missing, it returns ErrGenerationUnavailable.
func (c *GenerationClient) Generate(ctx context.Context, chain []string, req GenerateRequest) (GenerateResponse, string, error) {
	for _, id := range chain {
		p, ok := c.providers[id]
		if !ok {
			continue
		}

		var resp GenerateResponse
		callErr := p.Breaker.Call(ctx, breaker.DefaultIsFailure, func(ctx context.Context) error {
			var err error
			resp, err = p.Gen.Generate(ctx, req)
			return err
		})
		if callErr == nil {
			resp.Usage.Model = id
			return resp, id, nil
		}
	}
	return GenerateResponse{}, "", fmt.Errorf("service.GenerationClient.Generate: %w", ErrGenerationUnavailable)
}

// GenerateStream walks chain the same way as Generate but dispatches to
// the first provider that both succeeds its breaker check and supports
// streaming. Events are forwarded to out as the provider emits them; out
// is never closed by GenerateStream (the caller owns its lifecycle).
func (c *GenerationClient) GenerateStream(ctx context.Context, chain []string, req GenerateRequest, out chan<- StreamEvent) (string, error) {
	for _, id := range chain {
		p, ok := c.providers[id]
		if !ok || p.Stream == nil {
			continue
		}

		callErr := p.Breaker.Call(ctx, breaker.DefaultIsFailure, func(ctx context.Context) error {
			return p.Stream.GenerateStream(ctx, req, out)
		})
		if callErr == nil {
			return id, nil
		}
	}
	return "", fmt.Errorf("service.GenerationClient.GenerateStream: %w", ErrGenerationUnavailable)
}
