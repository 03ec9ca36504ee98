package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kraklabs/tonebase-ask/internal/breaker"
	"github.com/kraklabs/tonebase-ask/internal/clock"
)

type fakeGenerator struct {
	resp      GenerateResponse
	err       error
	callCount int
}

func (f *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	f.callCount++
	return f.resp, f.err
}

// GenerateStream satisfies StreamingGenerator by emitting the whole
// response text as a single chunk, then a done event carrying it.
func (f *fakeGenerator) GenerateStream(ctx context.Context, req GenerateRequest, out chan<- StreamEvent) error {
	f.callCount++
	if f.err != nil {
		return f.err
	}
	select {
	case out <- StreamEvent{Type: StreamEventChunk, Text: f.resp.Text}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case out <- StreamEvent{Type: StreamEventDone, Final: f.resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func newBreaker(fc clock.Clock) *breaker.Breaker {
	return breaker.New(breaker.Config{FailureThreshold: 1, Cooldown: 30 * time.Second, Clock: fc})
}

func TestGenerationClient_FirstProviderSucceeds(t *testing.T) {
	fc := clock.NewFake(time.Now())
	c := NewGenerationClient([]Provider{
		{ID: "fast", Gen: &fakeGenerator{resp: GenerateResponse{Text: "hi"}}, Breaker: newBreaker(fc)},
		{ID: "standard", Gen: &fakeGenerator{resp: GenerateResponse{Text: "slow"}}, Breaker: newBreaker(fc)},
	})

	resp, id, err := c.Generate(context.Background(), []string{"fast", "standard"}, GenerateRequest{User: "q"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if id != "fast" || resp.Text != "hi" {
		t.Fatalf("got (%q, %q), want (fast, hi)", id, resp.Text)
	}
}

func TestGenerationClient_FallsThroughOnFailure(t *testing.T) {
	fc := clock.NewFake(time.Now())
	c := NewGenerationClient([]Provider{
		{ID: "fast", Gen: &fakeGenerator{err: errors.New("boom")}, Breaker: newBreaker(fc)},
		{ID: "standard", Gen: &fakeGenerator{resp: GenerateResponse{Text: "ok"}}, Breaker: newBreaker(fc)},
	})

	resp, id, err := c.Generate(context.Background(), []string{"fast", "standard"}, GenerateRequest{User: "q"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if id != "standard" || resp.Text != "ok" {
		t.Fatalf("got (%q, %q), want (standard, ok)", id, resp.Text)
	}
}

func TestGenerationClient_AllProvidersExhaustedReturnsGenerationUnavailable(t *testing.T) {
	fc := clock.NewFake(time.Now())
	c := NewGenerationClient([]Provider{
		{ID: "fast", Gen: &fakeGenerator{err: errors.New("boom")}, Breaker: newBreaker(fc)},
		{ID: "standard", Gen: &fakeGenerator{err: errors.New("boom")}, Breaker: newBreaker(fc)},
	})

	_, _, err := c.Generate(context.Background(), []string{"fast", "standard"}, GenerateRequest{User: "q"})
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("err = %v, want ErrGenerationUnavailable", err)
	}
}

func TestGenerationClient_OpenBreakerSkipsWithoutRemoteCall(t *testing.T) {
	fc := clock.NewFake(time.Now())
	fastBreaker := newBreaker(fc)
	// Trip the breaker with one failure (threshold 1).
	fastBreaker.Call(context.Background(), nil, func(ctx context.Context) error { return errors.New("boom") })

	calls := 0
	fastGen := &fakeGenerator{resp: GenerateResponse{Text: "should not be reached"}}
	c := NewGenerationClient([]Provider{
		{ID: "fast", Gen: countingGenerator{fakeGenerator: fastGen, calls: &calls}, Breaker: fastBreaker},
		{ID: "standard", Gen: &fakeGenerator{resp: GenerateResponse{Text: "ok"}}, Breaker: newBreaker(fc)},
	})

	resp, id, err := c.Generate(context.Background(), []string{"fast", "standard"}, GenerateRequest{User: "q"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if id != "standard" || resp.Text != "ok" {
		t.Fatalf("got (%q, %q), want (standard, ok)", id, resp.Text)
	}
	if calls != 0 {
		t.Fatalf("expected open breaker to skip the remote call entirely, got %d calls", calls)
	}
}

type countingGenerator struct {
	*fakeGenerator
	calls *int
}

func (c countingGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	*c.calls++
	return c.fakeGenerator.Generate(ctx, req)
}
