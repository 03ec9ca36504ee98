package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kraklabs/tonebase-ask/internal/service"
)

// AnthropicGenerator calls the Anthropic messages API. Registered as
// generation tier "standard": it leads the creative chain and is the last
// fallback in the factual and realtime chains.
type AnthropicGenerator struct {
	client anthropic.Client
	model  string
}

// NewAnthropicGenerator creates an AnthropicGenerator. apiKey is read by
// the caller from the environment/secret store; it is never logged.
func NewAnthropicGenerator(apiKey, model string) *AnthropicGenerator {
	return &AnthropicGenerator{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *AnthropicGenerator) maxTokens(req service.GenerateRequest) int64 {
	if req.MaxTokens > 0 {
		return int64(req.MaxTokens)
	}
	return 1024
}

// Generate satisfies service.Generator.
func (a *AnthropicGenerator) Generate(ctx context.Context, req service.GenerateRequest) (service.GenerateResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens(req),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return service.GenerateResponse{}, fmt.Errorf("provider.AnthropicGenerator.Generate: %w", err)
	}
	if len(resp.Content) == 0 {
		return service.GenerateResponse{}, fmt.Errorf("provider.AnthropicGenerator.Generate: empty response from model")
	}

	var text string
	for _, block := range resp.Content {
		if tb := block.AsAny(); tb != nil {
			if t, ok := tb.(anthropic.TextBlock); ok {
				text += t.Text
			}
		}
	}

	return service.GenerateResponse{
		Text: text,
		Usage: service.GenerationUsage{
			Model:        a.model,
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GenerateStream satisfies service.StreamingGenerator using the Anthropic
// server-sent-events message stream.
func (a *AnthropicGenerator) GenerateStream(ctx context.Context, req service.GenerateRequest, out chan<- service.StreamEvent) error {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens(req),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	var message anthropic.Message
	var full []byte
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return fmt.Errorf("provider.AnthropicGenerator.GenerateStream: accumulate: %w", err)
		}

		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		full = append(full, text.Text...)
		select {
		case out <- service.StreamEvent{Type: service.StreamEventChunk, Text: text.Text}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("provider.AnthropicGenerator.GenerateStream: %w", err)
	}

	select {
	case out <- service.StreamEvent{Type: service.StreamEventDone, Final: service.GenerateResponse{
		Text: string(full),
		Usage: service.GenerationUsage{
			Model:        a.model,
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
