package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/kraklabs/tonebase-ask/internal/service"
)

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint.
// Registered as generation tier "fast": it leads the factual chain and is
// a fallback in the creative and realtime chains.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator creates an OpenAIGenerator. apiKey is read by the
// caller from the environment/secret store; it is never logged.
func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Generate satisfies service.Generator.
func (o *OpenAIGenerator) Generate(ctx context.Context, req service.GenerateRequest) (service.GenerateResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return service.GenerateResponse{}, fmt.Errorf("provider.OpenAIGenerator.Generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return service.GenerateResponse{}, fmt.Errorf("provider.OpenAIGenerator.Generate: empty response from model")
	}

	return service.GenerateResponse{
		Text: resp.Choices[0].Message.Content,
		Usage: service.GenerationUsage{
			Model:        o.model,
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// GenerateStream satisfies service.StreamingGenerator using the
// server-sent-events chat completions stream.
func (o *OpenAIGenerator) GenerateStream(ctx context.Context, req service.GenerateRequest, out chan<- service.StreamEvent) error {
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	var full []byte
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full = append(full, delta...)
		select {
		case out <- service.StreamEvent{Type: service.StreamEventChunk, Text: delta}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("provider.OpenAIGenerator.GenerateStream: %w", err)
	}

	select {
	case out <- service.StreamEvent{Type: service.StreamEventDone, Final: service.GenerateResponse{Text: string(full), Usage: service.GenerationUsage{Model: o.model}}}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
