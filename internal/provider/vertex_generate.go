package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"

	"github.com/kraklabs/tonebase-ask/internal/service"
)

// VertexGenerator calls the Vertex AI Gemini generateContent REST endpoint.
// Only the REST path is implemented (global and regional endpoints, see
// endpoint): the regional Go SDK
// path is a pure transport swap the embedding adapter already covers, and
// carrying both here would duplicate the request/response shapes for no
// behavioral difference.
type VertexGenerator struct {
	project  string
	location string
	model    string
	client   *http.Client
}

// NewVertexGenerator creates a VertexGenerator using application default
// credentials.
func NewVertexGenerator(ctx context.Context, project, location, model string) (*VertexGenerator, error) {
	client, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("provider.NewVertexGenerator: %w", err)
	}
	return &VertexGenerator{project: project, location: location, model: model, client: client}, nil
}

type vertexGenRequest struct {
	Contents          []vertexGenContent     `json:"contents"`
	SystemInstruction *vertexGenContent      `json:"systemInstruction,omitempty"`
	GenerationConfig  *vertexGenerationConfig `json:"generationConfig,omitempty"`
}

type vertexGenContent struct {
	Role  string          `json:"role"`
	Parts []vertexGenPart `json:"parts"`
}

type vertexGenPart struct {
	Text string `json:"text"`
}

type vertexGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type vertexGenResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func buildVertexRequest(req service.GenerateRequest) vertexGenRequest {
	body := vertexGenRequest{
		Contents: []vertexGenContent{
			{Role: "user", Parts: []vertexGenPart{{Text: req.User}}},
		},
	}
	if req.System != "" {
		body.SystemInstruction = &vertexGenContent{Role: "user", Parts: []vertexGenPart{{Text: req.System}}}
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		cfg := &vertexGenerationConfig{}
		if req.Temperature > 0 {
			cfg.Temperature = &req.Temperature
		}
		if req.MaxTokens > 0 {
			cfg.MaxOutputTokens = &req.MaxTokens
		}
		body.GenerationConfig = cfg
	}
	return body
}

// Generate satisfies service.Generator.
func (v *VertexGenerator) Generate(ctx context.Context, req service.GenerateRequest) (service.GenerateResponse, error) {
	bodyBytes, err := json.Marshal(buildVertexRequest(req))
	if err != nil {
		return service.GenerateResponse{}, fmt.Errorf("provider.VertexGenerator.Generate: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint("generateContent"), bytes.NewReader(bodyBytes))
	if err != nil {
		return service.GenerateResponse{}, fmt.Errorf("provider.VertexGenerator.Generate: request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return service.GenerateResponse{}, fmt.Errorf("provider.VertexGenerator.Generate: call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return service.GenerateResponse{}, fmt.Errorf("provider.VertexGenerator.Generate: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return service.GenerateResponse{}, fmt.Errorf("provider.VertexGenerator.Generate: status %d: %s", resp.StatusCode, respBody)
	}

	var parsed vertexGenResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return service.GenerateResponse{}, fmt.Errorf("provider.VertexGenerator.Generate: decode: %w", err)
	}
	if parsed.Error != nil {
		return service.GenerateResponse{}, fmt.Errorf("provider.VertexGenerator.Generate: API error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return service.GenerateResponse{}, fmt.Errorf("provider.VertexGenerator.Generate: empty response from model")
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	return service.GenerateResponse{
		Text: sb.String(),
		Usage: service.GenerationUsage{
			Model:        v.model,
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

// GenerateStream satisfies service.StreamingGenerator via the
// streamGenerateContent?alt=sse endpoint.
func (v *VertexGenerator) GenerateStream(ctx context.Context, req service.GenerateRequest, out chan<- service.StreamEvent) error {
	bodyBytes, err := json.Marshal(buildVertexRequest(req))
	if err != nil {
		return fmt.Errorf("provider.VertexGenerator.GenerateStream: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint("streamGenerateContent")+"?alt=sse", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("provider.VertexGenerator.GenerateStream: request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("provider.VertexGenerator.GenerateStream: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider.VertexGenerator.GenerateStream: status %d: %s", resp.StatusCode, body)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var chunk vertexGenResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text == "" {
					continue
				}
				full.WriteString(part.Text)
				select {
				case out <- service.StreamEvent{Type: service.StreamEventChunk, Text: part.Text}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("provider.VertexGenerator.GenerateStream: %w", err)
	}

	select {
	case out <- service.StreamEvent{Type: service.StreamEventDone, Final: service.GenerateResponse{Text: full.String(), Usage: service.GenerationUsage{Model: v.model}}}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (v *VertexGenerator) endpoint(method string) string {
	if v.location == "global" {
		return fmt.Sprintf(
			"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:%s",
			v.project, v.model, method,
		)
	}
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		v.location, v.project, v.location, v.model, method,
	)
}
