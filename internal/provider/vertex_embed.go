// Package provider implements the remote embedding and generation adapters
// the core consumes through the narrow service.Embedder / service.Generator
// / service.StreamingGenerator interfaces.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/google"
)

// VertexEmbedder calls the Vertex AI text embedding REST API with
// RETRIEVAL_QUERY task type, the asymmetric embedding mode tuned for
// search queries rather than stored documents.
type VertexEmbedder struct {
	project  string
	location string
	model    string
	client   *http.Client
}

// NewVertexEmbedder creates a VertexEmbedder using application default
// credentials.
func NewVertexEmbedder(ctx context.Context, project, location, model string) (*VertexEmbedder, error) {
	client, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("provider.NewVertexEmbedder: %w", err)
	}
	return &VertexEmbedder{project: project, location: location, model: model, client: client}, nil
}

type vertexEmbedRequest struct {
	Instances []vertexEmbedInstance `json:"instances"`
}

type vertexEmbedInstance struct {
	Content  string `json:"content"`
	TaskType string `json:"task_type"`
}

type vertexEmbedResponse struct {
	Predictions []struct {
		Embeddings struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	} `json:"predictions"`
}

// Embed satisfies service.Embedder: one query-task-type embedding call per
// batch of texts.
func (v *VertexEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	instances := make([]vertexEmbedInstance, len(texts))
	for i, t := range texts {
		instances[i] = vertexEmbedInstance{Content: t, TaskType: "RETRIEVAL_QUERY"}
	}

	body, err := json.Marshal(vertexEmbedRequest{Instances: instances})
	if err != nil {
		return nil, fmt.Errorf("provider.VertexEmbedder.Embed: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider.VertexEmbedder.Embed: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider.VertexEmbedder.Embed: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("provider.VertexEmbedder.Embed: status %d: %s", resp.StatusCode, respBody)
	}

	var parsed vertexEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("provider.VertexEmbedder.Embed: decode: %w", err)
	}
	if len(parsed.Predictions) != len(texts) {
		return nil, fmt.Errorf("provider.VertexEmbedder.Embed: got %d predictions for %d inputs", len(parsed.Predictions), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, p := range parsed.Predictions {
		out[i] = p.Embeddings.Values
	}
	return out, nil
}

func (v *VertexEmbedder) endpoint() string {
	if v.location == "global" {
		return fmt.Sprintf(
			"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:predict",
			v.project, v.model,
		)
	}
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		v.location, v.project, v.location, v.model,
	)
}
