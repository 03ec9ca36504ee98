package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kraklabs/tonebase-ask/internal/breaker"
	"github.com/kraklabs/tonebase-ask/internal/cache"
)

// Embedder is the remote embedding provider surface consumed by
// EmbeddingClient. A single call may embed one or many texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Typed embedding error kinds. Wrapped with fmt.Errorf so callers can
// errors.Is against these sentinels.
var (
	ErrEmbeddingUnavailable       = errors.New("embedding_unavailable")
	ErrEmbeddingDimensionMismatch = errors.New("embedding_dimension_mismatch")
	ErrEmbeddingTransient         = errors.New("embedding_transient")
)

// EmbeddingClient wraps a remote Embedder with a fingerprint cache (single
// texts only) and a circuit breaker. Produces L2-normalized vectors of a
// fixed dimension set at construction.
type EmbeddingClient struct {
	embedder Embedder
	cache    *cache.EmbeddingCache
	breaker  *breaker.Breaker
	dim      int

	lastCacheHit bool
}

// NewEmbeddingClient wires an Embedder behind a cache and breaker.
func NewEmbeddingClient(embedder Embedder, c *cache.EmbeddingCache, b *breaker.Breaker, dim int) *EmbeddingClient {
	return &EmbeddingClient{embedder: embedder, cache: c, breaker: b, dim: dim}
}

// LastCacheHit reports whether the most recent EmbedOne call was served
// from cache. Read immediately after the call; not meant for concurrent
// readers on a shared client.
func (c *EmbeddingClient) LastCacheHit() bool { return c.lastCacheHit }

// EmbedOne embeds a single piece of text, consulting the cache first.
func (c *EmbeddingClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	key := cache.Fingerprint(text)
	if v, ok := c.cache.Get(key); ok {
		c.lastCacheHit = true
		return v, nil
	}
	c.lastCacheHit = false

	var vectors [][]float32
	err := c.breaker.Call(ctx, isEmbeddingBreakerFailure, func(ctx context.Context) error {
		var embedErr error
		vectors, embedErr = c.embedder.Embed(ctx, []string{text})
		return embedErr
	})
	if err != nil {
		return nil, classifyEmbeddingError(err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("service.EmbedOne: %w: provider returned %d vectors, want 1", ErrEmbeddingTransient, len(vectors))
	}

	vec, err := l2NormalizeAndValidate(vectors[0], c.dim)
	if err != nil {
		return nil, err
	}

	c.cache.Put(key, vec)
	return vec, nil
}

// EmbedMany embeds a batch of texts in one remote call. Does not consult or
// populate the cache.
func (c *EmbeddingClient) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := c.breaker.Call(ctx, isEmbeddingBreakerFailure, func(ctx context.Context) error {
		var embedErr error
		vectors, embedErr = c.embedder.Embed(ctx, texts)
		return embedErr
	})
	if err != nil {
		return nil, classifyEmbeddingError(err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("service.EmbedMany: %w: provider returned %d vectors for %d inputs", ErrEmbeddingTransient, len(vectors), len(texts))
	}

	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		nv, err := l2NormalizeAndValidate(v, c.dim)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

func isEmbeddingBreakerFailure(err error) bool { return err != nil }

func classifyEmbeddingError(err error) error {
	if errors.Is(err, breaker.ErrOpen) {
		return fmt.Errorf("service.EmbeddingClient: %w: %v", ErrEmbeddingUnavailable, err)
	}
	return fmt.Errorf("service.EmbeddingClient: %w: %v", ErrEmbeddingTransient, err)
}

// l2Normalize returns v scaled to unit length. Zero vectors pass through
// unchanged.
func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func l2NormalizeAndValidate(v []float32, dim int) ([]float32, error) {
	if len(v) != dim {
		return nil, fmt.Errorf("service.EmbeddingClient: %w: got dim %d, want %d", ErrEmbeddingDimensionMismatch, len(v), dim)
	}
	return l2Normalize(v), nil
}
