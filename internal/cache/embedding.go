// Package cache provides bounded, TTL-bearing caches for the ask pipeline:
// embeddings keyed by text fingerprint, and full response envelopes keyed
// by normalized query parameters. Both use hashicorp/golang-lru for the
// bounded-size/recency part (the teacher's hand-rolled maps had TTL but no
// size bound) and add expire-on-read on top. Only the embedding cache also
// has a periodic sweep; the in-memory response cache expires on read only.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kraklabs/tonebase-ask/internal/clock"
)

type embeddingEntry struct {
	vector     []float32
	insertedAt time.Time
}

// EmbeddingCache is a bounded LRU+TTL map from text fingerprint to vector.
// Safe for concurrent use.
type EmbeddingCache struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, embeddingEntry]
	ttl   time.Duration
	clock clock.Clock
}

// NewEmbeddingCache creates an EmbeddingCache bounded to maxSize entries,
// each valid for ttl after insertion.
func NewEmbeddingCache(maxSize int, ttl time.Duration, c clock.Clock) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if c == nil {
		c = clock.Real{}
	}
	l, _ := lru.New[string, embeddingEntry](maxSize)
	return &EmbeddingCache{lru: l, ttl: ttl, clock: c}
}

// Fingerprint returns the cache key for text: a digest of the trimmed,
// lowercased text. This is only used for the cache key — the embedder
// itself is called with the original, non-lowercased text.
func Fingerprint(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for key, or (nil, false) on miss or
// expiry. An expired entry is evicted on read.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(entry.insertedAt) > c.ttl {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.vector, true
}

// Put inserts or refreshes a cached vector. Eviction of the least
// recently used entry happens automatically once the cache is at
// capacity.
func (c *EmbeddingCache) Put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, embeddingEntry{vector: vector, insertedAt: c.clock.Now()})
}

// EvictExpired sweeps the cache for expired entries and returns the
// number removed. Intended to be called periodically in the background.
func (c *EmbeddingCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if c.clock.Now().Sub(entry.insertedAt) > c.ttl {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Clear empties the cache.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Size returns the current number of entries (including not-yet-swept
// expired ones).
func (c *EmbeddingCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// RunSweeper starts a goroutine that calls EvictExpired every interval
// until stop is closed.
func (c *EmbeddingCache) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.EvictExpired()
			case <-stop:
				return
			}
		}
	}()
}
