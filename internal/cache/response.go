package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kraklabs/tonebase-ask/internal/clock"
	"github.com/kraklabs/tonebase-ask/internal/model"
)

// ResponseCache caches whole answer envelopes keyed by (session,
// normalized query, top_k, confidence_threshold, model_tier). A hit here
// short-circuits the entire ask pipeline after rate limiting, so Get/Set
// must be cheap and the TTL short relative to how quickly the corpus
// changes underneath it.
type ResponseCache interface {
	Get(ctx context.Context, sessionID, query string, topK int, confidenceThreshold float64, tier string) (*model.Envelope, bool)
	Set(ctx context.Context, sessionID, query string, topK int, confidenceThreshold float64, tier string, env *model.Envelope)
	InvalidateSession(ctx context.Context, sessionID string)
	Close() error
}

// ResponseKey builds the deterministic cache key for one (session, query,
// top_k, confidence_threshold, model_tier) tuple, per spec.md §3's
// response-cache key definition. genre_filter/sub_domain_filter are part
// of that definition but have no corresponding field on AskRequest in
// this implementation, so they are omitted here rather than hashed as
// always-empty placeholders.
func ResponseKey(sessionID, query string, topK int, confidenceThreshold float64, tier string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	input := fmt.Sprintf("%s:%d:%.4f:%s", normalized, topK, confidenceThreshold, tier)
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%s:%s", sessionID, hex.EncodeToString(sum[:16]))
}

type responseEntry struct {
	env        *model.Envelope
	insertedAt time.Time
}

// MemoryResponseCache is a bounded in-process LRU+TTL ResponseCache,
// the default backend. Safe for concurrent use.
type MemoryResponseCache struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, responseEntry]
	bySes map[string]map[string]struct{}
	ttl   time.Duration
	clock clock.Clock
}

// NewMemoryResponseCache creates a MemoryResponseCache bounded to maxSize
// entries, each valid for ttl after insertion.
func NewMemoryResponseCache(maxSize int, ttl time.Duration, c clock.Clock) *MemoryResponseCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if c == nil {
		c = clock.Real{}
	}
	mc := &MemoryResponseCache{ttl: ttl, clock: c, bySes: make(map[string]map[string]struct{})}
	l, _ := lru.NewWithEvict[string, responseEntry](maxSize, func(key string, _ responseEntry) {
		mc.forgetKeyLocked(key)
	})
	mc.lru = l
	return mc
}

func (c *MemoryResponseCache) Get(_ context.Context, sessionID, query string, topK int, confidenceThreshold float64, tier string) (*model.Envelope, bool) {
	key := ResponseKey(sessionID, query, topK, confidenceThreshold, tier)

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
	return entry.env, true
}

func (c *MemoryResponseCache) Set(_ context.Context, sessionID, query string, topK int, confidenceThreshold float64, tier string, env *model.Envelope) {
	key := ResponseKey(sessionID, query, topK, confidenceThreshold, tier)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, responseEntry{env: env, insertedAt: c.clock.Now()})
	set, ok := c.bySes[sessionID]
	if !ok {
		set = make(map[string]struct{})
		c.bySes[sessionID] = set
	}
	set[key] = struct{}{}
}

// InvalidateSession drops every cached answer belonging to sessionID. Used
// when a memory write changes what a future answer for that session should
// look like.
func (c *MemoryResponseCache) InvalidateSession(_ context.Context, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.bySes[sessionID] {
		c.lru.Remove(key)
	}
	delete(c.bySes, sessionID)
}

func (c *MemoryResponseCache) Close() error { return nil }

// forgetKeyLocked removes key from the session index on eviction. Caller
// must hold mu (called synchronously from within lru.Add via the eviction
// callback, which golang-lru invokes under its own lock, not c.mu — so this
// only touches bySes, never c.lru, to avoid deadlock).
func (c *MemoryResponseCache) forgetKeyLocked(key string) {
	for sessionID, set := range c.bySes {
		if _, ok := set[key]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(c.bySes, sessionID)
			}
		}
	}
}

// RedisResponseCache is a ResponseCache backed by Redis, selected via
// response_cache.backend = "redis" so multiple ask-service replicas share
// one cache.
type RedisResponseCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisResponseCache wraps an existing *redis.Client.
func NewRedisResponseCache(rdb *redis.Client, ttl time.Duration) *RedisResponseCache {
	return &RedisResponseCache{rdb: rdb, ttl: ttl}
}

func (c *RedisResponseCache) Get(ctx context.Context, sessionID, query string, topK int, confidenceThreshold float64, tier string) (*model.Envelope, bool) {
	key := "ask:resp:" + ResponseKey(sessionID, query, topK, confidenceThreshold, tier)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	return &env, true
}

func (c *RedisResponseCache) Set(ctx context.Context, sessionID, query string, topK int, confidenceThreshold float64, tier string, env *model.Envelope) {
	key := "ask:resp:" + ResponseKey(sessionID, query, topK, confidenceThreshold, tier)
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, key, raw, c.ttl)
	c.rdb.SAdd(ctx, "ask:resp:sessions:"+sessionID, key)
	c.rdb.Expire(ctx, "ask:resp:sessions:"+sessionID, c.ttl)
}

func (c *RedisResponseCache) InvalidateSession(ctx context.Context, sessionID string) {
	setKey := "ask:resp:sessions:" + sessionID
	keys, err := c.rdb.SMembers(ctx, setKey).Result()
	if err != nil || len(keys) == 0 {
		c.rdb.Del(ctx, setKey)
		return
	}
	c.rdb.Del(ctx, append(keys, setKey)...)
}

func (c *RedisResponseCache) Close() error {
	return c.rdb.Close()
}
