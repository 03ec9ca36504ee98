// Package config loads ask-service configuration from environment variables
// plus a YAML side-file for the larger tables (routing tiers, expansion
// vocabularies) that don't fit comfortably as env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Immutable after Load returns.
type Config struct {
	Port        int
	Environment string
	DatabaseURL string

	EmbeddingDim      int
	EmbeddingProvider string // "vertex" (default)

	EmbeddingCacheMaxSize int
	EmbeddingCacheTTL     time.Duration

	ResponseCacheBackend string // "memory" (default) or "redis"
	ResponseCacheMaxSize int
	ResponseCacheTTL     time.Duration
	RedisURL             string

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	RateLimitMaxRequests int
	RateLimitWindow      time.Duration

	SearchTopKDefault   int
	SearchKPoolMultiplier int

	RerankMaxPerDocument int
	RerankCourseBoost    float64
	RerankFilenameBoost  float64
	RerankMMRLambda      float64

	ConfidenceThreshold float64

	RoutingEnabled bool

	MemoryDecayLambdaPerDay float64
	MemoryTriggerThreshold  float64
	MemoryTopK              int
	MemoryDBPath            string

	VertexProject  string
	VertexLocation string
	VertexModel    string

	OpenAIAPIKey string
	OpenAIModel  string

	AnthropicAPIKey string
	AnthropicModel  string

	// RulesPath points at the YAML file holding tier signals, fallback
	// chains, and query expansion vocabularies (see Rules).
	RulesPath string
}

// Rules holds the tables spec Design Notes §9 says belong in configuration,
// not code: task-routing signals/chains and query-expansion vocabularies.
type Rules struct {
	Tiers      map[string]TierRule   `yaml:"tiers"`
	Expansions map[string][]string   `yaml:"expansions"`
	Intents    []IntentGroup         `yaml:"intents"`
	Authority  []string              `yaml:"authority_path_substrings"`
	Filenames  map[string][]string   `yaml:"filename_boost_keywords"`
}

// TierRule is one TaskRouter tier's signal keywords and provider fallback
// chain.
type TierRule struct {
	Signals []string `yaml:"signals"`
	Chain   []string `yaml:"chain"`
}

// IntentGroup is one QueryExpander intent: a tag plus the ordered keyword
// list whose first match selects it.
type IntentGroup struct {
	Tag      string   `yaml:"tag"`
	Keywords []string `yaml:"keywords"`
}

// Load reads configuration from the environment. DATABASE_URL is required
// whenever a Postgres-backed retrieval index is in use; it is validated by
// the caller that wires the retrieval index, not here, so Load works for
// the HNSW standalone path too.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),
		DatabaseURL: envStr("DATABASE_URL", ""),

		EmbeddingDim:      envInt("EMBEDDING_DIM", 1536),
		EmbeddingProvider: envStr("EMBEDDING_PROVIDER", "vertex"),

		EmbeddingCacheMaxSize: envInt("EMBEDDING_CACHE_MAX_SIZE", 5000),
		EmbeddingCacheTTL:     envSeconds("EMBEDDING_CACHE_TTL_SECONDS", 3600),

		ResponseCacheBackend: envStr("RESPONSE_CACHE_BACKEND", "memory"),
		ResponseCacheMaxSize: envInt("RESPONSE_CACHE_MAX_SIZE", 2000),
		ResponseCacheTTL:     envSeconds("RESPONSE_CACHE_TTL_SECONDS", 300),
		RedisURL:             envStr("REDIS_URL", "redis://localhost:6379/0"),

		BreakerFailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 3),
		BreakerCooldown:         envSeconds("BREAKER_COOLDOWN_SECONDS", 30),

		RateLimitMaxRequests: envInt("RATE_LIMIT_MAX_REQUESTS", 30),
		RateLimitWindow:      envSeconds("RATE_LIMIT_WINDOW_SECONDS", 60),

		SearchTopKDefault:     envInt("SEARCH_TOP_K_DEFAULT", 8),
		SearchKPoolMultiplier: envInt("SEARCH_K_POOL_MULTIPLIER", 3),

		RerankMaxPerDocument: envInt("RERANK_MAX_PER_DOCUMENT", 1),
		RerankCourseBoost:    envFloat("RERANK_COURSE_BOOST", 1.25),
		RerankFilenameBoost:  envFloat("RERANK_FILENAME_BOOST", 1.20),
		RerankMMRLambda:      envFloat("RERANK_MMR_LAMBDA", 0.7),

		ConfidenceThreshold: envFloat("CONFIDENCE_THRESHOLD", 0.58),

		RoutingEnabled: envBool("ROUTING_ENABLED", true),

		MemoryDecayLambdaPerDay: envFloat("MEMORY_DECAY_LAMBDA_PER_DAY", 0.1),
		MemoryTriggerThreshold:  envFloat("MEMORY_TRIGGER_THRESHOLD", 0.35),
		MemoryTopK:              envInt("MEMORY_TOP_K", 5),
		MemoryDBPath:            envStr("MEMORY_DB_PATH", "./data/memory.db"),

		VertexProject:  envStr("VERTEX_PROJECT", ""),
		VertexLocation: envStr("VERTEX_LOCATION", "us-east4"),
		VertexModel:    envStr("VERTEX_MODEL", "gemini-3-pro-preview"),

		OpenAIAPIKey: envStr("OPENAI_API_KEY", ""),
		OpenAIModel:  envStr("OPENAI_MODEL", "gpt-4.1-mini"),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),

		RulesPath: envStr("RULES_PATH", "./config/rules.yaml"),
	}

	if cfg.Environment != "development" && cfg.ResponseCacheBackend == "redis" && os.Getenv("REDIS_URL") == "" {
		return nil, fmt.Errorf("config.Load: REDIS_URL is required when RESPONSE_CACHE_BACKEND=redis")
	}

	return cfg, nil
}

// LoadRules reads the YAML rules file at path.
func LoadRules(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadRules: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("config.LoadRules: %w", err)
	}
	return &r, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(envInt(key, fallbackSeconds)) * time.Second
}
