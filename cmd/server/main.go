package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kraklabs/tonebase-ask/internal/breaker"
	"github.com/kraklabs/tonebase-ask/internal/cache"
	"github.com/kraklabs/tonebase-ask/internal/clock"
	"github.com/kraklabs/tonebase-ask/internal/config"
	"github.com/kraklabs/tonebase-ask/internal/memory"
	"github.com/kraklabs/tonebase-ask/internal/provider"
	"github.com/kraklabs/tonebase-ask/internal/retrieval"
	"github.com/kraklabs/tonebase-ask/internal/router"
	"github.com/kraklabs/tonebase-ask/internal/service"
)

const Version = "0.1.0"

// contextChunkBudget bounds how many characters of retrieved-chunk text
// ContextBuilder packs into one prompt.
const contextChunkBudget = 12000

// chunkTable is the Postgres table dense and lexical searchers read from.
const chunkTable = "chunks"

// taskTierOrder fixes tie-breaking across tiers when more than one tier's
// signals match a query equally (map iteration order is not stable).
var taskTierOrder = []string{"realtime", "creative", "factual"}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("main: %w", err)
	}
	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("main: %w", err)
	}
	realClock := clock.Real{}

	// --- Retrieval backends ---
	var dense retrieval.DenseSearcher
	var lexical retrieval.LexicalSearcher
	var dbPinger interface {
		Ping(ctx context.Context) error
	}
	scorer := service.NewBM25Scorer(service.DefaultBM25Params)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("main: connect postgres: %w", err)
		}
		defer pool.Close()
		dense = retrieval.NewPgvectorSearcher(pool, chunkTable)
		lexical = retrieval.NewPgLexicalSearcher(pool, chunkTable, scorer)
		dbPinger = pool
	} else {
		slog.Warn("DATABASE_URL not set, falling back to in-process HNSW index (standalone mode, empty until a loader populates it)")
		standalone := retrieval.NewHNSWSearcher()
		dense = standalone
		lexical = retrieval.NewMemoryLexicalSearcher(standalone, scorer)
	}

	// --- Embedding provider ---
	embedder, err := provider.NewVertexEmbedder(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.VertexModel)
	if err != nil {
		return fmt.Errorf("main: vertex embedder: %w", err)
	}
	embeddingBreaker := breaker.New(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
		Clock:            realClock,
	})
	embeddingCache := cache.NewEmbeddingCache(cfg.EmbeddingCacheMaxSize, cfg.EmbeddingCacheTTL, realClock)
	embeddingClient := service.NewEmbeddingClient(embedder, embeddingCache, embeddingBreaker, cfg.EmbeddingDim)

	// --- Generation providers. "local" names the in-region Vertex
	// deployment (cheapest round trip for the realtime tier), "fast" is
	// OpenAI's small model, "standard" is Anthropic's frontier model for
	// the creative tier. A provider whose API key/project is unset is
	// skipped rather than registered broken. ---
	var providers []service.Provider
	if cfg.VertexProject != "" {
		vertexGen, err := provider.NewVertexGenerator(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.VertexModel)
		if err != nil {
			slog.Warn("vertex generator unavailable", "error", err)
		} else {
			providers = append(providers, service.Provider{
				ID:      "local",
				Gen:     vertexGen,
				Stream:  vertexGen,
				Breaker: breaker.New(breaker.Config{FailureThreshold: cfg.BreakerFailureThreshold, Cooldown: cfg.BreakerCooldown, Clock: realClock}),
			})
		}
	}
	if cfg.OpenAIAPIKey != "" {
		openaiGen := provider.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		providers = append(providers, service.Provider{
			ID:      "fast",
			Gen:     openaiGen,
			Stream:  openaiGen,
			Breaker: breaker.New(breaker.Config{FailureThreshold: cfg.BreakerFailureThreshold, Cooldown: cfg.BreakerCooldown, Clock: realClock}),
		})
	}
	if cfg.AnthropicAPIKey != "" {
		anthropicGen := provider.NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		providers = append(providers, service.Provider{
			ID:      "standard",
			Gen:     anthropicGen,
			Stream:  anthropicGen,
			Breaker: breaker.New(breaker.Config{FailureThreshold: cfg.BreakerFailureThreshold, Cooldown: cfg.BreakerCooldown, Clock: realClock}),
		})
	}
	if len(providers) == 0 {
		return fmt.Errorf("main: no generation provider configured (set VERTEX_PROJECT, OPENAI_API_KEY, or ANTHROPIC_API_KEY)")
	}
	generationClient := service.NewGenerationClient(providers)

	// --- Response cache ---
	var responseCache cache.ResponseCache
	if cfg.ResponseCacheBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.RedisURL)})
		responseCache = cache.NewRedisResponseCache(rdb, cfg.ResponseCacheTTL)
	} else {
		responseCache = cache.NewMemoryResponseCache(cfg.ResponseCacheMaxSize, cfg.ResponseCacheTTL, realClock)
	}
	defer responseCache.Close()

	// --- Memory store ---
	memStore, err := memory.Open(cfg.MemoryDBPath, realClock)
	if err != nil {
		return fmt.Errorf("main: %w", err)
	}
	defer memStore.Close()
	memoryInjector := service.NewMemoryInjector(memStore, cfg.MemoryTopK, cfg.MemoryDecayLambdaPerDay, cfg.MemoryTriggerThreshold)

	// --- Pipeline stages ---
	rateLimiter := service.NewRateLimiter(service.RateLimiterConfig{
		MaxRequests: cfg.RateLimitMaxRequests,
		Window:      cfg.RateLimitWindow,
	}, realClock)
	expander := service.NewQueryExpander(rules)
	hybrid := service.NewHybridSearch(dense, lexical, service.DefaultRRFConfig)
	reranker := service.NewReranker(service.RerankerConfig{
		MaxPerDocument:   cfg.RerankMaxPerDocument,
		CourseBoost:      cfg.RerankCourseBoost,
		FilenameBoost:    cfg.RerankFilenameBoost,
		MMRLambda:        cfg.RerankMMRLambda,
		AuthoritySubstr:  rules.Authority,
		FilenameKeywords: rules.Filenames,
	})
	confidenceGate := service.NewConfidenceGate(cfg.ConfidenceThreshold)
	contextBuilder := service.NewContextBuilder(contextChunkBudget)
	promptBuilder := service.NewPromptBuilder()
	taskRouter := service.NewTaskRouter(cfg.RoutingEnabled, rules, taskTierOrder, []string{"local", "fast", "standard"})

	orchestrator := service.NewAskOrchestrator(
		rateLimiter,
		responseCache,
		expander,
		embeddingClient,
		hybrid,
		reranker,
		confidenceGate,
		memoryInjector,
		contextBuilder,
		promptBuilder,
		taskRouter,
		generationClient,
		realClock,
		cfg.SearchTopKDefault,
		cfg.SearchKPoolMultiplier,
		cfg.ConfidenceThreshold,
	)

	mux := router.New(&router.Dependencies{
		DB:           dbPinger,
		FrontendURL:  os.Getenv("FRONTEND_URL"),
		Version:      Version,
		Orchestrator: orchestrator,
		MemoryStore:  memStore,
		Embedder:     embeddingClient,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams outlive a fixed write timeout; bounded by request context instead
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tonebase-ask starting", "version", Version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// redisAddr extracts host:port from a redis:// URL; go-redis's Options.Addr
// wants the bare address, not the scheme or trailing db-index path.
func redisAddr(redisURL string) string {
	addr := strings.TrimPrefix(redisURL, "redis://")
	if idx := strings.IndexByte(addr, '/'); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
