package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kraklabs/tonebase-ask/internal/handler"
	"github.com/kraklabs/tonebase-ask/internal/memory"
	"github.com/kraklabs/tonebase-ask/internal/middleware"
	"github.com/kraklabs/tonebase-ask/internal/service"
)

// Dependencies holds every injected service the router wires into handlers.
type Dependencies struct {
	DB          handler.DBPinger
	FrontendURL string
	Version     string

	Orchestrator *service.AskOrchestrator
	MemoryStore  *memory.Store
	Embedder     *service.EmbeddingClient
}

// New creates and configures the Chi router with every route.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))

	r.Get("/api/health", handler.Health(deps.DB, deps.Version))

	timeout30s := middleware.Timeout(30 * time.Second)

	r.With(timeout30s).Post("/api/ask", handler.Ask(deps.Orchestrator))
	// Ask/stream is SSE: no write timeout, the context deadline that
	// handler.AskStream sets bounds the call instead.
	r.Post("/api/ask/stream", handler.AskStream(deps.Orchestrator))
	r.With(timeout30s).Post("/api/search", handler.Search(deps.Orchestrator))

	r.With(timeout30s).Post("/api/memory", handler.MemoryWrite(deps.MemoryStore, deps.Embedder))
	r.With(timeout30s).Get("/api/memory", handler.MemoryList(deps.MemoryStore))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "route not found",
		})
	})

	return r
}
