package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kraklabs/tonebase-ask/internal/model"
	"github.com/kraklabs/tonebase-ask/internal/service"
)

type searchRequestBody struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	TopK      int    `json:"top_k"`
}

type searchResultItem struct {
	ChunkID      string  `json:"chunkId"`
	SourcePath   string  `json:"sourcePath"`
	SourceName   string  `json:"sourceName"`
	PageNumber   *int    `json:"pageNumber,omitempty"`
	Text         string  `json:"text"`
	Rank         int     `json:"rank"`
	Score        float64 `json:"score"`
	DenseScore   float64 `json:"denseScore,omitempty"`
	LexicalScore float64 `json:"lexicalScore,omitempty"`
}

type searchResponseBody struct {
	Results []searchResultItem `json:"results"`
	Meta    searchMeta         `json:"meta"`
}

type searchMeta struct {
	EmbeddingMs int64 `json:"embeddingMs"`
	SearchMs    int64 `json:"searchMs"`
	RerankMs    int64 `json:"rerankMs"`
}

// Search returns a handler for POST /search: retrieval and reranking
// without generation, exposing per-candidate dense/lexical scores when the
// debug query flag is set.
func Search(orch *service.AskOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body searchRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "invalid request body"})
			return
		}
		if body.Query == "" || body.SessionID == "" {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "query and session_id are required"})
			return
		}

		debug := r.URL.Query().Get("debug") == "true"

		result, err := orch.Search(r.Context(), body.SessionID, body.Query, body.TopK)
		if err != nil {
			slog.Error("search failed", "session_id", body.SessionID, "error", err)
			writeJSON(w, statusForAskError(err), apiError{Error: err.Error()})
			return
		}

		resp := searchResponseBody{
			Results: toSearchResults(result.Chunks, debug),
			Meta: searchMeta{
				EmbeddingMs: result.EmbeddingMs,
				SearchMs:    result.SearchMs,
				RerankMs:    result.RerankMs,
			},
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func toSearchResults(chunks []model.RetrievedChunk, debug bool) []searchResultItem {
	out := make([]searchResultItem, 0, len(chunks))
	for _, c := range chunks {
		item := searchResultItem{
			ChunkID:    c.Chunk.ID,
			SourcePath: c.Chunk.SourcePath,
			SourceName: c.Chunk.SourceName,
			PageNumber: c.Chunk.PageNumber,
			Text:       c.Chunk.Text,
			Rank:       c.Rank,
			Score:      c.Score,
		}
		if debug {
			item.DenseScore = c.DenseScore
			item.LexicalScore = c.LexicalScore
		}
		out = append(out, item)
	}
	return out
}
