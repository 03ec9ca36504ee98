package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/kraklabs/tonebase-ask/internal/memory"
	"github.com/kraklabs/tonebase-ask/internal/model"
	"github.com/kraklabs/tonebase-ask/internal/service"
)

type memoryWriteBody struct {
	SessionID string `json:"session_id"`
	Type      string `json:"memory_type"`
	Content   string `json:"content"`
}

type memoryEntryResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Type      string `json:"memoryType"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

func toMemoryEntryResponse(e model.MemoryEntry) memoryEntryResponse {
	return memoryEntryResponse{
		ID:        e.ID,
		SessionID: e.SessionID,
		Type:      string(e.Type),
		Content:   e.Content,
		CreatedAt: e.CreatedAt.Unix(),
	}
}

// MemoryWrite returns a handler for POST /memory: embeds and stores a new
// per-session memory entry.
func MemoryWrite(store *memory.Store, embedder *service.EmbeddingClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body memoryWriteBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "invalid request body"})
			return
		}
		if body.SessionID == "" || body.Content == "" {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "session_id and content are required"})
			return
		}
		memType := model.MemoryType(body.Type)
		switch memType {
		case model.MemoryPractice, model.MemoryPreference, model.MemoryAchievement, model.MemoryContext:
		default:
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "memory_type must be one of practice, preference, achievement, context"})
			return
		}

		vec, err := embedder.EmbedOne(r.Context(), body.Content)
		if err != nil {
			slog.Error("memory embed failed", "session_id", body.SessionID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, apiError{Error: err.Error()})
			return
		}

		entry := model.MemoryEntry{
			ID:        uuid.NewString(),
			SessionID: body.SessionID,
			Type:      memType,
			Content:   body.Content,
			Embedding: vec,
		}
		if err := store.Add(r.Context(), entry); err != nil {
			slog.Error("memory write failed", "session_id", body.SessionID, "error", err)
			writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, toMemoryEntryResponse(entry))
	}
}

// MemoryList returns a handler for GET /memory?session_id=: lists every
// memory for a session, most recent first.
func MemoryList(store *memory.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "session_id is required"})
			return
		}

		entries, err := store.List(r.Context(), sessionID)
		if err != nil {
			slog.Error("memory list failed", "session_id", sessionID, "error", err)
			writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
			return
		}

		out := make([]memoryEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, toMemoryEntryResponse(e))
		}
		writeJSON(w, http.StatusOK, out)
	}
}
