package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kraklabs/tonebase-ask/internal/service"
)

// askRequestBody is the POST /ask and POST /ask/stream wire format.
type askRequestBody struct {
	Query               string  `json:"query"`
	SessionID           string  `json:"session_id"`
	TopK                int     `json:"top_k"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	Temperature         float64 `json:"temperature"`
	MaxTokens           int     `json:"max_tokens"`
}

func (b askRequestBody) toAskRequest() service.AskRequest {
	return service.AskRequest{
		SessionID:           b.SessionID,
		Query:               b.Query,
		TopK:                b.TopK,
		ConfidenceThreshold: b.ConfidenceThreshold,
		Temperature:         b.Temperature,
		MaxTokens:           b.MaxTokens,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error string `json:"error"`
}

// statusForAskError maps a hard-failure error from AskOrchestrator.Ask to
// the HTTP status spec §6 reserves for it.
func statusForAskError(err error) int {
	switch {
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusServiceUnavailable
	}
}

// Ask returns a handler for POST /ask: the unary ask pipeline.
func Ask(orch *service.AskOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body askRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "invalid request body"})
			return
		}
		if body.Query == "" {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "query is required"})
			return
		}
		if body.SessionID == "" {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "session_id is required"})
			return
		}

		env, err := orch.Ask(r.Context(), body.toAskRequest())
		if err != nil {
			slog.Error("ask failed", "session_id", body.SessionID, "error", err)
			writeJSON(w, statusForAskError(err), apiError{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, env)
	}
}
