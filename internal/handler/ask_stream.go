package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kraklabs/tonebase-ask/internal/service"
)

// sendEvent writes one SSE frame and flushes it immediately so the client
// sees it without waiting for the response buffer to fill.
func sendEvent(w http.ResponseWriter, f http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	f.Flush()
}

// AskStream returns a handler for POST /ask/stream: the SSE analog of Ask,
// emitting step* -> sources -> chunk* -> done|error per §4.13.
func AskStream(orch *service.AskOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body askRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "invalid request body"})
			return
		}
		if body.Query == "" || body.SessionID == "" {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "query and session_id are required"})
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
		defer cancel()

		events := make(chan service.StreamEvent)
		errCh := make(chan error, 1)
		go func() {
			errCh <- orch.AskStream(ctx, body.toAskRequest(), events)
			close(events)
		}()

		for ev := range events {
			switch ev.Type {
			case service.StreamEventStep:
				sendEvent(w, flusher, "step", mustJSON(map[string]string{"step": ev.Step}))
			case service.StreamEventSources:
				sendEvent(w, flusher, "sources", mustJSON(ev.Sources))
			case service.StreamEventChunk:
				sendEvent(w, flusher, "chunk", mustJSON(map[string]string{"text": ev.Text}))
			case service.StreamEventDone:
				sendEvent(w, flusher, "done", mustJSON(ev.Envelope))
			case service.StreamEventError:
				sendEvent(w, flusher, "error", mustJSON(apiError{Error: ev.Err.Error()}))
			}
		}

		if err := <-errCh; err != nil {
			slog.Error("ask stream failed", "session_id", body.SessionID, "error", err)
		}
	}
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
