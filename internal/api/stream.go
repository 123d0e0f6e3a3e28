package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/pipeline"
)

// HandleGenerateStream runs the pipeline and emits one "attempt" SSE event
// per completed attempt, then a "done" event with the full result.
func (h *Handlers) HandleGenerateStream(w http.ResponseWriter, r *http.Request) {
	task, ok := h.decodeTask(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	res, err := h.orch.RunObserved(r.Context(), task, func(a pipeline.Attempt) {
		sendSSE(w, flusher, "attempt", toAttemptSummary(a))
	})
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("streaming run failed")
		sendSSE(w, flusher, "error", map[string]string{"error": err.Error()})
		return
	}

	sendSSE(w, flusher, "done", toResponse(res))
}

// sendSSE marshals the payload and emits it as one event. Each line of a
// multi-line payload gets its own "data:" prefix so embedded newlines cannot
// forge event boundaries.
func sendSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to encode SSE payload")
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
	flusher.Flush()
}
