package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/cache"
	"codegen-pipeline/internal/generator"
	"codegen-pipeline/internal/pipeline"
	"codegen-pipeline/internal/storage"
)

type Handlers struct {
	orch  *pipeline.Orchestrator
	store cache.Store
	db    *storage.DB
}

func NewHandlers(orch *pipeline.Orchestrator, store cache.Store, db *storage.DB) *Handlers {
	return &Handlers{
		orch:  orch,
		store: store,
		db:    db,
	}
}

func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	task, ok := h.decodeTask(w, r)
	if !ok {
		return
	}

	res, err := h.orch.Run(r.Context(), task)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidTask):
			writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		case errors.Is(err, generator.ErrUnavailable):
			writeError(w, "code generator unavailable", "GENERATOR_UNAVAILABLE", http.StatusBadGateway, r)
		default:
			log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("pipeline run failed")
			writeError(w, "pipeline run failed", "INTERNAL", http.StatusInternalServerError, r)
		}
		return
	}

	writeJSON(w, http.StatusOK, toResponse(res))
}

func (h *Handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, "cache not configured", "CACHE_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeError(w, "cache stats unavailable", "CACHE_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	writeJSON(w, http.StatusOK, CacheStatsResponse{
		TotalCached:   stats.TotalCached,
		Hits:          stats.Hits,
		Misses:        stats.Misses,
		AvgDurationMS: stats.AvgDurationMS,
		HitRate:       stats.HitRate,
	})
}

func (h *Handlers) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, "cache not configured", "CACHE_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	var req CacheClearRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
	}

	var olderThan time.Duration
	if req.OlderThanHours != nil {
		if *req.OlderThanHours < 0 {
			writeError(w, "older_than_hours must be >= 0", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		olderThan = time.Duration(*req.OlderThanHours * float64(time.Hour))
	}

	deleted, err := h.store.Clear(r.Context(), olderThan)
	if err != nil {
		writeError(w, "cache clear failed", "CACHE_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	log.Info().Int64("deleted", deleted).Dur("older_than", olderThan).Msg("cache cleared")
	writeJSON(w, http.StatusOK, CacheClearResponse{EntriesDeleted: deleted})
}

func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "run ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	run, attempts, err := h.db.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, "run not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"run": run, "attempts": attempts})
}

func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.RunFilter{
		Language: r.URL.Query().Get("language"),
		Limit:    100,
	}
	switch r.URL.Query().Get("success") {
	case "true":
		t := true
		filter.Success = &t
	case "false":
		f := false
		filter.Success = &f
	}

	runs, err := h.db.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (h *Handlers) decodeTask(w http.ResponseWriter, r *http.Request) (pipeline.Task, bool) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return pipeline.Task{}, false
	}
	if req.TaskDescription == "" {
		writeError(w, "task_description is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return pipeline.Task{}, false
	}

	return pipeline.Task{
		Description: req.TaskDescription,
		Language:    req.Language,
		Context:     req.InputExample,
		Expected:    req.ExpectedOutput,
		TestCases:   req.TestCases,
		MaxAttempts: req.MaxAttempts,
	}, true
}

func toResponse(res *pipeline.Result) GenerateResponse {
	resp := GenerateResponse{
		ID:       res.ID,
		Success:  res.Success,
		Code:     res.Code,
		Language: res.Language,
		Reason:   res.Reason,
		Validation: ValidationSummary{
			SyntaxValid:   res.Validation.SyntaxValid,
			SecurityValid: res.Validation.SecurityValid,
			TestsPassed:   res.Validation.TestsPassed,
		},
		TestResults: toTestResults(res.Tests),
		DurationMS:  res.Duration.Milliseconds(),
		Attempts:    make([]AttemptSummary, 0, len(res.Attempts)),
	}

	if res.Complexity != nil {
		resp.Complexity = &ComplexitySummary{
			Rating:      res.Complexity.Rating,
			Score:       res.Complexity.Score,
			Metrics:     res.Complexity.Metrics,
			Suggestions: res.Complexity.Suggestions,
		}
	}

	for _, a := range res.Attempts {
		resp.Attempts = append(resp.Attempts, toAttemptSummary(a))
	}
	return resp
}

func toAttemptSummary(a pipeline.Attempt) AttemptSummary {
	s := AttemptSummary{
		Index:       a.Index,
		Code:        a.Code,
		SyntaxError: a.SyntaxError,
		Tests:       toTestResults(a.Tests),
		Feedback:    a.Feedback,
	}
	if a.Verdict != nil {
		s.Violations = a.Verdict.Violations
	}
	if a.Execution != nil {
		s.ExecutionStatus = string(a.Execution.Status)
		s.ErrorType = a.Execution.ErrorType
		s.DurationMS = a.Execution.Duration.Milliseconds()
		s.Cached = a.Execution.Cached
	}
	return s
}

func toTestResults(r *pipeline.TestReport) *TestResults {
	if r == nil {
		return nil
	}
	return &TestResults{
		Total:     r.Total,
		Passed:    r.Passed,
		Failed:    r.Failed,
		AllPassed: r.AllPassed(),
		Failures:  r.Failures,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
