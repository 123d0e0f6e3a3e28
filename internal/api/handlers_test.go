package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codegen-pipeline/internal/cache"
	"codegen-pipeline/internal/config"
	"codegen-pipeline/internal/generator"
	"codegen-pipeline/internal/pipeline"
	"codegen-pipeline/internal/runtime"
	"codegen-pipeline/internal/sandbox"
	"codegen-pipeline/internal/security"
)

// stubRunner returns a scripted result for any code.
type stubRunner struct {
	result *sandbox.Result
}

func (s *stubRunner) Run(context.Context, sandbox.Request) (*sandbox.Result, error) {
	out := *s.result
	return &out, nil
}

func (s *stubRunner) Close() error { return nil }

func testServer(t *testing.T, cfg *config.Config, code string, result *sandbox.Result, store cache.Store) *Server {
	t.Helper()
	gen := generator.Func(func(_ context.Context, req generator.Request) (*generator.Candidate, error) {
		return &generator.Candidate{Code: code, Attempt: req.Attempt}, nil
	})
	orch := pipeline.New(cfg, gen, security.NewValidator(security.DenyList{}),
		&stubRunner{result: result}, store,
		runtime.NewRegistry("python3", "python:3.12-alpine"))
	return NewServer(cfg, orch, store, nil, nil)
}

func successResult(value string) *sandbox.Result {
	return &sandbox.Result{
		ID:          "exec",
		Status:      sandbox.StatusSuccess,
		ReturnValue: json.RawMessage(value),
		Duration:    5 * time.Millisecond,
	}
}

func generateBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(GenerateRequest{
		TaskDescription: "double the nested value",
		Language:        "python",
		InputExample: map[string]any{
			"items": []any{map[string]any{"json": map[string]any{"value": 5}}},
		},
		ExpectedOutput: json.RawMessage("10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(body)
}

func TestHandleGenerate(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := testServer(t, cfg, "result = items[0]['json']['value'] * 2", successResult("10"), cache.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/generate", generateBody(t))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no request id header")
	}

	var resp GenerateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("success = false, reason %q", resp.Reason)
	}
	if resp.TestResults == nil || !resp.TestResults.AllPassed {
		t.Errorf("test_results = %+v", resp.TestResults)
	}
	if resp.Complexity == nil || resp.Complexity.Rating == "" {
		t.Errorf("complexity = %+v", resp.Complexity)
	}
	if !resp.Validation.SecurityValid || !resp.Validation.TestsPassed {
		t.Errorf("validation = %+v", resp.Validation)
	}
	if len(resp.Attempts) != 1 {
		t.Errorf("attempts = %d", len(resp.Attempts))
	}
}

func TestHandleGenerateRejectsBadRequests(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := testServer(t, cfg, "result = 1", successResult("1"), nil)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing description", `{"language":"python"}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}

func TestHandleGenerateGeneratorDown(t *testing.T) {
	cfg := config.DefaultConfig()
	gen := generator.Func(func(context.Context, generator.Request) (*generator.Candidate, error) {
		return nil, generator.ErrUnavailable
	})
	orch := pipeline.New(cfg, gen, security.NewValidator(security.DenyList{}),
		&stubRunner{result: successResult("1")}, nil,
		runtime.NewRegistry("python3", "python:3.12-alpine"))
	srv := NewServer(cfg, orch, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/generate", generateBody(t))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHandleGenerateStream(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := testServer(t, cfg, "result = items[0]['json']['value'] * 2", successResult("10"), nil)

	req := httptest.NewRequest(http.MethodPost, "/generate/stream", generateBody(t))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(body, "event: attempt") {
		t.Error("no attempt event in stream")
	}
	if !strings.Contains(body, "event: done") {
		t.Error("no done event in stream")
	}
}

func TestHandleCacheStatsAndClear(t *testing.T) {
	cfg := config.DefaultConfig()
	store := cache.NewMemoryStore()
	_ = store.Put(context.Background(), "fp", successResult("1"), time.Hour)
	srv := testServer(t, cfg, "result = 1", successResult("1"), store)

	req := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats CacheStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalCached != 1 {
		t.Errorf("total_cached = %d", stats.TotalCached)
	}

	req = httptest.NewRequest(http.MethodPost, "/cache/clear", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d, body %s", rec.Code, rec.Body.String())
	}
	var cleared CacheClearResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cleared); err != nil {
		t.Fatal(err)
	}
	if cleared.EntriesDeleted != 1 {
		t.Errorf("entries_deleted = %d", cleared.EntriesDeleted)
	}
}

func TestHandleCacheClearValidation(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := testServer(t, cfg, "result = 1", successResult("1"), cache.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/cache/clear", strings.NewReader(`{"older_than_hours": -1}`))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRunsWithoutDatabase(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := testServer(t, cfg, "result = 1", successResult("1"), nil)

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := testServer(t, cfg, "result = 1", successResult("1"), cache.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || !resp.Cache {
		t.Errorf("health = %+v", resp)
	}
}

func TestAuthRequired(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Security.AllowedKeys = []string{"secret-key"}
	srv := testServer(t, cfg, "result = items[0]['json']['value'] * 2", successResult("10"), nil)

	req := httptest.NewRequest(http.MethodPost, "/generate", generateBody(t))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/generate", generateBody(t))
	req.Header.Set("X-API-Key", "secret-key")
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}
