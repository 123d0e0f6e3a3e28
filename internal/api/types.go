package api

import (
	"encoding/json"

	"codegen-pipeline/internal/analysis"
	"codegen-pipeline/internal/pipeline"
	"codegen-pipeline/internal/security"
)

// GenerateRequest asks the pipeline to produce working code for a task.
type GenerateRequest struct {
	TaskDescription string              `json:"task_description"`
	Language        string              `json:"language,omitempty"`
	InputExample    map[string]any      `json:"input_example,omitempty"`
	ExpectedOutput  json.RawMessage     `json:"expected_output,omitempty"`
	TestCases       []pipeline.TestCase `json:"test_cases,omitempty"`
	MaxAttempts     int                 `json:"max_attempts,omitempty"`
}

// TestResults is the caller-facing aggregate for one attempt's test run.
type TestResults struct {
	Total     int                    `json:"total"`
	Passed    int                    `json:"passed"`
	Failed    int                    `json:"failed"`
	AllPassed bool                   `json:"all_passed"`
	Failures  []pipeline.TestFailure `json:"failures,omitempty"`
}

// ComplexitySummary is the caller-facing complexity report.
type ComplexitySummary struct {
	Rating      string                            `json:"rating"`
	Score       float64                           `json:"score"`
	Metrics     map[string]int                    `json:"metrics"`
	Suggestions []analysis.OptimizationSuggestion `json:"suggestions,omitempty"`
}

// ValidationSummary reports which gates the returned candidate cleared.
type ValidationSummary struct {
	SyntaxValid   bool `json:"syntax_valid"`
	SecurityValid bool `json:"security_valid"`
	TestsPassed   bool `json:"tests_passed"`
}

// AttemptSummary is one attempt as exposed to callers. Sandbox stdout/stderr
// and raw tracebacks stay internal; only the classified error travels out.
type AttemptSummary struct {
	Index           int                  `json:"index"`
	Code            string               `json:"code"`
	SyntaxError     string               `json:"syntax_error,omitempty"`
	Violations      []security.Violation `json:"violations,omitempty"`
	ExecutionStatus string               `json:"execution_status,omitempty"`
	ErrorType       string               `json:"error_type,omitempty"`
	DurationMS      int64                `json:"duration_ms,omitempty"`
	Cached          bool                 `json:"cached,omitempty"`
	Tests           *TestResults         `json:"tests,omitempty"`
	Feedback        string               `json:"feedback,omitempty"`
}

// GenerateResponse is the serialized pipeline result.
type GenerateResponse struct {
	ID          string             `json:"id"`
	Success     bool               `json:"success"`
	Code        string             `json:"code"`
	Language    string             `json:"language"`
	Reason      string             `json:"reason,omitempty"`
	TestResults *TestResults       `json:"test_results,omitempty"`
	Complexity  *ComplexitySummary `json:"complexity,omitempty"`
	Validation  ValidationSummary  `json:"validation"`
	Attempts    []AttemptSummary   `json:"attempts"`
	DurationMS  int64              `json:"duration_ms"`
}

// CacheStatsResponse is the cache admin view.
type CacheStatsResponse struct {
	TotalCached   int64   `json:"total_cached"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	HitRate       float64 `json:"hit_rate"`
}

// CacheClearRequest selects which entries to purge. Omitting the cutoff
// clears everything.
type CacheClearRequest struct {
	OlderThanHours *float64 `json:"older_than_hours,omitempty"`
}

// CacheClearResponse reports how many entries a purge removed.
type CacheClearResponse struct {
	EntriesDeleted int64 `json:"entries_deleted"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Cache    bool   `json:"cache"`
	Uptime   string `json:"uptime"`
}
