package storage

import "time"

// Run is one stored pipeline run.
type Run struct {
	ID              string     `json:"id" db:"id"`
	Language        string     `json:"language" db:"language"`
	Success         bool       `json:"success" db:"success"`
	Reason          string     `json:"reason,omitempty" db:"reason"`
	Code            string     `json:"code,omitempty" db:"code"`
	CodeHash        string     `json:"code_hash" db:"code_hash"`
	AttemptCount    int        `json:"attempt_count" db:"attempt_count"`
	TestsTotal      int        `json:"tests_total" db:"tests_total"`
	TestsPassed     int        `json:"tests_passed" db:"tests_passed"`
	ComplexityScore float64    `json:"complexity_score" db:"complexity_score"`
	ComplexityTier  string     `json:"complexity_rating,omitempty" db:"complexity_rating"`
	DurationMS      int64      `json:"duration_ms" db:"duration_ms"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// AttemptRecord is one generate/validate/execute/test cycle within a run.
type AttemptRecord struct {
	ID          string    `json:"id" db:"id"`
	RunID       string    `json:"run_id" db:"run_id"`
	Index       int       `json:"index" db:"attempt_index"`
	Outcome     string    `json:"outcome" db:"outcome"` // passed, syntax_error, security_rejected, execution_failed, tests_failed
	CodeHash    string    `json:"code_hash" db:"code_hash"`
	Violations  int       `json:"violations" db:"violations"`
	ExecStatus  string    `json:"exec_status,omitempty" db:"exec_status"`
	TestsTotal  int       `json:"tests_total" db:"tests_total"`
	TestsPassed int       `json:"tests_passed" db:"tests_passed"`
	Feedback    string    `json:"feedback,omitempty" db:"feedback"`
	DurationMS  int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RunFilter provides criteria for querying runs.
type RunFilter struct {
	Language string
	Success  *bool
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}
