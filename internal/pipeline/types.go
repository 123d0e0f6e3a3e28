package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"codegen-pipeline/internal/analysis"
	"codegen-pipeline/internal/sandbox"
	"codegen-pipeline/internal/security"
)

// Task is one caller request: a description for the generator plus the
// inputs and expectations used to judge the candidates it produces.
type Task struct {
	Description string          `json:"task_description"`
	Language    string          `json:"language"`
	Context     map[string]any  `json:"input_example,omitempty"`
	Expected    json.RawMessage `json:"expected_output,omitempty"`
	TestCases   []TestCase      `json:"test_cases,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

// TestCase binds one input context to the return value the candidate must
// produce for it.
type TestCase struct {
	Name     string          `json:"name,omitempty"`
	Context  map[string]any  `json:"context,omitempty"`
	Expected json.RawMessage `json:"expected"`
}

// TestFailure describes one failing case, suitable for generator feedback.
type TestFailure struct {
	Name     string          `json:"name"`
	Expected json.RawMessage `json:"expected,omitempty"`
	Actual   json.RawMessage `json:"actual,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

// TestReport aggregates the outcome of all test cases for one attempt.
type TestReport struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Failures []TestFailure `json:"failures,omitempty"`
}

// AllPassed is true when no case failed. A report with zero cases passes.
func (r TestReport) AllPassed() bool {
	return r.Failed == 0
}

// PassRatio is the best-attempt ranking key.
func (r TestReport) PassRatio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total)
}

// Summary renders the failing cases as generator feedback.
func (r TestReport) Summary() string {
	if r.Failed == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		switch {
		case f.Detail != "":
			parts = append(parts, fmt.Sprintf("%s: %s", f.Name, f.Detail))
		default:
			parts = append(parts, fmt.Sprintf("%s: expected %s, got %s", f.Name, f.Expected, f.Actual))
		}
	}
	return fmt.Sprintf("%d of %d tests failed: %s", r.Failed, r.Total, strings.Join(parts, "; "))
}

// Attempt records one generate/validate/execute/test cycle.
type Attempt struct {
	Index       int               `json:"index"`
	Code        string            `json:"code"`
	SyntaxError string            `json:"syntax_error,omitempty"`
	Verdict     *security.Verdict `json:"verdict,omitempty"`
	Execution   *sandbox.Result   `json:"execution,omitempty"`
	Tests       *TestReport       `json:"tests,omitempty"`
	Complexity  *analysis.Report  `json:"complexity,omitempty"`
	Feedback    string            `json:"feedback,omitempty"`
}

// passRatio ranks attempts for best-effort selection on failure.
func (a *Attempt) passRatio() float64 {
	if a.Tests == nil {
		return 0
	}
	return a.Tests.PassRatio()
}

// Validation summarizes which gates the returned candidate cleared.
type Validation struct {
	SyntaxValid   bool `json:"syntax_valid"`
	SecurityValid bool `json:"security_valid"`
	TestsPassed   bool `json:"tests_passed"`
}

// Result is the full outcome of one pipeline run.
type Result struct {
	ID         string           `json:"id"`
	Success    bool             `json:"success"`
	Code       string           `json:"code"`
	Language   string           `json:"language"`
	Reason     string           `json:"reason,omitempty"`
	Validation Validation       `json:"validation"`
	Tests      *TestReport      `json:"test_results,omitempty"`
	Complexity *analysis.Report `json:"complexity,omitempty"`
	Attempts   []Attempt        `json:"attempts"`
	Duration   time.Duration    `json:"duration"`
}
