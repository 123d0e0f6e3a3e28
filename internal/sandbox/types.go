package sandbox

import (
	"context"
	"encoding/json"
	"time"
)

// Status classifies how an execution ended.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusRuntimeError     Status = "runtime_error"
	StatusTimeout          Status = "timeout"
	StatusMemoryExceeded   Status = "memory_exceeded"
	StatusSecurityRejected Status = "security_rejected"
)

// Request describes one candidate execution. Context holds the variable
// bindings injected into the candidate's scope.
type Request struct {
	Fingerprint string         `json:"fingerprint"`
	Code        string         `json:"code"`
	Context     map[string]any `json:"context,omitempty"`
	Timeout     time.Duration  `json:"timeout"`
	Limits      ResourceLimits `json:"limits"`
}

// Result is the outcome of one execution. ReturnValue carries the JSON
// encoding of the candidate's `result` binding; it travels on its own
// channel, never mixed into stdout or stderr.
type Result struct {
	ID           string          `json:"id"`
	Status       Status          `json:"status"`
	ReturnValue  json.RawMessage `json:"return_value,omitempty"`
	Stdout       string          `json:"stdout,omitempty"`
	Stderr       string          `json:"stderr,omitempty"`
	ErrorType    string          `json:"error_type,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Duration     time.Duration   `json:"duration"`
	Cached       bool            `json:"cached"`
	Events       []SecurityEvent `json:"events,omitempty"`
}

// SecurityEvent records something suspicious observed during execution.
type SecurityEvent struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// Runner executes vetted candidates in isolation. Implementations must kill
// the child and return within timeout plus bounded teardown.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
	Close() error
}

const (
	maxStdoutBytes = 1 << 20    // 1MB
	maxStderrBytes = 256 * 1024 // 256KB
	maxCodeBytes   = 1 << 20
)

func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [output truncated]"
}
