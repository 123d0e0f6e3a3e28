package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking. Execution outcomes (timeout,
// memory kill, rejection) are states on Result, not errors; only failures of
// the runner itself surface here.
var (
	ErrBackendUnavailable = errors.New("sandbox backend unavailable")
	ErrInvalidRequest     = errors.New("invalid execution request")
)

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
