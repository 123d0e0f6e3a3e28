// Package generator defines the code-generation collaborator the pipeline
// asks for candidate source. The pipeline owns retries; a generator is called
// once per attempt and either returns a candidate or fails.
package generator

import (
	"context"
	"errors"
)

// ErrUnavailable means the collaborator could not be reached or returned a
// server-side failure. The pipeline cannot make progress without candidates,
// so this fails the run rather than the attempt.
var ErrUnavailable = errors.New("generator unavailable")

// Request is one candidate request. Feedback carries the failure summary from
// the previous attempt and is empty on the first one.
type Request struct {
	Task     string `json:"task"`
	Language string `json:"language"`
	Feedback string `json:"feedback,omitempty"`
	Attempt  int    `json:"attempt"`
}

// Candidate is generated source for one attempt.
type Candidate struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Attempt  int    `json:"-"`
}

// Generator produces a candidate for a task description.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Candidate, error)
}

// Func adapts a function to the Generator interface. Tests use this to script
// attempt sequences.
type Func func(ctx context.Context, req Request) (*Candidate, error)

func (f Func) Generate(ctx context.Context, req Request) (*Candidate, error) {
	return f(ctx, req)
}
