package pipeline

// Phase is one step of the generation state machine.
type Phase string

const (
	PhaseGenerating Phase = "generating"
	PhaseValidating Phase = "validating"
	PhaseExecuting  Phase = "executing"
	PhaseTesting    Phase = "testing"
	PhaseAnalyzing  Phase = "analyzing_complexity"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// State is an immutable snapshot of one run's progress. Transition methods
// return a new value and never mutate the receiver, so the machine can be
// exercised without a generator or sandbox behind it.
type State struct {
	Phase       Phase
	Attempt     int // 1-based
	MaxAttempts int
	Feedback    string // carried into the next generation
	Reason      string // terminal failure reason
}

// NewState starts a run at its first generation.
func NewState(maxAttempts int) State {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return State{Phase: PhaseGenerating, Attempt: 1, MaxAttempts: maxAttempts}
}

// Terminal reports whether the run is finished.
func (s State) Terminal() bool {
	return s.Phase == PhaseSucceeded || s.Phase == PhaseFailed
}

// Generated moves a fresh candidate into validation.
func (s State) Generated() State {
	s.Phase = PhaseValidating
	s.Feedback = ""
	return s
}

// Validated applies the security verdict. A rejection retries with the
// violations as feedback, or fails once attempts are exhausted.
func (s State) Validated(allowed bool, feedback string) State {
	if allowed {
		s.Phase = PhaseExecuting
		return s
	}
	return s.retry(feedback, "security validation rejected all candidates")
}

// Executed applies the sandbox outcome. A failed execution retries with the
// error as feedback.
func (s State) Executed(ok bool, feedback string) State {
	if ok {
		s.Phase = PhaseTesting
		return s
	}
	return s.retry(feedback, "execution failed on all candidates")
}

// Tested applies the test report. Passing moves to complexity analysis.
func (s State) Tested(passed bool, feedback string) State {
	if passed {
		s.Phase = PhaseAnalyzing
		return s
	}
	return s.retry(feedback, "tests failed on all candidates")
}

// Analyzed finishes a passing run.
func (s State) Analyzed() State {
	s.Phase = PhaseSucceeded
	return s
}

// Cancelled terminates the run on external cancellation.
func (s State) Cancelled() State {
	s.Phase = PhaseFailed
	s.Reason = "cancelled"
	return s
}

// Aborted terminates the run on a pipeline-level failure no retry can fix.
func (s State) Aborted(reason string) State {
	s.Phase = PhaseFailed
	s.Reason = reason
	return s
}

func (s State) retry(feedback, exhaustedReason string) State {
	if s.Attempt < s.MaxAttempts {
		s.Phase = PhaseGenerating
		s.Attempt++
		s.Feedback = feedback
		return s
	}
	s.Phase = PhaseFailed
	s.Reason = exhaustedReason
	return s
}
