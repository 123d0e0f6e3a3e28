package pipeline

import "testing"

func TestStateHappyPath(t *testing.T) {
	st := NewState(3)
	if st.Phase != PhaseGenerating || st.Attempt != 1 {
		t.Fatalf("initial state = %+v", st)
	}

	st = st.Generated()
	if st.Phase != PhaseValidating {
		t.Fatalf("after Generated: %v", st.Phase)
	}
	st = st.Validated(true, "")
	if st.Phase != PhaseExecuting {
		t.Fatalf("after Validated: %v", st.Phase)
	}
	st = st.Executed(true, "")
	if st.Phase != PhaseTesting {
		t.Fatalf("after Executed: %v", st.Phase)
	}
	st = st.Tested(true, "")
	if st.Phase != PhaseAnalyzing {
		t.Fatalf("after Tested: %v", st.Phase)
	}
	st = st.Analyzed()
	if st.Phase != PhaseSucceeded || !st.Terminal() {
		t.Fatalf("after Analyzed: %+v", st)
	}
	if st.Attempt != 1 {
		t.Errorf("attempt advanced on a clean run: %d", st.Attempt)
	}
}

func TestStateRetryCarriesFeedback(t *testing.T) {
	st := NewState(3).Generated()
	st = st.Validated(false, "import of forbidden module")

	if st.Phase != PhaseGenerating {
		t.Fatalf("phase = %v, want generating", st.Phase)
	}
	if st.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", st.Attempt)
	}
	if st.Feedback != "import of forbidden module" {
		t.Errorf("feedback = %q", st.Feedback)
	}

	// Feedback clears once the next candidate exists.
	st = st.Generated()
	if st.Feedback != "" {
		t.Errorf("feedback survived Generated: %q", st.Feedback)
	}
}

func TestStateExhaustionFails(t *testing.T) {
	st := NewState(2)

	st = st.Generated().Validated(false, "v1")
	if st.Terminal() {
		t.Fatal("failed with attempts remaining")
	}
	st = st.Generated().Validated(false, "v2")
	if st.Phase != PhaseFailed {
		t.Fatalf("phase = %v, want failed", st.Phase)
	}
	if st.Reason == "" {
		t.Error("terminal failure has no reason")
	}
}

func TestStateTestFailureRetries(t *testing.T) {
	st := NewState(3).Generated().Validated(true, "").Executed(true, "")
	st = st.Tested(false, "case_1: expected 10, got 5")

	if st.Phase != PhaseGenerating || st.Attempt != 2 {
		t.Fatalf("state = %+v", st)
	}
	if st.Feedback != "case_1: expected 10, got 5" {
		t.Errorf("feedback = %q", st.Feedback)
	}
}

func TestStateCancelled(t *testing.T) {
	st := NewState(3).Generated().Validated(true, "").Cancelled()
	if st.Phase != PhaseFailed || st.Reason != "cancelled" {
		t.Fatalf("state = %+v", st)
	}
}

func TestStateTransitionsDoNotMutate(t *testing.T) {
	st := NewState(3)
	_ = st.Generated().Validated(false, "x")
	if st.Phase != PhaseGenerating || st.Attempt != 1 || st.Feedback != "" {
		t.Fatalf("receiver mutated: %+v", st)
	}
}

func TestNewStateClampsAttempts(t *testing.T) {
	if st := NewState(0); st.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", st.MaxAttempts)
	}
}
