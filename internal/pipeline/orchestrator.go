// Package pipeline drives the bounded generate/validate/execute/test loop
// around an external code generator.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"codegen-pipeline/internal/analysis"
	"codegen-pipeline/internal/cache"
	"codegen-pipeline/internal/config"
	"codegen-pipeline/internal/generator"
	"codegen-pipeline/internal/lang"
	"codegen-pipeline/internal/monitor"
	"codegen-pipeline/internal/runtime"
	"codegen-pipeline/internal/sandbox"
	"codegen-pipeline/internal/security"
)

// ErrInvalidTask means the caller request cannot start a run.
var ErrInvalidTask = errors.New("invalid task")

// Auditor persists finished runs. Implementations must not block the run.
type Auditor interface {
	RecordRun(res *Result)
}

// AttemptObserver receives each finished attempt as it completes; the
// streaming API uses it to emit progress events.
type AttemptObserver func(Attempt)

// Orchestrator composes the validator, sandbox, cache and generator into the
// retry state machine. One Orchestrator serves many concurrent runs; all
// per-run state lives in the State value threaded through each run.
type Orchestrator struct {
	Metrics *monitor.Metrics // optional
	Tracer  *monitor.Tracer  // optional
	Auditor Auditor          // optional

	gen       generator.Generator
	validator *security.Validator
	runner    sandbox.Runner
	store     cache.Store
	runtimes  *runtime.Registry

	maxAttempts int
	execTimeout time.Duration
	limits      sandbox.ResourceLimits
	cacheTTL    time.Duration

	group singleflight.Group
}

func New(cfg *config.Config, gen generator.Generator, validator *security.Validator, runner sandbox.Runner, store cache.Store, runtimes *runtime.Registry) *Orchestrator {
	dl := cfg.Sandbox.DefaultLimits
	return &Orchestrator{
		gen:         gen,
		validator:   validator,
		runner:      runner,
		store:       store,
		runtimes:    runtimes,
		maxAttempts: cfg.Pipeline.MaxAttempts,
		execTimeout: cfg.Sandbox.DefaultTimeout,
		limits: sandbox.ResourceLimits{
			CPUShares: dl.CPUShares,
			MemoryMB:  dl.MemoryMB,
			PidsLimit: dl.PidsLimit,
			DiskMB:    dl.DiskMB,
		},
		cacheTTL: cfg.Cache.DefaultTTL,
	}
}

// Run executes one full pipeline run for the task.
func (o *Orchestrator) Run(ctx context.Context, task Task) (*Result, error) {
	return o.RunObserved(ctx, task, nil)
}

// RunObserved is Run with a per-attempt callback.
func (o *Orchestrator) RunObserved(ctx context.Context, task Task, obs AttemptObserver) (*Result, error) {
	if strings.TrimSpace(task.Description) == "" {
		return nil, fmt.Errorf("%w: empty task description", ErrInvalidTask)
	}
	if task.Language == "" {
		task.Language = "python"
	}
	rt, err := o.runtimes.Get(task.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > o.maxAttempts {
		maxAttempts = o.maxAttempts
	}

	runID := uuid.New().String()
	logger := log.With().Str("run_id", runID).Str("language", task.Language).Logger()
	start := time.Now()

	ctx, span := o.Tracer.StartSpan(ctx, "pipeline.run",
		monitor.AttrRunID.String(runID),
		monitor.AttrLanguage.String(task.Language),
	)
	defer span.End()

	st := NewState(maxAttempts)
	var attempts []Attempt

	for !st.Terminal() {
		if ctx.Err() != nil {
			st = st.Cancelled()
			break
		}

		att, mod, next, err := o.runAttempt(ctx, logger, rt, task, st)
		if err != nil {
			if ctx.Err() != nil {
				// The caller cancelled mid-generation; the generator error is
				// just the cancellation surfacing, not an outage.
				st = st.Cancelled()
				break
			}
			// Generator outage: no further progress is possible.
			res := o.finish(runID, task, st.Aborted(err.Error()), attempts, start)
			return res, err
		}
		st = next

		if st.Phase == PhaseAnalyzing {
			rep := analysis.Analyze(att.Code, mod)
			att.Complexity = &rep
			st = st.Analyzed()
		}

		attempts = append(attempts, att)
		o.Metrics.RecordAttempt(attemptOutcome(att))
		if obs != nil {
			obs(att)
		}
	}

	res := o.finish(runID, task, st, attempts, start)
	span.SetAttributes(monitor.AttrDurationMS.Int64(res.Duration.Milliseconds()))
	return res, nil
}

// runAttempt performs one generate/validate/execute/test cycle and returns
// the recorded attempt plus the state it transitioned to.
func (o *Orchestrator) runAttempt(ctx context.Context, logger zerolog.Logger, rt runtime.Runtime, task Task, st State) (Attempt, *lang.Module, State, error) {
	ctx, span := o.Tracer.StartSpan(ctx, "pipeline.attempt", monitor.AttrAttempt.Int(st.Attempt))
	defer span.End()

	att := Attempt{Index: st.Attempt}

	cand, err := o.gen.Generate(ctx, generator.Request{
		Task:     task.Description,
		Language: task.Language,
		Feedback: st.Feedback,
		Attempt:  st.Attempt,
	})
	if err != nil {
		return att, nil, st, fmt.Errorf("attempt %d: %w", st.Attempt, err)
	}
	att.Code = cand.Code
	o.Metrics.RecordCodeSize(len(cand.Code))
	st = st.Generated()

	verdict, mod, err := o.validator.ValidateSource(cand.Code)
	if err != nil {
		att.SyntaxError = err.Error()
		att.Feedback = "syntax error: " + err.Error()
		return att, nil, st.Validated(false, att.Feedback), nil
	}
	att.Verdict = &verdict
	if !verdict.Allowed {
		for _, v := range verdict.Violations {
			o.Metrics.RecordViolation(v.RuleID)
		}
		att.Feedback = "security violations: " + verdict.Summary()
		logger.Info().Int("attempt", st.Attempt).Int("violations", len(verdict.Violations)).Msg("candidate rejected")
		return att, nil, st.Validated(false, att.Feedback), nil
	}
	st = st.Validated(true, "")

	res, err := o.execute(ctx, rt, cand.Code, task.Context)
	if err != nil {
		if ctx.Err() != nil {
			return att, nil, st.Cancelled(), nil
		}
		return att, nil, st.Aborted("sandbox failure: " + err.Error()), nil
	}
	att.Execution = res
	o.Metrics.RecordExecution(task.Language, string(res.Status), res.Duration.Seconds())
	if res.Status != sandbox.StatusSuccess {
		att.Feedback = executionFeedback(res)
		logger.Info().Int("attempt", st.Attempt).Str("status", string(res.Status)).Msg("execution failed")
		return att, nil, st.Executed(false, att.Feedback), nil
	}
	st = st.Executed(true, "")

	report, err := o.runTests(ctx, rt, cand.Code, task, res)
	if err != nil {
		if ctx.Err() != nil {
			return att, nil, st.Cancelled(), nil
		}
		return att, nil, st.Aborted("sandbox failure: " + err.Error()), nil
	}
	att.Tests = &report
	if !report.AllPassed() {
		att.Feedback = report.Summary()
		logger.Info().Int("attempt", st.Attempt).Int("failed", report.Failed).Msg("tests failed")
		return att, mod, st.Tested(false, att.Feedback), nil
	}

	return att, mod, st.Tested(true, ""), nil
}

// execute runs one (code, context) pair through the cache and sandbox.
// Concurrent executions of the same fingerprint collapse into one child.
func (o *Orchestrator) execute(ctx context.Context, rt runtime.Runtime, code string, bindings map[string]any) (*sandbox.Result, error) {
	fp := Fingerprint(rt.Name(), rt.Version(ctx), code, bindings)
	span := monitor.SpanFromContext(ctx)
	span.SetAttributes(monitor.AttrFingerprint.String(fp[:12]))

	if o.store != nil {
		entry, err := o.store.Get(ctx, fp)
		if err == nil {
			o.Metrics.RecordCache(true)
			span.SetAttributes(monitor.AttrCacheHit.Bool(true))
			return entry.Result, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			return nil, err
		}
		o.Metrics.RecordCache(false)
	}

	v, err, _ := o.group.Do(fp, func() (any, error) {
		res, err := o.runner.Run(ctx, sandbox.Request{
			Fingerprint: fp,
			Code:        code,
			Context:     bindings,
			Timeout:     o.execTimeout,
			Limits:      o.limits,
		})
		if err != nil {
			return nil, err
		}
		if o.store != nil && cacheable(res.Status) {
			if perr := o.store.Put(ctx, fp, res, o.cacheTTL); perr != nil {
				log.Warn().Err(perr).Str("fingerprint", fp[:12]).Msg("caching result failed")
			}
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	// The result is shared across collapsed callers; hand out a copy.
	res := *(v.(*sandbox.Result))
	span.SetAttributes(
		monitor.AttrCacheHit.Bool(false),
		monitor.AttrExecStatus.String(string(res.Status)),
	)
	return &res, nil
}

// cacheable excludes timeouts: they can be load-induced and must not poison
// the cache for the TTL window.
func cacheable(s sandbox.Status) bool {
	return s == sandbox.StatusSuccess || s == sandbox.StatusRuntimeError || s == sandbox.StatusMemoryExceeded
}

// runTests evaluates the task's cases against the candidate. A case whose
// context matches the primary execution reuses its result; others execute
// with their own bindings (still through the cache).
func (o *Orchestrator) runTests(ctx context.Context, rt runtime.Runtime, code string, task Task, primary *sandbox.Result) (TestReport, error) {
	cases := task.TestCases
	if len(cases) == 0 && len(task.Expected) > 0 {
		cases = []TestCase{{Name: "expected_output", Context: task.Context, Expected: task.Expected}}
	}

	var report TestReport
	for i, tc := range cases {
		name := tc.Name
		if name == "" {
			name = fmt.Sprintf("case_%d", i+1)
		}
		report.Total++

		res := primary
		if !contextsEqual(tc.Context, task.Context) {
			var err error
			res, err = o.execute(ctx, rt, code, tc.Context)
			if err != nil {
				return report, err
			}
		}

		if res.Status != sandbox.StatusSuccess {
			report.Failed++
			report.Failures = append(report.Failures, TestFailure{
				Name:     name,
				Expected: tc.Expected,
				Detail:   fmt.Sprintf("execution %s: %s", res.Status, res.ErrorMessage),
			})
			continue
		}

		if jsonEqual(tc.Expected, res.ReturnValue) {
			report.Passed++
			continue
		}
		report.Failed++
		report.Failures = append(report.Failures, TestFailure{
			Name:     name,
			Expected: canonicalJSON(tc.Expected),
			Actual:   canonicalJSON(res.ReturnValue),
		})
	}
	return report, nil
}

func (o *Orchestrator) finish(runID string, task Task, st State, attempts []Attempt, start time.Time) *Result {
	res := &Result{
		ID:       runID,
		Language: task.Language,
		Success:  st.Phase == PhaseSucceeded,
		Reason:   st.Reason,
		Attempts: attempts,
		Duration: time.Since(start),
	}

	best := bestAttempt(attempts)
	if best != nil {
		res.Code = best.Code
		res.Tests = best.Tests
		res.Complexity = best.Complexity
		res.Validation = Validation{
			SyntaxValid:   best.SyntaxError == "",
			SecurityValid: best.Verdict != nil && best.Verdict.Allowed,
			TestsPassed:   best.Tests != nil && best.Tests.AllPassed(),
		}
	}

	outcome := "failed"
	switch {
	case res.Success:
		outcome = "succeeded"
	case st.Reason == "cancelled":
		outcome = "cancelled"
	}
	o.Metrics.RecordRun(outcome, res.Duration.Seconds(), len(attempts))

	log.Info().
		Str("run_id", runID).
		Str("outcome", outcome).
		Int("attempts", len(attempts)).
		Dur("took", res.Duration).
		Msg("pipeline run finished")

	if o.Auditor != nil {
		o.Auditor.RecordRun(res)
	}
	return res
}

// bestAttempt picks the final candidate: the last attempt on success, else
// the highest pass ratio with ties going to the earliest attempt.
func bestAttempt(attempts []Attempt) *Attempt {
	if len(attempts) == 0 {
		return nil
	}
	if last := &attempts[len(attempts)-1]; last.Complexity != nil {
		return last
	}
	best := &attempts[0]
	for i := 1; i < len(attempts); i++ {
		if attempts[i].passRatio() > best.passRatio() {
			best = &attempts[i]
		}
	}
	return best
}

func attemptOutcome(a Attempt) string {
	switch {
	case a.SyntaxError != "":
		return "syntax_error"
	case a.Verdict != nil && !a.Verdict.Allowed:
		return "security_rejected"
	case a.Execution == nil || a.Execution.Status != sandbox.StatusSuccess:
		return "execution_failed"
	case a.Tests != nil && !a.Tests.AllPassed():
		return "tests_failed"
	default:
		return "passed"
	}
}

// executionFeedback summarizes a failed execution for the next generation.
// Raw tracebacks stay inside the sandbox result; only the error type and its
// first line travel back.
func executionFeedback(res *sandbox.Result) string {
	switch res.Status {
	case sandbox.StatusTimeout:
		return "execution timed out; the code must finish within the time limit"
	case sandbox.StatusMemoryExceeded:
		return "execution exceeded the memory limit"
	default:
		msg := res.ErrorMessage
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		if res.ErrorType != "" {
			return fmt.Sprintf("execution raised %s: %s", res.ErrorType, msg)
		}
		return "execution failed: " + msg
	}
}

func contextsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(aj, bj)
}

// jsonEqual compares two JSON documents structurally, so formatting and key
// order never fail a test case.
func jsonEqual(a, b json.RawMessage) bool {
	return bytes.Equal(canonicalJSON(a), canonicalJSON(b))
}

func canonicalJSON(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return json.RawMessage(strings.TrimSpace(string(raw)))
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
