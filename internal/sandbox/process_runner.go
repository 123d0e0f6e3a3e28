package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/runtime"
)

// ProcessRunner executes candidates as direct child processes. It is the
// fallback for development machines without a container runtime: weaker
// isolation than the container backends, but the same harness contract,
// deterministic environment, and resource ceilings via rlimits.
type ProcessRunner struct {
	rt         runtime.Runtime
	sem        chan struct{}
	active     atomic.Int64
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	maxTimeout time.Duration
	defLimits  ResourceLimits
}

func NewProcessRunner(rt runtime.Runtime, maxConcurrent int, maxTimeout time.Duration, defLimits ResourceLimits) *ProcessRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 16
	}
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	return &ProcessRunner{
		rt:         rt,
		sem:        make(chan struct{}, maxConcurrent),
		maxTimeout: maxTimeout,
		defLimits:  defLimits.Merge(DefaultLimits()),
	}
}

func (p *ProcessRunner) Run(ctx context.Context, req Request) (*Result, error) {
	execID := uuid.New().String()

	logger := log.With().
		Str("exec_id", execID).
		Str("fingerprint", shortFingerprint(req.Fingerprint)).
		Str("backend", "process").
		Logger()

	logger.Info().Msg("execution requested")

	if err := validateRequest(req, p.maxTimeout); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: err}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: ErrBackendUnavailable}
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: ctx.Err()}
	}

	p.wg.Add(1)
	defer p.wg.Done()
	p.active.Add(1)
	defer p.active.Add(-1)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scr, err := newScratch(execID, req)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_scratch", Err: err}
	}
	defer scr.cleanup()

	limits := req.Limits.Merge(p.defLimits)
	memBytes := limits.MemoryBytes()

	args := p.rt.Command(
		scr.path(harnessFile),
		scr.path(codeFile),
		scr.path(contextFile),
		scr.path(outcomeFile),
		fmt.Sprintf("%d", memBytes),
	)

	start := time.Now()

	cmd := exec.Command(args[0], args[1:]...) // #nosec G204 -- args built internally from the runtime descriptor
	cmd.Dir = scr.dir
	cmd.Env = deterministicEnv()
	// Own process group so a timeout kill reaps any children the candidate
	// managed to spawn.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "start", Err: err}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var runErr error
	timedOut := false
	select {
	case runErr = <-waitCh:
	case <-execCtx.Done():
		timedOut = true
		logger.Warn().Msg("execution timed out, killing process group")
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-waitCh
	}

	duration := time.Since(start)
	if timedOut && duration > timeout {
		// Reported duration is the candidate's budget, not kill/reap overhead.
		duration = timeout
	}
	res := &Result{
		ID:       execID,
		Stdout:   truncateOutput(stdoutBuf.String(), maxStdoutBytes),
		Stderr:   truncateOutput(stderrBuf.String(), maxStderrBytes),
		Duration: duration,
	}
	res.Events = scanOutput(res.Stdout + "\n" + res.Stderr)

	if timedOut {
		res.Status = StatusTimeout
		res.ErrorType = "Timeout"
		res.ErrorMessage = fmt.Sprintf("execution exceeded %s timeout", timeout)
		res.Events = append(res.Events, SecurityEvent{
			Type:   "timeout",
			Detail: res.ErrorMessage,
		})
		logger.Info().Dur("duration", duration).Msg("execution timed out")
		return res, nil
	}

	if out, ok := scr.readOutcome(); ok {
		applyOutcome(res, out)
	} else {
		classifyDeadChild(res, runErr)
	}

	logger.Info().
		Str("status", string(res.Status)).
		Dur("duration", duration).
		Msg("execution completed")

	return res, nil
}

// classifyDeadChild fills in a result for a child that died before writing
// its outcome file.
func classifyDeadChild(res *Result, runErr error) {
	res.Status = StatusRuntimeError
	res.ErrorType = "HarnessFailure"
	res.ErrorMessage = "candidate produced no outcome"
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		// 137 = SIGKILL, the signature of the kernel OOM killer or a
		// container memory limit.
		if code == 137 {
			res.Status = StatusMemoryExceeded
			res.ErrorType = "MemoryError"
			res.ErrorMessage = "process killed by memory limit"
			res.Events = append(res.Events, SecurityEvent{
				Type:   "oom_kill",
				Detail: "process killed (memory or resource limit)",
			})
			return
		}
		res.ErrorMessage = fmt.Sprintf("candidate exited with code %d before reporting", code)
	}
}

// deterministicEnv is the minimal, reproducible environment candidates see.
// Identical inputs must produce identical results for the cache to be sound,
// so nothing from the host environment leaks through.
func deterministicEnv() []string {
	return []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=/tmp",
		"LANG=C.UTF-8",
		"LC_ALL=C.UTF-8",
		"PYTHONHASHSEED=0",
		"PYTHONDONTWRITEBYTECODE=1",
		"SANDBOX=true",
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}

func validateRequest(req Request, maxTimeout time.Duration) error {
	if req.Code == "" {
		return fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	}
	if len(req.Code) > maxCodeBytes {
		return fmt.Errorf("%w: code exceeds 1MB limit", ErrInvalidRequest)
	}
	if req.Timeout > maxTimeout {
		return fmt.Errorf("%w: timeout exceeds %s maximum", ErrInvalidRequest, maxTimeout)
	}
	return req.Limits.Validate()
}

func (p *ProcessRunner) ActiveCount() int64 {
	return p.active.Load()
}

func (p *ProcessRunner) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", p.active.Load()).Msg("timed out waiting for executions to drain")
	}
	return nil
}
