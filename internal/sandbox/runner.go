package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/runtime"
)

// ContainerdRunner is the containerd-based sandbox backend.
type ContainerdRunner struct {
	client     *Client
	rt         runtime.Runtime
	sem        chan struct{} // Concurrency limiter
	active     atomic.Int64  // Active execution count
	mu         sync.Mutex    // Protects shutdown state
	closed     bool
	maxTimeout time.Duration
	defLimits  ResourceLimits
}

// NewContainerdRunner creates a containerd-backed runner.
func NewContainerdRunner(client *Client, rt runtime.Runtime, maxConcurrent int, maxTimeout time.Duration, defLimits ResourceLimits) *ContainerdRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 16
	}
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	return &ContainerdRunner{
		client:     client,
		rt:         rt,
		sem:        make(chan struct{}, maxConcurrent),
		maxTimeout: maxTimeout,
		defLimits:  defLimits.Merge(DefaultLimits()),
	}
}

// Run executes a candidate in an isolated container.
func (r *ContainerdRunner) Run(ctx context.Context, req Request) (*Result, error) {
	execID := uuid.New().String()

	logger := log.With().
		Str("exec_id", execID).
		Str("fingerprint", shortFingerprint(req.Fingerprint)).
		Str("backend", "containerd").
		Logger()

	logger.Info().Msg("execution requested")

	if err := validateRequest(req, r.maxTimeout); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: err}
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: ctx.Err()}
	}

	r.active.Add(1)
	defer r.active.Add(-1)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	scr, err := newScratch(execID, req)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_scratch", Err: err}
	}
	defer scr.cleanup()

	image, err := r.client.EnsureImage(execCtx, r.rt.Image())
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "pull_image", Err: err}
	}

	limits := req.Limits.Merge(r.defLimits)

	containerID := containerName(execID)

	container, err := r.createContainer(execCtx, containerID, image, scr, limits)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_container", Err: err}
	}
	// Always cleanup, even on panic
	defer func() {
		if cleanErr := r.cleanupContainer(context.Background(), container); cleanErr != nil {
			logger.Error().Err(cleanErr).Msg("container cleanup failed")
		}
	}()

	var stdoutBuf, stderrBuf bytes.Buffer

	task, err := container.NewTask(execCtx,
		cio.NewCreator(cio.WithStreams(nil, &stdoutBuf, &stderrBuf)),
	)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_task", Err: err}
	}
	defer func() {
		if _, err := task.Delete(context.Background(), containerd.WithProcessKill); err != nil {
			logger.Error().Err(err).Msg("task delete failed")
		}
	}()

	exitCh, err := task.Wait(execCtx)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "task_wait", Err: err}
	}

	if err := task.Start(execCtx); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "task_start", Err: err}
	}

	logger.Debug().Msg("task started")

	var exitCode int
	timedOut := false

	select {
	case status := <-exitCh:
		exitCode = int(status.ExitCode())
	case <-execCtx.Done():
		timedOut = true
		logger.Warn().Msg("execution timed out, killing task")
		if err := task.Kill(context.Background(), 9); err != nil {
			logger.Error().Err(err).Msg("failed to kill timed out task")
		}
		<-exitCh
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
	} else if exitCode == 137 {
		res.Status = StatusMemoryExceeded
		res.ErrorType = "MemoryError"
		res.ErrorMessage = "process killed by memory limit"
		res.Events = append(res.Events, SecurityEvent{
			Type:   "oom_kill",
			Detail: "process killed (memory or resource limit)",
		})
	} else {
		res.Status = StatusRuntimeError
		res.ErrorType = "HarnessFailure"
		res.ErrorMessage = fmt.Sprintf("candidate exited with code %d before reporting", exitCode)
	}

	logger.Info().
		Str("status", string(res.Status)).
		Dur("duration", duration).
		Msg("execution completed")

	return res, nil
}

// ActiveCount returns the number of currently running executions.
func (r *ContainerdRunner) ActiveCount() int64 {
	return r.active.Load()
}

// Close shuts down the runner, waiting for active executions.
func (r *ContainerdRunner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *ContainerdRunner) createContainer(
	ctx context.Context,
	id string,
	image containerd.Image,
	scr *scratch,
	limits ResourceLimits,
) (containerd.Container, error) {
	nsCtx := r.client.WithNamespace(ctx)

	memBytes := limits.MemoryBytes()
	processArgs := r.rt.Command(
		"/sandbox/"+harnessFile,
		"/sandbox/"+codeFile,
		"/sandbox/"+contextFile,
		"/sandbox/"+outcomeFile,
		fmt.Sprintf("%d", memBytes),
	)

	container, err := r.client.Raw().NewContainer(nsCtx, id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs(processArgs...),
			oci.WithHostname("codegen"),
			func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
				ApplySecurityProfile(s, DefaultSecurityProfile())
				ApplyResourceLimits(s, limits)

				// Writable so the harness can drop outcome.json; the
				// code and context files inside are mode 0444.
				s.Mounts = append(s.Mounts, specs.Mount{
					Destination: "/sandbox",
					Type:        "bind",
					Source:      scr.dir,
					Options:     []string{"rbind", "rw"},
				})

				s.Process.Env = deterministicEnv()

				return nil
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	return container, nil
}
