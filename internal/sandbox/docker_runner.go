package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/runtime"
	"codegen-pipeline/pkg/seccomp"
)

// DockerRunner is the Docker CLI sandbox backend (macOS, or Linux without
// containerd). Candidates run with no network, a read-only rootfs, dropped
// capabilities, a seccomp profile, and hard memory/pids/cpu limits.
type DockerRunner struct {
	rt            runtime.Runtime
	sem           chan struct{}
	active        atomic.Int64
	wg            sync.WaitGroup
	mu            sync.Mutex
	closed        bool
	dockerHost    string // resolved DOCKER_HOST (e.g. from Docker context)
	maxTimeout    time.Duration
	defLimits     ResourceLimits
	cancelCleanup context.CancelFunc
}

func NewDockerRunner(rt runtime.Runtime, maxConcurrent int, maxTimeout time.Duration, defLimits ResourceLimits) *DockerRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 16
	}
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	d := &DockerRunner{
		rt:         rt,
		sem:        make(chan struct{}, maxConcurrent),
		dockerHost: resolveDockerHost(),
		maxTimeout: maxTimeout,
		defLimits:  defLimits.Merge(DefaultLimits()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancelCleanup = cancel
	go d.orphanCleanupLoop(ctx)

	return d
}

// orphanCleanupLoop periodically kills orphaned sandbox containers that
// survived server crashes.
func (d *DockerRunner) orphanCleanupLoop(ctx context.Context) {
	// Run once on startup
	d.cleanupOrphans()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.cleanupOrphans()
		case <-ctx.Done():
			return
		}
	}
}

func (d *DockerRunner) cleanupOrphans() {
	cmd := exec.Command("docker", "ps", "--filter", "name=codegen-", "-q") // #nosec G204 -- no user input
	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	out, err := cmd.Output()
	if err != nil {
		return
	}
	ids := strings.Fields(strings.TrimSpace(string(out)))
	for _, id := range ids {
		log.Warn().Str("container_id", id).Msg("killing orphaned sandbox container")
		kill := exec.Command("docker", "rm", "-f", id) // #nosec G204 -- id from docker ps
		if d.dockerHost != "" {
			kill.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
		}
		_ = kill.Run()
	}
}

// resolveDockerHost figures out the Docker socket. On macOS, Docker Desktop
// uses a context-specific socket that child processes don't inherit.
func resolveDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}

	out, err := exec.Command("docker", "context", "inspect", "--format", "{{.Endpoints.docker.Host}}").Output()
	if err == nil {
		host := strings.TrimSpace(string(out))
		if host != "" {
			log.Debug().Str("docker_host", host).Msg("resolved Docker host from context")
			return host
		}
	}

	return ""
}

func (d *DockerRunner) Run(ctx context.Context, req Request) (*Result, error) {
	execID := uuid.New().String()

	logger := log.With().
		Str("exec_id", execID).
		Str("fingerprint", shortFingerprint(req.Fingerprint)).
		Str("backend", "docker").
		Logger()

	logger.Info().Msg("execution requested")

	if err := validateRequest(req, d.maxTimeout); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: err}
	}

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: ctx.Err()}
	}

	d.wg.Add(1)
	defer d.wg.Done()
	d.active.Add(1)
	defer d.active.Add(-1)

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

	// Write the seccomp profile for Docker's --security-opt.
	profileJSON, err := seccomp.DockerProfileJSON()
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "seccomp_profile", Err: err}
	}
	seccompPath := filepath.Join(scr.dir, "seccomp.json")
	if err := os.WriteFile(seccompPath, profileJSON, 0600); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_seccomp", Err: err}
	}

	limits := req.Limits.Merge(d.defLimits)

	args := d.buildDockerArgs(execID, scr, seccompPath, limits)

	start := time.Now()

	cmd := exec.CommandContext(execCtx, "docker", args...) // #nosec G204 -- args built internally by buildDockerArgs, not from raw user input

	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	logger.Debug().Strs("args", args[:5]).Msg("starting docker container")

	runErr := cmd.Run()
	duration := time.Since(start)

	if ctxErr := execCtx.Err(); ctxErr != nil {
		// CommandContext only kills the docker CLI; the container itself is a
		// daemon-side child and keeps running until removed by name.
		d.removeContainer(execID)

		if ctxErr != context.DeadlineExceeded {
			return nil, &ExecutionError{ExecID: execID, Op: "docker_run", Err: ctxErr}
		}
		if duration > timeout {
			duration = timeout
		}
		res := &Result{
			ID:           execID,
			Status:       StatusTimeout,
			ErrorType:    "Timeout",
			ErrorMessage: fmt.Sprintf("execution exceeded %s timeout", timeout),
			Stdout:       truncateOutput(stdoutBuf.String(), maxStdoutBytes),
			Stderr:       truncateOutput(stderrBuf.String(), maxStderrBytes),
			Duration:     duration,
		}
		res.Events = scanOutput(res.Stdout + "\n" + res.Stderr)
		res.Events = append(res.Events, SecurityEvent{
			Type:   "timeout",
			Detail: res.ErrorMessage,
		})
		logger.Info().Dur("duration", duration).Msg("execution timed out")
		return res, nil
	}

	res := &Result{
		ID:       execID,
		Stdout:   truncateOutput(stdoutBuf.String(), maxStdoutBytes),
		Stderr:   truncateOutput(stderrBuf.String(), maxStderrBytes),
		Duration: duration,
	}
	res.Events = scanOutput(res.Stdout + "\n" + res.Stderr)

	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return nil, &ExecutionError{ExecID: execID, Op: "docker_run", Err: runErr}
		}
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

// containerName is the per-execution container name; it is the handle for
// the forced removal on timeout and for the orphan sweep.
func containerName(execID string) string {
	return "codegen-" + execID
}

// removeContainer force-removes the named container. Used when the CLI
// client died (deadline or caller cancellation) without tearing it down.
func (d *DockerRunner) removeContainer(execID string) {
	name := containerName(execID)
	cmd := exec.Command("docker", "rm", "-f", name) // #nosec G204 -- name built from a uuid
	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	if err := cmd.Run(); err != nil {
		log.Warn().Err(err).Str("container", name).Msg("failed to remove sandbox container")
	}
}

func (d *DockerRunner) buildDockerArgs(execID string, scr *scratch, seccompPath string, limits ResourceLimits) []string {
	args := []string{
		"run", "--rm",
		"--name", containerName(execID),
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--security-opt", "seccomp=" + seccompPath,
		"--read-only",
		"--memory", fmt.Sprintf("%dm", limits.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", limits.MemoryMB),
		"--pids-limit", fmt.Sprintf("%d", limits.PidsLimit),
		"--cpus", fmt.Sprintf("%.1f", limits.CPUs()),
		"--tmpfs", fmt.Sprintf("/tmp:rw,nosuid,nodev,size=%dm", limits.DiskMB),
		// Scratch is writable so the harness can drop outcome.json; the
		// code and context files inside it are mode 0444.
		"-v", fmt.Sprintf("%s:/sandbox:rw", scr.dir),
		"--user", "65534:65534",
		"-e", "HOME=/tmp",
		"-e", "LANG=C.UTF-8",
		"-e", "LC_ALL=C.UTF-8",
		"-e", "PYTHONHASHSEED=0",
		"-e", "PYTHONDONTWRITEBYTECODE=1",
		"-e", "SANDBOX=true",
	}

	args = append(args, d.rt.Image())
	args = append(args, d.rt.Command(
		"/sandbox/"+harnessFile,
		"/sandbox/"+codeFile,
		"/sandbox/"+contextFile,
		"/sandbox/"+outcomeFile,
		fmt.Sprintf("%d", limits.MemoryBytes()),
	)...)

	return args
}

func (d *DockerRunner) ActiveCount() int64 {
	return d.active.Load()
}

func (d *DockerRunner) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	if d.cancelCleanup != nil {
		d.cancelCleanup()
	}

	// Wait up to 30s for active executions to drain.
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all docker executions drained")
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", d.active.Load()).Msg("timed out waiting for docker executions to drain")
	}
	return nil
}
