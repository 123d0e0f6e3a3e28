package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	goruntime "runtime"

	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/config"
	"codegen-pipeline/internal/runtime"
)

// NewBackend picks a Runner per configuration: "auto" tries containerd on
// Linux, then Docker, then falls back to direct process execution.
func NewBackend(ctx context.Context, cfg *config.Config) (Runner, error) {
	reg := runtime.NewRegistry(cfg.Sandbox.PythonBin, cfg.Sandbox.Image)
	rt, err := reg.Get("python")
	if err != nil {
		return nil, err
	}

	preference := cfg.Sandbox.Backend
	if preference == "" {
		preference = "auto"
	}

	switch preference {
	case "containerd":
		return newContainerdBackend(ctx, cfg, rt)
	case "docker":
		return newDockerBackend(cfg, rt)
	case "process":
		return newProcessBackend(cfg, rt)
	case "auto":
		if goruntime.GOOS == "linux" {
			backend, err := newContainerdBackend(ctx, cfg, rt)
			if err == nil {
				log.Info().Msg("using containerd backend")
				return backend, nil
			}
			log.Warn().Err(err).Msg("containerd unavailable, trying Docker")
		}

		backend, err := newDockerBackend(cfg, rt)
		if err == nil {
			log.Info().Msg("using Docker backend")
			return backend, nil
		}
		log.Warn().Err(err).Msg("Docker unavailable, falling back to process backend")

		return newProcessBackend(cfg, rt)
	default:
		return nil, fmt.Errorf("unknown backend %q: must be auto, process, containerd, or docker", preference)
	}
}

func newContainerdBackend(ctx context.Context, cfg *config.Config, rt runtime.Runtime) (Runner, error) {
	client, err := NewClient(ctx, cfg.Sandbox.ContainerdSocket, cfg.Sandbox.Namespace)
	if err != nil {
		return nil, err
	}

	runner := NewContainerdRunner(client, rt,
		cfg.Sandbox.MaxConcurrent, cfg.Sandbox.MaxTimeout, limitsFromConfig(cfg))

	cleaned, err := runner.CleanupOrphaned(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to cleanup orphaned containers")
	} else if cleaned > 0 {
		log.Info().Int("count", cleaned).Msg("cleaned orphaned containers on startup")
	}

	return runner, nil
}

func newDockerBackend(cfg *config.Config, rt runtime.Runtime) (Runner, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker not found in PATH: %w", err)
	}

	if err := exec.Command("docker", "info").Run(); err != nil {
		return nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}

	return NewDockerRunner(rt, cfg.Sandbox.MaxConcurrent, cfg.Sandbox.MaxTimeout, limitsFromConfig(cfg)), nil
}

func newProcessBackend(cfg *config.Config, rt runtime.Runtime) (Runner, error) {
	if _, err := exec.LookPath(rt.Bin()); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", rt.Bin(), err)
	}
	log.Warn().Msg("process backend active: candidates run without container isolation")
	return NewProcessRunner(rt, cfg.Sandbox.MaxConcurrent, cfg.Sandbox.MaxTimeout, limitsFromConfig(cfg)), nil
}

func limitsFromConfig(cfg *config.Config) ResourceLimits {
	dl := cfg.Sandbox.DefaultLimits
	return ResourceLimits{
		CPUShares: dl.CPUShares,
		MemoryMB:  dl.MemoryMB,
		PidsLimit: dl.PidsLimit,
		DiskMB:    dl.DiskMB,
	}
}
