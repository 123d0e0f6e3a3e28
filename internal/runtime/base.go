package runtime

import (
	"context"
	"fmt"
)

// Runtime describes how to execute the harness for one target language.
type Runtime interface {
	// Name returns the runtime identifier (e.g., "python").
	Name() string

	// Image returns the container image reference for this runtime.
	Image() string

	// Bin returns the interpreter binary for the process backend.
	Bin() string

	// Command returns the interpreter invocation for the given harness
	// path and its arguments.
	Command(harnessPath string, args ...string) []string

	// FileExtension returns the file extension for code files (e.g., ".py").
	FileExtension() string

	// Version probes the interpreter version. The result is cached; it
	// feeds the cache fingerprint so results never leak across upgrades.
	Version(ctx context.Context) string
}

// Registry maps language names to their Runtime implementations.
type Registry struct {
	runtimes map[string]Runtime
}

// NewRegistry creates a registry with all supported runtimes.
func NewRegistry(pythonBin, pythonImage string) *Registry {
	r := &Registry{
		runtimes: make(map[string]Runtime),
	}
	r.Register(NewPythonRuntime(pythonBin, pythonImage))
	return r
}

// Register adds a runtime to the registry.
func (r *Registry) Register(rt Runtime) {
	r.runtimes[rt.Name()] = rt
}

// Get returns the runtime for the given language.
func (r *Registry) Get(language string) (Runtime, error) {
	rt, ok := r.runtimes[language]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %q (supported: %v)", language, r.Languages())
	}
	return rt, nil
}

// Languages returns all registered language names.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		langs = append(langs, name)
	}
	return langs
}

// Images returns all container images needed by registered runtimes.
func (r *Registry) Images() []string {
	images := make([]string, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		images = append(images, rt.Image())
	}
	return images
}
