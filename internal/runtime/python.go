package runtime

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// PythonRuntime configures execution of Python candidates.
type PythonRuntime struct {
	bin   string
	image string

	versionOnce sync.Once
	version     string
}

func NewPythonRuntime(bin, image string) *PythonRuntime {
	if bin == "" {
		bin = "python3"
	}
	if image == "" {
		image = "docker.io/library/python:3.12-alpine"
	}
	return &PythonRuntime{bin: bin, image: image}
}

func (p *PythonRuntime) Name() string { return "python" }

func (p *PythonRuntime) Image() string { return p.image }

func (p *PythonRuntime) Bin() string { return p.bin }

func (p *PythonRuntime) Command(harnessPath string, args ...string) []string {
	// Not -I/-E: those ignore PYTHONHASHSEED, which the runners pin for
	// reproducible results. The runners construct the environment from
	// scratch, so there is nothing to isolate from.
	cmd := []string{
		p.bin,
		"-s", // No user site-packages
		"-u", // Unbuffered output
		"-B", // Don't write .pyc files
		harnessPath,
	}
	return append(cmd, args...)
}

func (p *PythonRuntime) FileExtension() string { return ".py" }

// Version returns e.g. "3.12.4". Probed once per process; "unknown" when the
// interpreter cannot be reached.
func (p *PythonRuntime) Version(ctx context.Context) string {
	p.versionOnce.Do(func() {
		out, err := exec.CommandContext(ctx, p.bin, "--version").CombinedOutput() // #nosec G204 -- bin comes from config
		if err != nil {
			log.Warn().Err(err).Str("bin", p.bin).Msg("python version probe failed")
			p.version = "unknown"
			return
		}
		// Output looks like "Python 3.12.4".
		fields := strings.Fields(strings.TrimSpace(string(out)))
		if len(fields) >= 2 {
			p.version = fields[len(fields)-1]
		} else {
			p.version = "unknown"
		}
	})
	return p.version
}
