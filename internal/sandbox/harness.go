package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// harnessSource is the trusted shell that runs inside the sandbox. It loads
// the context bindings, executes the already-vetted candidate, and writes a
// JSON outcome file. The outcome file is a separate channel from stdout and
// stderr so candidate prints can never corrupt the return value.
//
// The harness applies RLIMIT_AS itself so that an oversized allocation
// surfaces as MemoryError rather than a hard kill, which preserves the
// partial stdout and gives a clean memory_exceeded classification.
const harnessSource = `import json
import sys


def main():
    code_path, ctx_path, out_path = sys.argv[1], sys.argv[2], sys.argv[3]
    mem_limit = int(sys.argv[4]) if len(sys.argv) > 4 else 0

    if mem_limit > 0:
        try:
            import resource
            resource.setrlimit(resource.RLIMIT_AS, (mem_limit, mem_limit))
        except (ImportError, ValueError, OSError):
            pass

    with open(ctx_path) as f:
        scope = json.load(f)
    with open(code_path) as f:
        source = f.read()

    outcome = {}
    try:
        exec(compile(source, "candidate.py", "exec"), scope)
        result = scope.get("result")
        try:
            json.dumps(result)
        except (TypeError, ValueError):
            result = repr(result)
        outcome = {"status": "success", "result": result}
    except MemoryError:
        outcome = {
            "status": "memory_exceeded",
            "error_type": "MemoryError",
            "error_message": "memory limit exceeded",
        }
    except BaseException as exc:
        outcome = {
            "status": "runtime_error",
            "error_type": type(exc).__name__,
            "error_message": str(exc),
        }

    with open(out_path, "w") as f:
        json.dump(outcome, f)


main()
`

// File names inside a scratch directory.
const (
	harnessFile = "harness.py"
	codeFile    = "code.py"
	contextFile = "context.json"
	outcomeFile = "outcome.json"
)

// scratch is the per-execution working directory shared with the sandbox.
type scratch struct {
	dir string
}

// newScratch materializes the harness, candidate and context on disk. The
// directory is world-accessible because container backends run the child as
// nobody (UID 65534).
func newScratch(execID string, req Request) (*scratch, error) {
	dir, err := os.MkdirTemp("", "codegen-"+execID+"-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	s := &scratch{dir: dir}

	ctx := req.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	ctxJSON, err := json.Marshal(ctx)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("encode context: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{harnessFile, []byte(harnessSource)},
		{codeFile, []byte(req.Code)},
		{contextFile, ctxJSON},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, 0600); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		if err := os.Chmod(filepath.Join(dir, f.name), 0444); err != nil { // #nosec G302 -- sandbox child runs as nobody
			s.cleanup()
			return nil, fmt.Errorf("chmod %s: %w", f.name, err)
		}
	}
	if err := os.Chmod(dir, 0777); err != nil { // #nosec G302 -- nobody must write outcome.json here
		s.cleanup()
		return nil, fmt.Errorf("chmod scratch dir: %w", err)
	}
	return s, nil
}

func (s *scratch) path(name string) string { return filepath.Join(s.dir, name) }

func (s *scratch) cleanup() { _ = os.RemoveAll(s.dir) }

// outcome mirrors the JSON the harness writes.
type outcome struct {
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	ErrorType    string          `json:"error_type"`
	ErrorMessage string          `json:"error_message"`
}

// readOutcome loads and classifies the harness outcome file. A missing or
// unreadable file means the child died before reporting; the caller decides
// the status from the exit condition.
func (s *scratch) readOutcome() (*outcome, bool) {
	data, err := os.ReadFile(s.path(outcomeFile))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	var out outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return &out, true
}

// applyOutcome folds a harness outcome into the result.
func applyOutcome(res *Result, out *outcome) {
	switch out.Status {
	case "success":
		res.Status = StatusSuccess
		res.ReturnValue = out.Result
	case "memory_exceeded":
		res.Status = StatusMemoryExceeded
		res.ErrorType = out.ErrorType
		res.ErrorMessage = out.ErrorMessage
	default:
		res.Status = StatusRuntimeError
		res.ErrorType = out.ErrorType
		res.ErrorMessage = out.ErrorMessage
	}
}
