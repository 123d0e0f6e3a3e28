package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codegen-pipeline/internal/runtime"
)

func testScratch(t *testing.T, req Request) *scratch {
	t.Helper()
	scr, err := newScratch("test", req)
	if err != nil {
		t.Fatalf("newScratch: %v", err)
	}
	t.Cleanup(scr.cleanup)
	return scr
}

func TestBuildDockerArgs(t *testing.T) {
	rt := runtime.NewPythonRuntime("python3", "python:3.12-alpine")
	d := &DockerRunner{rt: rt, maxTimeout: time.Minute, defLimits: DefaultLimits()}

	scr := testScratch(t, Request{Code: "result = 1\n"})
	args := d.buildDockerArgs("abc", scr, "/tmp/seccomp.json", DefaultLimits())

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--network none",
		"--cap-drop ALL",
		"--read-only",
		"--memory 256m",
		"--pids-limit 50",
		"--security-opt seccomp=/tmp/seccomp.json",
		"--name codegen-abc",
		"--user 65534:65534",
		"python:3.12-alpine",
		"/sandbox/harness.py",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("docker args missing %q\nargs: %s", want, joined)
		}
	}
	if strings.Contains(joined, "--network bridge") {
		t.Error("network must never be bridge")
	}
}

// The run container and the forced removal must agree on the name, or a
// timed-out container outlives its execution until the orphan sweep.
func TestContainerNameMatchesRunArgs(t *testing.T) {
	rt := runtime.NewPythonRuntime("python3", "python:3.12-alpine")
	d := &DockerRunner{rt: rt, maxTimeout: time.Minute, defLimits: DefaultLimits()}

	scr := testScratch(t, Request{Code: "result = 1\n"})
	args := d.buildDockerArgs("abc", scr, "/tmp/seccomp.json", DefaultLimits())

	name := containerName("abc")
	if name != "codegen-abc" {
		t.Fatalf("containerName = %q", name)
	}
	var named bool
	for i, a := range args {
		if a == "--name" && i+1 < len(args) && args[i+1] == name {
			named = true
		}
	}
	if !named {
		t.Errorf("run args do not carry --name %s: %v", name, args)
	}
}

func TestBuildDockerArgs_MergedRequestLimits(t *testing.T) {
	rt := runtime.NewPythonRuntime("python3", "python:3.12-alpine")
	d := &DockerRunner{rt: rt, maxTimeout: time.Minute, defLimits: DefaultLimits()}

	scr := testScratch(t, Request{Code: "result = 1\n"})
	limits := ResourceLimits{MemoryMB: 64}.Merge(d.defLimits)
	args := d.buildDockerArgs("abc", scr, "/tmp/seccomp.json", limits)

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--memory 64m") {
		t.Errorf("request memory override missing: %s", joined)
	}
	if !strings.Contains(joined, "--pids-limit 50") {
		t.Errorf("default pids limit not inherited: %s", joined)
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid", Request{Code: "result = 1\n"}, false},
		{"empty code", Request{}, true},
		{"oversized code", Request{Code: strings.Repeat("x", maxCodeBytes+1)}, true},
		{"timeout over max", Request{Code: "result = 1\n", Timeout: 2 * time.Minute}, true},
		{"bad limits", Request{Code: "result = 1\n", Limits: ResourceLimits{CPUShares: 1, MemoryMB: 1, PidsLimit: 1, DiskMB: 1}}, true},
		{"partial limits", Request{Code: "result = 1\n", Limits: ResourceLimits{MemoryMB: 64}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRequest(tt.req, time.Minute)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRequest() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScratchLayout(t *testing.T) {
	scr := testScratch(t, Request{
		Code:    "result = items[0]\n",
		Context: map[string]any{"items": []any{float64(5)}},
	})

	for _, name := range []string{harnessFile, codeFile, contextFile} {
		info, err := os.Stat(scr.path(name))
		if err != nil {
			t.Fatalf("%s missing: %v", name, err)
		}
		if info.Mode().Perm() != 0444 {
			t.Errorf("%s mode = %v, want 0444", name, info.Mode().Perm())
		}
	}

	code, _ := os.ReadFile(scr.path(codeFile))
	if string(code) != "result = items[0]\n" {
		t.Errorf("code file = %q", code)
	}
	ctx, _ := os.ReadFile(scr.path(contextFile))
	if !strings.Contains(string(ctx), `"items"`) {
		t.Errorf("context file = %q", ctx)
	}
}

func TestReadOutcome(t *testing.T) {
	scr := testScratch(t, Request{Code: "result = 1\n"})

	if _, ok := scr.readOutcome(); ok {
		t.Error("readOutcome succeeded before outcome was written")
	}

	data := `{"status":"success","result":10}`
	if err := os.WriteFile(filepath.Join(scr.dir, outcomeFile), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	out, ok := scr.readOutcome()
	if !ok {
		t.Fatal("readOutcome failed")
	}
	res := &Result{}
	applyOutcome(res, out)
	if res.Status != StatusSuccess || string(res.ReturnValue) != "10" {
		t.Errorf("result = %+v", res)
	}
}

func TestApplyOutcomeStatuses(t *testing.T) {
	tests := []struct {
		in   outcome
		want Status
	}{
		{outcome{Status: "success"}, StatusSuccess},
		{outcome{Status: "memory_exceeded", ErrorType: "MemoryError"}, StatusMemoryExceeded},
		{outcome{Status: "runtime_error", ErrorType: "KeyError"}, StatusRuntimeError},
		{outcome{Status: "garbage"}, StatusRuntimeError},
	}
	for _, tt := range tests {
		res := &Result{}
		applyOutcome(res, &tt.in)
		if res.Status != tt.want {
			t.Errorf("applyOutcome(%q) status = %q, want %q", tt.in.Status, res.Status, tt.want)
		}
	}
}

func TestScanOutput(t *testing.T) {
	events := scanOutput("root:x:0:0:root:/root:/bin/bash")
	if len(events) == 0 || events[0].Type != "root_access" {
		t.Errorf("events = %v", events)
	}
	if events := scanOutput("hello world\n"); len(events) != 0 {
		t.Errorf("clean output produced events: %v", events)
	}
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := truncateOutput(long, 10)
	if !strings.HasPrefix(got, "aaaaaaaaaa") || !strings.Contains(got, "truncated") {
		t.Errorf("truncateOutput = %q", got)
	}
	if truncateOutput("short", 10) != "short" {
		t.Error("short output must pass through unchanged")
	}
}
