package sandbox

import (
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	if l.CPUShares != 512 {
		t.Errorf("CPUShares = %d, want 512", l.CPUShares)
	}
	if l.MemoryMB != 256 {
		t.Errorf("MemoryMB = %d, want 256", l.MemoryMB)
	}
	if l.PidsLimit != 50 {
		t.Errorf("PidsLimit = %d, want 50", l.PidsLimit)
	}
	if l.DiskMB != 100 {
		t.Errorf("DiskMB = %d, want 100", l.DiskMB)
	}
	if err := l.Validate(); err != nil {
		t.Errorf("DefaultLimits().Validate() = %v, want nil", err)
	}
}

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		limits  ResourceLimits
		wantErr bool
	}{
		{"defaults", DefaultLimits(), false},
		{"all zero defers to merge", ResourceLimits{}, false},
		{"partial request", ResourceLimits{MemoryMB: 64}, false},
		{"cpu under", ResourceLimits{CPUShares: 1, MemoryMB: 256, PidsLimit: 50, DiskMB: 100}, true},
		{"cpu over", ResourceLimits{CPUShares: 4097, MemoryMB: 256, PidsLimit: 50, DiskMB: 100}, true},
		{"memory under", ResourceLimits{CPUShares: 512, MemoryMB: 8, PidsLimit: 50, DiskMB: 100}, true},
		{"memory over", ResourceLimits{CPUShares: 512, MemoryMB: 4096, PidsLimit: 50, DiskMB: 100}, true},
		{"pids over", ResourceLimits{CPUShares: 512, MemoryMB: 256, PidsLimit: 501, DiskMB: 100}, true},
		{"disk over", ResourceLimits{CPUShares: 512, MemoryMB: 256, PidsLimit: 50, DiskMB: 1025}, true},
		{"at ceilings", ResourceLimits{CPUShares: 4096, MemoryMB: 2048, PidsLimit: 500, DiskMB: 1024}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLimitsMerge(t *testing.T) {
	def := DefaultLimits()

	got := ResourceLimits{}.Merge(def)
	if got != def {
		t.Errorf("zero merge = %+v, want defaults", got)
	}

	got = ResourceLimits{MemoryMB: 64}.Merge(def)
	if got.MemoryMB != 64 {
		t.Errorf("MemoryMB = %d, want caller's 64", got.MemoryMB)
	}
	if got.CPUShares != def.CPUShares || got.PidsLimit != def.PidsLimit || got.DiskMB != def.DiskMB {
		t.Errorf("unset fields not inherited: %+v", got)
	}

	full := ResourceLimits{CPUShares: 1024, MemoryMB: 512, PidsLimit: 100, DiskMB: 200}
	if got := full.Merge(def); got != full {
		t.Errorf("full merge = %+v, want caller's %+v", got, full)
	}
}

func TestLimitsConversions(t *testing.T) {
	l := ResourceLimits{CPUShares: 512, MemoryMB: 256, DiskMB: 100}
	if l.MemoryBytes() != 256*1024*1024 {
		t.Errorf("MemoryBytes = %d", l.MemoryBytes())
	}
	if l.DiskBytes() != 100*1024*1024 {
		t.Errorf("DiskBytes = %d", l.DiskBytes())
	}
	if l.CPUs() != 0.5 {
		t.Errorf("CPUs = %f, want 0.5", l.CPUs())
	}
}

func TestApplyResourceLimits(t *testing.T) {
	spec := &specs.Spec{Process: &specs.Process{}}
	ApplyResourceLimits(spec, DefaultLimits())

	if spec.Linux == nil || spec.Linux.Resources == nil {
		t.Fatal("linux resources not set")
	}
	if spec.Linux.Resources.Memory == nil || *spec.Linux.Resources.Memory.Limit != 256*1024*1024 {
		t.Error("memory limit not applied")
	}
	if spec.Linux.Resources.Pids == nil || spec.Linux.Resources.Pids.Limit != 50 {
		t.Error("pids limit not applied")
	}
	if spec.Linux.Resources.CPU == nil || spec.Linux.Resources.CPU.Quota == nil {
		t.Fatal("cpu quota not applied")
	}
	// 512 shares = half a core = 50ms quota per 100ms period.
	if *spec.Linux.Resources.CPU.Quota != 50000 {
		t.Errorf("cpu quota = %d, want 50000", *spec.Linux.Resources.CPU.Quota)
	}

	var tmpfs bool
	for _, m := range spec.Mounts {
		if m.Destination == "/tmp" && m.Type == "tmpfs" {
			tmpfs = true
		}
	}
	if !tmpfs {
		t.Error("tmpfs /tmp mount not added")
	}
	if len(spec.Process.Rlimits) == 0 {
		t.Error("rlimits not applied")
	}
}

func TestApplySecurityProfile(t *testing.T) {
	spec := &specs.Spec{Root: &specs.Root{}}
	ApplySecurityProfile(spec, DefaultSecurityProfile())

	if !spec.Process.NoNewPrivileges {
		t.Error("NoNewPrivileges not set")
	}
	if spec.Process.User.UID != 65534 {
		t.Errorf("UID = %d, want 65534 (nobody)", spec.Process.User.UID)
	}
	if !spec.Root.Readonly {
		t.Error("rootfs not read-only")
	}
	if spec.Linux.Seccomp == nil {
		t.Error("seccomp profile not applied")
	}
	if len(spec.Process.Capabilities.Bounding) != 0 {
		t.Errorf("capabilities not dropped: %v", spec.Process.Capabilities.Bounding)
	}
	var hasNetNS bool
	for _, ns := range spec.Linux.Namespaces {
		if ns.Type == specs.NetworkNamespace {
			hasNetNS = true
		}
	}
	if !hasNetNS {
		t.Error("network namespace missing")
	}
}
