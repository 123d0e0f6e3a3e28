package sandbox

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ResourceLimits bounds a single candidate execution. A zero field means
// "inherit the runner's configured default"; Merge resolves that before the
// limits touch a backend, so callers can pin just the knob they care about.
type ResourceLimits struct {
	CPUShares int64 `json:"cpu_shares"` // 1024 = one full core
	MemoryMB  int64 `json:"memory_mb"`
	PidsLimit int64 `json:"pids_limit"`
	DiskMB    int64 `json:"disk_mb"` // scratch/tmpfs ceiling
}

// Bounds for caller-supplied limits. The floors keep the harness itself able
// to start; the ceilings keep one run from starving its neighbors.
const (
	minCPUShares, maxCPUShares int64 = 2, 4096
	minMemoryMB, maxMemoryMB   int64 = 16, 2048
	minPidsLimit, maxPidsLimit int64 = 5, 500
	minDiskMB, maxDiskMB       int64 = 1, 1024
)

// DefaultLimits is the fallback when neither the request nor the config sets
// a field: half a core, 256MB, 50 processes, 100MB of scratch.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{CPUShares: 512, MemoryMB: 256, PidsLimit: 50, DiskMB: 100}
}

// Merge fills zero fields from def and returns the resolved limits.
func (rl ResourceLimits) Merge(def ResourceLimits) ResourceLimits {
	if rl.CPUShares == 0 {
		rl.CPUShares = def.CPUShares
	}
	if rl.MemoryMB == 0 {
		rl.MemoryMB = def.MemoryMB
	}
	if rl.PidsLimit == 0 {
		rl.PidsLimit = def.PidsLimit
	}
	if rl.DiskMB == 0 {
		rl.DiskMB = def.DiskMB
	}
	return rl
}

// MemoryBytes is the hard memory ceiling in bytes. The same number feeds the
// cgroup limit and the RLIMIT_AS the harness sets inside the child.
func (rl ResourceLimits) MemoryBytes() int64 { return rl.MemoryMB << 20 }

// DiskBytes is the scratch/tmpfs ceiling in bytes.
func (rl ResourceLimits) DiskBytes() int64 { return rl.DiskMB << 20 }

// CPUs converts shares to fractional cores for interfaces priced in cores.
func (rl ResourceLimits) CPUs() float64 { return float64(rl.CPUShares) / 1024.0 }

// Validate range-checks the fields a caller actually set. Zero fields pass:
// they are resolved by Merge, not by the caller.
func (rl ResourceLimits) Validate() error {
	check := func(name string, v, min, max int64) error {
		if v != 0 && (v < min || v > max) {
			return fmt.Errorf("%w: %s must be %d-%d, got %d", ErrInvalidRequest, name, min, max, v)
		}
		return nil
	}
	if err := check("cpu_shares", rl.CPUShares, minCPUShares, maxCPUShares); err != nil {
		return err
	}
	if err := check("memory_mb", rl.MemoryMB, minMemoryMB, maxMemoryMB); err != nil {
		return err
	}
	if err := check("pids_limit", rl.PidsLimit, minPidsLimit, maxPidsLimit); err != nil {
		return err
	}
	return check("disk_mb", rl.DiskMB, minDiskMB, maxDiskMB)
}

// cfsPeriodUS is the CFS scheduling period handed to the runtime spec.
const cfsPeriodUS = 100000

// cfsQuota converts shares into a hard CFS quota. Shares alone are a soft,
// relative weight; the quota makes the cap absolute.
func (rl ResourceLimits) cfsQuota() int64 {
	quota := int64(rl.CPUs() * cfsPeriodUS)
	if quota < 1000 {
		quota = 1000
	}
	return quota
}

// ApplyResourceLimits writes the resolved limits into an OCI runtime spec:
// CFS cpu cap, memory+swap ceiling, pids cap, a bounded /tmp tmpfs, and
// process rlimits mirroring the cgroup numbers.
func ApplyResourceLimits(spec *specs.Spec, limits ResourceLimits) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Linux.Resources == nil {
		spec.Linux.Resources = &specs.LinuxResources{}
	}

	period := uint64(cfsPeriodUS)
	quota := limits.cfsQuota()
	spec.Linux.Resources.CPU = &specs.LinuxCPU{Period: &period, Quota: &quota}

	// Swap set equal to the memory limit disables swapping past it.
	memBytes := limits.MemoryBytes()
	spec.Linux.Resources.Memory = &specs.LinuxMemory{Limit: &memBytes, Swap: &memBytes}

	spec.Linux.Resources.Pids = &specs.LinuxPids{Limit: limits.PidsLimit}

	spec.Mounts = ensureMount(spec.Mounts, specs.Mount{
		Destination: "/tmp",
		Type:        "tmpfs",
		Source:      "tmpfs",
		Options: []string{
			"nosuid", "nodev",
			fmt.Sprintf("size=%d", limits.DiskBytes()),
			"mode=1777",
		},
	})

	spec.Process.Rlimits = processRlimits(limits)
}

// processRlimits mirrors the cgroup ceilings as per-process rlimits so a
// candidate that escapes the cgroup hierarchy still hits the same walls.
func processRlimits(limits ResourceLimits) []specs.POSIXRlimit {
	rl := func(typ string, v uint64) specs.POSIXRlimit {
		return specs.POSIXRlimit{Type: typ, Hard: v, Soft: v}
	}
	return []specs.POSIXRlimit{
		rl("RLIMIT_NOFILE", 256),
		rl("RLIMIT_NPROC", clampUint64(limits.PidsLimit)),
		rl("RLIMIT_FSIZE", clampUint64(limits.DiskBytes())),
		rl("RLIMIT_CORE", 0),
		rl("RLIMIT_STACK", 8<<20),
	}
}

func clampUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// ensureMount appends m unless a mount for its destination already exists.
func ensureMount(mounts []specs.Mount, m specs.Mount) []specs.Mount {
	for _, existing := range mounts {
		if existing.Destination == m.Destination {
			return mounts
		}
	}
	return append(mounts, m)
}
