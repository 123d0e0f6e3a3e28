// Package seccomp builds the deny-by-default syscall profile container
// backends apply to candidate executions.
package seccomp

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ProfileBuilder accumulates syscall rules onto a deny-by-default profile.
// Rules are evaluated in order, so a later Block wins over an earlier Allow
// for the same syscall.
type ProfileBuilder struct {
	profile *specs.LinuxSeccomp
}

// NewBuilder starts a profile that returns EPERM for anything not explicitly
// allowed, covering the two architectures the sandbox images ship for.
func NewBuilder() *ProfileBuilder {
	return &ProfileBuilder{
		profile: &specs.LinuxSeccomp{
			DefaultAction: specs.ActErrno,
			Architectures: []specs.Arch{
				specs.ArchX86_64,
				specs.ArchAARCH64,
			},
		},
	}
}

func (b *ProfileBuilder) rule(action specs.LinuxSeccompAction, names []string) *ProfileBuilder {
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: action,
	})
	return b
}

// Allow permits the named syscalls.
func (b *ProfileBuilder) Allow(names ...string) *ProfileBuilder {
	return b.rule(specs.ActAllow, names)
}

// Block makes the named syscalls fail with EPERM. Explicit blocks document
// intent even though the default action already denies.
func (b *ProfileBuilder) Block(names ...string) *ProfileBuilder {
	return b.rule(specs.ActErrno, names)
}

// Trap kills the calling thread with SIGSYS. Used for syscalls whose attempt
// alone is evidence of an escape, where a silent EPERM would let the
// candidate keep trying.
func (b *ProfileBuilder) Trap(names ...string) *ProfileBuilder {
	return b.rule(specs.ActTrap, names)
}

// Build returns the assembled profile.
func (b *ProfileBuilder) Build() *specs.LinuxSeccomp {
	return b.profile
}
