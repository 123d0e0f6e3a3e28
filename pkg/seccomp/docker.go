package seccomp

import (
	"encoding/json"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// dockerProfile mirrors the JSON schema Docker expects for
// --security-opt seccomp=<file>. The action and architecture strings are
// the same SCMP_* names the runtime spec uses.
type dockerProfile struct {
	DefaultAction string          `json:"defaultAction"`
	Architectures []string        `json:"architectures"`
	Syscalls      []dockerSyscall `json:"syscalls"`
}

type dockerSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

// DockerProfileJSON renders the default profile in Docker's seccomp file
// format.
func DockerProfileJSON() ([]byte, error) {
	return toDockerJSON(DefaultProfile())
}

func toDockerJSON(p *specs.LinuxSeccomp) ([]byte, error) {
	out := dockerProfile{
		DefaultAction: string(p.DefaultAction),
		Architectures: make([]string, 0, len(p.Architectures)),
		Syscalls:      make([]dockerSyscall, 0, len(p.Syscalls)),
	}
	for _, a := range p.Architectures {
		out.Architectures = append(out.Architectures, string(a))
	}
	for _, sc := range p.Syscalls {
		out.Syscalls = append(out.Syscalls, dockerSyscall{
			Names:  sc.Names,
			Action: string(sc.Action),
		})
	}
	return json.MarshalIndent(out, "", "  ")
}
