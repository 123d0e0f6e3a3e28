package sandbox

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// scanOutput checks captured output for signs that a candidate probed the
// isolation boundary. The static validator and the sandbox enforce the real
// limits; this is a detection layer on top of them.
func scanOutput(output string) []SecurityEvent {
	patterns := []struct {
		name   string
		substr string
	}{
		{"host_info_leak", "host:"},
		{"kernel_leak", "Linux version"},
		{"root_access", "root:x:0:0"},
		{"docker_socket", "docker.sock"},
		{"containerd_socket", "containerd.sock"},
		{"proc_self_access", "/proc/self/"},
		{"cgroup_probe", "/sys/fs/cgroup"},
		{"metadata_service", "169.254.169.254"},
	}

	var events []SecurityEvent
	for _, p := range patterns {
		if strings.Contains(output, p.substr) {
			events = append(events, SecurityEvent{
				Type:   p.name,
				Detail: "suspicious content in output: " + p.name,
			})
			log.Warn().Str("pattern", p.name).Msg("suspicious content in sandbox output")
		}
	}
	return events
}
