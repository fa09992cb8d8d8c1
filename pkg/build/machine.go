package build

import (
	"os"
	"strings"
)

const machineIDPath = "/etc/machine-id"

// MachineID identifies the host a snapshot was taken on. It prefers the
// systemd machine id and falls back to the hostname when that file is
// absent or empty.
func MachineID() string {
	if raw, err := os.ReadFile(machineIDPath); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id
		}
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
