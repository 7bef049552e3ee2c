package parse

import (
	"regexp"
	"strings"

	"github.com/kubeadapt/gpudiag/internal/inventory"
)

var (
	// Fabric Manager version is : 535.104.05
	fabricManagerVersionPattern = regexp.MustCompile(`(?i)version\s+is\s*:\s*(\d+(?:\.\d+)*)`)
	// Cuda compilation tools, release 12.1, V12.1.105
	nvccReleasePattern = regexp.MustCompile(`release (\d+\.\d+)`)
)

// ParseFabricManagerVersion extracts the version from
// `nv-fabricmanager --version`. It returns "" when none is found.
func ParseFabricManagerVersion(raw string) string {
	if m := fabricManagerVersionPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// ParseNvccVersion extracts the toolkit release from `nvcc --version`.
func ParseNvccVersion(raw string) string {
	if m := nvccReleasePattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// ParseServiceState maps the first line of `systemctl is-active <unit>` (or a
// D-Bus ActiveState value) onto a ServiceState.
func ParseServiceState(raw string) inventory.ServiceState {
	first := ""
	if ls := lines(raw); len(ls) > 0 {
		first = strings.ToLower(ls[0])
	}
	switch first {
	case "active":
		return inventory.ServiceActive
	case "inactive", "failed", "dead", "activating", "deactivating", "reloading", "maintenance":
		return inventory.ServiceInactive
	default:
		return inventory.ServiceUnknown
	}
}
