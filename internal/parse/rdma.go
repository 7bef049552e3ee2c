package parse

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kubeadapt/gpudiag/internal/inventory"
)

var (
	hcaIDPattern    = regexp.MustCompile(`^hca_id:\s*(\S+)`)
	ibvPortPattern  = regexp.MustCompile(`^port:\s*(\d+)`)
	ibvStatePattern = regexp.MustCompile(`^state:\s*(\S+)`)
)

// ParseIbvDevinfo parses `ibv_devinfo` output into one record per port.
// "No IB devices found" yields an empty slice.
func ParseIbvDevinfo(raw string) []inventory.RdmaPort {
	ports := make([]inventory.RdmaPort, 0)
	device := ""
	port := -1

	for _, line := range lines(raw) {
		if m := hcaIDPattern.FindStringSubmatch(line); m != nil {
			device = m[1]
			port = -1
			continue
		}
		if m := ibvPortPattern.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				slog.Warn("invalid RDMA port number", "device", device, "value", m[1])
				port = -1
				continue
			}
			port = n
			continue
		}
		if m := ibvStatePattern.FindStringSubmatch(line); m != nil && device != "" && port >= 0 {
			ports = append(ports, inventory.RdmaPort{
				Device:   device,
				Port:     port,
				State:    portState(m[1]),
				RawState: m[1],
			})
			port = -1
		}
	}
	return ports
}

// SysfsPortState builds a port record from the state name sysfs reports
// for /sys/class/infiniband/<dev>/ports/<n>/state, e.g. "ACTIVE".
func SysfsPortState(device string, port int, state string) inventory.RdmaPort {
	raw := strings.TrimSpace(state)
	return inventory.RdmaPort{
		Device:   device,
		Port:     port,
		State:    portState(raw),
		RawState: raw,
	}
}

func portState(s string) inventory.PortState {
	switch strings.TrimPrefix(strings.ToUpper(s), "PORT_") {
	case "ACTIVE":
		return inventory.PortActive
	case "DOWN":
		return inventory.PortDown
	default:
		return inventory.PortUnknown
	}
}
