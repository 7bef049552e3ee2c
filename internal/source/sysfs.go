package source

import (
	"fmt"
	"sort"

	"github.com/prometheus/procfs/sysfs"

	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/internal/parse"
)

// InfinibandSysfs reads RDMA port state from <sysRoot>/class/infiniband.
type InfinibandSysfs struct {
	root string
}

// NewInfinibandSysfs returns a reader rooted at sysRoot ("" means /sys).
func NewInfinibandSysfs(sysRoot string) *InfinibandSysfs {
	if sysRoot == "" {
		sysRoot = sysfs.DefaultMountPoint
	}
	return &InfinibandSysfs{root: sysRoot}
}

// Ports returns every port of every RDMA device, sorted by device then port.
// A missing class directory means no RDMA stack and yields os.ErrNotExist.
func (s *InfinibandSysfs) Ports() ([]inventory.RdmaPort, error) {
	fs, err := sysfs.NewFS(s.root)
	if err != nil {
		return nil, fmt.Errorf("opening sysfs at %s: %w", s.root, err)
	}
	class, err := fs.InfiniBandClass()
	if err != nil {
		return nil, fmt.Errorf("reading infiniband class under %s: %w", s.root, err)
	}

	ports := make([]inventory.RdmaPort, 0)
	for name, dev := range class {
		for n, p := range dev.Ports {
			ports = append(ports, parse.SysfsPortState(name, int(n), p.State))
		}
	}

	sort.Slice(ports, func(i, j int) bool {
		if ports[i].Device != ports[j].Device {
			return ports[i].Device < ports[j].Device
		}
		return ports[i].Port < ports[j].Port
	})
	return ports, nil
}
