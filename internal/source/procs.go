package source

import (
	"fmt"

	"github.com/prometheus/procfs"
	"k8s.io/apimachinery/pkg/util/sets"
)

// ProcTable lists live processes from a procfs mount.
type ProcTable struct {
	fs procfs.FS
}

// NewProcTable opens the procfs mounted at root ("" means /proc).
func NewProcTable(root string) (*ProcTable, error) {
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", root, err)
	}
	return &ProcTable{fs: fs}, nil
}

// LivePIDs returns the set of PIDs currently present.
func (p *ProcTable) LivePIDs() (sets.Set[int], error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	pids := sets.New[int]()
	for _, proc := range procs {
		pids.Insert(proc.PID)
	}
	return pids, nil
}
