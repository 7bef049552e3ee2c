// Package collect gathers every data source concurrently and turns the raw
// output into parsed inventory.Inputs. Sources run in parallel behind a
// barrier; the merge into Inputs happens only after all of them returned.
package collect

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubeadapt/gpudiag/internal/inventory"
)

// Sources is the set of host collaborators a diagnostic run reads. Each
// method is bounded by ctx and returns parsed records. An error means the
// source produced no usable data at all.
type Sources interface {
	// PCIeDevices lists GPU-class functions on the PCIe bus.
	PCIeDevices(ctx context.Context) ([]inventory.PCIeRecord, error)
	// AcceleratorInventory lists GPUs known to the driver and the processes
	// holding their memory.
	AcceleratorInventory(ctx context.Context) (AcceleratorInventory, error)
	// InterconnectStatus lists interconnect links with their error counters.
	InterconnectStatus(ctx context.Context) ([]inventory.LinkRecord, error)
	// VersionInfo returns host-wide software versions. Fields that could not
	// be read are left empty.
	VersionInfo(ctx context.Context) (inventory.VersionInfo, error)
	// LiveProcessIDs returns the PIDs currently running.
	LiveProcessIDs(ctx context.Context) (sets.Set[int], error)
	// RecentKernelLog returns critical GPU kernel events newer than window,
	// most recent first.
	RecentKernelLog(ctx context.Context, window time.Duration) ([]inventory.LogEvent, error)
	// RdmaPortStatus lists RDMA ports. Hosts without RDMA tooling return an
	// error, which marks the dimension unknown.
	RdmaPortStatus(ctx context.Context) ([]inventory.RdmaPort, error)
}

// AcceleratorInventory is the accelerator source result. ClaimsErr is set
// when device telemetry was read but the process list was not; zombie
// detection is then impossible and the processes dimension becomes unknown.
type AcceleratorInventory struct {
	Records   []inventory.AcceleratorRecord
	Claims    []inventory.ProcessClaim
	ClaimsErr error
}
