// Package inventory holds the normalized entity model shared by the parsers,
// the correlator and the rule evaluator. Optional numeric attributes are
// pointers: nil means the source did not report the value, which is distinct
// from a reported zero.
package inventory

import (
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Source names one collaborator data source.
type Source string

const (
	SourcePCIe         Source = "pcie"
	SourceAccelerator  Source = "accelerator"
	SourceInterconnect Source = "interconnect"
	SourceVersions     Source = "versions"
	SourceProcesses    Source = "processes"
	SourceKernelLog    Source = "kernel_log"
	SourceRDMA         Source = "rdma"
)

// AllSources lists every source in collection order.
var AllSources = []Source{
	SourcePCIe,
	SourceAccelerator,
	SourceInterconnect,
	SourceVersions,
	SourceProcesses,
	SourceKernelLog,
	SourceRDMA,
}

// PCIeRecord is one GPU-class function found on the PCIe bus.
type PCIeRecord struct {
	BusAddress       string
	Description      string
	LinkWidthCurrent *int
	LinkWidthMax     *int
}

// AcceleratorRecord is one GPU as reported by the accelerator driver.
type AcceleratorRecord struct {
	BusAddress       string
	Index            *int
	UUID             string
	Name             string
	TemperatureC     *float64
	UncorrectedECC   *int64
	MemoryUsedBytes  *int64
	PowerDrawW       *float64
	PowerLimitW      *float64
	LinkWidthCurrent *int
	LinkWidthMax     *int
	DriverVersion    string
}

// ProcessClaim is a process holding device memory on one GPU.
type ProcessClaim struct {
	PID        int
	BusAddress string
	VRAMBytes  *int64
}

// LinkStatus is the state of one interconnect link.
type LinkStatus string

const (
	LinkActive   LinkStatus = "Active"
	LinkInactive LinkStatus = "Inactive"
	LinkUnknown  LinkStatus = "Unknown"
)

// LinkCounters holds cumulative interconnect error counters. A nil counter
// was not reported; zero is the healthy baseline.
type LinkCounters struct {
	CRC      *int64
	Recovery *int64
	Fatal    *int64
	Replay   *int64
}

// LinkRecord is one interconnect link as reported for a GPU driver index.
type LinkRecord struct {
	DriverIndex int
	LinkIndex   int
	Status      LinkStatus
	Counters    LinkCounters
}

// InterconnectLink is a link attached to a correlated Device.
type InterconnectLink struct {
	ID       int
	Status   LinkStatus
	Counters LinkCounters
}

// ServiceState is the activation state of a system service.
type ServiceState string

const (
	ServiceActive   ServiceState = "active"
	ServiceInactive ServiceState = "inactive"
	ServiceUnknown  ServiceState = "unknown"
)

// VersionInfo is the host-wide software version snapshot. Empty strings mean
// the query failed or the component is not installed.
type VersionInfo struct {
	DriverVersion        string
	DriverVersions       []string
	FabricManagerVersion string
	FabricManagerState   ServiceState
	CompilerVersion      string
	MaxSupportedToolkit  string
}

// LogSignature identifies which critical pattern a kernel log line matched.
type LogSignature string

const (
	SignatureXid          LogSignature = "xid"
	SignatureSXid         LogSignature = "sxid"
	SignatureFallenOffBus LogSignature = "fallen_off_bus"
)

// LogEvent is a kernel log line matching a critical hardware signature.
// Timestamp is zero when the line carried no parsable time.
type LogEvent struct {
	Timestamp  time.Time
	Signature  LogSignature
	Code       int
	BusAddress string
	Text       string
}

// PortState is the link state of an RDMA port.
type PortState string

const (
	PortActive  PortState = "Active"
	PortDown    PortState = "Down"
	PortUnknown PortState = "Unknown"
)

// RdmaPort is one RDMA-capable network port.
type RdmaPort struct {
	Device   string
	Port     int
	State    PortState
	RawState string
}

// Inputs is everything the parsers produced for one run. Sources listed in
// Unavailable could not be read at all; their slices are empty and must be
// treated as unknown rather than healthy.
type Inputs struct {
	PCIe         []PCIeRecord
	Accelerators []AcceleratorRecord
	Claims       []ProcessClaim
	Links        []LinkRecord
	Versions     VersionInfo
	LivePIDs     sets.Set[int]
	KernelEvents []LogEvent
	KernelWindow time.Duration
	RdmaPorts    []RdmaPort

	Unavailable sets.Set[Source]
}

// NewInputs returns Inputs with initialized sets.
func NewInputs() Inputs {
	return Inputs{
		LivePIDs:    sets.New[int](),
		Unavailable: sets.New[Source](),
	}
}

// Has reports whether src was collected.
func (in *Inputs) Has(src Source) bool {
	return in.Unavailable == nil || !in.Unavailable.Has(src)
}
