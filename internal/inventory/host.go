package inventory

import (
	"strconv"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Device is one physical GPU after PCIe and accelerator records have been
// merged on bus address. Recognized is false for a dropped device: present
// on the bus but invisible to the driver. OnPCIe is false when the driver
// reports a GPU the PCIe scan did not find.
type Device struct {
	BusAddress string
	Index      *int
	UUID       string
	Name       string

	Recognized bool
	OnPCIe     bool

	LinkWidthCurrent *int
	LinkWidthMax     *int

	TemperatureC    *float64
	UncorrectedECC  *int64
	MemoryUsedBytes *int64
	PowerDrawW      *float64
	PowerLimitW     *float64

	Claims []ProcessClaim
	Links  []InterconnectLink
}

// Host is the correlated model of one machine for one run. It is built once
// by the correlator and treated as read-only afterwards.
type Host struct {
	Devices          []Device
	PCIeCount        int
	AcceleratorCount int
	Dropped          []string

	Claims   []ProcessClaim
	LivePIDs sets.Set[int]

	Versions VersionInfo

	KernelEvents []LogEvent
	KernelWindow time.Duration

	RdmaPorts []RdmaPort

	Unavailable sets.Set[Source]
}

// Known reports whether src contributed data to the model.
func (h *Host) Known(src Source) bool {
	return h.Unavailable == nil || !h.Unavailable.Has(src)
}

// Recognized returns the devices the accelerator driver reports, in bus
// address order.
func (h *Host) Recognized() []Device {
	out := make([]Device, 0, len(h.Devices))
	for _, d := range h.Devices {
		if d.Recognized {
			out = append(out, d)
		}
	}
	return out
}

// Label returns a short human identifier for the device.
func (d Device) Label() string {
	if d.Index != nil {
		return "GPU " + strconv.Itoa(*d.Index) + " (" + d.BusAddress + ")"
	}
	return d.BusAddress
}
