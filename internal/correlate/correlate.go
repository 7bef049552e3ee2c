// Package correlate joins per-source records into one inventory.Host using
// map lookups on natural keys: bus address for PCIe and accelerator records,
// driver index for interconnect links, bus address for process claims.
// Record order is never assumed to line up across sources.
package correlate

import (
	"log/slog"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	diagerrors "github.com/kubeadapt/gpudiag/internal/errors"
	"github.com/kubeadapt/gpudiag/internal/inventory"
)

const component = "correlate"

// Correlate builds the host model from parsed inputs. Data-quality problems
// (duplicate keys, records that do not join) are logged and, when issues is
// non-nil, reported as CORRELATION_MISMATCH. It never fails.
func Correlate(in inventory.Inputs, issues *diagerrors.Collector) inventory.Host {
	c := &correlator{issues: issues}

	pcieByBus := c.indexPCIe(in.PCIe)
	accelByBus := c.indexAccelerators(in.Accelerators)

	buses := sets.KeySet(pcieByBus).Union(sets.KeySet(accelByBus))
	ordered := sets.List(buses)

	host := inventory.Host{
		Devices:          make([]inventory.Device, 0, len(ordered)),
		PCIeCount:        len(pcieByBus),
		AcceleratorCount: len(accelByBus),
		Dropped:          make([]string, 0),
		LivePIDs:         in.LivePIDs,
		Versions:         in.Versions,
		KernelEvents:     in.KernelEvents,
		KernelWindow:     in.KernelWindow,
		RdmaPorts:        in.RdmaPorts,
		Unavailable:      in.Unavailable,
	}
	if host.Unavailable == nil {
		host.Unavailable = sets.New[inventory.Source]()
	}
	if host.LivePIDs == nil {
		host.LivePIDs = sets.New[int]()
	}

	for _, bus := range ordered {
		p, onPCIe := pcieByBus[bus]
		a, recognized := accelByBus[bus]

		dev := inventory.Device{
			BusAddress: bus,
			Recognized: recognized,
			OnPCIe:     onPCIe,
		}
		if onPCIe {
			dev.LinkWidthCurrent = p.LinkWidthCurrent
			dev.LinkWidthMax = p.LinkWidthMax
		}
		if recognized {
			dev.Index = a.Index
			dev.UUID = a.UUID
			dev.Name = a.Name
			dev.TemperatureC = a.TemperatureC
			dev.UncorrectedECC = a.UncorrectedECC
			dev.MemoryUsedBytes = a.MemoryUsedBytes
			dev.PowerDrawW = a.PowerDrawW
			dev.PowerLimitW = a.PowerLimitW
			// lspci hides link capabilities when run unprivileged.
			if dev.LinkWidthCurrent == nil {
				dev.LinkWidthCurrent = a.LinkWidthCurrent
			}
			if dev.LinkWidthMax == nil {
				dev.LinkWidthMax = a.LinkWidthMax
			}
		}

		switch {
		case onPCIe && !recognized && in.Has(inventory.SourceAccelerator):
			slog.Warn("GPU present on PCIe bus but not reported by driver", "bus", bus)
			host.Dropped = append(host.Dropped, bus)
		case recognized && !onPCIe && in.Has(inventory.SourcePCIe):
			c.mismatch("driver reports GPU %s that the PCIe scan did not find", bus)
		}

		host.Devices = append(host.Devices, dev)
	}

	c.attachLinks(&host, in.Links)
	c.attachClaims(&host, in.Claims)
	host.Versions = c.versions(in)

	return host
}

type correlator struct {
	issues *diagerrors.Collector
}

func (c *correlator) mismatch(format string, args ...any) {
	e := diagerrors.New(diagerrors.ErrCorrelationMismatch, component, nil, format, args...)
	slog.Warn("correlation mismatch", "detail", e.Message)
	if c.issues != nil {
		c.issues.Report(*e)
	}
}

func (c *correlator) indexPCIe(records []inventory.PCIeRecord) map[string]inventory.PCIeRecord {
	out := make(map[string]inventory.PCIeRecord, len(records))
	for _, r := range records {
		if _, dup := out[r.BusAddress]; dup {
			c.mismatch("duplicate PCIe record for bus %s, keeping the first", r.BusAddress)
			continue
		}
		out[r.BusAddress] = r
	}
	return out
}

func (c *correlator) indexAccelerators(records []inventory.AcceleratorRecord) map[string]inventory.AcceleratorRecord {
	out := make(map[string]inventory.AcceleratorRecord, len(records))
	for _, r := range records {
		if _, dup := out[r.BusAddress]; dup {
			c.mismatch("duplicate accelerator record for bus %s, keeping the first", r.BusAddress)
			continue
		}
		out[r.BusAddress] = r
	}
	return out
}

// attachLinks joins link records to recognized devices by driver index.
func (c *correlator) attachLinks(host *inventory.Host, links []inventory.LinkRecord) {
	byIndex := make(map[int]int, len(host.Devices))
	for i, d := range host.Devices {
		if !d.Recognized || d.Index == nil {
			continue
		}
		if prev, dup := byIndex[*d.Index]; dup {
			c.mismatch("driver index %d reported for both %s and %s", *d.Index, host.Devices[prev].BusAddress, d.BusAddress)
			continue
		}
		byIndex[*d.Index] = i
	}

	for _, l := range links {
		i, ok := byIndex[l.DriverIndex]
		if !ok {
			c.mismatch("interconnect link %d references unknown GPU index %d", l.LinkIndex, l.DriverIndex)
			continue
		}
		host.Devices[i].Links = append(host.Devices[i].Links, inventory.InterconnectLink{
			ID:       l.LinkIndex,
			Status:   l.Status,
			Counters: l.Counters,
		})
	}

	for i := range host.Devices {
		ls := host.Devices[i].Links
		sort.SliceStable(ls, func(a, b int) bool { return ls[a].ID < ls[b].ID })
	}
}

// attachClaims attaches claims to devices by bus address. Every claim stays in
// host.Claims regardless so that the zombie rule sees it.
func (c *correlator) attachClaims(host *inventory.Host, claims []inventory.ProcessClaim) {
	byBus := make(map[string]int, len(host.Devices))
	for i, d := range host.Devices {
		byBus[d.BusAddress] = i
	}

	host.Claims = make([]inventory.ProcessClaim, 0, len(claims))
	for _, cl := range claims {
		host.Claims = append(host.Claims, cl)
		i, ok := byBus[cl.BusAddress]
		if !ok {
			c.mismatch("process %d holds memory on unknown GPU %s", cl.PID, cl.BusAddress)
			continue
		}
		host.Devices[i].Claims = append(host.Devices[i].Claims, cl)
	}

	sort.SliceStable(host.Claims, func(a, b int) bool {
		if host.Claims[a].PID != host.Claims[b].PID {
			return host.Claims[a].PID < host.Claims[b].PID
		}
		return host.Claims[a].BusAddress < host.Claims[b].BusAddress
	})
}

// versions fills the distinct driver versions from accelerator records when
// the version source did not provide them.
func (c *correlator) versions(in inventory.Inputs) inventory.VersionInfo {
	v := in.Versions
	if len(v.DriverVersions) == 0 {
		seen := sets.New[string]()
		for _, a := range in.Accelerators {
			if a.DriverVersion != "" {
				seen.Insert(a.DriverVersion)
			}
		}
		v.DriverVersions = sets.List(seen)
	}
	if v.DriverVersion == "" && len(v.DriverVersions) > 0 {
		v.DriverVersion = v.DriverVersions[0]
	}
	if v.FabricManagerState == "" {
		v.FabricManagerState = inventory.ServiceUnknown
	}
	return v
}
