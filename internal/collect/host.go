package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	diagerrors "github.com/kubeadapt/gpudiag/internal/errors"
	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/internal/parse"
	"github.com/kubeadapt/gpudiag/internal/source"
)

// PIDLister returns the live process IDs.
type PIDLister interface {
	LivePIDs() (sets.Set[int], error)
}

// UnitStateReader returns the activation state of a systemd unit.
type UnitStateReader interface {
	ActiveState(ctx context.Context, unit string) (inventory.ServiceState, error)
}

// PortLister lists RDMA ports without external tooling.
type PortLister interface {
	Ports() ([]inventory.RdmaPort, error)
}

// HostConfig wires HostSources to its readers.
type HostConfig struct {
	Runner            source.Runner
	Procs             PIDLister
	Units             UnitStateReader
	RDMA              PortLister
	FabricManagerUnit string
	MaxKernelEvents   int
	Issues            *diagerrors.Collector
	Clock             diagerrors.Clock
}

// HostSources implements Sources against the local machine using nvidia-smi,
// lspci, nv-fabricmanager, nvcc, dmesg, ibv_devinfo, procfs, sysfs and
// systemd.
type HostSources struct {
	cfg HostConfig
}

// NewHostSources returns HostSources. A nil Clock uses the system clock.
func NewHostSources(cfg HostConfig) *HostSources {
	if cfg.Clock == nil {
		cfg.Clock = diagerrors.RealClock{}
	}
	return &HostSources{cfg: cfg}
}

// partial records a failed sub-query of a source that still produced data.
func (h *HostSources) partial(src inventory.Source, what string, err error) {
	slog.Warn("partial source failure", "source", src, "query", what, "error", err)
	if h.cfg.Issues != nil {
		h.cfg.Issues.Report(*diagerrors.New(issueCode(err), "source."+string(src), err, "%s", what))
	}
}

// unrecognized records output that was read but yielded nothing. The source
// still counts as available.
func (h *HostSources) unrecognized(src inventory.Source, what, raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	slog.Warn("unrecognized source output", "source", src, "query", what, "bytes", len(raw))
	if h.cfg.Issues != nil {
		h.cfg.Issues.Reportf(diagerrors.ErrParsePartial, "parse."+string(src), "%s: output not recognized", what)
	}
}

// PCIeDevices implements Sources.
func (h *HostSources) PCIeDevices(ctx context.Context) ([]inventory.PCIeRecord, error) {
	out, err := h.cfg.Runner.Run(ctx, "lspci", "-D", "-vvv", "-d", "10de:")
	if err != nil {
		return nil, err
	}
	records := parse.ParseLspci(out)
	if len(records) == 0 {
		h.unrecognized(inventory.SourcePCIe, "lspci", out)
	}
	return records, nil
}

// AcceleratorInventory implements Sources.
func (h *HostSources) AcceleratorInventory(ctx context.Context) (AcceleratorInventory, error) {
	out, err := h.cfg.Runner.Run(ctx, "nvidia-smi",
		"--query-gpu="+strings.Join(parse.GPUQueryFields, ","),
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		if parse.NoDevicesFound(out) {
			slog.Warn("driver reports no GPUs", "error", err)
			return AcceleratorInventory{Records: []inventory.AcceleratorRecord{}}, nil
		}
		return AcceleratorInventory{}, err
	}
	inv := AcceleratorInventory{Records: parse.ParseGPUQuery(out)}
	if len(inv.Records) == 0 {
		h.unrecognized(inventory.SourceAccelerator, "nvidia-smi --query-gpu", out)
	}

	apps, err := h.cfg.Runner.Run(ctx, "nvidia-smi",
		"--query-compute-apps="+strings.Join(parse.ComputeAppsFields, ","),
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		inv.ClaimsErr = err
		return inv, nil
	}
	inv.Claims = parse.ParseComputeApps(apps)
	return inv, nil
}

// InterconnectStatus implements Sources.
func (h *HostSources) InterconnectStatus(ctx context.Context) ([]inventory.LinkRecord, error) {
	statusOut, err := h.cfg.Runner.Run(ctx, "nvidia-smi", "nvlink", "-s")
	if err != nil {
		return nil, err
	}
	status := parse.ParseNVLinkStatus(statusOut)

	var counters []inventory.LinkRecord
	errOut, err := h.cfg.Runner.Run(ctx, "nvidia-smi", "nvlink", "-e")
	if err != nil {
		h.partial(inventory.SourceInterconnect, "nvidia-smi nvlink -e", err)
	} else {
		counters = parse.ParseNVLinkErrors(errOut)
	}
	return parse.MergeLinks(status, counters), nil
}

// VersionInfo implements Sources. Each version is queried independently; the
// source only fails when none of them could be read.
func (h *HostSources) VersionInfo(ctx context.Context) (inventory.VersionInfo, error) {
	v := inventory.VersionInfo{FabricManagerState: inventory.ServiceUnknown}
	var errs []error
	read := 0

	if out, err := h.cfg.Runner.Run(ctx, "nvidia-smi"); err != nil {
		errs = append(errs, err)
		h.partial(inventory.SourceVersions, "nvidia-smi", err)
	} else {
		b := parse.ParseSMIBanner(out)
		if b == (parse.SMIBanner{}) {
			h.unrecognized(inventory.SourceVersions, "nvidia-smi", out)
		}
		v.DriverVersion = b.DriverVersion
		v.MaxSupportedToolkit = b.CUDAVersion
		read++
	}

	if out, err := h.cfg.Runner.Run(ctx, "nvidia-smi", "--query-gpu=driver_version", "--format=csv,noheader"); err != nil {
		errs = append(errs, err)
		h.partial(inventory.SourceVersions, "nvidia-smi --query-gpu=driver_version", err)
	} else {
		v.DriverVersions = parse.ParseDriverVersions(out)
		read++
	}

	if out, err := h.cfg.Runner.Run(ctx, "nv-fabricmanager", "--version"); err != nil {
		errs = append(errs, err)
		h.partial(inventory.SourceVersions, "nv-fabricmanager --version", err)
	} else {
		v.FabricManagerVersion = parse.ParseFabricManagerVersion(out)
		if v.FabricManagerVersion == "" {
			h.unrecognized(inventory.SourceVersions, "nv-fabricmanager --version", out)
		}
		read++
	}

	if h.cfg.Units != nil {
		state, err := h.cfg.Units.ActiveState(ctx, h.cfg.FabricManagerUnit)
		if err != nil {
			errs = append(errs, err)
			h.partial(inventory.SourceVersions, "fabric manager unit state", err)
		} else {
			v.FabricManagerState = state
			read++
		}
	}

	if out, err := h.cfg.Runner.Run(ctx, "nvcc", "--version"); err != nil {
		errs = append(errs, err)
		h.partial(inventory.SourceVersions, "nvcc --version", err)
	} else {
		v.CompilerVersion = parse.ParseNvccVersion(out)
		if v.CompilerVersion == "" {
			h.unrecognized(inventory.SourceVersions, "nvcc --version", out)
		}
		read++
	}

	if read == 0 {
		return v, fmt.Errorf("no version could be read: %w", utilerrors.NewAggregate(errs))
	}
	return v, nil
}

// LiveProcessIDs implements Sources.
func (h *HostSources) LiveProcessIDs(_ context.Context) (sets.Set[int], error) {
	if h.cfg.Procs == nil {
		return nil, errors.New("process table reader not configured")
	}
	return h.cfg.Procs.LivePIDs()
}

// RecentKernelLog implements Sources. ISO timestamps are requested first;
// util-linux releases without --time-format fall back to -T.
func (h *HostSources) RecentKernelLog(ctx context.Context, window time.Duration) ([]inventory.LogEvent, error) {
	out, err := h.cfg.Runner.Run(ctx, "dmesg", "--time-format", "iso")
	if _, exited := source.ExitStatus(err); exited {
		slog.Debug("dmesg --time-format iso failed, retrying with -T", "error", err)
		out, err = h.cfg.Runner.Run(ctx, "dmesg", "-T")
	}
	if err != nil {
		return nil, err
	}
	return parse.ParseKernelLog(out, parse.KernelLogOptions{
		Now:       h.cfg.Clock.Now(),
		Window:    window,
		MaxEvents: h.cfg.MaxKernelEvents,
	}), nil
}

// RdmaPortStatus implements Sources. ibv_devinfo is preferred; sysfs is read
// when the tool is missing.
func (h *HostSources) RdmaPortStatus(ctx context.Context) ([]inventory.RdmaPort, error) {
	out, err := h.cfg.Runner.Run(ctx, "ibv_devinfo")
	if err == nil {
		return parse.ParseIbvDevinfo(out), nil
	}
	if h.cfg.RDMA == nil || !errors.Is(err, source.ErrNotFound) {
		return nil, err
	}
	ports, sysErr := h.cfg.RDMA.Ports()
	if sysErr != nil {
		return nil, utilerrors.NewAggregate([]error{err, sysErr})
	}
	return ports, nil
}
