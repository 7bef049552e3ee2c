package rules

import (
	"sort"
	"strconv"

	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/pkg/model"
)

// checkZombieClaims flags every process holding GPU memory that is absent
// from the live process table.
func checkZombieClaims(h *inventory.Host, _ Thresholds) []model.CheckResult {
	if !h.Known(inventory.SourceAccelerator) {
		return sourceUnavailable(inventory.SourceAccelerator)
	}
	if !h.Known(inventory.SourceProcesses) {
		return sourceUnavailable(inventory.SourceProcesses)
	}
	if len(h.Claims) == 0 {
		return []model.CheckResult{result(model.StatusPass, "", "no processes hold GPU memory")}
	}

	out := make([]model.CheckResult, 0, len(h.Claims))
	for _, c := range h.Claims {
		var r model.CheckResult
		if h.LivePIDs.Has(c.PID) {
			r = result(model.StatusPass, c.BusAddress, "PID %d is running", c.PID)
		} else {
			r = result(model.StatusFail, c.BusAddress, "PID %d holds GPU memory on %s but is not running", c.PID, c.BusAddress)
		}
		detail := map[string]any{"pid": c.PID}
		if c.VRAMBytes != nil {
			detail["vram_bytes"] = *c.VRAMBytes
		}
		r.Detail = detail
		out = append(out, r)
	}
	return out
}

// checkKernelEvents fails when any critical GPU signature was logged inside
// the window.
func checkKernelEvents(h *inventory.Host, _ Thresholds) []model.CheckResult {
	if !h.Known(inventory.SourceKernelLog) {
		return sourceUnavailable(inventory.SourceKernelLog)
	}
	window := h.KernelWindow.String()
	if len(h.KernelEvents) == 0 {
		r := result(model.StatusPass, "", "no critical GPU events in the last %s", window)
		r.Detail = map[string]any{"window": window}
		return []model.CheckResult{r}
	}

	xids := make(map[int]struct{})
	signatures := make(map[string]int)
	for _, ev := range h.KernelEvents {
		signatures[string(ev.Signature)]++
		if ev.Signature == inventory.SignatureXid {
			xids[ev.Code] = struct{}{}
		}
	}
	codes := make([]int, 0, len(xids))
	for c := range xids {
		codes = append(codes, c)
	}
	sort.Ints(codes)

	r := result(model.StatusFail, "", "%d critical GPU event(s) in the last %s", len(h.KernelEvents), window)
	r.Detail = map[string]any{
		"count":      len(h.KernelEvents),
		"xid_codes":  codes,
		"signatures": signatures,
		"window":     window,
		"latest":     h.KernelEvents[0].Text,
	}
	return []model.CheckResult{r}
}

// checkRdmaPorts reports per-port state. The RDMA source is optional: when
// absent the dimension is Skipped, never Pass or Fail.
func checkRdmaPorts(h *inventory.Host, _ Thresholds) []model.CheckResult {
	if !h.Known(inventory.SourceRDMA) {
		return sourceUnavailable(inventory.SourceRDMA)
	}
	if len(h.RdmaPorts) == 0 {
		return []model.CheckResult{skipped("", "no RDMA ports found")}
	}

	ports := append([]inventory.RdmaPort(nil), h.RdmaPorts...)
	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].Device != ports[j].Device {
			return ports[i].Device < ports[j].Device
		}
		return ports[i].Port < ports[j].Port
	})

	out := make([]model.CheckResult, 0, len(ports))
	for _, p := range ports {
		subject := p.Device + "/" + strconv.Itoa(p.Port)
		var r model.CheckResult
		switch p.State {
		case inventory.PortActive:
			r = result(model.StatusPass, subject, "port active")
		case inventory.PortDown:
			r = result(model.StatusFail, subject, "port down")
		default:
			r = skipped(subject, "port state %q not conclusive", p.RawState)
		}
		r.Detail = map[string]any{"state": p.RawState}
		out = append(out, r)
	}
	return out
}
