package rules

import (
	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/pkg/model"
)

func checkDeviceCount(h *inventory.Host, _ Thresholds) []model.CheckResult {
	if !h.Known(inventory.SourcePCIe) {
		return sourceUnavailable(inventory.SourcePCIe)
	}
	if !h.Known(inventory.SourceAccelerator) {
		if h.PCIeCount == 0 {
			return sourceUnavailable(inventory.SourceAccelerator)
		}
		// A driver that cannot answer at all has lost every GPU on the bus.
		r := result(model.StatusFail, "", "%d GPU(s) missing: %d on the PCIe bus, accelerator source unavailable",
			h.PCIeCount, h.PCIeCount)
		dropped := make([]string, 0, h.PCIeCount)
		for _, d := range h.Devices {
			if d.OnPCIe {
				dropped = append(dropped, d.BusAddress)
			}
		}
		r.Detail = map[string]any{
			"pcie_count":         h.PCIeCount,
			"missing":            h.PCIeCount,
			"dropped":            dropped,
			"accelerator_source": "unavailable",
		}
		return []model.CheckResult{r}
	}

	detail := map[string]any{
		"pcie_count":        h.PCIeCount,
		"accelerator_count": h.AcceleratorCount,
	}

	var r model.CheckResult
	switch delta := h.PCIeCount - h.AcceleratorCount; {
	case delta == 0:
		r = result(model.StatusPass, "", "%d GPUs on the PCIe bus, %d reported by the driver", h.PCIeCount, h.AcceleratorCount)
	case delta > 0:
		r = result(model.StatusFail, "", "%d GPU(s) missing: %d on the PCIe bus, %d reported by the driver",
			delta, h.PCIeCount, h.AcceleratorCount)
		detail["missing"] = delta
		if len(h.Dropped) > 0 {
			detail["dropped"] = append([]string(nil), h.Dropped...)
		}
	default:
		r = result(model.StatusFail, "", "driver reports %d GPU(s) more than the PCIe bus: %d on the bus, %d reported",
			-delta, h.PCIeCount, h.AcceleratorCount)
		detail["extra"] = -delta
	}
	r.Detail = detail
	return []model.CheckResult{r}
}

// checkGPUPresence fails a host whose PCIe bus shows no GPU at all.
func checkGPUPresence(h *inventory.Host, _ Thresholds) []model.CheckResult {
	if !h.Known(inventory.SourcePCIe) {
		return sourceUnavailable(inventory.SourcePCIe)
	}
	r := result(model.StatusPass, "", "%d GPU(s) on the PCIe bus", h.PCIeCount)
	if h.PCIeCount == 0 {
		r = result(model.StatusFail, "", "no NVIDIA GPUs found on the PCIe bus")
	}
	r.Detail = map[string]any{"pcie_count": h.PCIeCount}
	return []model.CheckResult{r}
}

func checkPCIeLinkWidth(h *inventory.Host, _ Thresholds) []model.CheckResult {
	devs, skip := recognizedOrSkip(h)
	if skip != nil {
		return skip
	}

	out := make([]model.CheckResult, 0, len(devs))
	for _, d := range devs {
		subject := d.Label()
		if d.LinkWidthCurrent == nil || d.LinkWidthMax == nil {
			out = append(out, skipped(subject, "PCIe link width not reported"))
			continue
		}
		cur, maxWidth := *d.LinkWidthCurrent, *d.LinkWidthMax

		var r model.CheckResult
		switch {
		case cur > maxWidth:
			r = skipped(subject, "malformed PCIe link width: current x%d exceeds max x%d", cur, maxWidth)
		case cur < maxWidth:
			r = result(model.StatusFail, subject, "PCIe link degraded: x%d of x%d", cur, maxWidth)
		default:
			r = result(model.StatusPass, subject, "PCIe link x%d", cur)
		}
		r.Detail = map[string]any{"current_width": cur, "max_width": maxWidth}
		out = append(out, r)
	}
	return out
}

func checkTemperature(h *inventory.Host, t Thresholds) []model.CheckResult {
	devs, skip := recognizedOrSkip(h)
	if skip != nil {
		return skip
	}

	out := make([]model.CheckResult, 0, len(devs))
	for _, d := range devs {
		subject := d.Label()
		if d.TemperatureC == nil {
			out = append(out, skipped(subject, "temperature not reported"))
			continue
		}
		temp := *d.TemperatureC

		var r model.CheckResult
		if temp > t.MaxTemperatureC {
			r = result(model.StatusWarn, subject, "temperature %.1f°C above %.1f°C", temp, t.MaxTemperatureC)
		} else {
			r = result(model.StatusPass, subject, "temperature %.1f°C", temp)
		}
		r.Detail = map[string]any{"temperature_c": temp, "threshold_c": t.MaxTemperatureC}
		out = append(out, r)
	}
	return out
}

func checkECC(h *inventory.Host, _ Thresholds) []model.CheckResult {
	devs, skip := recognizedOrSkip(h)
	if skip != nil {
		return skip
	}

	out := make([]model.CheckResult, 0, len(devs))
	for _, d := range devs {
		subject := d.Label()
		if d.UncorrectedECC == nil {
			out = append(out, skipped(subject, "uncorrected ECC count not reported"))
			continue
		}
		n := *d.UncorrectedECC

		var r model.CheckResult
		switch {
		case n < 0:
			r = skipped(subject, "invalid uncorrected ECC count %d", n)
		case n > 0:
			r = result(model.StatusFail, subject, "%d uncorrected ECC error(s)", n)
		default:
			r = result(model.StatusPass, subject, "no uncorrected ECC errors")
		}
		r.Detail = map[string]any{"uncorrected_ecc": n}
		out = append(out, r)
	}
	return out
}
