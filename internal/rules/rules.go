// Package rules evaluates the correlated host model against the diagnostic
// policies. Every rule is a pure function of the host and the thresholds:
// evaluating the same host twice yields the same ordered results.
//
// A rule that lacks the evidence it needs (source unavailable, field not
// reported, malformed value) emits a Skipped result rather than a Pass, so a
// report always distinguishes "checked and healthy" from "not checked".
package rules

import (
	"fmt"

	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/pkg/model"
)

// Result categories.
const (
	CategoryDevices      = "devices"
	CategoryPCIe         = "pcie"
	CategoryThermal      = "thermal"
	CategoryECC          = "ecc"
	CategoryVersions     = "versions"
	CategoryInterconnect = "interconnect"
	CategoryProcesses    = "processes"
	CategoryKernel       = "kernel"
	CategoryRDMA         = "rdma"
)

// DefaultMaxTemperatureC is the inclusive thermal limit.
const DefaultMaxTemperatureC = 85.0

// Thresholds holds the tunable limits used by the rules.
type Thresholds struct {
	MaxTemperatureC float64
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxTemperatureC: DefaultMaxTemperatureC}
}

// Rule is one named policy over the host model.
type Rule struct {
	Name     string
	Category string
	Check    func(h *inventory.Host, t Thresholds) []model.CheckResult
}

// All returns the rules in evaluation order.
func All() []Rule {
	return []Rule{
		{Name: "gpu_presence", Category: CategoryDevices, Check: checkGPUPresence},
		{Name: "device_count", Category: CategoryDevices, Check: checkDeviceCount},
		{Name: "pcie_link_width", Category: CategoryPCIe, Check: checkPCIeLinkWidth},
		{Name: "temperature", Category: CategoryThermal, Check: checkTemperature},
		{Name: "uncorrected_ecc", Category: CategoryECC, Check: checkECC},
		{Name: "fabric_manager", Category: CategoryVersions, Check: checkFabricManager},
		{Name: "compiler_compatibility", Category: CategoryVersions, Check: checkCompiler},
		{Name: "driver_uniformity", Category: CategoryVersions, Check: checkDriverUniformity},
		{Name: "link_status", Category: CategoryInterconnect, Check: checkLinkStatus},
		{Name: "link_errors", Category: CategoryInterconnect, Check: checkLinkErrors},
		{Name: "zombie_claim", Category: CategoryProcesses, Check: checkZombieClaims},
		{Name: "critical_events", Category: CategoryKernel, Check: checkKernelEvents},
		{Name: "port_status", Category: CategoryRDMA, Check: checkRdmaPorts},
	}
}

// Evaluator runs a fixed rule list with fixed thresholds.
type Evaluator struct {
	thresholds Thresholds
	rules      []Rule
}

// NewEvaluator returns an Evaluator over All(). A non-positive temperature
// limit falls back to the default.
func NewEvaluator(t Thresholds) *Evaluator {
	if t.MaxTemperatureC <= 0 {
		t.MaxTemperatureC = DefaultMaxTemperatureC
	}
	return &Evaluator{thresholds: t, rules: All()}
}

// Evaluate applies every rule in order. Each rule's results keep the rule's
// name and category regardless of what the rule function set.
func (e *Evaluator) Evaluate(h *inventory.Host) []model.CheckResult {
	results := make([]model.CheckResult, 0, 32)
	for _, r := range e.rules {
		for _, res := range r.Check(h, e.thresholds) {
			res.Name = r.Name
			res.Category = r.Category
			results = append(results, res)
		}
	}
	return results
}

func result(status model.Status, subject, format string, args ...any) model.CheckResult {
	return model.CheckResult{
		Status:  status,
		Subject: subject,
		Message: fmt.Sprintf(format, args...),
	}
}

func skipped(subject, format string, args ...any) model.CheckResult {
	return result(model.StatusSkipped, subject, format, args...)
}

func sourceUnavailable(src inventory.Source) []model.CheckResult {
	return []model.CheckResult{skipped("", "%s source unavailable", src)}
}

// recognizedOrSkip returns the recognized devices, or a single Skipped
// result explaining why there are none to check.
func recognizedOrSkip(h *inventory.Host) ([]inventory.Device, []model.CheckResult) {
	if !h.Known(inventory.SourceAccelerator) {
		return nil, sourceUnavailable(inventory.SourceAccelerator)
	}
	devs := h.Recognized()
	if len(devs) == 0 {
		return nil, []model.CheckResult{skipped("", "no GPUs reported by the driver")}
	}
	return devs, nil
}
