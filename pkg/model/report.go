package model

import "time"

// Status is the outcome of a single check.
type Status string

const (
	StatusPass    Status = "pass"
	StatusWarn    Status = "warn"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
)

// Severity orders statuses for aggregation. Skipped ranks below Pass so a
// check that could not run never raises the overall status.
func (s Status) Severity() int {
	switch s {
	case StatusFail:
		return 3
	case StatusWarn:
		return 2
	case StatusPass:
		return 1
	default:
		return 0
	}
}

// CheckResult is the verdict of one rule against one entity (or the host).
type CheckResult struct {
	Category string         `json:"category"`
	Name     string         `json:"name"`
	Subject  string         `json:"subject,omitempty"`
	Status   Status         `json:"status"`
	Message  string         `json:"message"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// Summary counts results per status.
type Summary struct {
	Total   int `json:"total"`
	Pass    int `json:"pass"`
	Warn    int `json:"warn"`
	Fail    int `json:"fail"`
	Skipped int `json:"skipped"`
}

// SourceStatus records how one collaborator source behaved during the run.
type SourceStatus struct {
	Name       string `json:"name"`
	Available  bool   `json:"available"`
	Records    int    `json:"records"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Issue is a data-quality problem (collection, parse or correlation) that
// degraded the report without being a health condition itself.
type Issue struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component"`
	Timestamp int64  `json:"timestamp"`
}

// DeviceInfo is the inventory view of one GPU as collected during the run.
// Fields the host did not report are omitted.
type DeviceInfo struct {
	BusAddress       string   `json:"bus_address"`
	Index            *int     `json:"index,omitempty"`
	UUID             string   `json:"uuid,omitempty"`
	Name             string   `json:"name,omitempty"`
	Recognized       bool     `json:"recognized"`
	OnPCIe           bool     `json:"on_pcie"`
	TemperatureC     *float64 `json:"temperature_c,omitempty"`
	UncorrectedECC   *int64   `json:"uncorrected_ecc,omitempty"`
	MemoryUsedBytes  *int64   `json:"memory_used_bytes,omitempty"`
	PowerDrawW       *float64 `json:"power_draw_w,omitempty"`
	PowerLimitW      *float64 `json:"power_limit_w,omitempty"`
	LinkWidthCurrent *int     `json:"pcie_link_width_current,omitempty"`
	LinkWidthMax     *int     `json:"pcie_link_width_max,omitempty"`
}

// Report is the single structured result of one diagnostic run.
type Report struct {
	ID             string         `json:"id"`
	Hostname       string         `json:"hostname,omitempty"`
	GeneratedAt    time.Time      `json:"generated_at"`
	OverallStatus  Status         `json:"overall_status"`
	Summary        Summary        `json:"summary"`
	Results        []CheckResult  `json:"results"`
	Devices        []DeviceInfo   `json:"devices,omitempty"`
	DroppedDevices []string       `json:"dropped_devices,omitempty"`
	Sources        []SourceStatus `json:"sources,omitempty"`
	Issues         []Issue        `json:"issues,omitempty"`
}

// ByCategory groups results by category, preserving result order within
// each group.
func (r *Report) ByCategory() map[string][]CheckResult {
	out := make(map[string][]CheckResult)
	for _, res := range r.Results {
		out[res.Category] = append(out[res.Category], res)
	}
	return out
}

// Categories returns the distinct categories in first-seen order.
func (r *Report) Categories() []string {
	seen := make(map[string]struct{})
	var cats []string
	for _, res := range r.Results {
		if _, ok := seen[res.Category]; ok {
			continue
		}
		seen[res.Category] = struct{}{}
		cats = append(cats, res.Category)
	}
	return cats
}
