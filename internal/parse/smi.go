package parse

import (
	"log/slog"
	"regexp"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubeadapt/gpudiag/internal/inventory"
)

// GPUQueryFields is the --query-gpu field list ParseGPUQuery expects, in
// column order. Source readers pass strings.Join(GPUQueryFields, ",").
var GPUQueryFields = []string{
	"index",
	"pci.bus_id",
	"uuid",
	"name",
	"temperature.gpu",
	"ecc.errors.uncorrected.aggregate.total",
	"memory.used",
	"power.draw",
	"power.limit",
	"pcie.link.width.current",
	"pcie.link.width.max",
	"driver_version",
}

// ComputeAppsFields is the --query-compute-apps field list ParseComputeApps
// expects.
var ComputeAppsFields = []string{"gpu_bus_id", "pid", "used_memory"}

const (
	colIndex = iota
	colBusID
	colUUID
	colName
	colTemperature
	colECC
	colMemoryUsed
	colPowerDraw
	colPowerLimit
	colWidthCurrent
	colWidthMax
	colDriverVersion
)

var (
	cudaVersionPattern   = regexp.MustCompile(`CUDA Version:\s*(\d+(?:\.\d+)*)`)
	driverVersionPattern = regexp.MustCompile(`Driver Version:\s*(\d+(?:\.\d+)*)`)
)

// ParseGPUQuery parses `nvidia-smi --query-gpu=<GPUQueryFields>
// --format=csv,noheader,nounits`. Rows without a bus id cannot be correlated
// and are dropped; every other missing cell becomes a nil field.
func ParseGPUQuery(raw string) []inventory.AcceleratorRecord {
	records := make([]inventory.AcceleratorRecord, 0)

	for _, line := range lines(raw) {
		cells := splitCSV(line)
		bus := cell(cells, colBusID)
		if notAvailable(bus) {
			slog.Warn("nvidia-smi row without bus id", "line", line)
			continue
		}

		if len(cells) < len(GPUQueryFields) {
			slog.Warn("nvidia-smi row shorter than expected",
				"bus", bus,
				"cells", len(cells),
				"expected", len(GPUQueryFields),
			)
		}

		rec := inventory.AcceleratorRecord{
			BusAddress:       NormalizeBusAddress(bus),
			Index:            optInt("accelerator", "index", cell(cells, colIndex)),
			UUID:             cell(cells, colUUID),
			Name:             cell(cells, colName),
			TemperatureC:     optFloat("accelerator", "temperature.gpu", cell(cells, colTemperature)),
			UncorrectedECC:   optInt64("accelerator", "ecc.uncorrected", cell(cells, colECC)),
			MemoryUsedBytes:  optMiB("accelerator", "memory.used", cell(cells, colMemoryUsed)),
			PowerDrawW:       optFloat("accelerator", "power.draw", cell(cells, colPowerDraw)),
			PowerLimitW:      optFloat("accelerator", "power.limit", cell(cells, colPowerLimit)),
			LinkWidthCurrent: optInt("accelerator", "pcie.link.width.current", cell(cells, colWidthCurrent)),
			LinkWidthMax:     optInt("accelerator", "pcie.link.width.max", cell(cells, colWidthMax)),
		}
		if v := cell(cells, colDriverVersion); !notAvailable(v) {
			rec.DriverVersion = v
		}
		if rec.UncorrectedECC != nil && *rec.UncorrectedECC < 0 {
			slog.Warn("negative ECC counter reported", "bus", rec.BusAddress, "value", *rec.UncorrectedECC)
		}

		records = append(records, rec)
	}
	return records
}

// ParseComputeApps parses `nvidia-smi --query-compute-apps=gpu_bus_id,pid,
// used_memory --format=csv,noheader,nounits`. used_memory is MiB.
func ParseComputeApps(raw string) []inventory.ProcessClaim {
	claims := make([]inventory.ProcessClaim, 0)

	for _, line := range lines(raw) {
		if strings.HasPrefix(line, "No running") {
			continue
		}
		cells := splitCSV(line)
		pid := optInt("accelerator", "pid", cell(cells, 1))
		if pid == nil || *pid <= 0 {
			slog.Warn("compute app row without valid pid", "line", line)
			continue
		}
		claims = append(claims, inventory.ProcessClaim{
			PID:        *pid,
			BusAddress: NormalizeBusAddress(cell(cells, 0)),
			VRAMBytes:  optMiB("accelerator", "used_memory", cell(cells, 2)),
		})
	}
	return claims
}

// SMIBanner holds the versions printed in the plain `nvidia-smi` header.
type SMIBanner struct {
	DriverVersion string
	CUDAVersion   string
}

// ParseSMIBanner extracts "Driver Version" and "CUDA Version" from the
// `nvidia-smi` table header. CUDA Version is the newest toolkit the driver
// supports.
func ParseSMIBanner(raw string) SMIBanner {
	var b SMIBanner
	if m := driverVersionPattern.FindStringSubmatch(raw); m != nil {
		b.DriverVersion = m[1]
	}
	if m := cudaVersionPattern.FindStringSubmatch(raw); m != nil {
		b.CUDAVersion = m[1]
	}
	return b
}

// ParseDriverVersions parses `nvidia-smi --query-gpu=driver_version
// --format=csv,noheader` and returns the sorted distinct versions.
func ParseDriverVersions(raw string) []string {
	seen := sets.New[string]()
	for _, line := range lines(raw) {
		if notAvailable(line) {
			continue
		}
		seen.Insert(line)
	}
	return sets.List(seen)
}

// NoDevicesFound reports whether nvidia-smi output says the driver sees no
// GPU at all. nvidia-smi prints this and exits non-zero, but the empty
// result is still an answer.
func NoDevicesFound(raw string) bool {
	return strings.Contains(raw, "No devices were found")
}
