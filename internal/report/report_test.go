package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/pkg/model"
)

func res(category string, status model.Status) model.CheckResult {
	return model.CheckResult{Category: category, Name: category + "_check", Status: status}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		name    string
		results []model.CheckResult
		want    model.Status
	}{
		{"empty", nil, model.StatusPass},
		{"all pass", []model.CheckResult{res("ecc", model.StatusPass), res("pcie", model.StatusPass)}, model.StatusPass},
		{"all skipped", []model.CheckResult{res("rdma", model.StatusSkipped)}, model.StatusPass},
		{"warn", []model.CheckResult{res("thermal", model.StatusWarn), res("ecc", model.StatusPass)}, model.StatusWarn},
		{"fail beats warn", []model.CheckResult{res("thermal", model.StatusWarn), res("ecc", model.StatusFail), res("pcie", model.StatusPass)}, model.StatusFail},
		{"skipped does not mask fail", []model.CheckResult{res("ecc", model.StatusFail), res("rdma", model.StatusSkipped)}, model.StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overall(tt.results))
		})
	}
}

func TestSkippedDoesNotChangeOverall(t *testing.T) {
	base := []model.CheckResult{res("thermal", model.StatusWarn), res("ecc", model.StatusPass)}
	withSkipped := append(append([]model.CheckResult(nil), base...), res("rdma", model.StatusSkipped))
	assert.Equal(t, Overall(base), Overall(withSkipped))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]model.CheckResult{
		res("ecc", model.StatusPass),
		res("ecc", model.StatusFail),
		res("thermal", model.StatusWarn),
		res("rdma", model.StatusSkipped),
		res("pcie", model.StatusPass),
	})
	assert.Equal(t, model.Summary{Total: 5, Pass: 2, Warn: 1, Fail: 1, Skipped: 1}, s)
}

func TestAggregate(t *testing.T) {
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	results := []model.CheckResult{
		res("devices", model.StatusFail),
		res("pcie", model.StatusPass),
		res("pcie", model.StatusPass),
		res("rdma", model.StatusSkipped),
	}
	rep := Aggregate(results, Meta{
		Hostname:       "gpu-node-7",
		GeneratedAt:    at,
		DroppedDevices: []string{"0000:13:00.0"},
		Sources:        []model.SourceStatus{{Name: "rdma", Available: false, Error: "ibv_devinfo not found"}},
	})

	_, err := uuid.Parse(rep.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpu-node-7", rep.Hostname)
	assert.Equal(t, at.UTC(), rep.GeneratedAt)
	assert.Equal(t, model.StatusFail, rep.OverallStatus)
	assert.Equal(t, 4, rep.Summary.Total)
	assert.Equal(t, results, rep.Results)
	assert.Equal(t, []string{"devices", "pcie", "rdma"}, rep.Categories())
	assert.Len(t, rep.ByCategory()["pcie"], 2)

	results[0].Status = model.StatusPass
	assert.Equal(t, model.StatusFail, rep.Results[0].Status, "report must own its results")
}

func TestAggregate_KeepsGivenID(t *testing.T) {
	rep := Aggregate(nil, Meta{ID: "run-1", GeneratedAt: time.Unix(0, 0)})
	assert.Equal(t, "run-1", rep.ID)
	assert.Equal(t, model.StatusPass, rep.OverallStatus)
	assert.NotNil(t, rep.Results)
	assert.Empty(t, rep.Results)
}

func TestAggregate_OwnsDetail(t *testing.T) {
	results := []model.CheckResult{{
		Category: "thermal",
		Name:     "temperature",
		Status:   model.StatusPass,
		Detail:   map[string]any{"temperature_c": 41.0},
	}}
	rep := Aggregate(results, Meta{ID: "run-1"})

	results[0].Detail["temperature_c"] = 99.0
	results[0].Detail["extra"] = true
	assert.Equal(t, map[string]any{"temperature_c": 41.0}, rep.Results[0].Detail)
}

func TestDevices(t *testing.T) {
	host := &inventory.Host{Devices: []inventory.Device{
		{
			BusAddress:       "0000:17:00.0",
			Index:            ptr.To(0),
			UUID:             "GPU-a",
			Name:             "NVIDIA H100 80GB HBM3",
			Recognized:       true,
			OnPCIe:           true,
			TemperatureC:     ptr.To(41.0),
			UncorrectedECC:   ptr.To(int64(0)),
			MemoryUsedBytes:  ptr.To(int64(1 << 30)),
			PowerDrawW:       ptr.To(71.52),
			PowerLimitW:      ptr.To(700.0),
			LinkWidthCurrent: ptr.To(16),
			LinkWidthMax:     ptr.To(16),
		},
		{BusAddress: "0000:2a:00.0", OnPCIe: true},
	}}

	devs := Devices(host)
	require.Len(t, devs, 2)
	assert.Equal(t, "GPU-a", devs[0].UUID)
	assert.Equal(t, "NVIDIA H100 80GB HBM3", devs[0].Name)
	assert.Equal(t, ptr.To(int64(1<<30)), devs[0].MemoryUsedBytes)
	assert.Equal(t, ptr.To(71.52), devs[0].PowerDrawW)
	assert.Equal(t, ptr.To(700.0), devs[0].PowerLimitW)
	assert.False(t, devs[1].Recognized)
	assert.Nil(t, devs[1].TemperatureC)

	*host.Devices[0].TemperatureC = 90
	assert.Equal(t, 41.0, *devs[0].TemperatureC, "inventory is copied out of the host")

	rep := Aggregate(nil, Meta{ID: "run-1", Devices: devs})
	data, err := json.Marshal(rep)
	require.NoError(t, err)
	for _, want := range []string{
		`"devices":[`, `"uuid":"GPU-a"`, `"memory_used_bytes":1073741824`,
		`"power_draw_w":71.52`, `"power_limit_w":700`, `"bus_address":"0000:2a:00.0","recognized":false`,
	} {
		assert.Contains(t, string(data), want)
	}
}
