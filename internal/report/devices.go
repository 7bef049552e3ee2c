package report

import (
	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/pkg/model"
)

// Devices returns the per-GPU inventory of h in bus address order, dropped
// devices included. Values are copied out of the host model.
func Devices(h *inventory.Host) []model.DeviceInfo {
	out := make([]model.DeviceInfo, 0, len(h.Devices))
	for _, d := range h.Devices {
		out = append(out, model.DeviceInfo{
			BusAddress:       d.BusAddress,
			Index:            clone(d.Index),
			UUID:             d.UUID,
			Name:             d.Name,
			Recognized:       d.Recognized,
			OnPCIe:           d.OnPCIe,
			TemperatureC:     clone(d.TemperatureC),
			UncorrectedECC:   clone(d.UncorrectedECC),
			MemoryUsedBytes:  clone(d.MemoryUsedBytes),
			PowerDrawW:       clone(d.PowerDrawW),
			PowerLimitW:      clone(d.PowerLimitW),
			LinkWidthCurrent: clone(d.LinkWidthCurrent),
			LinkWidthMax:     clone(d.LinkWidthMax),
		})
	}
	return out
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
