package probers

import (
	"github.com/fxnlabs/hwrt/internal/gpu"
	"github.com/fxnlabs/hwrt/internal/rt"
	"go.uber.org/zap"
)

// DeviceReport is the summary of one discovered device.
type DeviceReport struct {
	Index             int    `json:"index"`
	ID                string `json:"id"`
	Backend           string `json:"backend"`
	Platform          string `json:"platform"`
	PlatformIndex     int    `json:"platformIndex"`
	Name              string `json:"name"`
	Vendor            string `json:"vendor"`
	Arch              string `json:"arch"`
	DriverVersion     string `json:"driverVersion"`
	UUID              string `json:"uuid"`
	ComputeUnits      uint64 `json:"computeUnits"`
	GlobalMemory      uint64 `json:"globalMemoryBytes"`
	KernelConcurrency int    `json:"kernelConcurrency"`
	MemcpyConcurrency int    `json:"memcpyConcurrency"`
	USM               bool   `json:"usm"`
}

// Reports summarizes every device of m. It only reads capability snapshots
// and never creates native contexts.
func Reports(m *gpu.Manager) []DeviceReport {
	reports := make([]DeviceReport, m.NumDevices())
	for i := range reports {
		hw := m.Properties(i)
		id := m.DeviceID(i)
		units, _ := hw.Property(rt.PropMaxComputeUnits)
		mem, _ := hw.Property(rt.PropGlobalMemSize)
		reports[i] = DeviceReport{
			Index:             i,
			ID:                id.String(),
			Backend:           string(id.Backend.ID),
			Platform:          id.Backend.Platform.String(),
			PlatformIndex:     hw.PlatformIndex(),
			Name:              hw.DeviceName(),
			Vendor:            hw.VendorName(),
			Arch:              hw.DeviceArch(),
			DriverVersion:     hw.DriverVersion(),
			UUID:              hw.UUID().String(),
			ComputeUnits:      units,
			GlobalMemory:      mem,
			KernelConcurrency: hw.MaxKernelConcurrency(),
			MemcpyConcurrency: hw.MaxMemcpyConcurrency(),
			USM:               hw.Has(rt.AspectUSMSharedAllocations),
		}
	}
	return reports
}

// DeviceInfoProber reports the capability snapshot of every device.
type DeviceInfoProber struct {
	manager *gpu.Manager
}

func NewDeviceInfoProber(m *gpu.Manager) *DeviceInfoProber {
	return &DeviceInfoProber{manager: m}
}

// Execute ignores its payload.
func (p *DeviceInfoProber) Execute(payload interface{}, log *zap.Logger) (interface{}, error) {
	reports := Reports(p.manager)
	log.Debug("Reporting devices", zap.Int("devices", len(reports)))
	return map[string]interface{}{
		"platforms": p.manager.NumPlatforms(),
		"devices":   reports,
	}, nil
}
