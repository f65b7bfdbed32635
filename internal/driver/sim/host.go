package sim

import (
	"fmt"
	"runtime"
)

// HostSpec describes the host CPU as a single-device platform. It is the
// fallback when no other platform reports a device.
func HostSpec() PlatformSpec {
	mem := totalSystemMemory()
	return PlatformSpec{
		Name:          "host",
		Kind:          "cpu",
		API:           APISpec{Name: "HOST", Major: 1},
		ManagedMemory: true,
		ManagedFlag:   true,
		Drivers: []DriverSpec{{
			Version: runtime.Version(),
			Devices: []DeviceSpec{{
				Name:           fmt.Sprintf("CPU (%s)", runtime.GOARCH),
				Arch:           runtime.GOARCH,
				Slices:         1,
				EUsPerSubslice: uint32(runtime.NumCPU()),
				ComputeEngines: uint32(runtime.NumCPU()),
				CopyEngines:    1,
				MaxGroupSize:   4096,
				SubGroupSizes:  []uint64{1},
				LocalMemory:    1 << 20,
				Memory:         []MemorySpec{{Name: "DRAM", Size: mem}},
				Integrated:     true,
				FP64:           true,
				FP16:           true,
			}},
		}},
	}
}

// NewHost creates the host platform.
func NewHost() *Platform {
	return NewPlatform(HostSpec())
}
