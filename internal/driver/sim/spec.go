// Package sim is an in-process driver that behaves like a vendor stack:
// devices and memory modules come from a PlatformSpec, allocations are
// tracked per device, the active device is kept per OS thread and faults
// can be injected into every native entry point.
package sim

import (
	"strings"
)

// PlatformSpec describes one simulated backend.
type PlatformSpec struct {
	Name string  `yaml:"name"`
	Kind string  `yaml:"kind"` // "gpu" (default) or "cpu"
	API  APISpec `yaml:"api"`

	// ManagedMemory enables MallocManaged and MemAdvise.
	ManagedMemory bool `yaml:"managedMemory"`
	// ManagedFlag makes pointer queries report IsManaged.
	ManagedFlag bool `yaml:"managedFlag"`

	Faults  FaultSpec    `yaml:"faults"`
	Drivers []DriverSpec `yaml:"drivers"`
}

// APISpec is the revision of the simulated memory API. Revisions with
// Major > 5 use the newer pointer query conventions.
type APISpec struct {
	Name  string `yaml:"name"`
	Major int    `yaml:"major"`
	Minor int    `yaml:"minor"`
}

// FaultSpec selects native calls that fail from the start.
type FaultSpec struct {
	Enumeration       bool `yaml:"enumeration"`
	ContextCreation   bool `yaml:"contextCreation"`
	EventPoolCreation bool `yaml:"eventPoolCreation"`
	Allocation        bool `yaml:"allocation"`
	PointerQuery      bool `yaml:"pointerQuery"`
}

// DriverSpec is one driver instance and its devices.
type DriverSpec struct {
	Version string       `yaml:"version"`
	Devices []DeviceSpec `yaml:"devices"`
}

// DeviceSpec describes one simulated device.
type DeviceSpec struct {
	Name     string `yaml:"name"`
	VendorID uint32 `yaml:"vendorId"`
	Arch     string `yaml:"arch"`

	Slices            uint32 `yaml:"slices"`
	SubslicesPerSlice uint32 `yaml:"subslicesPerSlice"`
	EUsPerSubslice    uint32 `yaml:"eusPerSubslice"`
	ThreadsPerEU      uint32 `yaml:"threadsPerEu"`
	ClockMHz          uint64 `yaml:"clockMhz"`

	ComputeEngines uint32 `yaml:"computeEngines"`
	CopyEngines    uint32 `yaml:"copyEngines"`

	MaxGroupSize  uint64   `yaml:"maxGroupSize"`
	SubGroupSizes []uint64 `yaml:"subGroupSizes"`
	LocalMemory   uint64   `yaml:"localMemory"`
	MaxAllocSize  uint64   `yaml:"maxAllocSize"`

	Memory []MemorySpec `yaml:"memory"`

	ECC        bool `yaml:"ecc"`
	Integrated bool `yaml:"integrated"`
	FP64       bool `yaml:"fp64"`
	FP16       bool `yaml:"fp16"`
	Images     bool `yaml:"images"`
	Timestamps bool `yaml:"timestamps"`
}

// MemorySpec is one memory module of a device.
type MemorySpec struct {
	Name     string `yaml:"name"`
	Size     uint64 `yaml:"size"`
	ClockMHz uint64 `yaml:"clockMhz"`
	BusWidth uint32 `yaml:"busWidth"`
}

const (
	GiB = uint64(1) << 30
	MiB = uint64(1) << 20
)

func (s PlatformSpec) apiName() string {
	if s.API.Name != "" {
		return s.API.Name
	}
	return strings.ToUpper(s.Name)
}

// withDefaults fills zero values so a minimal spec still yields usable devices.
func (d DeviceSpec) withDefaults() DeviceSpec {
	if d.Name == "" {
		d.Name = "Simulated Device"
	}
	if d.Arch == "" {
		d.Arch = "sim"
	}
	if d.Slices == 0 {
		d.Slices = 1
	}
	if d.SubslicesPerSlice == 0 {
		d.SubslicesPerSlice = 1
	}
	if d.EUsPerSubslice == 0 {
		d.EUsPerSubslice = 8
	}
	if d.ThreadsPerEU == 0 {
		d.ThreadsPerEU = 1
	}
	if d.ClockMHz == 0 {
		d.ClockMHz = 1000
	}
	if d.ComputeEngines == 0 {
		d.ComputeEngines = 1
	}
	if d.MaxGroupSize == 0 {
		d.MaxGroupSize = 1024
	}
	if len(d.SubGroupSizes) == 0 {
		d.SubGroupSizes = []uint64{32}
	}
	if d.LocalMemory == 0 {
		d.LocalMemory = 64 * 1024
	}
	if len(d.Memory) == 0 {
		d.Memory = []MemorySpec{{Name: "HBM", Size: 4 * GiB}}
	}
	if d.MaxAllocSize == 0 {
		for _, m := range d.Memory {
			if m.Size > d.MaxAllocSize {
				d.MaxAllocSize = m.Size
			}
		}
	}
	return d
}
