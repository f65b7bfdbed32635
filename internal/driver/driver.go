// Package driver defines the native entry points a compute backend has to
// provide: platform/device discovery, context and event pool lifetime,
// device property queries and memory management.
//
// Handles are opaque to everything above this package. They are only
// meaningful together with the Platform that produced them.
package driver

import (
	"fmt"

	"github.com/google/uuid"
)

type (
	DriverHandle    uintptr
	DeviceHandle    uintptr
	ContextHandle   uintptr
	EventPoolHandle uintptr
)

// Ptr is an address returned by a native allocation. Zero means no allocation.
type Ptr uintptr

// DeviceType is the kind of hardware behind a device handle.
type DeviceType int

const (
	DeviceTypeGPU DeviceType = iota
	DeviceTypeCPU
	DeviceTypeFPGA
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeGPU:
		return "gpu"
	case DeviceTypeCPU:
		return "cpu"
	case DeviceTypeFPGA:
		return "fpga"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(t))
	}
}

// DriverProperties describes one driver instance of a platform.
type DriverProperties struct {
	Version string
}

// DeviceProperties is the static description of a device.
type DeviceProperties struct {
	Name     string
	Type     DeviceType
	VendorID uint32
	Arch     string
	UUID     uuid.UUID

	CoreClockRate   uint64 // MHz
	MaxMemAllocSize uint64

	NumSlices            uint32
	NumSubslicesPerSlice uint32
	NumEUsPerSubslice    uint32
	NumThreadsPerEU      uint32

	// Number of command queues able to run kernels / copies at the same time.
	ComputeEngines uint32
	CopyEngines    uint32

	ECC             bool
	Integrated      bool
	ManagedMemory   bool
	Timestamps      bool
	DoublePrecision bool
	HalfPrecision   bool
	Images          bool
}

// ComputeProperties describes kernel launch limits of a device.
type ComputeProperties struct {
	MaxTotalGroupSize    uint64
	MaxGroupSize         [3]uint64
	MaxGroupCount        [3]uint64
	MaxSharedLocalMemory uint64
	SubGroupSizes        []uint64
}

// MemoryProperties describes one memory module of a device.
type MemoryProperties struct {
	Name         string
	TotalSize    uint64
	MaxClockRate uint64 // MHz
	MaxBusWidth  uint32
}

// Platform is the discovery and resource surface of one vendor driver stack.
type Platform interface {
	// Name is the backend tag, e.g. "ze" or "hip".
	Name() string
	DeviceType() DeviceType

	Drivers() ([]DriverHandle, error)
	DriverProperties(drv DriverHandle) (DriverProperties, error)
	Devices(drv DriverHandle) ([]DeviceHandle, error)

	DeviceProperties(dev DeviceHandle) (DeviceProperties, error)
	ComputeProperties(dev DeviceHandle) (ComputeProperties, error)
	MemoryProperties(dev DeviceHandle) ([]MemoryProperties, error)

	CreateContext(drv DriverHandle) (ContextHandle, error)
	DestroyContext(ctx ContextHandle) error

	CreateEventPool(ctx ContextHandle, devices []DeviceHandle, size int) (EventPoolHandle, error)
	DestroyEventPool(pool EventPoolHandle) error

	// Memory returns the memory API of the platform, nil if the platform
	// cannot allocate.
	Memory() Memory
}
