package gpu

import (
	"fmt"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/fxnlabs/hwrt/internal/rt"
	"github.com/google/uuid"
)

var vendorNames = map[uint32]string{
	0x8086: "Intel",
	0x10de: "NVIDIA",
	0x1002: "AMD",
	0x13b5: "ARM",
	0x5143: "Qualcomm",
}

// HardwareContext is the capability snapshot of one device. Driver queries
// happen once in newHardwareContext; nothing is queried afterwards.
type HardwareContext struct {
	backend       rt.BackendDescriptor
	drv           driver.DriverHandle
	dev           driver.DeviceHandle
	ordinal       int
	platformIndex int

	driverProps  driver.DriverProperties
	props        driver.DeviceProperties
	computeProps driver.ComputeProperties
	memoryProps  []driver.MemoryProperties
}

var _ rt.HardwareContext = (*HardwareContext)(nil)

func newHardwareContext(platform driver.Platform, backend rt.BackendDescriptor, drv driver.DriverHandle, dev driver.DeviceHandle, ordinal int) (*HardwareContext, error) {
	hw := &HardwareContext{backend: backend, drv: drv, dev: dev, ordinal: ordinal}

	var err error
	if hw.driverProps, err = platform.DriverProperties(drv); err != nil {
		return nil, rt.ErrorFromNative(rt.KindBackendQuery, "driver property query failed", err)
	}
	if hw.props, err = platform.DeviceProperties(dev); err != nil {
		return nil, rt.ErrorFromNative(rt.KindBackendQuery, "device property query failed", err)
	}
	if hw.computeProps, err = platform.ComputeProperties(dev); err != nil {
		return nil, rt.ErrorFromNative(rt.KindBackendQuery, "compute property query failed", err)
	}
	if hw.memoryProps, err = platform.MemoryProperties(dev); err != nil {
		return nil, rt.ErrorFromNative(rt.KindBackendQuery, "memory property query failed", err)
	}
	return hw, nil
}

func (h *HardwareContext) IsCPU() bool { return h.props.Type == driver.DeviceTypeCPU }

func (h *HardwareContext) IsGPU() bool { return h.props.Type == driver.DeviceTypeGPU }

func (h *HardwareContext) MaxKernelConcurrency() int {
	return max(int(h.props.ComputeEngines), 1)
}

func (h *HardwareContext) MaxMemcpyConcurrency() int {
	if h.props.CopyEngines == 0 {
		// Copies share the compute engines.
		return h.MaxKernelConcurrency()
	}
	return int(h.props.CopyEngines)
}

func (h *HardwareContext) DeviceName() string { return h.props.Name }

func (h *HardwareContext) VendorName() string {
	if name, ok := vendorNames[h.props.VendorID]; ok {
		return name
	}
	if h.props.VendorID == 0 {
		return "unknown"
	}
	return fmt.Sprintf("vendor 0x%04x", h.props.VendorID)
}

func (h *HardwareContext) DeviceArch() string { return h.props.Arch }

func (h *HardwareContext) DriverVersion() string { return h.driverProps.Version }

func (h *HardwareContext) Profile() string { return "FULL_PROFILE" }

func (h *HardwareContext) Has(aspect rt.Aspect) bool {
	switch aspect {
	case rt.AspectImages:
		return h.props.Images
	case rt.AspectErrorCorrection:
		return h.props.ECC
	case rt.AspectHostUnifiedMemory:
		return h.props.Integrated
	case rt.AspectLittleEndian, rt.AspectGlobalMemCache:
		return true
	case rt.AspectEmulatedLocalMemory:
		return h.IsCPU()
	case rt.AspectExecutionTimestamps:
		return h.props.Timestamps
	case rt.AspectFP64:
		return h.props.DoublePrecision
	case rt.AspectFP16:
		return h.props.HalfPrecision
	case rt.AspectUSMDeviceAllocations, rt.AspectUSMHostAllocations:
		return true
	case rt.AspectUSMSharedAllocations:
		return h.props.ManagedMemory
	case rt.AspectUSMSystemAllocations:
		return h.IsCPU()
	default:
		return false
	}
}

func (h *HardwareContext) Property(prop rt.UintProperty) (uint64, error) {
	p, c := h.props, h.computeProps
	switch prop {
	case rt.PropMaxComputeUnits:
		return uint64(p.NumSlices) * uint64(p.NumSubslicesPerSlice) * uint64(p.NumEUsPerSubslice), nil
	case rt.PropMaxGlobalSize0, rt.PropMaxGlobalSize1, rt.PropMaxGlobalSize2:
		dim := int(prop - rt.PropMaxGlobalSize0)
		return c.MaxGroupSize[dim] * c.MaxGroupCount[dim], nil
	case rt.PropMaxGroupSize0, rt.PropMaxGroupSize1, rt.PropMaxGroupSize2:
		return c.MaxGroupSize[int(prop-rt.PropMaxGroupSize0)], nil
	case rt.PropMaxGroupSize:
		return c.MaxTotalGroupSize, nil
	case rt.PropMaxNumSubGroups:
		smallest := uint64(0)
		for _, s := range c.SubGroupSizes {
			if s > 0 && (smallest == 0 || s < smallest) {
				smallest = s
			}
		}
		if smallest == 0 {
			return 0, nil
		}
		return c.MaxTotalGroupSize / smallest, nil
	case rt.PropMaxClockSpeed:
		return p.CoreClockRate, nil
	case rt.PropMaxMallocSize:
		return p.MaxMemAllocSize, nil
	case rt.PropAddressBits:
		return 64, nil
	case rt.PropMemBaseAddrAlign:
		return 8, nil
	case rt.PropGlobalMemSize:
		var total uint64
		for _, m := range h.memoryProps {
			total += m.TotalSize
		}
		return total, nil
	case rt.PropLocalMemSize:
		return c.MaxSharedLocalMemory, nil
	case rt.PropVendorID:
		return uint64(p.VendorID), nil
	case rt.PropPartitionMaxSubDevices:
		return 0, nil
	default:
		return 0, rt.MakeError(rt.KindInvalidParameter,
			fmt.Sprintf("property %s is not supported by backend %s", prop, h.backend.ID), rt.ErrorCode{})
	}
}

func (h *HardwareContext) ListProperty(prop rt.UintListProperty) ([]uint64, error) {
	switch prop {
	case rt.ListSubGroupSizes:
		return append([]uint64(nil), h.computeProps.SubGroupSizes...), nil
	case rt.ListMemoryModuleSizes:
		sizes := make([]uint64, len(h.memoryProps))
		for i, m := range h.memoryProps {
			sizes[i] = m.TotalSize
		}
		return sizes, nil
	case rt.ListPartitionProperties:
		return []uint64{}, nil
	default:
		return nil, rt.MakeError(rt.KindInvalidParameter,
			fmt.Sprintf("list property %s is not supported by backend %s", prop, h.backend.ID), rt.ErrorCode{})
	}
}

func (h *HardwareContext) PlatformIndex() int { return h.platformIndex }

// GlobalMemoryOrdinal returns the index of the largest memory module, the
// one global allocations are placed in.
func (h *HardwareContext) GlobalMemoryOrdinal() int {
	best := 0
	for i, m := range h.memoryProps {
		if m.TotalSize > h.memoryProps[best].TotalSize {
			best = i
		}
	}
	return best
}

// MemoryModules returns the per-module memory properties.
func (h *HardwareContext) MemoryModules() []driver.MemoryProperties {
	return append([]driver.MemoryProperties(nil), h.memoryProps...)
}

func (h *HardwareContext) UUID() uuid.UUID { return h.props.UUID }

func (h *HardwareContext) Backend() rt.BackendDescriptor { return h.backend }

func (h *HardwareContext) DeviceHandle() driver.DeviceHandle { return h.dev }

func (h *HardwareContext) DriverHandle() driver.DriverHandle { return h.drv }

// Ordinal is the backend-local device index used by the memory API.
func (h *HardwareContext) Ordinal() int { return h.ordinal }
