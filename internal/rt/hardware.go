package rt

import "fmt"

// Aspect is a named boolean device feature.
type Aspect int

const (
	AspectImages Aspect = iota
	AspectErrorCorrection
	AspectHostUnifiedMemory
	AspectLittleEndian
	AspectGlobalMemCache
	AspectEmulatedLocalMemory
	AspectExecutionTimestamps
	AspectFP64
	AspectFP16
	AspectUSMDeviceAllocations
	AspectUSMHostAllocations
	AspectUSMSharedAllocations
	AspectUSMSystemAllocations
)

var aspectNames = map[Aspect]string{
	AspectImages:               "images",
	AspectErrorCorrection:      "error_correction",
	AspectHostUnifiedMemory:    "host_unified_memory",
	AspectLittleEndian:         "little_endian",
	AspectGlobalMemCache:       "global_mem_cache",
	AspectEmulatedLocalMemory:  "emulated_local_memory",
	AspectExecutionTimestamps:  "execution_timestamps",
	AspectFP64:                 "fp64",
	AspectFP16:                 "fp16",
	AspectUSMDeviceAllocations: "usm_device_allocations",
	AspectUSMHostAllocations:   "usm_host_allocations",
	AspectUSMSharedAllocations: "usm_shared_allocations",
	AspectUSMSystemAllocations: "usm_system_allocations",
}

func (a Aspect) String() string {
	if n, ok := aspectNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Aspect(%d)", int(a))
}

// ParseAspect maps a name as printed by Aspect.String back to the aspect.
func ParseAspect(name string) (Aspect, bool) {
	for a, n := range aspectNames {
		if n == name {
			return a, true
		}
	}
	return 0, false
}

// UintProperty identifies a scalar device property.
type UintProperty int

const (
	PropMaxComputeUnits UintProperty = iota
	PropMaxGlobalSize0
	PropMaxGlobalSize1
	PropMaxGlobalSize2
	PropMaxGroupSize0
	PropMaxGroupSize1
	PropMaxGroupSize2
	PropMaxGroupSize
	PropMaxNumSubGroups
	PropMaxClockSpeed
	PropMaxMallocSize
	PropAddressBits
	PropMemBaseAddrAlign
	PropGlobalMemSize
	PropLocalMemSize
	PropVendorID
	PropPartitionMaxSubDevices
	// Properties below are recognized but not reported by every backend.
	PropGlobalMemCacheLineSize
	PropGlobalMemCacheSize
	PropMaxConstantBufferSize
	PropPrintfBufferSize
)

var uintPropertyNames = map[UintProperty]string{
	PropMaxComputeUnits:        "max_compute_units",
	PropMaxGlobalSize0:         "max_global_size0",
	PropMaxGlobalSize1:         "max_global_size1",
	PropMaxGlobalSize2:         "max_global_size2",
	PropMaxGroupSize0:          "max_group_size0",
	PropMaxGroupSize1:          "max_group_size1",
	PropMaxGroupSize2:          "max_group_size2",
	PropMaxGroupSize:           "max_group_size",
	PropMaxNumSubGroups:        "max_num_sub_groups",
	PropMaxClockSpeed:          "max_clock_speed",
	PropMaxMallocSize:          "max_malloc_size",
	PropAddressBits:            "address_bits",
	PropMemBaseAddrAlign:       "mem_base_addr_align",
	PropGlobalMemSize:          "global_mem_size",
	PropLocalMemSize:           "local_mem_size",
	PropVendorID:               "vendor_id",
	PropPartitionMaxSubDevices: "partition_max_sub_devices",
	PropGlobalMemCacheLineSize: "global_mem_cache_line_size",
	PropGlobalMemCacheSize:     "global_mem_cache_size",
	PropMaxConstantBufferSize:  "max_constant_buffer_size",
	PropPrintfBufferSize:       "printf_buffer_size",
}

func (p UintProperty) String() string {
	if n, ok := uintPropertyNames[p]; ok {
		return n
	}
	return fmt.Sprintf("UintProperty(%d)", int(p))
}

// UintListProperty identifies a list-valued device property.
type UintListProperty int

const (
	ListSubGroupSizes UintListProperty = iota
	ListMemoryModuleSizes
	ListPartitionProperties
)

func (p UintListProperty) String() string {
	switch p {
	case ListSubGroupSizes:
		return "sub_group_sizes"
	case ListMemoryModuleSizes:
		return "memory_module_sizes"
	case ListPartitionProperties:
		return "partition_properties"
	default:
		return fmt.Sprintf("UintListProperty(%d)", int(p))
	}
}

// HardwareContext is the read-only capability surface of one device. All
// values are captured when the device is discovered.
type HardwareContext interface {
	IsCPU() bool
	IsGPU() bool

	// MaxKernelConcurrency is the number of kernels that can run at once.
	MaxKernelConcurrency() int
	// MaxMemcpyConcurrency is the number of transfers that can run at once.
	MaxMemcpyConcurrency() int

	DeviceName() string
	VendorName() string
	DeviceArch() string
	DriverVersion() string
	Profile() string

	Has(aspect Aspect) bool
	// Property fails with KindInvalidParameter for properties the backend
	// does not report.
	Property(prop UintProperty) (uint64, error)
	ListProperty(prop UintListProperty) ([]uint64, error)

	PlatformIndex() int
}
