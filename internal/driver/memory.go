package driver

// MemoryType is the kind of memory a pointer refers to.
type MemoryType int

const (
	MemoryTypeUnregistered MemoryType = iota
	MemoryTypeHost
	MemoryTypeDevice
	MemoryTypeManaged
)

func (t MemoryType) String() string {
	switch t {
	case MemoryTypeHost:
		return "host"
	case MemoryTypeDevice:
		return "device"
	case MemoryTypeManaged:
		return "managed"
	default:
		return "unregistered"
	}
}

// PointerAttributes is the answer of a native pointer query.
//
// Which field is authoritative depends on the API revision, see APIInfo.
type PointerAttributes struct {
	Type             MemoryType
	LegacyMemoryType MemoryType
	Device           int
	IsManaged        bool
}

// Advice is a native memory usage hint.
type Advice int

const (
	AdviseSetReadMostly Advice = iota + 1
	AdviseUnsetReadMostly
	AdviseSetPreferredLocation
	AdviseUnsetPreferredLocation
	AdviseSetAccessedBy
	AdviseUnsetAccessedBy
)

// APIInfo describes the revision of a memory API and the pointer query
// conventions that come with it.
type APIInfo struct {
	Name  string
	Major int
	Minor int

	// TypeField is set when PointerAttributes.Type is reported. Older
	// revisions only fill LegacyMemoryType.
	TypeField bool
	// UnregisteredIsSuccess is set when unknown pointers are reported as
	// MemoryTypeUnregistered with a successful status instead of an
	// invalid value error.
	UnregisteredIsSuccess bool
	// ManagedFlag is set when PointerAttributes.IsManaged is reported.
	ManagedFlag bool
	// Managed is set when the API can allocate managed memory at all.
	Managed bool
}

// Memory is the allocation surface of a platform. The current device is
// per OS thread; SetDevice must precede the dependent call on the same
// thread. Ordinals number the platform's devices in enumeration order
// across all of its drivers.
type Memory interface {
	Info() APIInfo

	SetDevice(ordinal int) error

	Malloc(size uint64, alignment uint64) (Ptr, error)
	HostMalloc(size uint64, alignment uint64) (Ptr, error)
	Free(p Ptr) error
	HostFree(p Ptr) error

	PointerAttributes(p Ptr) (PointerAttributes, error)
}

// ManagedMemory is implemented by memory APIs that can allocate unified
// memory.
type ManagedMemory interface {
	Memory
	MallocManaged(size uint64) (Ptr, error)
	MemAdvise(p Ptr, size uint64, advice Advice, ordinal int) error
}
