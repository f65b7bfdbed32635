package rt

import "github.com/fxnlabs/hwrt/internal/driver"

// Ptr is an address handed out by an Allocator.
type Ptr = driver.Ptr

// AccessHint is the expected access pattern of an allocation.
type AccessHint int

const (
	AccessDefault AccessHint = iota
	AccessReadMostly
	AccessPreferDevice
	AccessPreferHost
)

// AllocationHints are advisory tuning values. They never affect
// correctness.
type AllocationHints struct {
	Access AccessHint
}

// PointerInfo is the provenance of an allocation, recomputed by the backend
// on every query.
type PointerInfo struct {
	Device            DeviceID
	IsFromHostBackend bool
	IsOptimizedHost   bool
	IsUSM             bool
}

// Allocator is the memory capability set of one device of one backend.
//
// Allocation functions return a zero Ptr together with an *Error on
// failure; the error is reported to the allocator's Sink as well.
type Allocator interface {
	RawAllocate(alignment, size uint64, hints AllocationHints) (Ptr, error)
	RawAllocateOptimizedHost(alignment, size uint64, hints AllocationHints) (Ptr, error)
	RawAllocateUSM(size uint64, hints AllocationHints) (Ptr, error)
	RawFree(p Ptr) error

	QueryPointer(p Ptr) (PointerInfo, error)
	MemAdvise(p Ptr, size uint64, advice driver.Advice) error

	// SupportsUSM reports whether RawAllocateUSM can succeed at all.
	SupportsUSM() bool
	IsUSMAccessibleFrom(other BackendDescriptor) bool

	Device() DeviceID
}
