package gpu

import (
	"time"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/fxnlabs/hwrt/internal/metrics"
	"github.com/fxnlabs/hwrt/internal/rt"
	"go.uber.org/zap"
)

// Allocation kinds used as metric labels.
const (
	kindDevice        = "device"
	kindOptimizedHost = "optimized_host"
	kindShared        = "shared"
)

// Allocator is bound to one device of one backend. Every native call that
// depends on the current device runs with that device activated on the
// calling thread.
type Allocator struct {
	device  rt.DeviceID
	ordinal int
	mem     driver.Memory
	managed driver.ManagedMemory
	info    driver.APIInfo
	logger  *zap.Logger
	sink    rt.Sink
}

var _ rt.Allocator = (*Allocator)(nil)

// NewAllocator creates an allocator for the device with the given
// backend-local ordinal.
func NewAllocator(backend rt.BackendDescriptor, ordinal int, mem driver.Memory, logger *zap.Logger, sink rt.Sink) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = rt.NopSink()
	}
	a := &Allocator{
		device:  rt.DeviceID{Backend: backend, Index: ordinal},
		ordinal: ordinal,
		mem:     mem,
		info:    mem.Info(),
		logger:  logger.Named("allocator").With(zap.Stringer("device", rt.DeviceID{Backend: backend, Index: ordinal})),
		sink:    sink,
	}
	if mm, ok := mem.(driver.ManagedMemory); ok && a.info.Managed {
		a.managed = mm
	}
	return a
}

func (a *Allocator) Device() rt.DeviceID { return a.device }

func (a *Allocator) allocate(kind string, size uint64, call func() (driver.Ptr, error)) (rt.Ptr, error) {
	var p driver.Ptr
	start := time.Now()
	err := withDevice(a.mem, a.ordinal, func() error {
		var err error
		p, err = call()
		return err
	})
	if err != nil {
		e := rt.ErrorFromNative(rt.KindAllocation, kind+" allocation of "+FormatBytes(size)+" failed", err)
		a.sink.Register(e)
		return 0, e
	}

	backend := string(a.device.Backend.ID)
	metrics.AllocationDuration.WithLabelValues(backend, kind).Observe(float64(time.Since(start).Microseconds()))
	metrics.Allocations.WithLabelValues(backend, kind).Inc()
	metrics.AllocatedBytes.WithLabelValues(backend, kind).Add(float64(size))
	return p, nil
}

// RawAllocate allocates device memory. Hints are ignored.
func (a *Allocator) RawAllocate(alignment, size uint64, hints rt.AllocationHints) (rt.Ptr, error) {
	return a.allocate(kindDevice, size, func() (driver.Ptr, error) {
		return a.mem.Malloc(size, alignment)
	})
}

// RawAllocateOptimizedHost allocates pinned host memory. Hints are ignored.
func (a *Allocator) RawAllocateOptimizedHost(alignment, size uint64, hints rt.AllocationHints) (rt.Ptr, error) {
	return a.allocate(kindOptimizedHost, size, func() (driver.Ptr, error) {
		return a.mem.HostMalloc(size, alignment)
	})
}

// RawAllocateUSM allocates memory migrating between host and device. The
// access hint is forwarded as advice; a rejected advice leaves the
// allocation intact.
func (a *Allocator) RawAllocateUSM(size uint64, hints rt.AllocationHints) (rt.Ptr, error) {
	if a.managed == nil {
		e := rt.MakeError(rt.KindFeatureNotSupported,
			"shared allocations are not supported by "+a.info.Name, rt.ErrorCode{})
		a.sink.Register(e)
		return 0, e
	}
	p, err := a.allocate(kindShared, size, func() (driver.Ptr, error) {
		return a.managed.MallocManaged(size)
	})
	if err != nil {
		return 0, err
	}

	advice, ordinal, ok := adviceFor(hints.Access, a.ordinal)
	if ok {
		if err := a.managed.MemAdvise(p, size, advice, ordinal); err != nil {
			a.logger.Warn("ignoring rejected allocation hint", zap.Int("access", int(hints.Access)), zap.Error(err))
		}
	}
	return p, nil
}

// adviceFor maps an access hint to native advice. Ordinal -1 names the host.
func adviceFor(access rt.AccessHint, ordinal int) (driver.Advice, int, bool) {
	switch access {
	case rt.AccessReadMostly:
		return driver.AdviseSetReadMostly, ordinal, true
	case rt.AccessPreferDevice:
		return driver.AdviseSetPreferredLocation, ordinal, true
	case rt.AccessPreferHost:
		return driver.AdviseSetPreferredLocation, -1, true
	default:
		return 0, 0, false
	}
}

// RawFree releases p through the deallocation path matching its memory
// kind.
func (a *Allocator) RawFree(p rt.Ptr) error {
	info, err := a.QueryPointer(p)
	if err != nil {
		a.sink.Register(err)
		return err
	}

	path := "free"
	err = withDevice(a.mem, a.ordinal, func() error {
		if info.IsOptimizedHost {
			path = "host_free"
			return a.mem.HostFree(p)
		}
		return a.mem.Free(p)
	})
	if err != nil {
		e := rt.ErrorFromNative(rt.KindAllocation, "free failed", err)
		a.sink.Register(e)
		return e
	}
	metrics.Frees.WithLabelValues(string(a.device.Backend.ID), path).Inc()
	return nil
}

// QueryPointer asks the backend where p was allocated. Errors are returned
// but not registered with the sink; probing foreign pointers is expected.
func (a *Allocator) QueryPointer(p rt.Ptr) (rt.PointerInfo, error) {
	attrs, err := a.mem.PointerAttributes(p)
	if err != nil {
		if st, ok := driver.AsStatus(err); ok && st.Kind == driver.StatusInvalidValue {
			return rt.PointerInfo{}, rt.ErrorFromNative(rt.KindInvalidParameter, "pointer is unknown by backend", err)
		}
		return rt.PointerInfo{}, rt.ErrorFromNative(rt.KindBackendQuery, "could not query pointer info", err)
	}

	memType := attrs.LegacyMemoryType
	if a.info.TypeField {
		memType = attrs.Type
	}
	if memType == driver.MemoryTypeUnregistered {
		return rt.PointerInfo{}, rt.MakeError(rt.KindInvalidParameter, "pointer is unknown by backend", rt.ErrorCode{})
	}

	isUSM := memType == driver.MemoryTypeManaged
	if a.info.ManagedFlag {
		isUSM = attrs.IsManaged
	}
	return rt.PointerInfo{
		Device:            rt.DeviceID{Backend: a.device.Backend, Index: attrs.Device},
		IsFromHostBackend: a.device.Backend.Platform == rt.PlatformCPU,
		IsOptimizedHost:   memType == driver.MemoryTypeHost,
		IsUSM:             isUSM,
	}, nil
}

// MemAdvise forwards advice for a shared allocation. Without managed memory
// support it does nothing.
func (a *Allocator) MemAdvise(p rt.Ptr, size uint64, advice driver.Advice) error {
	if a.managed == nil {
		a.logger.Debug("ignoring memory advice, managed memory unavailable")
		return nil
	}
	err := withDevice(a.mem, a.ordinal, func() error {
		return a.managed.MemAdvise(p, size, advice, a.ordinal)
	})
	if err != nil {
		e := rt.ErrorFromNative(rt.KindRuntime, "memory advice failed", err)
		a.sink.Register(e)
		return e
	}
	return nil
}

func (a *Allocator) SupportsUSM() bool { return a.managed != nil }

// IsUSMAccessibleFrom reports whether shared allocations of this allocator
// can be dereferenced by other. Within one backend and from the host this
// holds whenever shared allocations exist at all.
func (a *Allocator) IsUSMAccessibleFrom(other rt.BackendDescriptor) bool {
	if !a.SupportsUSM() {
		return false
	}
	return other.ID == a.device.Backend.ID || other.Platform == rt.PlatformCPU
}
