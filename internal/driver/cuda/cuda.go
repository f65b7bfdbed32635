//go:build cuda
// +build cuda

// Package cuda drives NVIDIA devices through the CUDA runtime API.
package cuda

/*
#cgo LDFLAGS: -lcudart
#include <cuda_runtime.h>
#include <stdlib.h>

static cudaError_t hwrt_event_create(cudaEvent_t *ev) {
	return cudaEventCreateWithFlags(ev, cudaEventDisableTiming);
}
*/
import "C"
import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	apiName = "CUDA"
	// The runtime exposes a single driver instance.
	driverHandle = driver.DriverHandle(1)
	nvidiaVendor = 0x10de
	// Default number of hardware work queues (CUDA_DEVICE_MAX_CONNECTIONS).
	workQueues = 8
	// cudaMalloc returns memory aligned to at least this many bytes.
	mallocAlignment = 256
)

// Platform is the CUDA runtime as a driver.Platform. Device handles are
// ordinals offset by one so the zero handle stays invalid.
type Platform struct {
	logger  *zap.Logger
	devices int
	mem     *Memory

	mu         sync.Mutex
	nextHandle uintptr
	contexts   map[driver.ContextHandle]struct{}
	pools      map[driver.EventPoolHandle][]C.cudaEvent_t
}

// Available reports whether the CUDA runtime finds at least one device.
func Available() bool {
	var n C.int
	return C.cudaGetDeviceCount(&n) == C.cudaSuccess && n > 0
}

// New initializes the CUDA runtime. It fails when no device is present.
func New(logger *zap.Logger) (driver.Platform, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var n C.int
	if err := check("cudaGetDeviceCount", C.cudaGetDeviceCount(&n)); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, driver.NewStatus(apiName, "cudaGetDeviceCount", int(C.cudaErrorNoDevice), driver.StatusUninitialized)
	}

	p := &Platform{
		logger:   logger.Named("cuda"),
		devices:  int(n),
		contexts: make(map[driver.ContextHandle]struct{}),
		pools:    make(map[driver.EventPoolHandle][]C.cudaEvent_t),
	}
	mem, err := newMemory()
	if err != nil {
		return nil, err
	}
	p.mem = mem
	p.logger.Info("CUDA runtime initialized",
		zap.Int("devices", p.devices),
		zap.Int("runtime_major", mem.info.Major),
		zap.Int("runtime_minor", mem.info.Minor))
	return p, nil
}

func check(call string, err C.cudaError_t) error {
	if err == C.cudaSuccess {
		return nil
	}
	// Clear the error so it is not reported again by the next call.
	C.cudaGetLastError()
	return driver.NewStatus(apiName, call, int(err), statusKind(err))
}

func statusKind(err C.cudaError_t) driver.StatusKind {
	switch err {
	case C.cudaErrorInvalidValue, C.cudaErrorInvalidDevice, C.cudaErrorInvalidDevicePointer:
		return driver.StatusInvalidValue
	case C.cudaErrorMemoryAllocation:
		return driver.StatusOutOfMemory
	case C.cudaErrorNotSupported:
		return driver.StatusNotSupported
	case C.cudaErrorInitializationError, C.cudaErrorNoDevice, C.cudaErrorInsufficientDriver:
		return driver.StatusUninitialized
	case C.cudaErrorDevicesUnavailable, C.cudaErrorLaunchFailure:
		return driver.StatusDeviceLost
	default:
		return driver.StatusUnknown
	}
}

func (p *Platform) ordinal(call string, h driver.DeviceHandle) (C.int, error) {
	o := int(h) - 1
	if o < 0 || o >= p.devices {
		return 0, driver.NewStatus(apiName, call, int(C.cudaErrorInvalidDevice), driver.StatusInvalidValue)
	}
	return C.int(o), nil
}

func attribute(attr C.enum_cudaDeviceAttr, dev C.int) (int, error) {
	var v C.int
	if err := check("cudaDeviceGetAttribute", C.cudaDeviceGetAttribute(&v, attr, dev)); err != nil {
		return 0, err
	}
	return int(v), nil
}

// attributes reads several attributes, stopping at the first failure.
func attributes(dev C.int, attrs map[C.enum_cudaDeviceAttr]*int) error {
	for attr, dst := range attrs {
		v, err := attribute(attr, dev)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

func (p *Platform) Name() string { return "cuda" }

func (p *Platform) DeviceType() driver.DeviceType { return driver.DeviceTypeGPU }

func (p *Platform) Drivers() ([]driver.DriverHandle, error) {
	return []driver.DriverHandle{driverHandle}, nil
}

func (p *Platform) DriverProperties(drv driver.DriverHandle) (driver.DriverProperties, error) {
	if drv != driverHandle {
		return driver.DriverProperties{}, driver.NewStatus(apiName, "cudaDriverGetVersion", int(C.cudaErrorInvalidValue), driver.StatusInvalidValue)
	}
	var v C.int
	if err := check("cudaDriverGetVersion", C.cudaDriverGetVersion(&v)); err != nil {
		return driver.DriverProperties{}, err
	}
	return driver.DriverProperties{Version: fmt.Sprintf("%d.%d", v/1000, (v%1000)/10)}, nil
}

func (p *Platform) Devices(drv driver.DriverHandle) ([]driver.DeviceHandle, error) {
	if drv != driverHandle {
		return nil, driver.NewStatus(apiName, "cudaGetDeviceCount", int(C.cudaErrorInvalidValue), driver.StatusInvalidValue)
	}
	handles := make([]driver.DeviceHandle, p.devices)
	for i := range handles {
		handles[i] = driver.DeviceHandle(i + 1)
	}
	return handles, nil
}

func (p *Platform) DeviceProperties(h driver.DeviceHandle) (driver.DeviceProperties, error) {
	dev, err := p.ordinal("cudaGetDeviceProperties", h)
	if err != nil {
		return driver.DeviceProperties{}, err
	}
	var prop C.struct_cudaDeviceProp
	if err := check("cudaGetDeviceProperties", C.cudaGetDeviceProperties(&prop, dev)); err != nil {
		return driver.DeviceProperties{}, err
	}

	var sms, clockKHz, major, minor, asyncEngines, ecc, integrated, managed, concurrent int
	err = attributes(dev, map[C.enum_cudaDeviceAttr]*int{
		C.cudaDevAttrMultiProcessorCount:    &sms,
		C.cudaDevAttrClockRate:              &clockKHz,
		C.cudaDevAttrComputeCapabilityMajor: &major,
		C.cudaDevAttrComputeCapabilityMinor: &minor,
		C.cudaDevAttrAsyncEngineCount:       &asyncEngines,
		C.cudaDevAttrEccEnabled:             &ecc,
		C.cudaDevAttrIntegrated:             &integrated,
		C.cudaDevAttrManagedMemory:          &managed,
		C.cudaDevAttrConcurrentKernels:      &concurrent,
	})
	if err != nil {
		return driver.DeviceProperties{}, err
	}

	var id uuid.UUID
	for i := range id {
		id[i] = byte(prop.uuid.bytes[i])
	}
	engines := uint32(1)
	if concurrent != 0 {
		engines = workQueues
	}
	return driver.DeviceProperties{
		Name:                 C.GoString(&prop.name[0]),
		Type:                 driver.DeviceTypeGPU,
		VendorID:             nvidiaVendor,
		Arch:                 fmt.Sprintf("sm_%d%d", major, minor),
		UUID:                 id,
		CoreClockRate:        uint64(clockKHz / 1000),
		MaxMemAllocSize:      uint64(prop.totalGlobalMem),
		NumSlices:            uint32(sms),
		NumSubslicesPerSlice: 1,
		NumEUsPerSubslice:    1,
		NumThreadsPerEU:      uint32(prop.maxThreadsPerMultiProcessor),
		ComputeEngines:       engines,
		CopyEngines:          uint32(asyncEngines),
		ECC:                  ecc != 0,
		Integrated:           integrated != 0,
		ManagedMemory:        managed != 0,
		Timestamps:           true,
		DoublePrecision:      true,
		HalfPrecision:        major > 5 || (major == 5 && minor >= 3),
		Images:               true,
	}, nil
}

func (p *Platform) ComputeProperties(h driver.DeviceHandle) (driver.ComputeProperties, error) {
	dev, err := p.ordinal("cudaDeviceGetAttribute", h)
	if err != nil {
		return driver.ComputeProperties{}, err
	}
	var threads, bx, by, bz, gx, gy, gz, shared, warp int
	err = attributes(dev, map[C.enum_cudaDeviceAttr]*int{
		C.cudaDevAttrMaxThreadsPerBlock:      &threads,
		C.cudaDevAttrMaxBlockDimX:            &bx,
		C.cudaDevAttrMaxBlockDimY:            &by,
		C.cudaDevAttrMaxBlockDimZ:            &bz,
		C.cudaDevAttrMaxGridDimX:             &gx,
		C.cudaDevAttrMaxGridDimY:             &gy,
		C.cudaDevAttrMaxGridDimZ:             &gz,
		C.cudaDevAttrMaxSharedMemoryPerBlock: &shared,
		C.cudaDevAttrWarpSize:                &warp,
	})
	if err != nil {
		return driver.ComputeProperties{}, err
	}
	return driver.ComputeProperties{
		MaxTotalGroupSize:    uint64(threads),
		MaxGroupSize:         [3]uint64{uint64(bx), uint64(by), uint64(bz)},
		MaxGroupCount:        [3]uint64{uint64(gx), uint64(gy), uint64(gz)},
		MaxSharedLocalMemory: uint64(shared),
		SubGroupSizes:        []uint64{uint64(warp)},
	}, nil
}

func (p *Platform) MemoryProperties(h driver.DeviceHandle) ([]driver.MemoryProperties, error) {
	dev, err := p.ordinal("cudaGetDeviceProperties", h)
	if err != nil {
		return nil, err
	}
	var prop C.struct_cudaDeviceProp
	if err := check("cudaGetDeviceProperties", C.cudaGetDeviceProperties(&prop, dev)); err != nil {
		return nil, err
	}
	var clockKHz, busWidth int
	err = attributes(dev, map[C.enum_cudaDeviceAttr]*int{
		C.cudaDevAttrMemoryClockRate:      &clockKHz,
		C.cudaDevAttrGlobalMemoryBusWidth: &busWidth,
	})
	if err != nil {
		return nil, err
	}
	return []driver.MemoryProperties{{
		Name:         "global",
		TotalSize:    uint64(prop.totalGlobalMem),
		MaxClockRate: uint64(clockKHz / 1000),
		MaxBusWidth:  uint32(busWidth),
	}}, nil
}

func (p *Platform) newHandle() uintptr {
	p.nextHandle++
	return p.nextHandle
}

// CreateContext retains the primary context of every device. The runtime
// shares one primary context per device across the process.
func (p *Platform) CreateContext(drv driver.DriverHandle) (driver.ContextHandle, error) {
	if drv != driverHandle {
		return 0, driver.NewStatus(apiName, "cudaSetDevice", int(C.cudaErrorInvalidValue), driver.StatusInvalidValue)
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for i := 0; i < p.devices; i++ {
		if err := check("cudaSetDevice", C.cudaSetDevice(C.int(i))); err != nil {
			return 0, err
		}
		// Forces lazy primary context creation.
		if err := check("cudaFree", C.cudaFree(nil)); err != nil {
			return 0, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	h := driver.ContextHandle(p.newHandle())
	p.contexts[h] = struct{}{}
	return h, nil
}

func (p *Platform) DestroyContext(ctx driver.ContextHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.contexts[ctx]; !ok {
		return driver.NewStatus(apiName, "cudaDeviceReset", int(C.cudaErrorInvalidValue), driver.StatusInvalidValue)
	}
	delete(p.contexts, ctx)
	// Primary contexts stay alive; resetting them would invalidate memory
	// owned by other holders in the process.
	return nil
}

// CreateEventPool creates size events on the first of devices. CUDA has no
// native pools, so the pool is a block of individually created events.
func (p *Platform) CreateEventPool(ctx driver.ContextHandle, devices []driver.DeviceHandle, size int) (driver.EventPoolHandle, error) {
	if size <= 0 || len(devices) == 0 {
		return 0, driver.NewStatus(apiName, "cudaEventCreateWithFlags", int(C.cudaErrorInvalidValue), driver.StatusInvalidValue)
	}
	dev, err := p.ordinal("cudaSetDevice", devices[0])
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	_, ok := p.contexts[ctx]
	p.mu.Unlock()
	if !ok {
		return 0, driver.NewStatus(apiName, "cudaEventCreateWithFlags", int(C.cudaErrorInvalidValue), driver.StatusInvalidValue)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := check("cudaSetDevice", C.cudaSetDevice(dev)); err != nil {
		return 0, err
	}
	events := make([]C.cudaEvent_t, 0, size)
	for i := 0; i < size; i++ {
		var ev C.cudaEvent_t
		if err := check("cudaEventCreateWithFlags", C.hwrt_event_create(&ev)); err != nil {
			destroyEvents(events)
			return 0, err
		}
		events = append(events, ev)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	h := driver.EventPoolHandle(p.newHandle())
	p.pools[h] = events
	return h, nil
}

func destroyEvents(events []C.cudaEvent_t) {
	for _, ev := range events {
		C.cudaEventDestroy(ev)
	}
}

func (p *Platform) DestroyEventPool(pool driver.EventPoolHandle) error {
	p.mu.Lock()
	events, ok := p.pools[pool]
	delete(p.pools, pool)
	p.mu.Unlock()
	if !ok {
		return driver.NewStatus(apiName, "cudaEventDestroy", int(C.cudaErrorInvalidValue), driver.StatusInvalidValue)
	}
	destroyEvents(events)
	return nil
}

func (p *Platform) Memory() driver.Memory { return p.mem }

// Memory is the CUDA runtime memory API.
type Memory struct {
	info driver.APIInfo
}

func newMemory() (*Memory, error) {
	var v C.int
	if err := check("cudaRuntimeGetVersion", C.cudaRuntimeGetVersion(&v)); err != nil {
		return nil, err
	}
	managed, err := attribute(C.cudaDevAttrManagedMemory, 0)
	if err != nil {
		return nil, err
	}
	return &Memory{
		info: driver.APIInfo{
			Name:  apiName,
			Major: int(v) / 1000,
			Minor: (int(v) % 1000) / 10,
			// Runtimes from 11 on only report the type field and answer
			// unknown pointers with cudaMemoryTypeUnregistered.
			TypeField:             true,
			UnregisteredIsSuccess: true,
			Managed:               managed != 0,
		},
	}, nil
}

func (m *Memory) Info() driver.APIInfo { return m.info }

func (m *Memory) SetDevice(ordinal int) error {
	return check("cudaSetDevice", C.cudaSetDevice(C.int(ordinal)))
}

func (m *Memory) Malloc(size, alignment uint64) (driver.Ptr, error) {
	if alignment > mallocAlignment {
		return 0, driver.NewStatus(apiName, "cudaMalloc", int(C.cudaErrorInvalidValue), driver.StatusInvalidValue)
	}
	var p unsafe.Pointer
	if err := check("cudaMalloc", C.cudaMalloc(&p, C.size_t(size))); err != nil {
		return 0, err
	}
	return driver.Ptr(p), nil
}

func (m *Memory) HostMalloc(size, alignment uint64) (driver.Ptr, error) {
	if alignment > mallocAlignment {
		return 0, driver.NewStatus(apiName, "cudaMallocHost", int(C.cudaErrorInvalidValue), driver.StatusInvalidValue)
	}
	var p unsafe.Pointer
	if err := check("cudaMallocHost", C.cudaMallocHost(&p, C.size_t(size))); err != nil {
		return 0, err
	}
	return driver.Ptr(p), nil
}

func (m *Memory) MallocManaged(size uint64) (driver.Ptr, error) {
	var p unsafe.Pointer
	if err := check("cudaMallocManaged", C.cudaMallocManaged(&p, C.size_t(size), C.cudaMemAttachGlobal)); err != nil {
		return 0, err
	}
	return driver.Ptr(p), nil
}

func (m *Memory) Free(p driver.Ptr) error {
	return check("cudaFree", C.cudaFree(unsafe.Pointer(p)))
}

func (m *Memory) HostFree(p driver.Ptr) error {
	return check("cudaFreeHost", C.cudaFreeHost(unsafe.Pointer(p)))
}

func (m *Memory) PointerAttributes(p driver.Ptr) (driver.PointerAttributes, error) {
	var attr C.struct_cudaPointerAttributes
	if err := check("cudaPointerGetAttributes", C.cudaPointerGetAttributes(&attr, unsafe.Pointer(p))); err != nil {
		return driver.PointerAttributes{}, err
	}
	var t driver.MemoryType
	switch attr._type {
	case C.cudaMemoryTypeHost:
		t = driver.MemoryTypeHost
	case C.cudaMemoryTypeDevice:
		t = driver.MemoryTypeDevice
	case C.cudaMemoryTypeManaged:
		t = driver.MemoryTypeManaged
	default:
		t = driver.MemoryTypeUnregistered
	}
	return driver.PointerAttributes{Type: t, LegacyMemoryType: t, Device: int(attr.device)}, nil
}

func (m *Memory) MemAdvise(p driver.Ptr, size uint64, advice driver.Advice, ordinal int) error {
	var a C.enum_cudaMemoryAdvise
	switch advice {
	case driver.AdviseSetReadMostly:
		a = C.cudaMemAdviseSetReadMostly
	case driver.AdviseUnsetReadMostly:
		a = C.cudaMemAdviseUnsetReadMostly
	case driver.AdviseSetPreferredLocation:
		a = C.cudaMemAdviseSetPreferredLocation
	case driver.AdviseUnsetPreferredLocation:
		a = C.cudaMemAdviseUnsetPreferredLocation
	case driver.AdviseSetAccessedBy:
		a = C.cudaMemAdviseSetAccessedBy
	case driver.AdviseUnsetAccessedBy:
		a = C.cudaMemAdviseUnsetAccessedBy
	default:
		return driver.NewStatus(apiName, "cudaMemAdvise", int(C.cudaErrorInvalidValue), driver.StatusInvalidValue)
	}
	dev := C.int(ordinal)
	if ordinal < 0 {
		dev = C.cudaCpuDeviceId
	}
	return check("cudaMemAdvise", C.cudaMemAdvise(unsafe.Pointer(p), C.size_t(size), a, dev))
}
