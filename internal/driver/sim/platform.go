package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/google/uuid"
)

// Native codes reported by simulated calls.
const (
	CodeInvalidValue   = 1
	CodeOutOfMemory    = 2
	CodeNotInitialized = 3
	CodeNotSupported   = 801
	CodeUnknown        = 999
)

// Fault is a simulated native call that can be made to fail.
type Fault int

const (
	FaultEnumeration Fault = iota
	FaultContextCreation
	FaultEventPoolCreation
	FaultAllocation
	FaultPointerQuery
	numFaults
)

// uuidSpace namespaces device UUIDs so they are stable across runs.
var uuidSpace = uuid.MustParse("6f1d3c1e-6b7a-4b39-9a53-3b0f5c1d2e44")

type simDriver struct {
	handle  driver.DriverHandle
	version string
	devices []*simDevice
}

type simDevice struct {
	handle  driver.DeviceHandle
	driver  driver.DriverHandle
	ordinal int
	spec    DeviceSpec
	uuid    uuid.UUID
}

type simPool struct {
	ctx  driver.ContextHandle
	size int
}

// Platform is a simulated driver stack.
type Platform struct {
	spec       PlatformSpec
	deviceType driver.DeviceType

	drivers []*simDriver
	devices map[driver.DeviceHandle]*simDevice

	mu           sync.Mutex
	nextHandle   uintptr
	contexts     map[driver.ContextHandle]driver.DriverHandle
	pools        map[driver.EventPoolHandle]simPool
	poolsCreated int

	faults [numFaults]atomic.Bool
	mem    *Memory
}

// NewPlatform builds a simulated platform from spec.
func NewPlatform(spec PlatformSpec) *Platform {
	p := &Platform{
		spec:     spec,
		devices:  make(map[driver.DeviceHandle]*simDevice),
		contexts: make(map[driver.ContextHandle]driver.DriverHandle),
		pools:    make(map[driver.EventPoolHandle]simPool),
	}
	if spec.Kind == "cpu" {
		p.deviceType = driver.DeviceTypeCPU
	}

	ordinal := 0
	for _, ds := range spec.Drivers {
		d := &simDriver{handle: driver.DriverHandle(p.newHandle()), version: ds.Version}
		if d.version == "" {
			d.version = fmt.Sprintf("%d.%d", spec.API.Major, spec.API.Minor)
		}
		for _, devSpec := range ds.Devices {
			dev := &simDevice{
				handle:  driver.DeviceHandle(p.newHandle()),
				driver:  d.handle,
				ordinal: ordinal,
				spec:    devSpec.withDefaults(),
				uuid:    uuid.NewSHA1(uuidSpace, []byte(fmt.Sprintf("%s/%d", spec.Name, ordinal))),
			}
			d.devices = append(d.devices, dev)
			p.devices[dev.handle] = dev
			ordinal++
		}
		p.drivers = append(p.drivers, d)
	}

	p.faults[FaultEnumeration].Store(spec.Faults.Enumeration)
	p.faults[FaultContextCreation].Store(spec.Faults.ContextCreation)
	p.faults[FaultEventPoolCreation].Store(spec.Faults.EventPoolCreation)
	p.faults[FaultAllocation].Store(spec.Faults.Allocation)
	p.faults[FaultPointerQuery].Store(spec.Faults.PointerQuery)

	p.mem = newMemory(p)
	return p
}

func (p *Platform) newHandle() uintptr {
	p.nextHandle++
	return p.nextHandle
}

func (p *Platform) status(call string, code int, kind driver.StatusKind) error {
	return driver.NewStatus(p.spec.apiName(), call, code, kind)
}

// SetFault toggles a simulated failure at runtime.
func (p *Platform) SetFault(f Fault, on bool) {
	p.faults[f].Store(on)
}

func (p *Platform) failing(f Fault) bool {
	return p.faults[f].Load()
}

func (p *Platform) Name() string { return p.spec.Name }

func (p *Platform) DeviceType() driver.DeviceType { return p.deviceType }

func (p *Platform) Drivers() ([]driver.DriverHandle, error) {
	if p.failing(FaultEnumeration) {
		return nil, p.status("DriverGet", CodeNotInitialized, driver.StatusUninitialized)
	}
	handles := make([]driver.DriverHandle, len(p.drivers))
	for i, d := range p.drivers {
		handles[i] = d.handle
	}
	return handles, nil
}

func (p *Platform) findDriver(h driver.DriverHandle) *simDriver {
	for _, d := range p.drivers {
		if d.handle == h {
			return d
		}
	}
	return nil
}

func (p *Platform) DriverProperties(drv driver.DriverHandle) (driver.DriverProperties, error) {
	d := p.findDriver(drv)
	if d == nil {
		return driver.DriverProperties{}, p.status("DriverGetProperties", CodeInvalidValue, driver.StatusInvalidValue)
	}
	return driver.DriverProperties{Version: d.version}, nil
}

func (p *Platform) Devices(drv driver.DriverHandle) ([]driver.DeviceHandle, error) {
	d := p.findDriver(drv)
	if d == nil {
		return nil, p.status("DeviceGet", CodeInvalidValue, driver.StatusInvalidValue)
	}
	handles := make([]driver.DeviceHandle, len(d.devices))
	for i, dev := range d.devices {
		handles[i] = dev.handle
	}
	return handles, nil
}

func (p *Platform) device(call string, h driver.DeviceHandle) (*simDevice, error) {
	dev, ok := p.devices[h]
	if !ok {
		return nil, p.status(call, CodeInvalidValue, driver.StatusInvalidValue)
	}
	return dev, nil
}

func (p *Platform) DeviceProperties(h driver.DeviceHandle) (driver.DeviceProperties, error) {
	dev, err := p.device("DeviceGetProperties", h)
	if err != nil {
		return driver.DeviceProperties{}, err
	}
	s := dev.spec
	return driver.DeviceProperties{
		Name:                 s.Name,
		Type:                 p.deviceType,
		VendorID:             s.VendorID,
		Arch:                 s.Arch,
		UUID:                 dev.uuid,
		CoreClockRate:        s.ClockMHz,
		MaxMemAllocSize:      s.MaxAllocSize,
		NumSlices:            s.Slices,
		NumSubslicesPerSlice: s.SubslicesPerSlice,
		NumEUsPerSubslice:    s.EUsPerSubslice,
		NumThreadsPerEU:      s.ThreadsPerEU,
		ComputeEngines:       s.ComputeEngines,
		CopyEngines:          s.CopyEngines,
		ECC:                  s.ECC,
		Integrated:           s.Integrated,
		ManagedMemory:        p.spec.ManagedMemory,
		Timestamps:           s.Timestamps,
		DoublePrecision:      s.FP64,
		HalfPrecision:        s.FP16,
		Images:               s.Images,
	}, nil
}

func (p *Platform) ComputeProperties(h driver.DeviceHandle) (driver.ComputeProperties, error) {
	dev, err := p.device("DeviceGetComputeProperties", h)
	if err != nil {
		return driver.ComputeProperties{}, err
	}
	s := dev.spec
	return driver.ComputeProperties{
		MaxTotalGroupSize:    s.MaxGroupSize,
		MaxGroupSize:         [3]uint64{s.MaxGroupSize, s.MaxGroupSize, 64},
		MaxGroupCount:        [3]uint64{1<<31 - 1, 65535, 65535},
		MaxSharedLocalMemory: s.LocalMemory,
		SubGroupSizes:        append([]uint64(nil), s.SubGroupSizes...),
	}, nil
}

func (p *Platform) MemoryProperties(h driver.DeviceHandle) ([]driver.MemoryProperties, error) {
	dev, err := p.device("DeviceGetMemoryProperties", h)
	if err != nil {
		return nil, err
	}
	props := make([]driver.MemoryProperties, len(dev.spec.Memory))
	for i, m := range dev.spec.Memory {
		props[i] = driver.MemoryProperties{
			Name:         m.Name,
			TotalSize:    m.Size,
			MaxClockRate: m.ClockMHz,
			MaxBusWidth:  m.BusWidth,
		}
	}
	return props, nil
}

func (p *Platform) CreateContext(drv driver.DriverHandle) (driver.ContextHandle, error) {
	if p.failing(FaultContextCreation) {
		return 0, p.status("ContextCreate", CodeOutOfMemory, driver.StatusOutOfMemory)
	}
	if p.findDriver(drv) == nil {
		return 0, p.status("ContextCreate", CodeInvalidValue, driver.StatusInvalidValue)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h := driver.ContextHandle(p.newHandle())
	p.contexts[h] = drv
	return h, nil
}

func (p *Platform) DestroyContext(ctx driver.ContextHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.contexts[ctx]; !ok {
		return p.status("ContextDestroy", CodeInvalidValue, driver.StatusInvalidValue)
	}
	for _, pool := range p.pools {
		if pool.ctx == ctx {
			// Pools must not outlive their context.
			return p.status("ContextDestroy", CodeInvalidValue, driver.StatusInvalidValue)
		}
	}
	delete(p.contexts, ctx)
	return nil
}

func (p *Platform) CreateEventPool(ctx driver.ContextHandle, devices []driver.DeviceHandle, size int) (driver.EventPoolHandle, error) {
	if p.failing(FaultEventPoolCreation) {
		return 0, p.status("EventPoolCreate", CodeOutOfMemory, driver.StatusOutOfMemory)
	}
	if size <= 0 {
		return 0, p.status("EventPoolCreate", CodeInvalidValue, driver.StatusInvalidValue)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	drv, ok := p.contexts[ctx]
	if !ok {
		return 0, p.status("EventPoolCreate", CodeInvalidValue, driver.StatusInvalidValue)
	}
	for _, h := range devices {
		dev, ok := p.devices[h]
		if !ok || dev.driver != drv {
			return 0, p.status("EventPoolCreate", CodeInvalidValue, driver.StatusInvalidValue)
		}
	}
	h := driver.EventPoolHandle(p.newHandle())
	p.pools[h] = simPool{ctx: ctx, size: size}
	p.poolsCreated++
	return h, nil
}

func (p *Platform) DestroyEventPool(pool driver.EventPoolHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pools[pool]; !ok {
		return p.status("EventPoolDestroy", CodeInvalidValue, driver.StatusInvalidValue)
	}
	delete(p.pools, pool)
	return nil
}

func (p *Platform) Memory() driver.Memory { return p.mem }

// SimMemory returns the memory API with its inspection helpers.
func (p *Platform) SimMemory() *Memory { return p.mem }

// LiveContexts returns the number of contexts not yet destroyed.
func (p *Platform) LiveContexts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}

// LivePools returns the number of event pools not yet destroyed.
func (p *Platform) LivePools() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pools)
}

// PoolsCreated returns the number of event pools ever created.
func (p *Platform) PoolsCreated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poolsCreated
}

// PoolSize returns the capacity a live pool was created with.
func (p *Platform) PoolSize(pool driver.EventPoolHandle) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.pools[pool]
	return sp.size, ok
}

// NumDevices returns the number of devices across all drivers.
func (p *Platform) NumDevices() int {
	return len(p.devices)
}

func (p *Platform) deviceByOrdinal(ordinal int) *simDevice {
	for _, dev := range p.devices {
		if dev.ordinal == ordinal {
			return dev
		}
	}
	return nil
}
