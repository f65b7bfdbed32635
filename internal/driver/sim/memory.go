package sim

import (
	"sync"
	"sync/atomic"

	"github.com/fxnlabs/hwrt/internal/driver"
)

// Every platform owns a disjoint address window, split into one region per
// memory kind, so pointers of one platform are never known to another.
const (
	regionSize   = uint64(1) << 40
	windowSize   = 4 * regionSize
	firstWindow  = uint64(1) << 44
	maxWindows   = 1 << 19
	minAlignment = 256
)

// windows hands out address windows to platforms.
var windows atomic.Uint64

// region is the address range of one memory kind.
type region struct {
	next driver.Ptr
	end  driver.Ptr
}

func newRegions() map[driver.MemoryType]*region {
	w := (windows.Add(1) - 1) % maxWindows
	base := firstWindow + w*windowSize
	regions := make(map[driver.MemoryType]*region, 3)
	for i, kind := range []driver.MemoryType{driver.MemoryTypeHost, driver.MemoryTypeDevice, driver.MemoryTypeManaged} {
		start := base + uint64(i)*regionSize
		regions[kind] = &region{next: driver.Ptr(start), end: driver.Ptr(start + regionSize)}
	}
	return regions
}

// Call is a recorded native memory call.
type Call struct {
	Name    string
	Ptr     driver.Ptr
	Ordinal int
}

type allocation struct {
	kind    driver.MemoryType
	ordinal int
	size    uint64
}

// Memory is the simulated memory API of a Platform. It implements
// driver.ManagedMemory; MallocManaged fails with a not-supported status
// unless the platform spec enables managed memory.
type Memory struct {
	p    *Platform
	info driver.APIInfo

	mu     sync.Mutex
	next   map[driver.MemoryType]*region
	allocs map[driver.Ptr]allocation
	used   map[int]uint64
	active map[int]int // OS thread id -> ordinal
	calls  []Call
}

func newMemory(p *Platform) *Memory {
	newer := p.spec.API.Major > 5
	return &Memory{
		p: p,
		info: driver.APIInfo{
			Name:                  p.spec.apiName(),
			Major:                 p.spec.API.Major,
			Minor:                 p.spec.API.Minor,
			TypeField:             newer,
			UnregisteredIsSuccess: newer,
			ManagedFlag:           p.spec.ManagedFlag,
			Managed:               p.spec.ManagedMemory,
		},
		next:   newRegions(),
		allocs: make(map[driver.Ptr]allocation),
		used:   make(map[int]uint64),
		active: make(map[int]int),
	}
}

func (m *Memory) Info() driver.APIInfo { return m.info }

func (m *Memory) status(call string, code int, kind driver.StatusKind) error {
	return driver.NewStatus(m.info.Name, call, code, kind)
}

func (m *Memory) SetDevice(ordinal int) error {
	if ordinal < 0 || ordinal >= m.p.NumDevices() {
		return m.status("SetDevice", CodeInvalidValue, driver.StatusInvalidValue)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[threadID()] = ordinal
	m.calls = append(m.calls, Call{Name: "SetDevice", Ordinal: ordinal})
	return nil
}

// ActiveDevice returns the device current on the calling OS thread.
func (m *Memory) ActiveDevice() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[threadID()]
}

// allocate must be called with m.mu held.
func (m *Memory) allocate(call string, kind driver.MemoryType, size, alignment uint64) (driver.Ptr, error) {
	if m.p.failing(FaultAllocation) {
		return 0, m.status(call, CodeOutOfMemory, driver.StatusOutOfMemory)
	}
	if size == 0 {
		return 0, m.status(call, CodeInvalidValue, driver.StatusInvalidValue)
	}
	if alignment < minAlignment {
		alignment = minAlignment
	}
	if alignment > regionSize {
		return 0, m.status(call, CodeInvalidValue, driver.StatusInvalidValue)
	}
	r := m.next[kind]
	p := alignUp(r.next, alignment)
	// Keep a guard gap so interior pointers of neighbouring allocations never touch.
	if size > regionSize || p >= r.end || uint64(r.end-p) < size+minAlignment {
		return 0, m.status(call, CodeOutOfMemory, driver.StatusOutOfMemory)
	}
	ordinal := m.active[threadID()]
	if kind == driver.MemoryTypeDevice {
		dev := m.p.deviceByOrdinal(ordinal)
		if dev == nil {
			return 0, m.status(call, CodeInvalidValue, driver.StatusInvalidValue)
		}
		if size > dev.spec.MaxAllocSize || m.used[ordinal]+size > deviceMemory(dev.spec) {
			return 0, m.status(call, CodeOutOfMemory, driver.StatusOutOfMemory)
		}
		m.used[ordinal] += size
	}
	r.next = alignUp(p+driver.Ptr(size)+minAlignment, minAlignment)
	m.allocs[p] = allocation{kind: kind, ordinal: ordinal, size: size}
	m.calls = append(m.calls, Call{Name: call, Ptr: p, Ordinal: ordinal})
	return p, nil
}

func (m *Memory) Malloc(size, alignment uint64) (driver.Ptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocate("Malloc", driver.MemoryTypeDevice, size, alignment)
}

func (m *Memory) HostMalloc(size, alignment uint64) (driver.Ptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocate("HostMalloc", driver.MemoryTypeHost, size, alignment)
}

func (m *Memory) MallocManaged(size uint64) (driver.Ptr, error) {
	if !m.p.spec.ManagedMemory {
		return 0, m.status("MallocManaged", CodeNotSupported, driver.StatusNotSupported)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocate("MallocManaged", driver.MemoryTypeManaged, size, 0)
}

// release must be called with m.mu held. Device frees accept device and
// managed memory, host frees only pinned host memory.
func (m *Memory) release(call string, p driver.Ptr, host bool) error {
	a, ok := m.allocs[p]
	if !ok || (a.kind == driver.MemoryTypeHost) != host {
		return m.status(call, CodeInvalidValue, driver.StatusInvalidValue)
	}
	delete(m.allocs, p)
	if a.kind == driver.MemoryTypeDevice {
		m.used[a.ordinal] -= a.size
	}
	m.calls = append(m.calls, Call{Name: call, Ptr: p, Ordinal: a.ordinal})
	return nil
}

func (m *Memory) Free(p driver.Ptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.release("Free", p, false)
}

func (m *Memory) HostFree(p driver.Ptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.release("HostFree", p, true)
}

// lookup finds the allocation containing p. Must be called with m.mu held.
func (m *Memory) lookup(p driver.Ptr) (allocation, bool) {
	if a, ok := m.allocs[p]; ok {
		return a, true
	}
	for base, a := range m.allocs {
		if p > base && p < base+driver.Ptr(a.size) {
			return a, true
		}
	}
	return allocation{}, false
}

func (m *Memory) PointerAttributes(p driver.Ptr) (driver.PointerAttributes, error) {
	if m.p.failing(FaultPointerQuery) {
		return driver.PointerAttributes{}, m.status("PointerGetAttributes", CodeUnknown, driver.StatusUnknown)
	}
	m.mu.Lock()
	a, ok := m.lookup(p)
	m.mu.Unlock()

	if !ok {
		if m.info.UnregisteredIsSuccess {
			return driver.PointerAttributes{Type: driver.MemoryTypeUnregistered}, nil
		}
		return driver.PointerAttributes{}, m.status("PointerGetAttributes", CodeInvalidValue, driver.StatusInvalidValue)
	}

	attrs := driver.PointerAttributes{
		LegacyMemoryType: a.kind,
		Device:           a.ordinal,
	}
	if m.info.TypeField {
		attrs.Type = a.kind
	}
	if m.info.ManagedFlag {
		attrs.IsManaged = a.kind == driver.MemoryTypeManaged
	}
	return attrs, nil
}

func (m *Memory) MemAdvise(p driver.Ptr, size uint64, advice driver.Advice, ordinal int) error {
	if !m.p.spec.ManagedMemory {
		return m.status("MemAdvise", CodeNotSupported, driver.StatusNotSupported)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.lookup(p)
	if !ok || a.kind != driver.MemoryTypeManaged || size == 0 || advice < driver.AdviseSetReadMostly || advice > driver.AdviseUnsetAccessedBy {
		return m.status("MemAdvise", CodeInvalidValue, driver.StatusInvalidValue)
	}
	m.calls = append(m.calls, Call{Name: "MemAdvise", Ptr: p, Ordinal: ordinal})
	return nil
}

// Calls returns the recorded native calls in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsNamed returns the recorded calls with the given name.
func (m *Memory) CallsNamed(name string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call record.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// LiveAllocations returns the number of allocations not yet freed.
func (m *Memory) LiveAllocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allocs)
}

func deviceMemory(s DeviceSpec) uint64 {
	var total uint64
	for _, mod := range s.Memory {
		total += mod.Size
	}
	return total
}

func alignUp(p driver.Ptr, alignment uint64) driver.Ptr {
	a := driver.Ptr(alignment)
	return (p + a - 1) / a * a
}
