package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/fxnlabs/hwrt/internal/metrics"
	"github.com/fxnlabs/hwrt/internal/rt"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ManagerConfig tunes discovery and resource creation.
type ManagerConfig struct {
	// EventPoolSize is the capacity of every event pool, DefaultEventPoolSize
	// when <= 0.
	EventPoolSize int
	// EagerContexts creates every context and event pool manager during
	// NewManager instead of on first use. Failures are reported, not fatal.
	EagerContexts bool
	// Sink receives every runtime error. Defaults to a discarding sink.
	Sink rt.Sink
	// Fallback is discovered when no other platform exposes a device.
	Fallback driver.Platform
}

type backendEntry struct {
	platform driver.Platform
	desc     rt.BackendDescriptor
	devices  []*deviceEntry
}

type deviceEntry struct {
	index   int
	id      rt.DeviceID
	hw      *HardwareContext
	backend *backendEntry
	ctxMgr  *ContextManager

	poolOnce sync.Once
	pool     *EventPoolManager
	poolErr  error

	allocOnce sync.Once
	alloc     *Allocator
	allocErr  error
}

// ErrDuplicateDevice is returned by NewManager when a platform reports the
// same device handle twice. Reverse lookups would be ambiguous.
var ErrDuplicateDevice = errors.New("device handle reported twice")

type handleKey struct {
	backend rt.BackendID
	handle  driver.DeviceHandle
}

// Manager is the registry of every discovered backend, driver and device.
// The registry is immutable once NewManager returns; only the lazily
// created contexts, event pool managers and allocators are filled in later.
type Manager struct {
	logger   *zap.Logger
	sink     rt.Sink
	poolSize int

	backends []*backendEntry
	contexts []*ContextManager
	devices  []*deviceEntry
	byID     map[rt.DeviceID]*deviceEntry
	byHandle map[handleKey]*deviceEntry

	closeOnce sync.Once
}

// discovered is the result of enumerating one platform.
type discovered struct {
	backend  *backendEntry
	drivers  []driver.DriverHandle
	contexts []*ContextManager
}

// NewManager discovers the devices of every platform. Platforms are
// enumerated concurrently; a platform that fails to enumerate is reported to
// the sink and skipped. Two platforms with the same name, or a platform
// reporting one device handle twice, are rejected.
func NewManager(logger *zap.Logger, platforms []driver.Platform, cfg ManagerConfig) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Sink == nil {
		cfg.Sink = rt.NopSink()
	}
	m := &Manager{
		logger:   logger.Named("hardware_manager"),
		sink:     cfg.Sink,
		poolSize: cfg.EventPoolSize,
		byID:     make(map[rt.DeviceID]*deviceEntry),
		byHandle: make(map[handleKey]*deviceEntry),
	}
	if m.poolSize <= 0 {
		m.poolSize = DefaultEventPoolSize
	}

	seen := make(map[string]bool, len(platforms))
	for _, p := range platforms {
		if seen[p.Name()] {
			return nil, fmt.Errorf("duplicate platform %q", p.Name())
		}
		seen[p.Name()] = true
	}

	results, err := m.discoverAll(platforms)
	if err != nil {
		return nil, err
	}
	if countDevices(results) == 0 && cfg.Fallback != nil && !seen[cfg.Fallback.Name()] {
		m.logger.Info("no devices discovered, using fallback platform", zap.String("platform", cfg.Fallback.Name()))
		if results, err = m.discoverAll([]driver.Platform{cfg.Fallback}); err != nil {
			return nil, err
		}
	}

	m.assemble(results)

	if cfg.EagerContexts {
		for i := range m.devices {
			// Errors are registered with the sink by the managers themselves.
			_, _ = m.EventPoolManager(i)
		}
	}

	m.logger.Info("hardware discovery complete",
		zap.Int("backends", len(m.backends)),
		zap.Int("platforms", len(m.contexts)),
		zap.Int("devices", len(m.devices)))
	return m, nil
}

func (m *Manager) discoverAll(platforms []driver.Platform) ([]*discovered, error) {
	results := make([]*discovered, len(platforms))
	var g errgroup.Group
	for i, p := range platforms {
		g.Go(func() error {
			d, err := m.discover(p)
			if errors.Is(err, ErrDuplicateDevice) {
				return err
			}
			if err != nil {
				m.sink.Register(err)
				m.logger.Warn("skipping platform", zap.String("platform", p.Name()), zap.Error(err))
				return nil
			}
			results[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// discover enumerates the drivers and devices of one platform and snapshots
// every device's capabilities. Nothing it builds is shared until assemble.
func (m *Manager) discover(p driver.Platform) (*discovered, error) {
	desc := rt.BackendDescriptor{ID: rt.BackendID(p.Name()), Platform: rt.PlatformGPU}
	if p.DeviceType() == driver.DeviceTypeCPU {
		desc.Platform = rt.PlatformCPU
	}
	d := &discovered{backend: &backendEntry{platform: p, desc: desc}}

	drivers, err := p.Drivers()
	if err != nil {
		return nil, rt.ErrorFromNative(rt.KindBackendQuery, "driver enumeration failed for "+p.Name(), err)
	}

	seen := make(map[driver.DeviceHandle]bool)
	ordinal := 0
	for _, drv := range drivers {
		devs, err := p.Devices(drv)
		if err != nil {
			return nil, rt.ErrorFromNative(rt.KindBackendQuery, "device enumeration failed for "+p.Name(), err)
		}
		cm := NewContextManager(p, desc, drv, m.logger, m.sink)
		for _, dev := range devs {
			if seen[dev] {
				return nil, fmt.Errorf("%w: handle %#x on platform %s", ErrDuplicateDevice, uintptr(dev), p.Name())
			}
			seen[dev] = true
			hw, err := newHardwareContext(p, desc, drv, dev, ordinal)
			if err != nil {
				return nil, err
			}
			d.backend.devices = append(d.backend.devices, &deviceEntry{
				id:      rt.DeviceID{Backend: desc, Index: ordinal},
				hw:      hw,
				backend: d.backend,
				ctxMgr:  cm,
			})
			ordinal++
		}
		d.drivers = append(d.drivers, drv)
		d.contexts = append(d.contexts, cm)
	}
	return d, nil
}

// assemble publishes the discovery results in platform order. Backend IDs
// are unique and handles are unique per backend, so keys never collide.
func (m *Manager) assemble(results []*discovered) {
	for _, r := range results {
		b := r.backend
		m.backends = append(m.backends, b)
		first := len(m.contexts)
		m.contexts = append(m.contexts, r.contexts...)

		for _, dev := range b.devices {
			key := handleKey{backend: b.desc.ID, handle: dev.hw.DeviceHandle()}
			for i, drv := range r.drivers {
				if drv == dev.hw.DriverHandle() {
					dev.hw.platformIndex = first + i
				}
			}
			dev.index = len(m.devices)
			m.devices = append(m.devices, dev)
			m.byHandle[key] = dev
			m.byID[dev.id] = dev
		}
		metrics.DiscoveredDevices.WithLabelValues(string(b.desc.ID)).Set(float64(len(b.devices)))
		m.logger.Debug("backend registered",
			zap.Stringer("backend", b.desc),
			zap.Int("drivers", len(r.drivers)),
			zap.Int("devices", len(b.devices)))
	}
}

func countDevices(results []*discovered) int {
	n := 0
	for _, r := range results {
		n += len(r.backend.devices)
	}
	return n
}

func (m *Manager) entry(index int) *deviceEntry {
	if index < 0 || index >= len(m.devices) {
		panic(fmt.Sprintf("gpu: device index %d out of range [0, %d)", index, len(m.devices)))
	}
	return m.devices[index]
}

// NumPlatforms returns the number of discovered native drivers.
func (m *Manager) NumPlatforms() int { return len(m.contexts) }

// NumDevices returns the number of discovered devices.
func (m *Manager) NumDevices() int { return len(m.devices) }

// Backends returns the discovered backends in discovery order.
func (m *Manager) Backends() []rt.BackendDescriptor {
	out := make([]rt.BackendDescriptor, len(m.backends))
	for i, b := range m.backends {
		out[i] = b.desc
	}
	return out
}

// Device returns the capabilities of the device at index. A device is only
// usable once its driver has a context, so the context is created here if
// needed and its failure is returned. Panics if index is out of range.
func (m *Manager) Device(index int) (rt.HardwareContext, error) {
	e := m.entry(index)
	if _, err := e.ctxMgr.Get(); err != nil {
		return nil, err
	}
	return e.hw, nil
}

// Properties returns the capability snapshot of the device at index without
// touching its context. Panics if index is out of range.
func (m *Manager) Properties(index int) *HardwareContext {
	return m.entry(index).hw
}

// DeviceID returns the identifier of the device at index. Panics if index
// is out of range.
func (m *Manager) DeviceID(index int) rt.DeviceID {
	return m.entry(index).id
}

// DeviceHandle returns the native handle of the device at index. Panics if
// index is out of range.
func (m *Manager) DeviceHandle(index int) driver.DeviceHandle {
	return m.entry(index).hw.DeviceHandle()
}

// DeviceIndex resolves id back to a manager index.
func (m *Manager) DeviceIndex(id rt.DeviceID) (int, error) {
	e, ok := m.byID[id]
	if !ok {
		return 0, rt.MakeError(rt.KindInvalidParameter, "device not recognized: "+id.String(), rt.ErrorCode{})
	}
	return e.index, nil
}

// DeviceHandleToDeviceID translates a native device handle of backend into
// a device identifier. Handles are only unique within their backend.
func (m *Manager) DeviceHandleToDeviceID(backend rt.BackendID, h driver.DeviceHandle) (rt.DeviceID, error) {
	e, ok := m.byHandle[handleKey{backend: backend, handle: h}]
	if !ok {
		return rt.DeviceID{}, rt.MakeError(rt.KindInvalidParameter,
			fmt.Sprintf("device not recognized: backend %s handle %#x", backend, uintptr(h)), rt.ErrorCode{})
	}
	return e.id, nil
}

// Context returns the shared context of the driver the device at index
// belongs to. Panics if index is out of range.
func (m *Manager) Context(index int) (*Context, error) {
	return m.entry(index).ctxMgr.Get()
}

// EventPoolManager returns the event pool manager of the device at index,
// creating it on first use. Panics if index is out of range.
func (m *Manager) EventPoolManager(index int) (*EventPoolManager, error) {
	e := m.entry(index)
	e.poolOnce.Do(func() {
		ctx, err := e.ctxMgr.Get()
		if err != nil {
			e.poolErr = err
			return
		}
		e.pool, e.poolErr = NewEventPoolManager(ctx, []driver.DeviceHandle{e.hw.DeviceHandle()}, m.poolSize, m.logger, m.sink)
	})
	return e.pool, e.poolErr
}

// Allocator returns the allocator bound to the device at index. Panics if
// index is out of range.
func (m *Manager) Allocator(index int) (rt.Allocator, error) {
	e := m.entry(index)
	e.allocOnce.Do(func() {
		if _, err := e.ctxMgr.Get(); err != nil {
			e.allocErr = err
			return
		}
		mem := e.backend.platform.Memory()
		if mem == nil {
			e.allocErr = rt.MakeError(rt.KindFeatureNotSupported,
				"backend "+string(e.id.Backend.ID)+" cannot allocate memory", rt.ErrorCode{})
			m.sink.Register(e.allocErr)
			return
		}
		e.alloc = NewAllocator(e.id.Backend, e.id.Index, mem, m.logger, m.sink)
	})
	if e.allocErr != nil {
		return nil, e.allocErr
	}
	return e.alloc, nil
}

// AllocatorFor returns the allocator bound to id.
func (m *Manager) AllocatorFor(id rt.DeviceID) (rt.Allocator, error) {
	index, err := m.DeviceIndex(id)
	if err != nil {
		return nil, err
	}
	return m.Allocator(index)
}

// Close releases every event pool manager and context manager. Native
// contexts still referenced by pools held elsewhere survive until those are
// released.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		for _, e := range m.devices {
			// Block later lazy creation.
			e.poolOnce.Do(func() {
				e.poolErr = rt.MakeError(rt.KindInvalidParameter, "hardware manager closed", rt.ErrorCode{})
			})
			if e.pool != nil {
				e.pool.Close()
			}
		}
		for _, cm := range m.contexts {
			cm.Close()
		}
		m.logger.Debug("hardware manager closed")
	})
}
