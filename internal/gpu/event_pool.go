package gpu

import (
	"sync"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/fxnlabs/hwrt/internal/metrics"
	"github.com/fxnlabs/hwrt/internal/rt"
	"go.uber.org/zap"
)

// DefaultEventPoolSize is the number of event slots per pool.
const DefaultEventPoolSize = 128

// EventPool is a native pool of event slots. Holders of events from the
// pool keep it alive after the manager rotated to a new pool.
type EventPool struct {
	refCount
	handle   driver.EventPoolHandle
	capacity int
}

// Handle returns the native pool handle.
func (p *EventPool) Handle() driver.EventPoolHandle { return p.handle }

// Capacity returns the number of slots of the pool.
func (p *EventPool) Capacity() int { return p.capacity }

// Retain adds a holder and returns p.
func (p *EventPool) Retain() *EventPool {
	p.retain()
	return p
}

// Release drops a holder.
func (p *EventPool) Release() { p.release() }

// EventPoolManager hands out event slots of one device. Only the currently
// active pool is tracked.
type EventPoolManager struct {
	ctx      *Context
	devices  []driver.DeviceHandle
	capacity int
	logger   *zap.Logger
	sink     rt.Sink

	mu     sync.Mutex
	pool   *EventPool
	used   int
	closed bool
}

// NewEventPoolManager creates the manager and its first pool. The manager
// holds a reference on ctx until Close. capacity <= 0 selects
// DefaultEventPoolSize.
func NewEventPoolManager(ctx *Context, devices []driver.DeviceHandle, capacity int, logger *zap.Logger, sink rt.Sink) (*EventPoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = rt.NopSink()
	}
	if capacity <= 0 {
		capacity = DefaultEventPoolSize
	}
	m := &EventPoolManager{
		ctx:      ctx.Retain(),
		devices:  append([]driver.DeviceHandle(nil), devices...),
		capacity: capacity,
		logger:   logger.Named("event_pool_manager"),
		sink:     sink,
	}
	if err := m.spawnPool(); err != nil {
		ctx.Release()
		return nil, err
	}
	return m, nil
}

// spawnPool replaces the active pool. Must be called with m.mu held or
// before m is shared. On failure the current state is left untouched.
func (m *EventPoolManager) spawnPool() error {
	h, err := m.ctx.platform.CreateEventPool(m.ctx.handle, m.devices, m.capacity)
	if err != nil {
		e := rt.ErrorFromNative(rt.KindAllocation, "event pool creation failed", err)
		m.sink.Register(e)
		return e
	}

	pool := &EventPool{handle: h, capacity: m.capacity}
	ctx := m.ctx.Retain()
	platform := ctx.platform
	logger := m.logger
	pool.init(func() {
		if err := platform.DestroyEventPool(h); err != nil {
			logger.Warn("failed to destroy event pool", zap.Uintptr("pool", uintptr(h)), zap.Error(err))
		}
		ctx.Release()
	})

	if m.pool != nil {
		m.pool.Release()
		metrics.EventPoolRotations.WithLabelValues(string(ctx.backend.ID)).Inc()
		m.logger.Debug("event pool exhausted, rotated", zap.Uintptr("pool", uintptr(h)), zap.Int("capacity", m.capacity))
	}
	m.pool = pool
	m.used = 0
	return nil
}

// AllocateEvent returns the active pool and an ordinal that no other caller
// received from that pool. When the pool is exhausted a new one is spawned
// first. The caller owns one reference on the returned pool and must
// Release it once its event is complete.
func (m *EventPoolManager) AllocateEvent() (*EventPool, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, 0, rt.MakeError(rt.KindInvalidParameter, "event pool manager closed", rt.ErrorCode{})
	}
	if m.used == m.capacity {
		if err := m.spawnPool(); err != nil {
			return nil, 0, err
		}
	}

	ordinal := uint32(m.used)
	m.used++
	metrics.EventsAllocated.WithLabelValues(string(m.ctx.backend.ID)).Inc()
	return m.pool.Retain(), ordinal, nil
}

// Pool returns the active pool with a reference owned by the caller.
func (m *EventPoolManager) Pool() *EventPool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool == nil {
		return nil
	}
	return m.pool.Retain()
}

// Context returns the context the pools are created in.
func (m *EventPoolManager) Context() *Context { return m.ctx }

// Capacity returns the fixed pool size.
func (m *EventPoolManager) Capacity() int { return m.capacity }

// Close drops the manager's references on the active pool and the context.
func (m *EventPoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.pool != nil {
		m.pool.Release()
		m.pool = nil
	}
	m.ctx.Release()
}
