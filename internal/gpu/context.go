package gpu

import (
	"sync"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/fxnlabs/hwrt/internal/metrics"
	"github.com/fxnlabs/hwrt/internal/rt"
	"go.uber.org/zap"
)

// Context is a native driver context shared by every device of one driver.
// It is destroyed when the last holder releases it.
type Context struct {
	refCount
	handle   driver.ContextHandle
	drv      driver.DriverHandle
	platform driver.Platform
	backend  rt.BackendDescriptor
}

// Handle returns the native context handle.
func (c *Context) Handle() driver.ContextHandle { return c.handle }

// Driver returns the driver the context was created for.
func (c *Context) Driver() driver.DriverHandle { return c.drv }

// Backend returns the backend owning the context.
func (c *Context) Backend() rt.BackendDescriptor { return c.backend }

// Retain adds a holder and returns c.
func (c *Context) Retain() *Context {
	c.retain()
	return c
}

// Release drops a holder.
func (c *Context) Release() { c.release() }

// ContextManager lazily creates the one context of a driver.
type ContextManager struct {
	platform driver.Platform
	backend  rt.BackendDescriptor
	drv      driver.DriverHandle
	logger   *zap.Logger
	sink     rt.Sink

	once sync.Once
	ctx  *Context
	err  error

	closeOnce sync.Once
}

// NewContextManager creates a manager for drv. No native call is made until
// Get.
func NewContextManager(platform driver.Platform, backend rt.BackendDescriptor, drv driver.DriverHandle, logger *zap.Logger, sink rt.Sink) *ContextManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = rt.NopSink()
	}
	return &ContextManager{
		platform: platform,
		backend:  backend,
		drv:      drv,
		logger:   logger.Named("context_manager"),
		sink:     sink,
	}
}

// Get returns the shared context, creating it on first use. A creation
// failure is remembered: every later call returns the same allocation
// error. The returned context is borrowed from the manager; callers keeping
// it beyond the manager's lifetime must Retain it.
func (m *ContextManager) Get() (*Context, error) {
	m.once.Do(m.create)
	return m.ctx, m.err
}

func (m *ContextManager) create() {
	h, err := m.platform.CreateContext(m.drv)
	if err != nil {
		e := rt.ErrorFromNative(rt.KindAllocation, "context creation failed for "+string(m.backend.ID)+" driver", err)
		m.sink.Register(e)
		m.err = e
		return
	}

	ctx := &Context{handle: h, drv: m.drv, platform: m.platform, backend: m.backend}
	logger := m.logger
	ctx.init(func() {
		if err := m.platform.DestroyContext(h); err != nil {
			logger.Warn("failed to destroy context", zap.Uintptr("context", uintptr(h)), zap.Error(err))
			return
		}
		logger.Debug("context destroyed", zap.Uintptr("context", uintptr(h)))
	})
	m.ctx = ctx
	metrics.ContextsCreated.WithLabelValues(string(m.backend.ID)).Inc()
	m.logger.Debug("context created",
		zap.String("backend", string(m.backend.ID)),
		zap.Uintptr("driver", uintptr(m.drv)),
		zap.Uintptr("context", uintptr(h)))
}

// Driver returns the driver this manager belongs to.
func (m *ContextManager) Driver() driver.DriverHandle { return m.drv }

// Close drops the manager's reference. The native context survives until
// every event pool manager using it is closed too.
func (m *ContextManager) Close() {
	m.closeOnce.Do(func() {
		// Prevent a later Get from creating a context nobody would release.
		m.once.Do(func() {
			m.err = rt.MakeError(rt.KindInvalidParameter, "context manager closed", rt.ErrorCode{})
		})
		if m.ctx != nil {
			m.ctx.Release()
		}
	})
}
