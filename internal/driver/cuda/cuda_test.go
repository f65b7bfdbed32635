//go:build cuda
// +build cuda

package cuda

import (
	"testing"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPlatform(t *testing.T) driver.Platform {
	t.Helper()
	if !Available() {
		t.Skip("CUDA not available on this system")
	}
	p, err := New(zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func TestPlatform_Discovery(t *testing.T) {
	p := newTestPlatform(t)

	drivers, err := p.Drivers()
	require.NoError(t, err)
	require.Len(t, drivers, 1)

	devices, err := p.Devices(drivers[0])
	require.NoError(t, err)
	require.NotEmpty(t, devices)

	props, err := p.DeviceProperties(devices[0])
	require.NoError(t, err)
	assert.NotEmpty(t, props.Name)
	assert.Equal(t, uint32(0x10de), props.VendorID)
	assert.Greater(t, props.NumSlices, uint32(0))

	mem, err := p.MemoryProperties(devices[0])
	require.NoError(t, err)
	require.Len(t, mem, 1)
	assert.Greater(t, mem[0].TotalSize, uint64(0))

	_, err = p.DeviceProperties(driver.DeviceHandle(0))
	assert.Error(t, err)
}

func TestPlatform_ContextAndPool(t *testing.T) {
	p := newTestPlatform(t)
	drivers, _ := p.Drivers()
	devices, _ := p.Devices(drivers[0])

	ctx, err := p.CreateContext(drivers[0])
	require.NoError(t, err)
	pool, err := p.CreateEventPool(ctx, devices[:1], 8)
	require.NoError(t, err)
	require.NoError(t, p.DestroyEventPool(pool))
	assert.Error(t, p.DestroyEventPool(pool))
	require.NoError(t, p.DestroyContext(ctx))
}

func TestMemory_PointerAttributes(t *testing.T) {
	p := newTestPlatform(t)
	mem := p.Memory()
	require.NoError(t, mem.SetDevice(0))

	dev, err := mem.Malloc(4096, 0)
	require.NoError(t, err)
	defer mem.Free(dev)
	host, err := mem.HostMalloc(4096, 0)
	require.NoError(t, err)
	defer mem.HostFree(host)

	attrs, err := mem.PointerAttributes(dev)
	require.NoError(t, err)
	assert.Equal(t, driver.MemoryTypeDevice, attrs.Type)
	assert.Equal(t, 0, attrs.Device)

	attrs, err = mem.PointerAttributes(host)
	require.NoError(t, err)
	assert.Equal(t, driver.MemoryTypeHost, attrs.Type)

	attrs, err = mem.PointerAttributes(driver.Ptr(uintptr(0x1000)))
	require.NoError(t, err)
	assert.Equal(t, driver.MemoryTypeUnregistered, attrs.Type)
}
