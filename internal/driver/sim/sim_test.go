package sim

import (
	"runtime"
	"testing"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec(major int) PlatformSpec {
	return PlatformSpec{
		Name:          "hip",
		API:           APISpec{Major: major},
		ManagedMemory: true,
		ManagedFlag:   major > 5,
		Drivers: []DriverSpec{{
			Devices: []DeviceSpec{
				{Name: "dev0", Memory: []MemorySpec{{Name: "HBM", Size: 1 * MiB}}},
				{Name: "dev1"},
			},
		}},
	}
}

func TestPlatformDiscovery(t *testing.T) {
	p := NewPlatform(testSpec(6))

	drivers, err := p.Drivers()
	require.NoError(t, err)
	require.Len(t, drivers, 1)

	devices, err := p.Devices(drivers[0])
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.NotEqual(t, devices[0], devices[1])

	props, err := p.DeviceProperties(devices[0])
	require.NoError(t, err)
	assert.Equal(t, "dev0", props.Name)
	assert.Equal(t, driver.DeviceTypeGPU, props.Type)
	assert.True(t, props.ManagedMemory)

	again, err := p.DeviceProperties(devices[0])
	require.NoError(t, err)
	assert.Equal(t, props.UUID, again.UUID, "device UUIDs must be stable")

	mem, err := p.MemoryProperties(devices[1])
	require.NoError(t, err)
	require.Len(t, mem, 1)
	assert.Equal(t, 4*GiB, mem[0].TotalSize)

	_, err = p.DeviceProperties(driver.DeviceHandle(12345))
	st, ok := driver.AsStatus(err)
	require.True(t, ok)
	assert.Equal(t, driver.StatusInvalidValue, st.Kind)
}

func TestPlatformEnumerationFault(t *testing.T) {
	spec := testSpec(6)
	spec.Faults.Enumeration = true
	p := NewPlatform(spec)

	_, err := p.Drivers()
	assert.Error(t, err)

	p.SetFault(FaultEnumeration, false)
	_, err = p.Drivers()
	assert.NoError(t, err)
}

func TestContextAndPoolLifecycle(t *testing.T) {
	p := NewPlatform(testSpec(6))
	drivers, _ := p.Drivers()
	devices, _ := p.Devices(drivers[0])

	ctx, err := p.CreateContext(drivers[0])
	require.NoError(t, err)
	assert.Equal(t, 1, p.LiveContexts())

	pool, err := p.CreateEventPool(ctx, devices, 16)
	require.NoError(t, err)
	size, ok := p.PoolSize(pool)
	require.True(t, ok)
	assert.Equal(t, 16, size)

	t.Run("context with live pool cannot be destroyed", func(t *testing.T) {
		assert.Error(t, p.DestroyContext(ctx))
	})

	t.Run("pool for foreign device is rejected", func(t *testing.T) {
		_, err := p.CreateEventPool(ctx, []driver.DeviceHandle{9999}, 16)
		assert.Error(t, err)
	})

	require.NoError(t, p.DestroyEventPool(pool))
	assert.Error(t, p.DestroyEventPool(pool))
	require.NoError(t, p.DestroyContext(ctx))
	assert.Equal(t, 0, p.LiveContexts())
	assert.Equal(t, 0, p.LivePools())
	assert.Equal(t, 1, p.PoolsCreated())

	p.SetFault(FaultContextCreation, true)
	_, err = p.CreateContext(drivers[0])
	st, ok := driver.AsStatus(err)
	require.True(t, ok)
	assert.Equal(t, driver.StatusOutOfMemory, st.Kind)
}

func TestMemoryActiveDevice(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p := NewPlatform(testSpec(6))
	mem := p.SimMemory()

	require.NoError(t, mem.SetDevice(1))
	assert.Equal(t, 1, mem.ActiveDevice())

	ptr, err := mem.Malloc(4096, 64)
	require.NoError(t, err)
	attrs, err := mem.PointerAttributes(ptr)
	require.NoError(t, err)
	assert.Equal(t, 1, attrs.Device)

	assert.Error(t, mem.SetDevice(2))
}

func TestMemoryPointerAttributes(t *testing.T) {
	tests := []struct {
		name  string
		major int
	}{
		{"newer revision", 6},
		{"older revision", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlatform(testSpec(tt.major))
			mem := p.SimMemory()
			newer := tt.major > 5
			assert.Equal(t, newer, mem.Info().TypeField)
			assert.Equal(t, newer, mem.Info().UnregisteredIsSuccess)

			host, err := mem.HostMalloc(128, 0)
			require.NoError(t, err)
			managed, err := mem.MallocManaged(128)
			require.NoError(t, err)

			attrs, err := mem.PointerAttributes(host)
			require.NoError(t, err)
			assert.Equal(t, driver.MemoryTypeHost, attrs.LegacyMemoryType)
			if newer {
				assert.Equal(t, driver.MemoryTypeHost, attrs.Type)
			} else {
				assert.Equal(t, driver.MemoryTypeUnregistered, attrs.Type)
			}

			attrs, err = mem.PointerAttributes(managed + 64)
			require.NoError(t, err, "interior pointers resolve to their allocation")
			assert.Equal(t, newer, attrs.IsManaged)
			assert.Equal(t, driver.MemoryTypeManaged, attrs.LegacyMemoryType)

			attrs, err = mem.PointerAttributes(0xdead)
			if newer {
				require.NoError(t, err)
				assert.Equal(t, driver.MemoryTypeUnregistered, attrs.Type)
			} else {
				st, ok := driver.AsStatus(err)
				require.True(t, ok)
				assert.Equal(t, driver.StatusInvalidValue, st.Kind)
			}
		})
	}
}

func TestMemoryFreePaths(t *testing.T) {
	p := NewPlatform(testSpec(6))
	mem := p.SimMemory()

	dev, err := mem.Malloc(256, 0)
	require.NoError(t, err)
	host, err := mem.HostMalloc(256, 0)
	require.NoError(t, err)

	assert.Error(t, mem.Free(host), "device free on pinned host memory must fail")
	assert.Error(t, mem.HostFree(dev), "host free on device memory must fail")

	require.NoError(t, mem.Free(dev))
	require.NoError(t, mem.HostFree(host))
	assert.Equal(t, 0, mem.LiveAllocations())
	assert.Len(t, mem.CallsNamed("Free"), 1)
	assert.Len(t, mem.CallsNamed("HostFree"), 1)
}

func TestMemoryLimits(t *testing.T) {
	p := NewPlatform(testSpec(6))
	mem := p.SimMemory()

	_, err := mem.Malloc(2*MiB, 0)
	st, ok := driver.AsStatus(err)
	require.True(t, ok)
	assert.Equal(t, driver.StatusOutOfMemory, st.Kind)

	_, err = mem.Malloc(0, 0)
	assert.Error(t, err)

	ptr, err := mem.Malloc(1000, 4096)
	require.NoError(t, err)
	assert.Zero(t, uint64(ptr)%4096)
}

func TestMemoryRegionBounds(t *testing.T) {
	mem := NewPlatform(testSpec(6)).SimMemory()

	_, err := mem.HostMalloc(1<<62, 0)
	st, ok := driver.AsStatus(err)
	require.True(t, ok)
	assert.Equal(t, driver.StatusOutOfMemory, st.Kind)

	_, err = mem.MallocManaged(regionSize)
	st, ok = driver.AsStatus(err)
	require.True(t, ok)
	assert.Equal(t, driver.StatusOutOfMemory, st.Kind)

	_, err = mem.HostMalloc(64, 1<<62)
	st, ok = driver.AsStatus(err)
	require.True(t, ok)
	assert.Equal(t, driver.StatusInvalidValue, st.Kind)

	host, err := mem.HostMalloc(64, 0)
	require.NoError(t, err)
	managed, err := mem.MallocManaged(64)
	require.NoError(t, err)
	attrs, err := mem.PointerAttributes(host)
	require.NoError(t, err)
	assert.Equal(t, driver.MemoryTypeHost, attrs.Type)
	attrs, err = mem.PointerAttributes(managed)
	require.NoError(t, err)
	assert.Equal(t, driver.MemoryTypeManaged, attrs.Type)
	assert.Equal(t, 2, mem.LiveAllocations())
}

func TestPlatformsUseDisjointAddresses(t *testing.T) {
	a := NewPlatform(testSpec(6)).SimMemory()
	b := NewPlatform(testSpec(6)).SimMemory()

	pa, err := a.Malloc(256, 0)
	require.NoError(t, err)
	pb, err := b.Malloc(256, 0)
	require.NoError(t, err)
	assert.NotEqual(t, pa, pb)

	attrs, err := b.PointerAttributes(pa)
	require.NoError(t, err)
	assert.Equal(t, driver.MemoryTypeUnregistered, attrs.Type)
	assert.Error(t, b.Free(pa))
	assert.Equal(t, 1, a.LiveAllocations())
	assert.Equal(t, 1, b.LiveAllocations())
}

func TestManagedMemoryDisabled(t *testing.T) {
	spec := testSpec(6)
	spec.ManagedMemory = false
	mem := NewPlatform(spec).SimMemory()

	_, err := mem.MallocManaged(64)
	st, ok := driver.AsStatus(err)
	require.True(t, ok)
	assert.Equal(t, driver.StatusNotSupported, st.Kind)
}

func TestHostPlatform(t *testing.T) {
	p := NewHost()
	assert.Equal(t, driver.DeviceTypeCPU, p.DeviceType())
	assert.Equal(t, 1, p.NumDevices())

	drivers, err := p.Drivers()
	require.NoError(t, err)
	devices, err := p.Devices(drivers[0])
	require.NoError(t, err)
	props, err := p.DeviceProperties(devices[0])
	require.NoError(t, err)
	assert.Contains(t, props.Name, "CPU")
}
