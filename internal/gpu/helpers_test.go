package gpu

import (
	"testing"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/fxnlabs/hwrt/internal/driver/sim"
	"github.com/fxnlabs/hwrt/internal/rt"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// gpuSpec returns a platform with two drivers: the first has two devices,
// the second one. major selects the pointer query conventions.
func gpuSpec(name string, major int) sim.PlatformSpec {
	return sim.PlatformSpec{
		Name:          name,
		API:           sim.APISpec{Major: major, Minor: 2},
		ManagedMemory: true,
		ManagedFlag:   major > 5,
		Drivers: []sim.DriverSpec{
			{
				Version: "1.3.0",
				Devices: []sim.DeviceSpec{
					{
						Name:              "Sim Max 1100",
						VendorID:          0x8086,
						Arch:              "pvc",
						Slices:            2,
						SubslicesPerSlice: 4,
						EUsPerSubslice:    8,
						ComputeEngines:    4,
						CopyEngines:       2,
						MaxGroupSize:      1024,
						SubGroupSizes:     []uint64{32, 16},
						Memory: []sim.MemorySpec{
							{Name: "DDR", Size: 1 * sim.GiB},
							{Name: "HBM", Size: 8 * sim.GiB},
						},
						ECC:  true,
						FP64: true,
					},
					{Name: "Sim Max 1100 #2", VendorID: 0x8086},
				},
			},
			{
				Version: "1.4.0",
				Devices: []sim.DeviceSpec{{Name: "Sim Flex 170", VendorID: 0x8086, Integrated: true}},
			},
		},
	}
}

func newTestManager(t *testing.T, cfg ManagerConfig, platforms ...*sim.Platform) *Manager {
	t.Helper()
	ps := make([]driver.Platform, len(platforms))
	for i, p := range platforms {
		ps[i] = p
	}
	m, err := NewManager(zaptest.NewLogger(t), ps, cfg)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

// newTestContext creates a context for the first driver of p.
func newTestContext(t *testing.T, p *sim.Platform) (*ContextManager, *Context) {
	t.Helper()
	drivers, err := p.Drivers()
	require.NoError(t, err)
	backend := rt.BackendDescriptor{ID: rt.BackendID(p.Name()), Platform: rt.PlatformGPU}
	cm := NewContextManager(p, backend, drivers[0], zaptest.NewLogger(t), nil)
	ctx, err := cm.Get()
	require.NoError(t, err)
	return cm, ctx
}

func firstDevices(t *testing.T, p *sim.Platform) []driver.DeviceHandle {
	t.Helper()
	drivers, err := p.Drivers()
	require.NoError(t, err)
	devs, err := p.Devices(drivers[0])
	require.NoError(t, err)
	return devs
}
