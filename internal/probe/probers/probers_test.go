package probers

import (
	"testing"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/fxnlabs/hwrt/internal/driver/sim"
	"github.com/fxnlabs/hwrt/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testManager(t *testing.T, cfg gpu.ManagerConfig, specs ...sim.PlatformSpec) *gpu.Manager {
	t.Helper()
	platforms := make([]driver.Platform, len(specs))
	for i, s := range specs {
		platforms[i] = sim.NewPlatform(s)
	}
	m, err := gpu.NewManager(zaptest.NewLogger(t), platforms, cfg)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func discrete(name string) sim.PlatformSpec {
	return sim.PlatformSpec{
		Name: name,
		API:  sim.APISpec{Major: 1},
		Drivers: []sim.DriverSpec{{
			Version: "1.0",
			Devices: []sim.DeviceSpec{
				{Name: "Discrete A", VendorID: 0x8086, Memory: []sim.MemorySpec{{Name: "HBM", Size: 2 * sim.GiB}}},
				{Name: "Discrete B", VendorID: 0x8086},
			},
		}},
	}
}

func unified(name string) sim.PlatformSpec {
	return sim.PlatformSpec{
		Name:          name,
		API:           sim.APISpec{Major: 6},
		ManagedMemory: true,
		ManagedFlag:   true,
		Drivers: []sim.DriverSpec{{
			Version: "6.1",
			Devices: []sim.DeviceSpec{{Name: "Unified", VendorID: 0x1002}},
		}},
	}
}

func intPtr(i int) *int { return &i }

func TestReports(t *testing.T) {
	m := testManager(t, gpu.ManagerConfig{}, discrete("ze"), unified("hip"))

	reports := Reports(m)
	require.Len(t, reports, 3)

	assert.Equal(t, "ze:0", reports[0].ID)
	assert.Equal(t, "Discrete A", reports[0].Name)
	assert.Equal(t, "Intel", reports[0].Vendor)
	assert.Equal(t, "gpu", reports[0].Platform)
	assert.Equal(t, 2*sim.GiB, reports[0].GlobalMemory)
	assert.False(t, reports[0].USM)

	assert.Equal(t, "hip:0", reports[2].ID)
	assert.Equal(t, "AMD", reports[2].Vendor)
	assert.Equal(t, 1, reports[2].PlatformIndex)
	assert.True(t, reports[2].USM)
}

func TestDeviceInfoProber(t *testing.T) {
	m := testManager(t, gpu.ManagerConfig{}, discrete("ze"))

	result, err := NewDeviceInfoProber(m).Execute(nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	info := result.(map[string]interface{})
	assert.Equal(t, 1, info["platforms"])
	assert.Len(t, info["devices"], 2)
}

func TestAllocationProber(t *testing.T) {
	m := testManager(t, gpu.ManagerConfig{}, discrete("ze"), unified("hip"))
	prober := NewAllocationProber(m)
	log := zaptest.NewLogger(t)

	t.Run("every device", func(t *testing.T) {
		result, err := prober.Execute(map[string]interface{}{"iterations": 4, "size": 4096}, log)
		require.NoError(t, err)

		results := result.([]AllocationResult)
		require.Len(t, results, 3)
		for _, r := range results {
			assert.Empty(t, r.Error, r.ID)
			assert.Equal(t, "device", r.Kind)
			require.NotNil(t, r.Allocate)
			require.NotNil(t, r.Free)
			assert.GreaterOrEqual(t, r.Allocate.P99, r.Allocate.P50)
		}
	})

	t.Run("optimized host on one device", func(t *testing.T) {
		result, err := prober.Execute(map[string]interface{}{"device": 1, "kind": "optimized_host", "iterations": 1}, log)
		require.NoError(t, err)

		results := result.([]AllocationResult)
		require.Len(t, results, 1)
		assert.Equal(t, "ze:1", results[0].ID)
		assert.Empty(t, results[0].Error)
		assert.Equal(t, float64(0), results[0].Allocate.StdDev)
	})

	t.Run("shared skips backends without managed memory", func(t *testing.T) {
		result, err := prober.Execute(AllocationRequest{Kind: "shared", Iterations: 2}, log)
		require.NoError(t, err)

		results := result.([]AllocationResult)
		require.Len(t, results, 3)
		assert.NotEmpty(t, results[0].Skipped)
		assert.NotEmpty(t, results[1].Skipped)
		assert.Empty(t, results[2].Skipped)
		assert.Empty(t, results[2].Error)
		assert.NotNil(t, results[2].Query)
	})

	t.Run("invalid requests", func(t *testing.T) {
		_, err := prober.Execute(AllocationRequest{Kind: "texture"}, log)
		assert.Error(t, err)
		_, err = prober.Execute(AllocationRequest{Device: intPtr(3)}, log)
		assert.Error(t, err)
		_, err = prober.Execute(AllocationRequest{Iterations: maxIterations + 1}, log)
		assert.Error(t, err)
		_, err = prober.Execute("not an object", log)
		assert.Error(t, err)
	})
}

func TestAllocationProber_DeviceFailure(t *testing.T) {
	bad := discrete("bad")
	bad.Faults.Allocation = true
	m := testManager(t, gpu.ManagerConfig{}, bad)

	result, err := NewAllocationProber(m).Execute(AllocationRequest{Device: intPtr(0)}, zaptest.NewLogger(t))
	require.NoError(t, err, "device failures are part of the result")

	results := result.([]AllocationResult)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Error)
	assert.Nil(t, results[0].Allocate)
}

func TestEventPoolProber(t *testing.T) {
	m := testManager(t, gpu.ManagerConfig{EventPoolSize: 8}, discrete("ze"))
	prober := NewEventPoolProber(m)
	log := zaptest.NewLogger(t)

	result, err := prober.Execute(EventPoolRequest{Device: 1, Events: 20}, log)
	require.NoError(t, err)

	res := result.(EventPoolResult)
	assert.Equal(t, "ze:1", res.ID)
	assert.Equal(t, 8, res.Capacity)
	assert.Equal(t, 20, res.Events)
	assert.Equal(t, 3, res.Pools)
	assert.Equal(t, uint32(3), res.LastOrdinal)

	_, err = prober.Execute(EventPoolRequest{Device: 0, Events: 0}, log)
	assert.Error(t, err)
	_, err = prober.Execute(EventPoolRequest{Device: 5, Events: 1}, log)
	assert.Error(t, err)
}
