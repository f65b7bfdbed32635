package gpu

import (
	"fmt"
	"testing"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/fxnlabs/hwrt/internal/driver/sim"
	"github.com/fxnlabs/hwrt/internal/rt"
	"go.uber.org/zap"
)

func BenchmarkEventPoolManager_AllocateEvent(b *testing.B) {
	for _, capacity := range []int{16, DefaultEventPoolSize, 1024} {
		b.Run(fmt.Sprintf("capacity_%d", capacity), func(b *testing.B) {
			p := sim.NewPlatform(gpuSpec("bench-pool", 6))
			drivers, _ := p.Drivers()
			devs, _ := p.Devices(drivers[0])
			cm := NewContextManager(p, rt.BackendDescriptor{ID: "bench-pool"}, drivers[0], zap.NewNop(), nil)
			defer cm.Close()
			ctx, err := cm.Get()
			if err != nil {
				b.Fatal(err)
			}
			epm, err := NewEventPoolManager(ctx, devs[:1], capacity, zap.NewNop(), nil)
			if err != nil {
				b.Fatal(err)
			}
			defer epm.Close()

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					pool, _, err := epm.AllocateEvent()
					if err != nil {
						b.Error(err)
						return
					}
					pool.Release()
				}
			})
		})
	}
}

func BenchmarkAllocator_RoundTrip(b *testing.B) {
	p := sim.NewPlatform(gpuSpec("bench-alloc", 6))
	a := NewAllocator(rt.BackendDescriptor{ID: "bench-alloc"}, 0, p.Memory(), zap.NewNop(), nil)

	kinds := map[string]func() (rt.Ptr, error){
		"device":         func() (rt.Ptr, error) { return a.RawAllocate(64, 4096, rt.AllocationHints{}) },
		"optimized_host": func() (rt.Ptr, error) { return a.RawAllocateOptimizedHost(64, 4096, rt.AllocationHints{}) },
		"shared":         func() (rt.Ptr, error) { return a.RawAllocateUSM(4096, rt.AllocationHints{}) },
	}
	for name, alloc := range kinds {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				ptr, err := alloc()
				if err != nil {
					b.Fatal(err)
				}
				if _, err := a.QueryPointer(ptr); err != nil {
					b.Fatal(err)
				}
				if err := a.RawFree(ptr); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkManager_DeviceHandleToDeviceID(b *testing.B) {
	m, err := NewManager(zap.NewNop(), []driver.Platform{
		sim.NewPlatform(gpuSpec("bench-a", 6)),
		sim.NewPlatform(gpuSpec("bench-b", 6)),
	}, ManagerConfig{})
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close()

	id := m.DeviceID(m.NumDevices() - 1)
	h := m.DeviceHandle(m.NumDevices() - 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		got, err := m.DeviceHandleToDeviceID(id.Backend.ID, h)
		if err != nil || got != id {
			b.Fatalf("got %v, %v", got, err)
		}
	}
}
