// Package rt holds the types shared by every backend of the runtime core:
// backend and device identifiers, the capability and allocator interfaces,
// and the error model.
package rt

import "fmt"

// BackendID tags the vendor driver stack a resource belongs to.
type BackendID string

// HardwarePlatform is the class of hardware a backend drives.
type HardwarePlatform int

const (
	PlatformGPU HardwarePlatform = iota
	PlatformCPU
)

func (p HardwarePlatform) String() string {
	if p == PlatformCPU {
		return "cpu"
	}
	return "gpu"
}

// BackendDescriptor disambiguates native handles when several backends
// coexist in one process.
type BackendDescriptor struct {
	ID       BackendID
	Platform HardwarePlatform
}

func (b BackendDescriptor) String() string {
	return fmt.Sprintf("%s/%s", b.ID, b.Platform)
}

// DeviceID identifies a device across backends. Index is the backend-local
// ordinal the native memory API uses for the device.
type DeviceID struct {
	Backend BackendDescriptor
	Index   int
}

func (d DeviceID) String() string {
	return fmt.Sprintf("%s:%d", d.Backend.ID, d.Index)
}

// IsHost reports whether the device belongs to a CPU backend.
func (d DeviceID) IsHost() bool {
	return d.Backend.Platform == PlatformCPU
}
