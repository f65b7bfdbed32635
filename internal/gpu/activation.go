package gpu

import (
	"runtime"

	"github.com/fxnlabs/hwrt/internal/driver"
)

// withDevice makes ordinal the current device of the calling OS thread and
// runs fn on that same thread. The thread stays locked for the duration so
// the Go scheduler cannot move fn away from the activation.
func withDevice(mem driver.Memory, ordinal int, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := mem.SetDevice(ordinal); err != nil {
		return err
	}
	return fn()
}
