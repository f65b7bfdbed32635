//go:build linux

package sim

import "golang.org/x/sys/unix"

// threadID identifies the OS thread the active device is bound to.
func threadID() int {
	return unix.Gettid()
}

func totalSystemMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 8 * GiB
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}
