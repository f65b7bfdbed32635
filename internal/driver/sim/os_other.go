//go:build !linux

package sim

// threadID returns a single id on platforms without a cheap thread id, so
// the active device is process wide there.
func threadID() int {
	return 0
}

func totalSystemMemory() uint64 {
	// Return a default value for now
	return 8 * GiB
}
