//go:build !cuda
// +build !cuda

// Package cuda drives NVIDIA devices through the CUDA runtime API. Builds
// without the cuda tag only carry this stub.
package cuda

import (
	"errors"

	"github.com/fxnlabs/hwrt/internal/driver"
	"go.uber.org/zap"
)

// ErrNotCompiled is returned by New when the binary was built without CUDA
// support.
var ErrNotCompiled = errors.New("cuda: built without the cuda tag")

// Available always reports false.
func Available() bool { return false }

// New always fails with ErrNotCompiled.
func New(logger *zap.Logger) (driver.Platform, error) {
	return nil, ErrNotCompiled
}
