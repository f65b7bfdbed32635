package main

import (
	"bytes"
	"go/format"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/hwrt/internal/config"
	"github.com/fxnlabs/hwrt/internal/node"
	"github.com/fxnlabs/hwrt/internal/probe/probers"
	"github.com/fxnlabs/hwrt/internal/rt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRenderDevices(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.CUDA = false
	log := zaptest.NewLogger(t)
	m, err := node.Open(cfg, log, rt.NewErrorQueue(log))
	require.NoError(t, err)
	defer m.Close()

	var buf bytes.Buffer
	renderDevices(&buf, m)

	out := buf.String()
	assert.Contains(t, out, "ze:0")
	assert.Contains(t, out, "hip:0")
	assert.Contains(t, out, "Simulated Instinct Accelerator")
	assert.Contains(t, out, "64.0 GiB")
}

func TestRenderProbe(t *testing.T) {
	var buf bytes.Buffer
	renderProbe(&buf, []probers.AllocationResult{
		{
			ID:       "ze:0",
			Kind:     "device",
			Allocate: &probers.LatencyStats{Mean: 12.34, P99: 20},
			Query:    &probers.LatencyStats{Mean: 1},
			Free:     &probers.LatencyStats{Mean: 3, P99: 4},
		},
		{ID: "ze:1", Kind: "shared", Skipped: "backend has no unified shared memory"},
		{ID: "hip:0", Kind: "device", Error: "out of memory"},
	})

	out := buf.String()
	assert.Contains(t, out, "12.3")
	assert.Contains(t, out, "skipped: backend has no unified shared memory")
	assert.Contains(t, out, "out of memory")
}

func TestSourcesAreFormatted(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		src, err := os.ReadFile(name)
		require.NoError(t, err)
		formatted, err := format.Source(src)
		require.NoError(t, err, name)
		assert.Equal(t, string(formatted), string(src), "%s is not gofmt-formatted", name)
	}
}
