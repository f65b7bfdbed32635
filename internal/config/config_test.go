package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/hwrt/fixtures"
	"github.com/fxnlabs/hwrt/internal/driver/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "console", config.Logger.Encoding)
		assert.Equal(t, 32, config.Runtime.EventPoolSize)
		assert.True(t, config.Runtime.EagerContexts)
		assert.False(t, config.UseHostFallback())
		assert.False(t, config.Runtime.CUDA)
		assert.Equal(t, "127.0.0.1:9100", config.Metrics.ListenAddress)

		require.Len(t, config.Platforms, 2)
		legacy := config.Platforms[0]
		assert.Equal(t, "legacy", legacy.Name)
		assert.Equal(t, 5, legacy.API.Major)
		require.Len(t, legacy.Drivers, 1)
		require.Len(t, legacy.Drivers[0].Devices, 2)
		assert.Equal(t, uint32(0x1002), legacy.Drivers[0].Devices[0].VendorID)
		assert.Equal(t, []sim.MemorySpec{{Name: "GDDR6", Size: 16 * sim.GiB}}, legacy.Drivers[0].Devices[0].Memory)

		cpu := config.Platforms[1]
		assert.Equal(t, "cpu", cpu.Kind)
		assert.True(t, cpu.ManagedMemory)
		assert.True(t, cpu.Drivers[0].Devices[0].Integrated)
	})

	t.Run("defaults", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/minimal_config.yaml")
		require.NoError(t, err)

		assert.Equal(t, "info", config.Logger.Verbosity)
		assert.Equal(t, "json", config.Logger.Encoding)
		assert.Equal(t, ":9464", config.Metrics.ListenAddress)
		assert.Equal(t, 0, config.Runtime.EventPoolSize)
		assert.True(t, config.UseHostFallback())
		assert.Empty(t, config.Platforms)
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir, err := os.Getwd()
		require.NoError(t, err)

		configPath := filepath.Join(dir, "..", "..", "fixtures", "tests", "invalid_config", "config.yaml")
		_, err = LoadConfig(configPath)
		assert.Error(t, err)
	})
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"negative pool size", "runtime:\n  eventPoolSize: -1\n", "eventPoolSize"},
		{"bad encoding", "logger:\n  encoding: xml\n", "encoding"},
		{"unnamed platform", "platforms:\n  - kind: gpu\n", "name is required"},
		{"duplicate platform", "platforms:\n  - name: a\n  - name: a\n", "duplicate"},
		{"unknown kind", "platforms:\n  - name: a\n    kind: fpga\n", "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefault(t *testing.T) {
	config := Default()

	assert.Equal(t, 128, config.Runtime.EventPoolSize)
	assert.True(t, config.UseHostFallback())
	require.Len(t, config.Platforms, 2)
	assert.Equal(t, "ze", config.Platforms[0].Name)
	assert.False(t, config.Platforms[0].ManagedMemory)
	assert.Equal(t, "hip", config.Platforms[1].Name)
	assert.True(t, config.Platforms[1].ManagedMemory)
	assert.Equal(t, 6, config.Platforms[1].API.Major)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwrt", "config.yaml")

	require.NoError(t, WriteDefault(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fixtures.ConfigTemplate, data)

	err = WriteDefault(path)
	assert.Error(t, err, "an existing config is never overwritten")
}
