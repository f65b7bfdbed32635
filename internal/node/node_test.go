package node

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fxnlabs/hwrt/internal/config"
	"github.com/fxnlabs/hwrt/internal/driver/sim"
	"github.com/fxnlabs/hwrt/internal/gpu"
	"github.com/fxnlabs/hwrt/internal/probe/probers"
	"github.com/fxnlabs/hwrt/internal/rt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Metrics.ListenAddress = "127.0.0.1:0"
	cfg.Runtime.EventPoolSize = 8
	cfg.Platforms = []sim.PlatformSpec{{
		Name: "sim",
		API:  sim.APISpec{Major: 6},
		Drivers: []sim.DriverSpec{{
			Version: "1.0",
			Devices: []sim.DeviceSpec{{Name: "Sim A"}, {Name: "Sim B"}},
		}},
	}}
	return cfg
}

func TestPlatforms(t *testing.T) {
	cfg := testConfig()
	platforms := Platforms(cfg, zaptest.NewLogger(t))
	require.Len(t, platforms, 1, "CUDA is disabled")
	assert.Equal(t, "sim", platforms[0].Name())
}

func TestModule(t *testing.T) {
	var m *gpu.Manager
	var mux *http.ServeMux

	app := fxtest.New(t,
		fx.Provide(
			testConfig,
			func() *zap.Logger { return zaptest.NewLogger(t) },
		),
		Module,
		fx.Populate(&m, &mux),
	)
	app.RequireStart()

	require.Equal(t, 2, m.NumDevices())
	for _, b := range m.Backends() {
		assert.NotEqual(t, rt.BackendID("host"), b.ID)
	}

	t.Run("devices endpoint", func(t *testing.T) {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/devices", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var reports []probers.DeviceReport
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reports))
		require.Len(t, reports, 2)
		assert.Equal(t, "Sim B", reports[1].Name)
	})

	t.Run("probe endpoint", func(t *testing.T) {
		rr := httptest.NewRecorder()
		body := strings.NewReader(`{"type":"ALLOCATION_ROUND_TRIP","payload":{"iterations":2}}`)
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/probe", body))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "hwrt_discovered_devices")
		assert.Contains(t, rr.Body.String(), `hwrt_endpoint_responses_total{endpoint="/devices",status_code="200"}`)
		assert.Contains(t, rr.Body.String(), `hwrt_endpoint_duration_seconds_count{endpoint="/probe",operation="ALLOCATION_ROUND_TRIP"}`)
		assert.Contains(t, rr.Body.String(), `hwrt_endpoint_duration_seconds_count{endpoint="/devices",operation="none"}`)
	})

	app.RequireStop()

	_, err := m.EventPoolManager(0)
	assert.Error(t, err, "the manager is closed when the application stops")
}

func TestModule_HostFallback(t *testing.T) {
	var m *gpu.Manager

	app := fxtest.New(t,
		fx.Provide(
			func() *config.Config {
				cfg := testConfig()
				cfg.Platforms = nil
				return cfg
			},
			zap.NewNop,
		),
		Module,
		fx.Populate(&m),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.Equal(t, 1, m.NumDevices())
	assert.True(t, m.DeviceID(0).IsHost())
}
