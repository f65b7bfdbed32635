// Package node assembles the runtime core into a long running service: it
// builds the configured platforms, owns the hardware manager and serves
// metrics, device reports and probes over HTTP.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/fxnlabs/hwrt/internal/config"
	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/fxnlabs/hwrt/internal/driver/cuda"
	"github.com/fxnlabs/hwrt/internal/driver/sim"
	"github.com/fxnlabs/hwrt/internal/gpu"
	"github.com/fxnlabs/hwrt/internal/metrics"
	"github.com/fxnlabs/hwrt/internal/probe"
	"github.com/fxnlabs/hwrt/internal/probe/probers"
	"github.com/fxnlabs/hwrt/internal/rt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Platforms builds the configured simulated platforms, followed by the CUDA
// runtime when it is enabled and present.
func Platforms(cfg *config.Config, log *zap.Logger) []driver.Platform {
	platforms := make([]driver.Platform, 0, len(cfg.Platforms)+1)
	for _, spec := range cfg.Platforms {
		platforms = append(platforms, sim.NewPlatform(spec))
	}
	if cfg.Runtime.CUDA && cuda.Available() {
		p, err := cuda.New(log)
		if err != nil {
			log.Warn("CUDA runtime present but unusable", zap.Error(err))
		} else {
			platforms = append(platforms, p)
		}
	}
	return platforms
}

// Open discovers every configured platform.
func Open(cfg *config.Config, log *zap.Logger, sink rt.Sink) (*gpu.Manager, error) {
	mcfg := gpu.ManagerConfig{
		EventPoolSize: cfg.Runtime.EventPoolSize,
		EagerContexts: cfg.Runtime.EagerContexts,
		Sink:          sink,
	}
	if cfg.UseHostFallback() {
		mcfg.Fallback = sim.NewHost()
	}
	return gpu.NewManager(log, Platforms(cfg, log), mcfg)
}

// NewManager opens the manager and closes it when the application stops.
func NewManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, sink rt.Sink) (*gpu.Manager, error) {
	m, err := Open(cfg, log, sink)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			m.Close()
			return nil
		},
	})
	return m, nil
}

// NewSink returns the error queue every runtime failure is reported to.
func NewSink(log *zap.Logger) rt.Sink {
	return rt.NewErrorQueue(log)
}

// NewMux registers the service endpoints.
func NewMux(log *zap.Logger, m *gpu.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/devices", metrics.Middleware(devicesHandler(log, m), "/devices"))
	mux.Handle("/probe", metrics.Middleware(probe.Handler(log, m), "/probe"))
	return mux
}

func devicesHandler(log *zap.Logger, m *gpu.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(probers.Reports(m)); err != nil {
			log.Error("failed to encode device reports", zap.Error(err))
		}
	}
}

// NewServer serves mux on the configured metrics address for the lifetime
// of the application.
func NewServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, mux *http.ServeMux) *http.Server {
	srv := &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: mux}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("Starting server on", zap.String("address", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
	return srv
}

// Module provides the manager and starts the HTTP server. The application
// must supply *config.Config and *zap.Logger.
var Module = fx.Options(
	fx.Provide(
		NewSink,
		NewManager,
		NewMux,
		NewServer,
	),
	fx.Invoke(func(*http.Server) {}),
)
