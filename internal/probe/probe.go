package probe

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fxnlabs/hwrt/internal/gpu"
	"github.com/fxnlabs/hwrt/internal/metrics"
	"github.com/fxnlabs/hwrt/internal/probe/probers"
	"go.uber.org/zap"
)

const (
	TypeDeviceInfo          = "DEVICE_INFO"
	TypeAllocationRoundTrip = "ALLOCATION_ROUND_TRIP"
	TypeEventPool           = "EVENT_POOL"
)

// Prober runs one kind of self-check against the discovered devices.
type Prober interface {
	Execute(payload interface{}, log *zap.Logger) (interface{}, error)
}

// Probe is a request to run a prober.
type Probe struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewProber creates a prober based on the probe type.
func NewProber(probeType string, m *gpu.Manager) (Prober, error) {
	switch probeType {
	case TypeDeviceInfo:
		return probers.NewDeviceInfoProber(m), nil
	case TypeAllocationRoundTrip:
		return probers.NewAllocationProber(m), nil
	case TypeEventPool:
		return probers.NewEventPoolProber(m), nil
	default:
		return nil, fmt.Errorf("unknown probe type: %s", probeType)
	}
}

// Handler runs probes posted as JSON.
func Handler(log *zap.Logger, m *gpu.Manager) http.HandlerFunc {
	log = log.Named("probe")
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var probe Probe
		if err := json.NewDecoder(r.Body).Decode(&probe); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		prober, err := NewProber(probe.Type, m)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		metrics.SetOperation(r.Context(), probe.Type)

		result, err := prober.Execute(probe.Payload, log)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			log.Error("failed to encode probe result", zap.Error(err))
		}
	}
}
