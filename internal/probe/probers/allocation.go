package probers

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fxnlabs/hwrt/internal/gpu"
	"github.com/fxnlabs/hwrt/internal/rt"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

const (
	defaultIterations = 16
	defaultSize       = 1 << 20
	maxIterations     = 10000
)

// AllocationRequest selects what the allocation probe exercises.
type AllocationRequest struct {
	// Device is a manager index; nil probes every device.
	Device     *int   `json:"device"`
	Kind       string `json:"kind"` // "device" (default), "optimized_host" or "shared"
	Size       uint64 `json:"size"`
	Alignment  uint64 `json:"alignment"`
	Iterations int    `json:"iterations"`
}

// LatencyStats are microsecond latencies of one phase of the round trip.
type LatencyStats struct {
	Mean   float64 `json:"meanUs"`
	StdDev float64 `json:"stdDevUs"`
	P50    float64 `json:"p50Us"`
	P99    float64 `json:"p99Us"`
}

// AllocationResult is the outcome of the probe on one device.
type AllocationResult struct {
	Index      int           `json:"index"`
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	Iterations int           `json:"iterations"`
	Allocate   *LatencyStats `json:"allocate,omitempty"`
	Query      *LatencyStats `json:"query,omitempty"`
	Free       *LatencyStats `json:"free,omitempty"`
	Skipped    string        `json:"skipped,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// AllocationProber allocates, queries and frees memory on each selected
// device and checks that the provenance of every pointer names the device it
// was allocated on.
type AllocationProber struct {
	manager *gpu.Manager
}

func NewAllocationProber(m *gpu.Manager) *AllocationProber {
	return &AllocationProber{manager: m}
}

// Execute runs the round trip and returns one AllocationResult per device.
// Device level failures are reported in the result, not as an error.
func (p *AllocationProber) Execute(payload interface{}, log *zap.Logger) (interface{}, error) {
	var req AllocationRequest
	if err := decodePayload(payload, &req); err != nil {
		log.Error("Failed to decode allocation probe payload", zap.Error(err))
		return nil, err
	}
	if req.Kind == "" {
		req.Kind = "device"
	}
	switch req.Kind {
	case "device", "optimized_host", "shared":
	default:
		return nil, fmt.Errorf("unknown allocation kind %q", req.Kind)
	}
	if req.Iterations <= 0 {
		req.Iterations = defaultIterations
	}
	if req.Iterations > maxIterations {
		return nil, fmt.Errorf("iterations must be at most %d", maxIterations)
	}
	if req.Size == 0 {
		req.Size = defaultSize
	}

	devices, err := selectDevices(p.manager, req.Device)
	if err != nil {
		return nil, err
	}

	results := make([]AllocationResult, 0, len(devices))
	for _, index := range devices {
		res := p.probeDevice(index, req)
		if res.Error != "" {
			log.Warn("Allocation probe failed", zap.String("device", res.ID), zap.String("error", res.Error))
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *AllocationProber) probeDevice(index int, req AllocationRequest) AllocationResult {
	id := p.manager.DeviceID(index)
	res := AllocationResult{Index: index, ID: id.String(), Kind: req.Kind, Iterations: req.Iterations}

	alloc, err := p.manager.Allocator(index)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if req.Kind == "shared" && !alloc.SupportsUSM() {
		res.Skipped = "backend has no unified shared memory"
		return res
	}

	allocate := func() (rt.Ptr, error) {
		switch req.Kind {
		case "optimized_host":
			return alloc.RawAllocateOptimizedHost(req.Alignment, req.Size, rt.AllocationHints{})
		case "shared":
			return alloc.RawAllocateUSM(req.Size, rt.AllocationHints{})
		default:
			return alloc.RawAllocate(req.Alignment, req.Size, rt.AllocationHints{})
		}
	}

	allocUs := make([]float64, 0, req.Iterations)
	queryUs := make([]float64, 0, req.Iterations)
	freeUs := make([]float64, 0, req.Iterations)
	for i := 0; i < req.Iterations; i++ {
		start := time.Now()
		ptr, err := allocate()
		if err != nil {
			res.Error = err.Error()
			return res
		}
		allocUs = append(allocUs, microseconds(start))

		start = time.Now()
		info, err := alloc.QueryPointer(ptr)
		queryUs = append(queryUs, microseconds(start))
		if err == nil {
			err = checkProvenance(info, id, req.Kind)
		}
		if err != nil {
			_ = alloc.RawFree(ptr)
			res.Error = err.Error()
			return res
		}

		start = time.Now()
		if err := alloc.RawFree(ptr); err != nil {
			res.Error = err.Error()
			return res
		}
		freeUs = append(freeUs, microseconds(start))
	}

	res.Allocate = summarize(allocUs)
	res.Query = summarize(queryUs)
	res.Free = summarize(freeUs)
	return res
}

func checkProvenance(info rt.PointerInfo, id rt.DeviceID, kind string) error {
	if info.Device != id {
		return fmt.Errorf("pointer attributed to %s, allocated on %s", info.Device, id)
	}
	if info.IsOptimizedHost != (kind == "optimized_host") {
		return errors.New("pinned host flag does not match the allocation kind")
	}
	if kind == "shared" && !info.IsUSM {
		return errors.New("shared allocation not reported as unified memory")
	}
	return nil
}

func microseconds(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e3
}

func summarize(samples []float64) *LatencyStats {
	if len(samples) == 0 {
		return nil
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}
	return &LatencyStats{
		Mean:   mean,
		StdDev: std,
		P50:    stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
}
