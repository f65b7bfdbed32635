package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hwrt_endpoint_responses_total",
		Help: "The total number of endpoint responses",
	}, []string{"endpoint", "status_code"})

	EndpointDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hwrt_endpoint_duration_seconds",
		Help:    "Latency of endpoint requests by the operation they ran",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10), // 0.5ms to ~2min
	}, []string{"endpoint", "operation"})

	// Discovery Metrics
	DiscoveredDevices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hwrt_discovered_devices",
		Help: "Number of devices discovered per backend",
	}, []string{"backend"})

	ContextsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hwrt_contexts_created_total",
		Help: "Total number of native driver contexts created",
	}, []string{"backend"})

	// Event Pool Metrics
	EventsAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hwrt_events_allocated_total",
		Help: "Total number of event slots handed out",
	}, []string{"backend"})

	EventPoolRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hwrt_event_pool_rotations_total",
		Help: "Total number of event pools spawned after the active pool was exhausted",
	}, []string{"backend"})

	// Allocator Metrics
	Allocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hwrt_allocations_total",
		Help: "Total number of successful allocations by backend and memory kind",
	}, []string{"backend", "kind"})

	AllocatedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hwrt_allocated_bytes_total",
		Help: "Total number of bytes allocated by backend and memory kind",
	}, []string{"backend", "kind"})

	Frees = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hwrt_frees_total",
		Help: "Total number of frees by backend and native deallocation path",
	}, []string{"backend", "path"})

	AllocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hwrt_allocation_duration_us",
		Help:    "Duration of native allocation calls in microseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1us to ~32ms
	}, []string{"backend", "kind"})

	// Error Metrics
	RuntimeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hwrt_runtime_errors_total",
		Help: "Total number of errors registered with the runtime error sink",
	}, []string{"kind"})
)
