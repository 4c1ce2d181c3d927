// Package metrics holds the Prometheus collectors for attention calls.
// Collectors register with the default registry on package load.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// KernelCacheLookups counts kernel cache lookups by result.
	KernelCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "born_sdpa_kernel_cache_lookups_total",
		Help: "Kernel cache lookups by result (hit or miss)",
	}, []string{"result"})

	// KernelBuilds counts kernel constructions by kind.
	KernelBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "born_sdpa_kernel_builds_total",
		Help: "Kernel constructions by kernel kind",
	}, []string{"kind"})

	// Dispatches counts attention calls by the kernel that ran them.
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "born_sdpa_dispatch_total",
		Help: "Attention calls by selected kernel",
	}, []string{"kernel"})

	// DispatchDuration observes kernel compute time per call.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "born_sdpa_dispatch_duration_seconds",
		Help:    "Kernel compute time per attention call",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"kernel"})

	// PrecisionFallbacks counts calls sent to the reference kernel for lack
	// of an accelerated path at their precision.
	PrecisionFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "born_sdpa_precision_fallbacks_total",
		Help: "Calls routed to the reference kernel because the precision lacks an accelerated path",
	}, []string{"precision"})

	// CacheReallocations counts KV cache storage reallocations by reason.
	CacheReallocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "born_sdpa_kv_cache_reallocations_total",
		Help: "KV cache storage reallocations by reason (grow, rebuild, reset)",
	}, []string{"reason"})

	// BeamReorders counts non-identity beam table reorders.
	BeamReorders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "born_sdpa_beam_reorders_total",
		Help: "Non-identity beam table reorders",
	})
)
