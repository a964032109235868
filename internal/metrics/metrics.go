package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Engine-wide collectors. They are package level so that codecs called from
// driver Scan/Value hooks can report without an injected dependency.
var (
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldops_job_transitions_total",
			Help: "Job status events appended, by target status",
		},
		[]string{"status"},
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldops_rejected_operations_total",
			Help: "Operations that returned a negative outcome",
		},
		[]string{"operation", "outcome"},
	)

	OpenCheckouts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldops_open_checkouts",
			Help: "Open asset checkouts observed after the last custody change",
		},
	)

	StockDrawn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldops_consumable_drawn_total",
			Help: "Quantity of consumables drawn against jobs",
		},
		[]string{"consumable"},
	)

	MalformedFields = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldops_malformed_fields_total",
			Help: "Stored fields that could not be decoded and were replaced by an empty value",
		},
		[]string{"field"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldops_operation_duration_seconds",
			Help:    "Latency of guarded operations against the local store",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation"},
	)
)

// Collectors lists every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		Transitions,
		Rejections,
		OpenCheckouts,
		StockDrawn,
		MalformedFields,
		OperationDuration,
	}
}

// NewRegistry returns a registry carrying the engine collectors plus the
// standard process and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(Collectors()...)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}
