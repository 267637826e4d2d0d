package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// discovery cascade.
type Metrics struct {
	AreasAnalyzed     *prometheus.CounterVec // labels: tier
	DiscoveriesFound  *prometheus.CounterVec // labels: tier, method={structured,fallback,simulated}
	DiscoveriesMerged prometheus.Counter
	RegionsActive     prometheus.Gauge

	// Interpreter metrics.
	InterpreterCalls    *prometheus.CounterVec // labels: stage, outcome={success,error}
	InterpreterDuration prometheus.Histogram
	InterpreterRetries  prometheus.Counter

	// Stage metrics.
	StageDuration  *prometheus.HistogramVec // labels: stage
	LeveragePasses prometheus.Counter
}

// NewMetrics creates and registers all cascade metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.AreasAnalyzed,
		m.DiscoveriesFound,
		m.DiscoveriesMerged,
		m.RegionsActive,
		m.InterpreterCalls,
		m.InterpreterDuration,
		m.InterpreterRetries,
		m.StageDuration,
		m.LeveragePasses,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		AreasAnalyzed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geocascade",
			Name:      "areas_analyzed_total",
			Help:      "Areas analyzed by tier.",
		}, []string{"tier"}),
		DiscoveriesFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geocascade",
			Name:      "discoveries_found_total",
			Help:      "Discoveries extracted by tier and extraction method.",
		}, []string{"tier", "method"}),
		DiscoveriesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geocascade",
			Name:      "discoveries_merged_total",
			Help:      "Discoveries absorbed by a fusion pass.",
		}),
		RegionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geocascade",
			Name:      "regions_active",
			Help:      "Regions currently being cascaded.",
		}),
		InterpreterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geocascade",
			Name:      "interpreter_calls_total",
			Help:      "Interpreter invocations by stage and outcome.",
		}, []string{"stage", "outcome"}),
		InterpreterDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geocascade",
			Name:      "interpreter_call_duration_seconds",
			Help:      "Interpreter round-trip duration in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		InterpreterRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geocascade",
			Name:      "interpreter_retries_total",
			Help:      "Interpreter calls retried after a transient failure.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geocascade",
			Name:      "stage_duration_seconds",
			Help:      "Duration of one completed cascade stage for a region.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
		LeveragePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geocascade",
			Name:      "leverage_passes_total",
			Help:      "Completed pattern-leverage passes.",
		}),
	}
}
