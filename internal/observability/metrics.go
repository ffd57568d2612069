// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	registry *prometheus.Registry

	// Job metrics
	JobRuns     *prometheus.CounterVec
	JobFailures *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// Signal metrics
	SignalsPublished prometheus.Counter
	OutcomesRecorded *prometheus.CounterVec
	ActiveSignals    prometheus.Gauge

	// Safety metrics
	BreakerActive      prometheus.Gauge
	RiskRejections     *prometheus.CounterVec
	DegradedStrategies prometheus.Gauge

	// Data metrics
	CandlesIngested *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	const namespace = "goldsight"

	return &Metrics{
		registry: registry,

		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total number of scheduled job runs",
		}, []string{"job"}),
		JobFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "failures_total",
			Help:      "Total number of failed job runs",
		}, []string{"job"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),

		SignalsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "published_total",
			Help:      "Total number of published advisory signals",
		}),
		OutcomesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "outcomes_total",
			Help:      "Total number of recorded signal outcomes by result",
		}, []string{"result"}),
		ActiveSignals: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "active",
			Help:      "Number of signals currently active",
		}),

		BreakerActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "breaker_active",
			Help:      "Whether the circuit breaker is active (1) or not (0)",
		}),
		RiskRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "risk_rejections_total",
			Help:      "Total number of candidates rejected by the risk gate",
		}, []string{"reason"}),
		DegradedStrategies: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "degraded_strategies",
			Help:      "Number of strategies currently flagged as degraded",
		}),

		CandlesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "candles_ingested_total",
			Help:      "Total number of candles written by the ingestor",
		}, []string{"timeframe"}),
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
