// Package observability provides Prometheus metrics for the detection engine.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can run without a registry in tests.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	detectionsFound  prometheus.Histogram
	runDuration      prometheus.Histogram
	visionFailures   prometheus.Counter
	materializations prometheus.Counter
}

// NewMetrics creates and registers the engine collectors on the given registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocount_runs_total",
				Help: "Detection runs by final status",
			},
			[]string{"status"},
		),
		detectionsFound: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autocount_detections_found",
				Help:    "Detections persisted per completed run",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autocount_run_duration_seconds",
				Help:    "Wall-clock duration of detection runs",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		visionFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "autocount_vision_failures_total",
				Help: "Semantic matcher failures, including timeouts",
			},
		),
		materializations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "autocount_measurements_created_total",
				Help: "Measurements created from confirmed detections",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.runsTotal, m.detectionsFound, m.runDuration,
		m.visionFailures, m.materializations,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

// RecordRun records the outcome and duration of one detection run.
func (m *Metrics) RecordRun(status string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(seconds)
}

// RecordDetections records how many detections a completed run produced.
func (m *Metrics) RecordDetections(count int) {
	if m == nil {
		return
	}
	m.detectionsFound.Observe(float64(count))
}

// RecordVisionFailure counts one semantic matcher failure.
func (m *Metrics) RecordVisionFailure() {
	if m == nil {
		return
	}
	m.visionFailures.Inc()
}

// RecordMeasurement counts one materialized measurement.
func (m *Metrics) RecordMeasurement() {
	if m == nil {
		return
	}
	m.materializations.Inc()
}
