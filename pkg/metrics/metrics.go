// Package metrics provides Prometheus metrics for the analysis pipeline
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains all Prometheus metrics related to pipeline runs.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	RunsTotal     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	CacheLookups  *prometheus.CounterVec
	HitsTotal     *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge

	registry *prometheus.Registry
}

// NewPipelineMetrics creates the pipeline metrics and registers them with
// registry. It returns an error if registration fails.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drumstem_runs_total",
			Help: "Pipeline runs partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drumstem_stage_duration_seconds",
			Help:    "Time spent computing a pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"stage"},
	)
	m.CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drumstem_cache_lookups_total",
			Help: "Stage artifact lookups partitioned by stage and result (hit or miss).",
		},
		[]string{"stage", "result"},
	)
	m.HitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drumstem_hits_total",
			Help: "Classified drum hits partitioned by label.",
		},
		[]string{"label"},
	)
	m.ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drumstem_active_runs",
			Help: "Number of pipeline runs in progress.",
		},
	)
}

// RecordRun counts a finished run
func (m *PipelineMetrics) RecordRun(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// RecordStage observes the time spent computing a stage
func (m *PipelineMetrics) RecordStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordCache counts a cache hit or miss for a stage
func (m *PipelineMetrics) RecordCache(stage string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(stage, result).Inc()
}

// RecordHit counts one classified hit
func (m *PipelineMetrics) RecordHit(label string) {
	if m == nil {
		return
	}
	m.HitsTotal.WithLabelValues(label).Inc()
}

// RunStarted increments the active run gauge and returns its decrement
func (m *PipelineMetrics) RunStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveRuns.Inc()
	return m.ActiveRuns.Dec
}

// Describe implements prometheus.Collector
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RunsTotal.Describe(ch)
	m.StageDuration.Describe(ch)
	m.CacheLookups.Describe(ch)
	m.HitsTotal.Describe(ch)
	ch <- m.ActiveRuns.Desc()
}

// Collect implements prometheus.Collector
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RunsTotal.Collect(ch)
	m.StageDuration.Collect(ch)
	m.CacheLookups.Collect(ch)
	m.HitsTotal.Collect(ch)
	ch <- m.ActiveRuns
}
