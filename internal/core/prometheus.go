package core

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// PrometheusRecorder implements MetricsRecorder and WorkspaceObserver on a
// Prometheus registry.
type PrometheusRecorder struct {
	gatherer prometheus.Gatherer

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	jobs       prometheus.Gauge
	corrupt    prometheus.Gauge
}

// NewPrometheusRecorder registers the paramspace collectors on reg. A nil reg
// uses a fresh registry, which keeps repeated constructions in one process
// from colliding.
func NewPrometheusRecorder(reg *prometheus.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		gatherer: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paramspace_operations_total",
			Help: "Project operations by operation and result",
		}, []string{"operation", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paramspace_operation_duration_seconds",
			Help:    "Project operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 0.1ms to ~26s
		}, []string{"operation"}),
		jobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paramspace_workspace_jobs",
			Help: "Jobs found by the most recent workspace enumeration",
		}),
		corrupt: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paramspace_workspace_corrupt_jobs",
			Help: "Corrupt job directories skipped by the most recent enumeration",
		}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, statusLabel(success)).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveWorkspace implements WorkspaceObserver.
func (r *PrometheusRecorder) ObserveWorkspace(jobs, corrupt int) {
	r.jobs.Set(float64(jobs))
	r.corrupt.Set(float64(corrupt))
}

// WriteText writes the registry in the Prometheus text exposition format,
// suitable for the node_exporter textfile collector.
func (r *PrometheusRecorder) WriteText(w io.Writer) error {
	families, err := r.gatherer.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
