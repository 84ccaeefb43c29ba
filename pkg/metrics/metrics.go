// Package metrics exposes Prometheus collectors for upload operations. The
// collectors attach to the upload reporter's event stream, so wiring is one
// call at startup.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docbro/docbro/pkg/upload"
)

// Metrics holds the docbro collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operationsStarted   prometheus.Counter
	operationsCompleted *prometheus.CounterVec
	bytesProcessed      prometheus.Counter
	filesProcessed      prometheus.Counter
	activeOperations    prometheus.Gauge
	operationDuration   prometheus.Histogram
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docbro",
			Subsystem: "upload",
			Name:      "operations_started_total",
			Help:      "Upload operations started.",
		}),
		operationsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docbro",
			Subsystem: "upload",
			Name:      "operations_completed_total",
			Help:      "Upload operations finished, by outcome.",
		}, []string{"outcome"}),
		bytesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docbro",
			Subsystem: "upload",
			Name:      "bytes_processed_total",
			Help:      "Bytes downloaded and handed to ingestion.",
		}),
		filesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docbro",
			Subsystem: "upload",
			Name:      "files_processed_total",
			Help:      "Files processed across all operations.",
		}),
		activeOperations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docbro",
			Subsystem: "upload",
			Name:      "active_operations",
			Help:      "Upload operations currently in flight.",
		}),
		operationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docbro",
			Subsystem: "upload",
			Name:      "operation_duration_seconds",
			Help:      "Wall time per upload operation.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.operationsStarted,
		m.operationsCompleted,
		m.bytesProcessed,
		m.filesProcessed,
		m.activeOperations,
		m.operationDuration,
	)
	return m
}

// Attach subscribes the collectors to a reporter's event stream.
func (m *Metrics) Attach(r *upload.Reporter) {
	r.Listen(m.observe)
}

// observe tracks deltas per operation so counters stay monotonic even though
// reporter updates carry absolute values.
func (m *Metrics) observe(e upload.Event) {
	switch e.Type {
	case upload.EventStarted:
		m.operationsStarted.Inc()
		m.activeOperations.Inc()
	case upload.EventCompleted:
		m.activeOperations.Dec()
		if e.Summary != nil {
			outcome := "failed"
			if e.Summary.Success {
				outcome = "complete"
			}
			m.operationsCompleted.WithLabelValues(outcome).Inc()
			m.operationDuration.Observe(e.Summary.Duration.Seconds())
			m.filesProcessed.Add(float64(e.Update.FilesProcessed))
			m.bytesProcessed.Add(float64(e.Update.BytesProcessed))
		}
	}
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
