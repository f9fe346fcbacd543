package audit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics manages Prometheus instrumentation for the audit pipeline.
type Metrics struct {
	submitted prometheus.Counter
	completed prometheus.Counter
	failed    *prometheus.CounterVec
	discarded prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton audit metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "castellan",
			Subsystem: "audit",
			Name:      "jobs_submitted_total",
			Help:      "Total audit jobs submitted",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "castellan",
			Subsystem: "audit",
			Name:      "jobs_completed_total",
			Help:      "Total audit jobs completed successfully",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Subsystem: "audit",
			Name:      "jobs_failed_total",
			Help:      "Total audit jobs failed, by stage",
		}, []string{"stage"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "castellan",
			Subsystem: "audit",
			Name:      "late_results_discarded_total",
			Help:      "Total reasoning results discarded because the job was already terminal",
		}),
	}

	prometheus.MustRegister(m.submitted, m.completed, m.failed, m.discarded)
	return m
}

// RecordSubmitted increments the submitted counter.
func (m *Metrics) RecordSubmitted() { m.submitted.Inc() }

// RecordCompleted increments the completed counter.
func (m *Metrics) RecordCompleted() { m.completed.Inc() }

// RecordFailed increments the failed counter for a pipeline stage.
func (m *Metrics) RecordFailed(stage string) { m.failed.WithLabelValues(stage).Inc() }

// RecordDiscarded increments the late-result counter.
func (m *Metrics) RecordDiscarded() { m.discarded.Inc() }
