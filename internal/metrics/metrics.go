// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the daemon's collectors. A nil *Metrics is valid and all
// record methods become no-ops, which keeps test wiring light.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal           *prometheus.CounterVec
	jobsInFlight        prometheus.Gauge
	stageDuration       *prometheus.HistogramVec
	stageRetries        *prometheus.CounterVec
	subscribers         prometheus.Gauge
	evictions           prometheus.Counter
	admissionRejections *prometheus.CounterVec
}

// New constructs and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyreel_jobs_total",
			Help: "Jobs reaching a terminal status.",
		}, []string{"status"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studyreel_jobs_in_flight",
			Help: "Jobs currently being executed by a worker.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studyreel_stage_duration_seconds",
			Help:    "Wall-clock duration of successful stage executions.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		stageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyreel_stage_retries_total",
			Help: "Stage attempts retried after a transient failure.",
		}, []string{"stage"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studyreel_event_subscribers",
			Help: "Currently connected progress event subscribers.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studyreel_subscriber_evictions_total",
			Help: "Subscribers evicted for falling behind or exceeding the per-job cap.",
		}),
		admissionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyreel_admission_rejections_total",
			Help: "Requests rejected by admission control.",
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.jobsTotal,
		m.jobsInFlight,
		m.stageDuration,
		m.stageRetries,
		m.subscribers,
		m.evictions,
		m.admissionRejections,
	)
	return m
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobStarted records a worker picking up a job.
func (m *Metrics) JobStarted() {
	if m != nil {
		m.jobsInFlight.Inc()
	}
}

// JobFinished records a job reaching a terminal status.
func (m *Metrics) JobFinished(status string) {
	if m != nil {
		m.jobsInFlight.Dec()
		m.jobsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveStage records a successful stage execution duration.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m != nil {
		m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

// StageRetried records a stage attempt scheduled for retry.
func (m *Metrics) StageRetried(stage string) {
	if m != nil {
		m.stageRetries.WithLabelValues(stage).Inc()
	}
}

// SubscriberConnected / SubscriberDisconnected track live event streams.
func (m *Metrics) SubscriberConnected() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberDisconnected() {
	if m != nil {
		m.subscribers.Dec()
	}
}

// SubscriberEvicted records a forced disconnect.
func (m *Metrics) SubscriberEvicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

// AdmissionRejected records a rate-limited request by kind (job, download).
func (m *Metrics) AdmissionRejected(kind string) {
	if m != nil {
		m.admissionRejections.WithLabelValues(kind).Inc()
	}
}
