// Package metrics holds the Prometheus collectors of the job pipeline. A nil *Metrics is valid
// and records nothing, so components can take it as an optional dependency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fotobudka"

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobsInFlight prometheus.Gauge
	polls        *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "started_total",
				Help:      "Generation jobs started, including retries.",
			},
			[]string{"kind"},
		),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "finished_total",
				Help:      "Generation jobs that left the processing state.",
			},
			[]string{"kind", "status"},
		),
		jobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "inflight",
				Help:      "Background job tasks currently running.",
			},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "polls_total",
				Help:      "Status polls sent to the backend, by observed status.",
			},
			[]string{"status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Wall time from task start to terminal state.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
			},
			[]string{"kind"},
		),
	}
	m.registry.MustRegister(m.jobsStarted, m.jobsFinished, m.jobsInFlight, m.polls, m.jobDuration)
	return m
}

// Registry exposes the underlying registry, mainly for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobStarted records a task spawn.
func (m *Metrics) JobStarted(kind string) {
	if m == nil {
		return
	}
	m.jobsStarted.WithLabelValues(kind).Inc()
	m.jobsInFlight.Inc()
}

// JobFinished records a task leaving the in-flight set. status is "success", "error" or
// "abandoned"; seconds is the task's wall time.
func (m *Metrics) JobFinished(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(kind, status).Inc()
	m.jobsInFlight.Dec()
	if status != "abandoned" {
		m.jobDuration.WithLabelValues(kind).Observe(seconds)
	}
}

// Poll records one status poll.
func (m *Metrics) Poll(status string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(status).Inc()
}
