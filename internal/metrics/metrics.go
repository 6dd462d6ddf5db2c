// Package metrics exposes Prometheus collectors for the poll loop and an
// optional HTTP server for /metrics and /healthz.
//
// All recording methods are safe on a nil *Metrics, so the monitor can run
// without metrics wired in.
package metrics

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "web_monitor"

// Poll outcomes.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	polls         *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	restarts      prometheus.Counter
	failures      prometheus.Gauge
	fetchSeconds  prometheus.Histogram

	health atomic.Pointer[Health]
}

// Health is the snapshot served on /healthz.
type Health struct {
	Status              string    `json:"status"`
	URL                 string    `json:"url,omitempty"`
	LastCycle           time.Time `json:"last_cycle,omitempty"`
	LastTransition      string    `json:"last_transition,omitempty"`
	Found               bool      `json:"found"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Health statuses.
const (
	StatusStarting = "starting"
	StatusOK       = "ok"
	StatusFailing  = "failing"
)

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Poll cycles by outcome (found/not_found/error).",
			},
			[]string{"outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Observed state transitions by kind.",
			},
			[]string{"transition"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications by kind and delivery result.",
			},
			[]string{"kind", "result"},
		),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "driver_restarts_total",
			Help:      "Browser session restarts after repeated failures.",
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Current run of failed poll cycles.",
		}),
		fetchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent loading the page and extracting the element.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
	}

	m.registry.MustRegister(
		m.polls, m.transitions, m.notifications,
		m.restarts, m.failures, m.fetchSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.health.Store(&Health{Status: StatusStarting})

	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// ObservePoll counts a cycle outcome and records the fetch duration.
func (m *Metrics) ObservePoll(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(norm(outcome)).Inc()
	if d > 0 {
		m.fetchSeconds.Observe(d.Seconds())
	}
}

// IncTransition counts a transition.
func (m *Metrics) IncTransition(transition string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(norm(transition)).Inc()
}

// IncNotification counts a notification attempt.
func (m *Metrics) IncNotification(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(norm(kind), result).Inc()
}

// IncRestart counts a driver restart.
func (m *Metrics) IncRestart() {
	if m == nil {
		return
	}
	m.restarts.Inc()
}

// SetFailures records the consecutive failure count.
func (m *Metrics) SetFailures(n int) {
	if m == nil {
		return
	}
	m.failures.Set(float64(n))
}

// SetHealth replaces the /healthz snapshot.
func (m *Metrics) SetHealth(h Health) {
	if m == nil {
		return
	}
	m.health.Store(&h)
}

// CurrentHealth returns the latest /healthz snapshot.
func (m *Metrics) CurrentHealth() Health {
	if m == nil {
		return Health{Status: StatusStarting}
	}
	return *m.health.Load()
}
