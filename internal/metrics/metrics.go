// Package metrics exposes Prometheus instrumentation for lookups and sessions.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results.
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultShared = "shared"
)

// Metrics contains the Prometheus collectors used by the finder.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	Searches         *prometheus.CounterVec
	DebounceFired    prometheus.Counter
	ActiveSessions   prometheus.Gauge
}

// New creates and registers the collectors with the given registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghfinder_upstream_requests_total",
				Help: "Requests sent to the user directory API",
			},
			[]string{"endpoint", "status"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghfinder_upstream_request_duration_seconds",
				Help:    "Latency of user directory API requests",
				Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghfinder_cache_lookups_total",
				Help: "De-duplication cache lookups by kind and result",
			},
			[]string{"kind", "result"}, // result: hit/miss/shared
		),
		Searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghfinder_searches_total",
				Help: "Profile searches by trigger",
			},
			[]string{"trigger"},
		),
		DebounceFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghfinder_debounce_fired_total",
			Help: "Debounced suggestion lookups that survived cancellation",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ghfinder_sessions_active",
			Help: "Current number of live search sessions",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.UpstreamRequests,
			m.UpstreamDuration,
			m.CacheLookups,
			m.Searches,
			m.DebounceFired,
			m.ActiveSessions,
		)
	}

	return m
}

// ObserveUpstream records one directory API call. status is 0 for network failures.
func (m *Metrics) ObserveUpstream(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamRequests.WithLabelValues(endpoint, label).Inc()
	m.UpstreamDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// CacheLookup records a de-duplication cache lookup.
func (m *Metrics) CacheLookup(kind, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(kind, result).Inc()
}

// Search records a profile search started by trigger.
func (m *Metrics) Search(trigger string) {
	if m == nil {
		return
	}
	m.Searches.WithLabelValues(trigger).Inc()
}

// Debounced records a debounce callback that fired.
func (m *Metrics) Debounced() {
	if m == nil {
		return
	}
	m.DebounceFired.Inc()
}

// SessionOpened increments the live session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionClosed decrements the live session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
