package metrics_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vilaca/gh-finder/internal/metrics"
)

func TestNew_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := metrics.New(registry)
	m.Search("submit")

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestObserveUpstream(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveUpstream("users", http.StatusOK, 10*time.Millisecond)
	m.ObserveUpstream("users", http.StatusNotFound, 10*time.Millisecond)
	m.ObserveUpstream("users", 0, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("users", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("users", "404")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("users", "error")), 0)
}

func TestCacheLookupAndSessions(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.CacheLookup("profile", metrics.ResultHit)
	m.CacheLookup("profile", metrics.ResultHit)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Debounced()

	assert.InDelta(t, 2, testutil.ToFloat64(m.CacheLookups.WithLabelValues("profile", metrics.ResultHit)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveSessions), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DebounceFired), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ObserveUpstream("users", http.StatusOK, time.Second)
		m.CacheLookup("profile", metrics.ResultMiss)
		m.Search("submit")
		m.Debounced()
		m.SessionOpened()
		m.SessionClosed()
	})
}
