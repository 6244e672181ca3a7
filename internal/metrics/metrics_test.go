package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveHTTP("GET", "/api/history", 200, 10*time.Millisecond)
	m.ObserveHTTP("GET", "", 404, time.Millisecond)
	m.RateLimitDecision("auth", true)
	m.RateLimitDecision("auth", false)
	m.RateLimitDecision("auth", false)
	m.RateLimitFallback()
	m.RateLimitEviction()
	m.AuthResolution("api_key", "success")
	m.AuthResolution("", "none")

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/history", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.rlDecisions.WithLabelValues("auth", "denied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rlFallback))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rlEvictions))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authResolutions.WithLabelValues("none", "none")))

	n, err := testutil.GatherAndCount(reg, "http_request_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveHTTP("GET", "/", 200, time.Second)
		m.RateLimitDecision("general", true)
		m.RateLimitFallback()
		m.RateLimitEviction()
		m.AuthResolution("token", "failure")
	})
}
