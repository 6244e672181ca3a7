// metrics — Prometheus-коллекторы HTTP-слоя, лимитера и аутентификации.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics владеет коллекторами приложения. Nil-получатель допустим:
// все методы тогда ничего не делают.
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rlDecisions     *prometheus.CounterVec
	rlFallback      prometheus.Counter
	rlEvictions     prometheus.Counter
	authResolutions *prometheus.CounterVec
}

// New регистрирует коллекторы в reg (обычно prometheus.DefaultRegisterer).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rlDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limiter decisions by route class and outcome.",
		}, []string{"class", "outcome"}),
		rlFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_fallback_total",
			Help: "Counter increments served by the in-process fallback store.",
		}),
		rlEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_fallback_evictions_total",
			Help: "Windows evicted from the bounded in-process store.",
		}),
		authResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_resolutions_total",
			Help: "Credential resolutions by auth method and outcome.",
		}, []string{"method", "outcome"}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.rlDecisions,
		m.rlFallback,
		m.rlEvictions,
		m.authResolutions,
	)

	return m
}

// ObserveHTTP учитывает завершённый запрос. route — шаблон chi, а не сырой путь.
func (m *Metrics) ObserveHTTP(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}

	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(dur.Seconds())
}

// RateLimitDecision учитывает решение лимитера.
func (m *Metrics) RateLimitDecision(class string, allowed bool) {
	if m == nil {
		return
	}

	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.rlDecisions.WithLabelValues(class, outcome).Inc()
}

// RateLimitFallback учитывает инкремент, обслуженный резервным хранилищем.
func (m *Metrics) RateLimitFallback() {
	if m == nil {
		return
	}
	m.rlFallback.Inc()
}

// RateLimitEviction учитывает вытеснение окна из in-process таблицы.
func (m *Metrics) RateLimitEviction() {
	if m == nil {
		return
	}
	m.rlEvictions.Inc()
}

// AuthResolution учитывает исход разрешения учётных данных.
func (m *Metrics) AuthResolution(method, outcome string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	m.authResolutions.WithLabelValues(method, outcome).Inc()
}
