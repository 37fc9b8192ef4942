// Package monitor exposes Prometheus metrics for the leaderboard server.
package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	RequestLatency   *prometheus.HistogramVec
	AuthOutcomes     *prometheus.CounterVec
	Submissions      *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec
	WebSocketClients prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "route", "status"}),
		AuthOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_outcomes_total",
			Help:      "Identity resolution outcomes by method and result code",
		}, []string{"method", "outcome"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "game_results_total",
			Help:      "Submitted game results by outcome",
		}, []string{"outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"scope"}),
		WebSocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected live leaderboard clients",
		}),
	}
}

// Monitor owns a private registry so tests and multiple servers in one
// process never collide on registration. A nil *Monitor records nothing.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
}

func NewMonitor(namespace string) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace),
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}
	m.registry.MustRegister(
		m.metrics.RequestLatency,
		m.metrics.AuthOutcomes,
		m.metrics.Submissions,
		m.metrics.RateLimited,
		m.metrics.WebSocketClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the server started",
		}, func() float64 {
			return time.Since(m.startTime).Seconds()
		}),
	)
	return m
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Monitor) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.metrics.RequestLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Monitor) IncAuthOutcome(method, outcome string) {
	if m == nil {
		return
	}
	m.metrics.AuthOutcomes.WithLabelValues(method, outcome).Inc()
}

func (m *Monitor) IncSubmission(outcome string) {
	if m == nil {
		return
	}
	m.metrics.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Monitor) IncRateLimited(scope string) {
	if m == nil {
		return
	}
	m.metrics.RateLimited.WithLabelValues(scope).Inc()
}

// SetWSClients satisfies services.ClientObserver.
func (m *Monitor) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.metrics.WebSocketClients.Set(float64(n))
}
