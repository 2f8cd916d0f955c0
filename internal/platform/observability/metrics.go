package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "orders_api"

// Metrics owns the Prometheus collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	notifications      *prometheus.CounterVec
	sideEffectFailures *prometheus.CounterVec
	stockReservations  *prometheus.CounterVec
	reportJobs         *prometheus.CounterVec
	oidcVerifications  *prometheus.CounterVec
	realtimeClients    prometheus.Gauge
}

// NewMetrics registers every collector on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "order_notifications_total",
			Help: "Merchant notification attempts by final outcome.",
		}, []string{"outcome"}),
		sideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "order_side_effect_failures_total",
			Help: "Post-commit subscriber failures by subscriber.",
		}, []string{"subscriber"}),
		stockReservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "stock_reservations_total",
			Help: "Order placements by stock ledger result.",
		}, []string{"result"}),
		reportJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "report_jobs_total",
			Help: "Report jobs by terminal status.",
		}, []string{"status"}),
		oidcVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "oidc_verifications_total",
			Help: "Internal endpoint token verifications by reason.",
		}, []string{"reason"}),
		realtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "realtime_clients",
			Help: "Connected websocket clients.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.notifications, m.sideEffectFailures,
		m.stockReservations, m.reportJobs, m.oidcVerifications, m.realtimeClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveHTTP(route, method string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(latency.Seconds())
}

func (m *Metrics) NotificationOutcome(outcome string) {
	if m != nil {
		m.notifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SideEffectFailed(subscriber string) {
	if m != nil {
		m.sideEffectFailures.WithLabelValues(subscriber).Inc()
	}
}

func (m *Metrics) StockReservation(result string) {
	if m != nil {
		m.stockReservations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ReportFinished(status string) {
	if m != nil {
		m.reportJobs.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) OIDCVerification(reason string) {
	if m != nil {
		m.oidcVerifications.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RealtimeClientDelta(delta float64) {
	if m != nil {
		m.realtimeClients.Add(delta)
	}
}
