// Package metrics holds the Prometheus collectors of the booking service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Booking metrics
	AdmissionsTotal    *prometheus.CounterVec
	TxRetriesTotal     prometheus.Counter
	PermissionDecision *prometheus.CounterVec
	IdempotencyTotal   *prometheus.CounterVec

	// Delivery metrics
	NotificationsTotal *prometheus.CounterVec
	IdempotencyReaped  prometheus.Counter
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booking_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AdmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_admissions_total",
				Help: "Availability admission decisions by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		TxRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "booking_tx_retries_total",
				Help: "Reservation transactions retried after a transient conflict",
			},
		),
		PermissionDecision: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_permission_decisions_total",
				Help: "Permission resolutions by target kind and resulting level",
			},
			[]string{"target", "level"},
		),
		IdempotencyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_idempotency_outcomes_total",
				Help: "Idempotency guard outcomes by scope",
			},
			[]string{"scope", "outcome"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_notifications_total",
				Help: "Reservation events handed to publishers",
			},
			[]string{"type", "status"},
		),
		IdempotencyReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "booking_idempotency_reaped_total",
				Help: "Expired idempotency records deleted by the reaper",
			},
		),
	}

	registry.MustRegister(
		prometheus.NewGoCollector(),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AdmissionsTotal,
		m.TxRetriesTotal,
		m.PermissionDecision,
		m.IdempotencyTotal,
		m.NotificationsTotal,
		m.IdempotencyReaped,
	)
	return m
}

// Registry exposes the underlying registry (for tests and custom collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Admission(operation, outcome string) {
	if m == nil {
		return
	}
	m.AdmissionsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) TxRetry() {
	if m == nil {
		return
	}
	m.TxRetriesTotal.Inc()
}

func (m *Metrics) Permission(target, level string) {
	if m == nil {
		return
	}
	m.PermissionDecision.WithLabelValues(target, level).Inc()
}

func (m *Metrics) Idempotency(scope, outcome string) {
	if m == nil {
		return
	}
	m.IdempotencyTotal.WithLabelValues(scope, outcome).Inc()
}

func (m *Metrics) Notification(eventType, status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) Reaped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.IdempotencyReaped.Add(float64(n))
}

// Middleware instruments gin requests. The route template is used as the path label.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
