// Package telemetry exposes Prometheus metrics for the gate, HTTP routes, script dispatch and webhooks.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"lompapi/internal/gate"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lompapi"

// Metrics owns a private registry so tests and multiple servers do not collide.
type Metrics struct {
	registry *prometheus.Registry

	GateDecisions     *prometheus.CounterVec
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	DispatchDuration  *prometheus.HistogramVec
	WebhookDeliveries *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Gate decisions by capability and outcome.",
		}, []string{"capability", "outcome"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Helper script run time by command and result.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}, []string{"command", "result"}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by event and result.",
		}, []string{"event", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.GateDecisions,
		m.RequestsTotal,
		m.RequestDuration,
		m.DispatchDuration,
		m.WebhookDeliveries,
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Record implements gate.Recorder.
func (m *Metrics) Record(_ context.Context, ev gate.Event) error {
	m.GateDecisions.WithLabelValues(ev.Capability, ev.Reason.String()).Inc()
	return nil
}

// ObserveDispatch records one helper script run.
func (m *Metrics) ObserveDispatch(command string, d time.Duration, err error) {
	m.DispatchDuration.WithLabelValues(command, result(err)).Observe(d.Seconds())
}

// ObserveWebhook records one webhook delivery, after retries.
func (m *Metrics) ObserveWebhook(event string, err error) {
	m.WebhookDeliveries.WithLabelValues(event, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware tracks HTTP request metrics. Unmatched routes are grouped under one label.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		m.RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
