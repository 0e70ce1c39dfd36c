package handler

import (
	"strconv"
	"time"

	"github.com/agntor/agntor-mcp/internal/identity"
	"github.com/agntor/agntor-mcp/internal/registry/model"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	agntorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agntor_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	agntorRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agntor_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	agntorTicketsIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agntor_tickets_issued_total",
		Help: "Total audit tickets issued by audit level.",
	}, []string{"level"})

	agntorAuthDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agntor_auth_decisions_total",
		Help: "Total authentication decisions by outcome and method or reason.",
	}, []string{"outcome", "detail"})

	agntorKillSwitchActivationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agntor_kill_switch_activations_total",
		Help: "Total kill switch activations.",
	})

	agntorUpstreamFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agntor_upstream_failures_total",
		Help: "Total failed calls to the trust backend by operation.",
	}, []string{"op"})

	agntorWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agntor_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		agntorRequestsTotal.WithLabelValues(method, path, status).Inc()
		agntorRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordTicketIssued records an issued audit ticket.
func RecordTicketIssued(level model.AuditLevel) {
	agntorTicketsIssuedTotal.WithLabelValues(string(level)).Inc()
}

// RecordAuthDecision records an authentication outcome. Allowed decisions are
// labelled with the admitting method, rejections with the reason.
func RecordAuthDecision(d identity.Decision) {
	if d.Allowed {
		agntorAuthDecisionsTotal.WithLabelValues("allowed", string(d.Method)).Inc()
		return
	}
	reason := "unknown"
	if d.Reason != nil {
		reason = d.Reason.Error()
	}
	agntorAuthDecisionsTotal.WithLabelValues("rejected", reason).Inc()
}

// RecordKillSwitch records a kill switch activation.
func RecordKillSwitch() {
	agntorKillSwitchActivationsTotal.Inc()
}

// RecordUpstreamFailure records a failed trust backend call.
func RecordUpstreamFailure(op string) {
	agntorUpstreamFailuresTotal.WithLabelValues(op).Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		agntorWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		agntorWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
