package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	relayActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_relay_active_connections",
			Help: "Number of connections registered with the broadcast hub.",
		},
		[]string{"kind"},
	)
	relayEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_connection_events_total",
			Help: "Total number of relay connection lifecycle events.",
		},
		[]string{"kind", "event"},
	)
	relayLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_lines_total",
			Help: "Lines received by the hub, by envelope type.",
		},
		[]string{"type"},
	)
	relayDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_deliveries_total",
			Help: "Per-receiver relay outcomes.",
		},
		[]string{"outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		relayActiveConnections,
		relayEventsTotal,
		relayLinesTotal,
		relayDeliveriesTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncRelayActive(kind string) {
	relayActiveConnections.WithLabelValues(kind).Inc()
}

func DecRelayActive(kind string) {
	relayActiveConnections.WithLabelValues(kind).Dec()
}

func IncRelayEvent(kind, event string) {
	relayEventsTotal.WithLabelValues(kind, event).Inc()
}

// IncRelayLine counts an inbound line; malformed lines use the "malformed" label.
func IncRelayLine(envelopeType string) {
	relayLinesTotal.WithLabelValues(envelopeType).Inc()
}

// IncRelayDelivery counts one receiver outcome: "queued", "dropped" or "write_error".
func IncRelayDelivery(outcome string) {
	relayDeliveriesTotal.WithLabelValues(outcome).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
