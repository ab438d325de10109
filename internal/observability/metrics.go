package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Broker metrics
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_sessions_active",
			Help: "Number of open sessions per room",
		},
		[]string{"room_id"},
	)

	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total number of messages durably appended and broadcast",
		},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publish_failures_total",
			Help: "Total number of rejected publish attempts",
		},
		[]string{"reason"},
	)

	FanoutDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_fanout_drops_total",
			Help: "Live deliveries that were dropped for a single subscriber",
		},
		[]string{"reason"},
	)

	ReconcileMessages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broker_reconcile_messages",
			Help:    "Number of messages replayed per reconciliation",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// WebSocket metrics
	WebSocketMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of frames sent via WebSocket",
		},
		[]string{"type"},
	)

	// Store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Message store operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"driver", "operation", "outcome"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)
