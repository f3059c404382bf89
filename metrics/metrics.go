package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"path"}, // "push", "rest" or "staff"
	)

	// Push plane
	WSSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_sessions",
			Help: "Open websocket sessions",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Users holding at least one session",
		},
	)

	PushDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_push_dropped_total",
			Help: "Outbound events dropped for dead or slow sessions",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_errors_total",
			Help: "Store failures surfaced by the chat service",
		},
		[]string{"op"},
	)
)
