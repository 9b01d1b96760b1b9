package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RealtimeConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	RealtimeConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_websocket_connections_total",
			Help: "Total number of accepted WebSocket connections",
		},
	)

	RealtimeSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscriptions_active",
			Help: "Number of (connection, channel) subscription pairs",
		},
	)

	RealtimeChannelsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_channels_active",
			Help: "Number of channels with at least one subscriber",
		},
	)

	RealtimeFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_websocket_frames_total",
			Help: "Total number of inbound control frames by type",
		},
		[]string{"frame_type"},
	)

	RealtimeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_websocket_errors_total",
			Help: "Total number of error frames sent by error type",
		},
		[]string{"error_type"},
	)

	RealtimeDisconnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_websocket_disconnections_total",
			Help: "Total number of WebSocket disconnections by reason",
		},
		[]string{"reason"},
	)

	RealtimeBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_broadcasts_total",
			Help: "Total number of broadcast calls by whether any subscriber existed",
		},
		[]string{"result"},
	)

	RealtimeDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_total",
			Help: "Total number of per-recipient delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	RealtimeFrameHandlingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtime_frame_handling_duration_seconds",
			Help:    "Duration of inbound frame handling in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
		[]string{"frame_type"},
	)

	RealtimeBroadcastDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_broadcast_duration_seconds",
			Help:    "Duration of a broadcast fan-out in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
	)
)
