package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DBPoolAcquiredConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_acquired_connections",
			Help: "Number of acquired database connections",
		},
	)

	DBPoolIdleConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_idle_connections",
			Help: "Number of idle database connections",
		},
	)

	DBPoolMaxConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_max_connections",
			Help: "Maximum number of database connections",
		},
	)

	DBPoolTotalConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_total_connections",
			Help: "Total number of database connections",
		},
	)

	NotifyNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_notify_notifications_total",
			Help: "Total number of postgres notifications received by outcome",
		},
		[]string{"outcome"},
	)

	NotifyListenerReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_notify_listener_reconnects_total",
			Help: "Total number of notify listener reconnect attempts",
		},
	)

	NotifyListenerUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_notify_listener_up",
			Help: "Whether the notify listener currently holds a LISTEN connection (1) or not (0)",
		},
	)
)
