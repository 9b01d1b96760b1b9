package metrics

import (
	"time"

	observabilitymetrics "github.com/AlibekovAA/crm-realtime/internal/observability/metrics"
)

const (
	DeliveryDelivered = "delivered"
	DeliveryStale     = "stale"
	DeliveryNotReady  = "not_ready"
	DeliveryClosed    = "closed"
	DeliveryFiltered  = "filtered"
	DeliveryFailed    = "failed"
)

func IncrementActiveConnections() {
	observabilitymetrics.RealtimeConnectionsActive.Inc()
	observabilitymetrics.RealtimeConnectionsTotal.Inc()
}

func DecrementActiveConnections() {
	observabilitymetrics.RealtimeConnectionsActive.Dec()
}

func SetIndexSize(subscriptions, channels int) {
	observabilitymetrics.RealtimeSubscriptionsActive.Set(float64(subscriptions))
	observabilitymetrics.RealtimeChannelsActive.Set(float64(channels))
}

func IncrementFrame(frameType string) {
	observabilitymetrics.RealtimeFramesTotal.WithLabelValues(frameType).Inc()
}

func IncrementError(errorType string) {
	observabilitymetrics.RealtimeErrors.WithLabelValues(errorType).Inc()
}

func IncrementDisconnection(reason string) {
	observabilitymetrics.RealtimeDisconnections.WithLabelValues(reason).Inc()
}

func IncrementBroadcast(hadSubscribers bool) {
	result := "empty"
	if hadSubscribers {
		result = "fanout"
	}
	observabilitymetrics.RealtimeBroadcastsTotal.WithLabelValues(result).Inc()
}

func IncrementDelivery(outcome string) {
	observabilitymetrics.RealtimeDeliveriesTotal.WithLabelValues(outcome).Inc()
}

func IncrementFrameRateLimited() {
	observabilitymetrics.RateLimitBlocked.WithLabelValues("/ws", "frame").Inc()
}

func ObserveFrameHandling(frameType string, elapsed time.Duration) {
	observabilitymetrics.RealtimeFrameHandlingDurationSeconds.WithLabelValues(frameType).Observe(elapsed.Seconds())
}

func ObserveBroadcast(elapsed time.Duration) {
	observabilitymetrics.RealtimeBroadcastDurationSeconds.Observe(elapsed.Seconds())
}
