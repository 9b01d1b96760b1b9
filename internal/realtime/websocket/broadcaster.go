package websocket

import (
	"context"
	"time"

	"github.com/AlibekovAA/crm-realtime/internal/common/clock"
	"github.com/AlibekovAA/crm-realtime/internal/common/constants"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
	"github.com/AlibekovAA/crm-realtime/internal/realtime/metrics"
)

// Filter decides whether an authenticated recipient receives data.
// Connections without identity are never passed to it.
type Filter func(identity Identity, data any) bool

type Broadcaster struct {
	registry   *Registry
	dispatcher *Dispatcher
	clock      clock.Clock
	log        *logger.Logger
}

func NewBroadcaster(registry *Registry, dispatcher *Dispatcher, clk clock.Clock, log *logger.Logger) *Broadcaster {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Broadcaster{registry: registry, dispatcher: dispatcher, clock: clk, log: log}
}

// Broadcast fans one broadcast frame out to every live subscriber of channel
// that passes filter, and returns how many sends succeeded. Enqueueing never
// waits: a subscriber whose buffer is full is dropped. Closed connections
// found on the way are removed.
func (b *Broadcaster) Broadcast(channel, event string, data any, filter Filter) int {
	ids := b.registry.Subscribers(channel)
	metrics.IncrementBroadcast(len(ids) > 0)
	if len(ids) == 0 {
		return 0
	}

	start := time.Now()
	defer func() { metrics.ObserveBroadcast(time.Since(start)) }()

	ctx := context.Background()
	payload, err := Encode(BroadcastFrame{
		Type:      TypeBroadcast,
		Channel:   channel,
		Event:     event,
		Data:      data,
		Timestamp: clock.Format(b.clock.Now()),
	})
	if err != nil {
		b.log.WithFields(ctx, logger.Fields{
			"channel": channel,
			"event":   event,
			"action":  "ws_broadcast_marshal",
		}).Errorf("websocket broadcast marshal failed: %v", err)
		return 0
	}

	delivered := 0
	for _, id := range ids {
		conn, ok := b.registry.Get(id)
		if !ok {
			metrics.IncrementDelivery(metrics.DeliveryStale)
			continue
		}
		if conn.closed() {
			b.reap(ctx, id)
			continue
		}
		if !conn.ready() {
			metrics.IncrementDelivery(metrics.DeliveryNotReady)
			continue
		}
		if filter != nil && conn.Identity != nil && !filter(*conn.Identity, data) {
			metrics.IncrementDelivery(metrics.DeliveryFiltered)
			continue
		}
		if b.send(ctx, conn, payload, conn.transport.TrySend) {
			delivered++
		}
	}

	b.log.WithFields(ctx, logger.Fields{
		"channel":     channel,
		"event":       event,
		"subscribers": len(ids),
		"delivered":   delivered,
		"action":      "ws_broadcast",
	}).DebugSampled(constants.DebugSampleRate, "websocket broadcast completed")

	return delivered
}

// SendToOne delivers frame to a single connection and reports whether the
// transport accepted it.
func (b *Broadcaster) SendToOne(id string, frame OutboundFrame) bool {
	ctx := context.Background()

	conn, ok := b.registry.Get(id)
	if !ok {
		metrics.IncrementDelivery(metrics.DeliveryStale)
		return false
	}
	if conn.closed() {
		b.reap(ctx, id)
		return false
	}
	if !conn.ready() {
		metrics.IncrementDelivery(metrics.DeliveryNotReady)
		return false
	}

	payload, err := Encode(frame)
	if err != nil {
		b.log.WithFields(ctx, logger.Fields{
			"client_id":  id,
			"frame_type": string(frame.FrameType()),
			"action":     "ws_send_marshal",
		}).Errorf("websocket frame marshal failed: %v", err)
		return false
	}

	return b.send(ctx, conn, payload, conn.transport.Send)
}

// reap drops a connection whose transport already ended.
func (b *Broadcaster) reap(ctx context.Context, id string) {
	metrics.IncrementDelivery(metrics.DeliveryClosed)
	b.dispatcher.Disconnect(ctx, id, ReasonClosed)
}

// send treats a transport error as a disconnect of that one connection.
func (b *Broadcaster) send(ctx context.Context, conn Connection, payload []byte, enqueue func([]byte) error) bool {
	if err := enqueue(payload); err != nil {
		metrics.IncrementDelivery(metrics.DeliveryFailed)
		b.log.WithFields(ctx, logger.Fields{
			"client_id": conn.ID,
			"action":    "ws_send_failed",
		}).Warnf("websocket send failed, dropping connection: %v", err)
		b.dispatcher.Disconnect(ctx, conn.ID, ReasonSendFailed)
		_ = conn.transport.Close()
		return false
	}

	metrics.IncrementDelivery(metrics.DeliveryDelivered)
	return true
}
