package websocket

import (
	"context"
	"sync"

	gorillaWS "github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AlibekovAA/crm-realtime/internal/common/clock"
	"github.com/AlibekovAA/crm-realtime/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/crm-realtime/internal/common/errors"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
)

type HubConfig struct {
	Client ClientConfig
	IDs    crypto.IDGenerator
	Clock  clock.Clock
}

// Hub wires the registry, dispatcher and broadcaster together and owns the
// goroutines of every accepted WebSocket.
type Hub struct {
	registry    *Registry
	dispatcher  *Dispatcher
	broadcaster *Broadcaster
	cfg         ClientConfig
	log         *logger.Logger
	wg          sync.WaitGroup

	// mu orders closing against wg.Add so Shutdown never waits while a
	// new goroutine is being added.
	mu      sync.Mutex
	closing bool
}

func NewHub(log *logger.Logger, cfg HubConfig) *Hub {
	registry := NewRegistry(cfg.IDs, cfg.Clock)
	dispatcher := NewDispatcher(registry, cfg.Clock, log)
	return &Hub{
		registry:    registry,
		dispatcher:  dispatcher,
		broadcaster: NewBroadcaster(registry, dispatcher, cfg.Clock, log),
		cfg:         cfg.Client,
		log:         log,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Serve takes ownership of an upgraded connection. identity, when not nil,
// is attached before the first frame is read.
func (h *Hub) Serve(ctx context.Context, conn *gorillaWS.Conn, identity *Identity) (string, error) {
	transport := newWSTransport(conn, h.cfg)
	if !h.track(transport.writePump) {
		_ = conn.Close()
		return "", commonerrors.ErrTransportClosed
	}

	registered, err := h.dispatcher.Accept(ctx, transport, identity)
	if err != nil {
		_ = transport.Close()
		return "", err
	}

	var limiter *rate.Limiter
	if h.cfg.FrameRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.FrameRatePerSecond), h.cfg.FrameRateBurst)
	}

	client := &Client{
		id:          registered.ID,
		conn:        conn,
		transport:   transport,
		dispatcher:  h.dispatcher,
		broadcaster: h.broadcaster,
		limiter:     limiter,
		cfg:         h.cfg,
		ctx:         context.WithoutCancel(ctx),
		log:         h.log,
	}

	if !h.track(client.readPump) {
		h.dispatcher.Disconnect(ctx, registered.ID, ReasonShutdown)
		_ = transport.Close()
		return "", commonerrors.ErrTransportClosed
	}

	return registered.ID, nil
}

// track runs fn on a goroutine Shutdown waits for. It refuses once
// Shutdown has started.
func (h *Hub) track(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
	return true
}

func (h *Hub) Broadcast(channel, event string, data any, filter Filter) int {
	return h.broadcaster.Broadcast(channel, event, data, filter)
}

func (h *Hub) SendToOne(id string, frame OutboundFrame) bool {
	return h.broadcaster.SendToOne(id, frame)
}

func (h *Hub) Stats() Stats {
	return h.registry.Stats()
}

// Shutdown closes every live transport and waits for their goroutines to
// finish cleanup, or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	ids := h.registry.IDs()
	for _, id := range ids {
		conn, ok := h.registry.Get(id)
		if !ok {
			continue
		}
		h.dispatcher.Disconnect(ctx, id, ReasonShutdown)
		if conn.transport != nil {
			_ = conn.transport.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.WithFields(ctx, logger.Fields{
			"clients": len(ids),
			"action":  "ws_hub_shutdown",
		}).Info("websocket hub shutdown completed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
