package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/AlibekovAA/crm-realtime/internal/common/clock"
	"github.com/AlibekovAA/crm-realtime/internal/common/constants"
	commonerrors "github.com/AlibekovAA/crm-realtime/internal/common/errors"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
	"github.com/AlibekovAA/crm-realtime/internal/realtime/metrics"
)

const (
	connectedMessage     = "Connected to realtime server"
	authenticatedMessage = "Authentication successful"
)

const (
	ReasonClosed      = "closed"
	ReasonReadError   = "read_error"
	ReasonSendFailed  = "send_failed"
	ReasonShutdown    = "shutdown"
	ReasonAcceptError = "accept_error"
)

// Dispatcher turns inbound control frames into registry mutations and the
// frames to send back. It never writes to a transport itself except for the
// connection acknowledgement on accept.
type Dispatcher struct {
	registry *Registry
	clock    clock.Clock
	log      *logger.Logger
}

func NewDispatcher(registry *Registry, clk clock.Clock, log *logger.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Dispatcher{registry: registry, clock: clk, log: log}
}

// Accept registers t, attaches identity when one came with the handshake,
// and sends the connection acknowledgement.
func (d *Dispatcher) Accept(ctx context.Context, t Transport, identity *Identity) (Connection, error) {
	conn, err := d.registry.Register(t)
	if err != nil {
		d.log.WithFields(ctx, logger.Fields{
			"action": "ws_register_failed",
		}).Errorf("websocket register failed: %v", err)
		return Connection{}, err
	}

	if identity != nil {
		if err := d.registry.SetIdentity(conn.ID, *identity); err != nil {
			return Connection{}, err
		}
	}

	frame, err := Encode(ConnectionFrame{
		Type:     TypeConnection,
		ClientID: conn.ID,
		Message:  connectedMessage,
	})
	if err != nil {
		d.Disconnect(ctx, conn.ID, ReasonAcceptError)
		return Connection{}, commonerrors.ErrMarshalError.WithCause(err)
	}
	if err := t.Send(frame); err != nil {
		d.Disconnect(ctx, conn.ID, ReasonAcceptError)
		return Connection{}, err
	}

	d.log.WithFields(ctx, logger.Fields{
		"client_id":     conn.ID,
		"authenticated": identity != nil,
		"action":        "ws_register",
	}).Info("websocket client registered")
	return conn, nil
}

// HandleFrame processes one raw inbound frame for connID and returns the
// frames to reply with. A panic while handling is reported to the client as
// a generic error.
func (d *Dispatcher) HandleFrame(ctx context.Context, connID string, raw []byte) (out []OutboundFrame) {
	start := time.Now()
	frameType := "invalid"

	defer func() {
		if rec := recover(); rec != nil {
			d.log.WithFields(ctx, logger.Fields{
				"client_id":  connID,
				"frame_type": frameType,
				"action":     "ws_frame_panic",
			}).Errorf("websocket frame handling panic: %v\n%s", rec, debug.Stack())
			out = []OutboundFrame{d.errorFrame(commonerrors.ErrInternalError, commonerrors.ErrInternalError.Message())}
		}
		metrics.ObserveFrameHandling(frameType, time.Since(start))
	}()

	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		d.log.WithFields(ctx, logger.Fields{
			"client_id": connID,
			"action":    "ws_invalid_frame",
		}).DebugSampled(constants.DebugSampleRate, "websocket invalid frame")
		return []OutboundFrame{d.errorFrame(commonerrors.ErrInvalidMessageFormat, commonerrors.ErrInvalidMessageFormat.Message())}
	}

	switch frame.Type {
	case TypeSubscribe, TypeUnsubscribe, TypeAuthenticate, TypePing:
		frameType = string(frame.Type)
	default:
		frameType = "unknown"
	}
	metrics.IncrementFrame(frameType)

	switch frame.Type {
	case TypeSubscribe:
		return d.handleSubscribe(ctx, connID, frame)
	case TypeUnsubscribe:
		return d.handleUnsubscribe(ctx, connID, frame)
	case TypeAuthenticate:
		return d.handleAuthenticate(ctx, connID, frame)
	case TypePing:
		return []OutboundFrame{PongFrame{Type: TypePong, Timestamp: clock.Format(d.clock.Now())}}
	default:
		return []OutboundFrame{d.errorFrame(commonerrors.ErrUnknownMessageType, fmt.Sprintf("Unknown message type: %s", frame.Type))}
	}
}

func (d *Dispatcher) handleSubscribe(ctx context.Context, connID string, frame InboundFrame) []OutboundFrame {
	if frame.Channel == "" {
		return []OutboundFrame{d.errorFrame(commonerrors.ErrChannelRequired, commonerrors.ErrChannelRequired.Message())}
	}

	event := frame.Event
	if event == "" {
		event = constants.DefaultSubscribeEvent
	}

	added, err := d.registry.Subscribe(connID, frame.Channel)
	if err != nil {
		// The connection went away between read and dispatch.
		return nil
	}

	d.log.WithFields(ctx, logger.Fields{
		"client_id": connID,
		"channel":   frame.Channel,
		"event":     event,
		"new":       added,
		"action":    "ws_subscribe",
	}).Debug("websocket client subscribed")

	return []OutboundFrame{SubscribedFrame{
		Type:    TypeSubscribed,
		Channel: frame.Channel,
		Event:   event,
		Message: "Subscribed to " + frame.Channel,
	}}
}

func (d *Dispatcher) handleUnsubscribe(ctx context.Context, connID string, frame InboundFrame) []OutboundFrame {
	if frame.Channel == "" {
		return []OutboundFrame{d.errorFrame(commonerrors.ErrUnsubscribeChannelRequired, commonerrors.ErrUnsubscribeChannelRequired.Message())}
	}

	removed := d.registry.Unsubscribe(connID, frame.Channel)

	d.log.WithFields(ctx, logger.Fields{
		"client_id": connID,
		"channel":   frame.Channel,
		"removed":   removed,
		"action":    "ws_unsubscribe",
	}).Debug("websocket client unsubscribed")

	return []OutboundFrame{UnsubscribedFrame{
		Type:    TypeUnsubscribed,
		Channel: frame.Channel,
		Message: "Unsubscribed from " + frame.Channel,
	}}
}

func (d *Dispatcher) handleAuthenticate(ctx context.Context, connID string, frame InboundFrame) []OutboundFrame {
	identity, ok := parseIdentity(frame.User)
	if frame.Token == "" || !ok {
		return []OutboundFrame{d.errorFrame(commonerrors.ErrInvalidAuthData, commonerrors.ErrInvalidAuthData.Message())}
	}

	if err := d.registry.SetIdentity(connID, identity); err != nil {
		return nil
	}

	d.log.WithFields(ctx, logger.Fields{
		"client_id": connID,
		"user_id":   identity.ID,
		"action":    "ws_authenticate",
	}).Info("websocket client authenticated")

	return []OutboundFrame{AuthenticatedFrame{
		Type:    TypeAuthenticated,
		User:    identity.Public(),
		Message: authenticatedMessage,
	}}
}

// Disconnect releases every channel of connID and then the connection record.
// Both steps run even if the first one panics.
func (d *Dispatcher) Disconnect(ctx context.Context, connID, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.WithFields(ctx, logger.Fields{
				"client_id": connID,
				"action":    "ws_disconnect_panic",
			}).Errorf("websocket registry removal panic: %v", rec)
		}
	}()

	released := d.releaseChannels(ctx, connID)
	if !d.registry.Remove(connID) {
		return
	}

	metrics.IncrementDisconnection(reason)
	d.log.WithFields(ctx, logger.Fields{
		"client_id": connID,
		"reason":    reason,
		"channels":  len(released),
		"action":    "ws_unregister",
	}).Info("websocket client unregistered")
}

func (d *Dispatcher) releaseChannels(ctx context.Context, connID string) (released []string) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.WithFields(ctx, logger.Fields{
				"client_id": connID,
				"action":    "ws_disconnect_panic",
			}).Errorf("websocket channel release panic: %v", rec)
		}
	}()
	return d.registry.RemoveEverywhere(connID)
}

func (d *Dispatcher) errorFrame(err commonerrors.DomainError, message string) ErrorFrame {
	metrics.IncrementError(strings.ToLower(err.Code()))
	return NewErrorFrame(message)
}

// parseIdentity accepts a non-empty JSON object. Numeric ids are kept in
// their textual form.
func parseIdentity(raw json.RawMessage) (Identity, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Identity{}, false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || len(fields) == 0 {
		return Identity{}, false
	}

	identity := Identity{
		ID:          scalarString(fields["id"]),
		Email:       scalarString(fields["email"]),
		DisplayName: scalarString(fields["display_name"]),
	}
	if roles, ok := fields["roles"].([]any); ok {
		for _, role := range roles {
			if s := scalarString(role); s != "" {
				identity.Roles = append(identity.Roles, s)
			}
		}
	}
	return identity, true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
