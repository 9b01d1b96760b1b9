package websocket

import (
	"context"
	"sync"
	"time"

	gorillaWS "github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AlibekovAA/crm-realtime/internal/common/constants"
	commonerrors "github.com/AlibekovAA/crm-realtime/internal/common/errors"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
	"github.com/AlibekovAA/crm-realtime/internal/realtime/metrics"
)

type ClientConfig struct {
	WriteWait          time.Duration
	PongWait           time.Duration
	PingPeriod         time.Duration
	MaxMessageSize     int64
	SendBufferSize     int
	SendTimeout        time.Duration
	FrameRatePerSecond float64
	FrameRateBurst     int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:          constants.DefaultWebSocketWriteWait,
		PongWait:           constants.DefaultWebSocketPongWait,
		PingPeriod:         constants.DefaultWebSocketPingPeriod,
		MaxMessageSize:     constants.DefaultWebSocketMaxMsgSize,
		SendBufferSize:     constants.DefaultWebSocketSendBufSize,
		SendTimeout:        constants.DefaultWebSocketSendTimeout,
		FrameRatePerSecond: constants.DefaultFrameRatePerSecond,
		FrameRateBurst:     constants.DefaultFrameRateBurst,
	}
}

// wsTransport queues frames for a single writer goroutine. The send channel
// is never closed; done signals shutdown to both sides.
type wsTransport struct {
	conn        *gorillaWS.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	sendTimeout time.Duration
	writeWait   time.Duration
	pingPeriod  time.Duration
}

func newWSTransport(conn *gorillaWS.Conn, cfg ClientConfig) *wsTransport {
	bufSize := cfg.SendBufferSize
	if bufSize <= 0 {
		bufSize = constants.DefaultWebSocketSendBufSize
	}
	return &wsTransport{
		conn:        conn,
		send:        make(chan []byte, bufSize),
		done:        make(chan struct{}),
		sendTimeout: cfg.SendTimeout,
		writeWait:   cfg.WriteWait,
		pingPeriod:  cfg.PingPeriod,
	}
}

func (t *wsTransport) Send(frame []byte) error {
	select {
	case <-t.done:
		return commonerrors.ErrTransportClosed
	default:
	}

	select {
	case t.send <- frame:
		return nil
	default:
	}

	if t.sendTimeout <= 0 {
		return commonerrors.ErrSendTimeout
	}

	timer := time.NewTimer(t.sendTimeout)
	defer timer.Stop()

	select {
	case t.send <- frame:
		return nil
	case <-t.done:
		return commonerrors.ErrTransportClosed
	case <-timer.C:
		return commonerrors.ErrSendTimeout
	}
}

func (t *wsTransport) TrySend(frame []byte) error {
	select {
	case <-t.done:
		return commonerrors.ErrTransportClosed
	default:
	}

	select {
	case t.send <- frame:
		return nil
	default:
		return commonerrors.ErrSendBufferFull
	}
}

// Ready is true for as long as the session is open; the write pump starts
// before the connection is registered.
func (t *wsTransport) Ready() bool {
	return !t.Closed()
}

func (t *wsTransport) Closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	return nil
}

func (t *wsTransport) writePump() {
	var tick <-chan time.Time
	if t.pingPeriod > 0 {
		ticker := time.NewTicker(t.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	defer func() {
		_ = t.Close()
		_ = t.conn.Close()
	}()

	for {
		select {
		case frame := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := t.conn.WriteMessage(gorillaWS.TextMessage, frame); err != nil {
				return
			}

		case <-tick:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := t.conn.WriteMessage(gorillaWS.PingMessage, nil); err != nil {
				return
			}

		case <-t.done:
			t.flush()
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			_ = t.conn.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames already queued when the transport was closed.
func (t *wsTransport) flush() {
	for {
		select {
		case frame := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := t.conn.WriteMessage(gorillaWS.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Client runs the read loop of one connection.
type Client struct {
	id          string
	conn        *gorillaWS.Conn
	transport   *wsTransport
	dispatcher  *Dispatcher
	broadcaster *Broadcaster
	limiter     *rate.Limiter
	cfg         ClientConfig
	ctx         context.Context
	log         *logger.Logger
}

func (c *Client) readPump() {
	reason := ReasonClosed
	defer func() {
		c.dispatcher.Disconnect(c.ctx, c.id, reason)
		_ = c.transport.Close()
	}()

	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	if c.cfg.PongWait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		})
	}

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if gorillaWS.IsUnexpectedCloseError(err, gorillaWS.CloseGoingAway, gorillaWS.CloseNormalClosure, gorillaWS.CloseNoStatusReceived) && !c.transport.Closed() {
				reason = ReasonReadError
				c.log.WithFields(c.ctx, logger.Fields{
					"client_id": c.id,
					"action":    "ws_read_error",
				}).Warnf("websocket read error: %v", err)
			}
			return
		}
		if c.cfg.PongWait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		}
		if messageType != gorillaWS.TextMessage && messageType != gorillaWS.BinaryMessage {
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			metrics.IncrementFrameRateLimited()
			metrics.IncrementError(commonerrors.ErrRateLimited.Code())
			if !c.broadcaster.SendToOne(c.id, NewErrorFrame(commonerrors.ErrRateLimited.Message())) {
				reason = ReasonSendFailed
				return
			}
			continue
		}

		for _, frame := range c.dispatcher.HandleFrame(c.ctx, c.id, raw) {
			if !c.broadcaster.SendToOne(c.id, frame) {
				reason = ReasonSendFailed
				return
			}
		}
	}
}
