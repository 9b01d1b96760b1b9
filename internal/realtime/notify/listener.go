package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/crm-realtime/internal/common/constants"
	"github.com/AlibekovAA/crm-realtime/internal/common/db"
	commonerrors "github.com/AlibekovAA/crm-realtime/internal/common/errors"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
	"github.com/AlibekovAA/crm-realtime/internal/observability/metrics"
	"github.com/AlibekovAA/crm-realtime/internal/realtime/websocket"
)

const (
	outcomeDelivered    = "delivered"
	outcomeNoRecipients = "no_recipients"
	outcomeInvalid      = "invalid"
)

// Publisher is the broadcast entry point the listener feeds.
type Publisher interface {
	Broadcast(channel, event string, data any, filter websocket.Filter) int
}

// Notification is the JSON payload business mutations send with
// pg_notify(<channel>, payload).
type Notification struct {
	Channel        string          `json:"channel"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
	ExcludeUserIDs []string        `json:"exclude_user_ids"`
	Roles          []string        `json:"roles"`
}

type Config struct {
	Channel string
	Retry   db.RetryConfig
}

func DefaultConfig(channel string) Config {
	if channel == "" {
		channel = constants.DefaultNotifyChannel
	}
	return Config{
		Channel: channel,
		Retry: db.RetryConfig{
			InitialDelay: constants.NotifyReconnectMinDelay,
			MaxDelay:     constants.NotifyReconnectMaxDelay,
			Multiplier:   constants.NotifyReconnectMultiplier,
		},
	}
}

type Listener struct {
	pool      *pgxpool.Pool
	publisher Publisher
	cfg       Config
	log       *logger.Logger
}

func NewListener(pool *pgxpool.Pool, publisher Publisher, cfg Config, log *logger.Logger) *Listener {
	return &Listener{pool: pool, publisher: publisher, cfg: cfg, log: log}
}

// Run holds a LISTEN connection and reconnects with backoff until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	backoff := db.NewBackoff(l.cfg.Retry)

	for ctx.Err() == nil {
		err := l.listen(ctx, backoff)
		metrics.NotifyListenerUp.Set(0)
		if ctx.Err() != nil {
			l.log.Infof("notify listener stopped channel=%s", l.cfg.Channel)
			return nil
		}

		delay := backoff.Next()
		metrics.NotifyListenerReconnects.Inc()
		l.log.WithFields(ctx, logger.Fields{
			"channel":   l.cfg.Channel,
			"retryable": db.IsRetryable(err),
			"delay":     delay.String(),
			"action":    "notify_reconnect",
		}).Warnf("notify listener lost connection: %v", err)

		if err := sleep(ctx, delay); err != nil {
			return nil
		}
	}
	return nil
}

func (l *Listener) listen(ctx context.Context, backoff *db.Backoff) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	// A listening session must not go back to the pool.
	conn := pooled.Hijack()
	defer func() {
		_ = conn.Close(context.Background())
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.cfg.Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.cfg.Channel, err)
	}

	metrics.NotifyListenerUp.Set(1)
	backoff.Reset()
	l.log.Infof("notify listener subscribed channel=%s", l.cfg.Channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.Handle(ctx, n)
	}
}

// Handle decodes one notification and broadcasts it. Invalid payloads are
// logged and dropped.
func (l *Listener) Handle(ctx context.Context, n *pgconn.Notification) int {
	notification, err := DecodeNotification([]byte(n.Payload))
	if err != nil {
		metrics.NotifyNotificationsTotal.WithLabelValues(outcomeInvalid).Inc()
		l.log.WithFields(ctx, logger.Fields{
			"pg_channel": n.Channel,
			"pid":        n.PID,
			"action":     "notify_invalid_payload",
		}).Warnf("notify payload rejected: %v", err)
		return 0
	}

	recipients := l.publisher.Broadcast(
		notification.Channel,
		notification.Event,
		rawData(notification.Data),
		websocket.AudienceFilter(notification.ExcludeUserIDs, notification.Roles),
	)

	outcome := outcomeDelivered
	if recipients == 0 {
		outcome = outcomeNoRecipients
	}
	metrics.NotifyNotificationsTotal.WithLabelValues(outcome).Inc()

	l.log.WithFields(ctx, logger.Fields{
		"channel":    notification.Channel,
		"event":      notification.Event,
		"recipients": recipients,
		"action":     "notify_broadcast",
	}).DebugSampled(constants.DebugSampleRate, "notify broadcast")
	return recipients
}

func DecodeNotification(payload []byte) (Notification, error) {
	var n Notification
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&n); err != nil {
		return Notification{}, commonerrors.ErrInvalidPayload.WithCause(err)
	}
	if n.Channel == "" {
		return Notification{}, commonerrors.ErrInvalidPayload.WithMessage("channel is required")
	}
	if len(n.Channel) > constants.MaxChannelNameLength {
		return Notification{}, commonerrors.ErrInvalidPayload.WithMessage("channel is too long")
	}
	if n.Event == "" {
		n.Event = constants.DefaultSubscribeEvent
	}
	if len(n.Event) > constants.MaxEventNameLength {
		return Notification{}, commonerrors.ErrInvalidPayload.WithMessage("event is too long")
	}
	return n, nil
}

func rawData(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return data
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
