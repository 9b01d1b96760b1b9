package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/AlibekovAA/crm-realtime/internal/common/clock"
	"github.com/AlibekovAA/crm-realtime/internal/common/config"
	"github.com/AlibekovAA/crm-realtime/internal/common/constants"
	"github.com/AlibekovAA/crm-realtime/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/crm-realtime/internal/common/errors"
	commonhttp "github.com/AlibekovAA/crm-realtime/internal/common/http"
	"github.com/AlibekovAA/crm-realtime/internal/common/jwtverify"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
	"github.com/AlibekovAA/crm-realtime/internal/realtime/websocket"
)

const apiKeyHeader = "X-API-Key"

type Hub interface {
	Serve(ctx context.Context, conn *gorillaWS.Conn, identity *websocket.Identity) (string, error)
	Broadcast(channel, event string, data any, filter websocket.Filter) int
	SendToOne(id string, frame websocket.OutboundFrame) bool
	Stats() websocket.Stats
}

type Deps struct {
	Hub         Hub
	Config      config.RealtimeConfig
	Hasher      crypto.KeyHasher
	RateLimiter *commonhttp.RateLimiter
	Clock       clock.Clock
	Log         *logger.Logger
}

type Handler struct {
	hub         Hub
	cfg         config.RealtimeConfig
	hasher      crypto.KeyHasher
	rateLimiter *commonhttp.RateLimiter
	clock       clock.Clock
	upgrader    gorillaWS.Upgrader
	log         *logger.Logger
}

type publishRequest struct {
	Channel        string          `json:"channel" validate:"required,max=255"`
	Event          string          `json:"event" validate:"max=64"`
	Data           json.RawMessage `json:"data"`
	ExcludeUserIDs []string        `json:"exclude_user_ids" validate:"omitempty,dive,required"`
	Roles          []string        `json:"roles" validate:"omitempty,dive,required"`
}

type publishResponse struct {
	Recipients int `json:"recipients"`
}

type sendRequest struct {
	Channel string          `json:"channel" validate:"max=255"`
	Event   string          `json:"event" validate:"required,max=64"`
	Data    json.RawMessage `json:"data"`
}

type sendResponse struct {
	Delivered bool `json:"delivered"`
}

func NewHandler(deps Deps) http.Handler {
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	hasher := deps.Hasher
	if hasher == nil {
		hasher = crypto.NewBcryptHasher()
	}
	rateLimiter := deps.RateLimiter
	if rateLimiter == nil {
		rateLimiter = commonhttp.NewRateLimiter(deps.Config.PublishRatePerSecond, deps.Config.PublishRateBurst)
	}

	h := &Handler{
		hub:         deps.Hub,
		cfg:         deps.Config,
		hasher:      hasher,
		rateLimiter: rateLimiter,
		clock:       clk,
		log:         deps.Log,
	}
	h.upgrader = gorillaWS.Upgrader{
		ReadBufferSize:  constants.WebSocketReadBufferSize,
		WriteBufferSize: constants.WebSocketWriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/health", commonhttp.HealthHandler(deps.Log, h.healthStats))

	if h.cfg.PublishAPIKeyHash != "" {
		limit := h.rateLimiter.Middleware("publish")
		mux.Handle("/api/realtime/publish", limit(h.requireAPIKey(
			commonhttp.RequireMethod(http.MethodPost)(commonhttp.WithTimeout(h.cfg.RequestTimeout)(h.publish)),
		)))
		mux.Handle("POST /api/realtime/connections/{id}/send", limit(h.requireAPIKey(
			commonhttp.WithTimeout(h.cfg.RequestTimeout)(h.sendToConnection),
		)))
	} else {
		h.log.Warnf("publish api disabled: no api key hash configured")
	}

	if h.cfg.JWTSecret != "" {
		mux.Handle("/api/realtime/stats", jwtverify.Middleware(h.cfg.JWTSecret, h.log)(
			jwtverify.RequireRole("admin", h.log)(commonhttp.RequireMethod(http.MethodGet)(h.stats)),
		))
	}

	return mux
}

// checkOrigin accepts requests without Origin, same-host origins, and the
// configured allow list.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return strings.EqualFold(u.Host, host)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := h.handshakeIdentity(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithFields(ctx, logger.Fields{
			"action": "ws_upgrade_failed",
		}).Errorf("websocket upgrade failed: %v", err)
		return
	}

	id, err := h.hub.Serve(ctx, conn, identity)
	if err != nil {
		h.log.WithFields(ctx, logger.Fields{
			"action": "ws_serve_failed",
		}).Warnf("websocket serve failed: %v", err)
		return
	}

	if identity != nil {
		h.log.WithFields(ctx, logger.Fields{
			"client_id": id,
			"user_id":   identity.ID,
			"action":    "ws_authenticated_via_handshake",
		}).Info("websocket client authenticated via handshake token")
	}
}

// handshakeIdentity never rejects the upgrade; a missing or invalid token
// just leaves the connection anonymous.
func (h *Handler) handshakeIdentity(r *http.Request) *websocket.Identity {
	if h.cfg.JWTSecret == "" {
		return nil
	}
	token, ok := jwtverify.ExtractTokenFromRequest(r)
	if !ok {
		return nil
	}
	claims, err := jwtverify.ParseToken(token, []byte(h.cfg.JWTSecret))
	if err != nil {
		h.log.WithFields(r.Context(), logger.Fields{
			"action": "ws_handshake_token_invalid",
		}).Debugf("websocket handshake token rejected: %v", err)
		return nil
	}
	return &websocket.Identity{
		ID:          claims.UserID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Roles:       claims.Roles,
	}
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" || h.hasher.Compare(h.cfg.PublishAPIKeyHash, key) != nil {
			h.log.WithFields(r.Context(), logger.Fields{
				"path":   r.URL.Path,
				"ip":     commonhttp.GetClientIP(r),
				"action": "publish_api_key_rejected",
			}).Warn("publish api key rejected")
			commonhttp.HandleError(w, r, commonerrors.ErrInvalidAPIKey, h.log)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req publishRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		commonhttp.WriteDecodeError(w, r, err)
		return
	}
	if err := commonhttp.ValidateStruct(req); err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	event := req.Event
	if event == "" {
		event = constants.DefaultSubscribeEvent
	}

	recipients := h.hub.Broadcast(req.Channel, event, rawData(req.Data), websocket.AudienceFilter(req.ExcludeUserIDs, req.Roles))

	h.log.WithFields(ctx, logger.Fields{
		"channel":    req.Channel,
		"event":      event,
		"recipients": recipients,
		"action":     "publish_success",
	}).Info("realtime publish success")
	commonhttp.WriteJSON(w, http.StatusOK, publishResponse{Recipients: recipients})
}

func (h *Handler) sendToConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := r.PathValue("id")
	if err := commonhttp.ValidateUUID(id); err != nil {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeInvalidPath, "connection id must be a uuid", nil, "")
		return
	}

	var req sendRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		commonhttp.WriteDecodeError(w, r, err)
		return
	}
	if err := commonhttp.ValidateStruct(req); err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	delivered := h.hub.SendToOne(id, websocket.BroadcastFrame{
		Type:      websocket.TypeBroadcast,
		Channel:   req.Channel,
		Event:     req.Event,
		Data:      rawData(req.Data),
		Timestamp: clock.Format(h.clock.Now()),
	})

	h.log.WithFields(ctx, logger.Fields{
		"client_id": id,
		"event":     req.Event,
		"delivered": delivered,
		"action":    "send_to_connection",
	}).Info("realtime direct send")
	commonhttp.WriteJSON(w, http.StatusOK, sendResponse{Delivered: delivered})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	commonhttp.WriteJSON(w, http.StatusOK, h.hub.Stats())
}

func (h *Handler) healthStats() map[string]any {
	s := h.hub.Stats()
	return map[string]any{
		"connections": s.Connections,
		"time":        clock.Format(h.clock.Now()),
	}
}

// rawData keeps a missing body field as JSON null.
func rawData(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
