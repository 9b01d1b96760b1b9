package constants

import "time"

const (
	JWTSecretMinLength = 32

	DefaultSubscribeEvent = "INSERT"

	MaxChannelNameLength  = 255
	MaxEventNameLength    = 64
	DefaultMaxRequestSize = 1 << 20

	WebSocketReadBufferSize  = 1024
	WebSocketWriteBufferSize = 1024

	DefaultRealtimeHTTPPort = "8083"

	DefaultWebSocketWriteWait   = 10 * time.Second
	DefaultWebSocketPongWait    = 60 * time.Second
	DefaultWebSocketPingPeriod  = 54 * time.Second
	DefaultWebSocketMaxMsgSize  = 1 << 20
	DefaultWebSocketSendBufSize = 256
	DefaultWebSocketSendTimeout = 2 * time.Second

	DefaultFrameRatePerSecond = 50
	DefaultFrameRateBurst     = 100

	DefaultPublishRatePerSecond = 200
	DefaultPublishRateBurst     = 400
	RateLimitCleanupInterval    = 5 * time.Minute

	DefaultRequestTimeout = 5 * time.Second

	DefaultNotifyChannel      = "crm_events"
	NotifyReconnectMinDelay   = 500 * time.Millisecond
	NotifyReconnectMaxDelay   = 30 * time.Second
	NotifyReconnectMultiplier = 2.0

	DBPoolMaxConns        = 5
	DBPoolMinConns        = 1
	DBPoolConnMaxLifetime = time.Hour
	DBPoolConnMaxIdleTime = 30 * time.Minute
	DBPoolHealthCheck     = time.Minute
	DBPoolConnectTimeout  = 5 * time.Second
	DBPoolMaxAttempts     = 10
	DBPoolRetryDelay      = time.Second
	DBPoolMetricsInterval = 30 * time.Second

	ServerReadHeaderTimeout = 10 * time.Second
	ServerReadTimeout       = 30 * time.Second
	ServerWriteTimeout      = 30 * time.Second
	ServerIdleTimeout       = 120 * time.Second
	ServerMaxHeaderBytes    = 16 << 10

	ShutdownTimeout = 30 * time.Second
	DrainTimeout    = 10 * time.Second

	DebugSampleRate = 0.01

	LoggerMaxSize    = 100
	LoggerMaxBackups = 3
	LoggerMaxAge     = 28
)

type TraceIDKeyType string

const TraceIDKey TraceIDKeyType = "trace_id"
