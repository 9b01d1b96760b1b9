package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AlibekovAA/crm-realtime/internal/common/constants"
	commonerrors "github.com/AlibekovAA/crm-realtime/internal/common/errors"
)

type RealtimeConfig struct {
	HTTPPort             string
	DatabaseURL          string
	JWTSecret            string
	PublishAPIKeyHash    string
	AllowedOrigins       []string
	NotifyChannel        string
	WebSocketWriteWait   time.Duration
	WebSocketPongWait    time.Duration
	WebSocketPingPeriod  time.Duration
	WebSocketMaxMsgSize  int64
	WebSocketSendBufSize int
	WebSocketSendTimeout time.Duration
	FrameRatePerSecond   float64
	FrameRateBurst       int
	PublishRatePerSecond float64
	PublishRateBurst     int
	RequestTimeout       time.Duration
}

// fileConfig mirrors the optional YAML file. Every value there is a default
// that the matching environment variable overrides.
type fileConfig struct {
	HTTPPort          string   `yaml:"http_port"`
	DatabaseURL       string   `yaml:"database_url"`
	JWTSecret         string   `yaml:"jwt_secret"`
	PublishAPIKeyHash string   `yaml:"publish_api_key_hash"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	NotifyChannel     string   `yaml:"notify_channel"`
	WebSocket         struct {
		WriteWait   string `yaml:"write_wait"`
		PongWait    string `yaml:"pong_wait"`
		PingPeriod  string `yaml:"ping_period"`
		MaxMsgSize  int64  `yaml:"max_msg_size"`
		SendBufSize int    `yaml:"send_buf_size"`
		SendTimeout string `yaml:"send_timeout"`
	} `yaml:"websocket"`
	FrameRate struct {
		PerSecond *float64 `yaml:"per_second"`
		Burst     *int     `yaml:"burst"`
	} `yaml:"frame_rate"`
	PublishRate struct {
		PerSecond *float64 `yaml:"per_second"`
		Burst     *int     `yaml:"burst"`
	} `yaml:"publish_rate"`
	RequestTimeout string `yaml:"request_timeout"`
}

func LoadRealtimeConfig() (RealtimeConfig, error) {
	var file fileConfig
	if path := os.Getenv("REALTIME_CONFIG_FILE"); path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return RealtimeConfig{}, err
		}
		file = loaded
	}

	jwtSecret := getEnv("JWT_SECRET", file.JWTSecret)
	if jwtSecret != "" {
		if err := validateJWTSecret(jwtSecret); err != nil {
			return RealtimeConfig{}, err
		}
	}

	cfg := RealtimeConfig{
		HTTPPort:             getEnv("REALTIME_HTTP_PORT", orDefault(file.HTTPPort, constants.DefaultRealtimeHTTPPort)),
		DatabaseURL:          getEnv("DATABASE_URL", file.DatabaseURL),
		JWTSecret:            jwtSecret,
		PublishAPIKeyHash:    getEnv("REALTIME_PUBLISH_KEY_HASH", file.PublishAPIKeyHash),
		AllowedOrigins:       getListEnv("REALTIME_ALLOWED_ORIGINS", file.AllowedOrigins),
		NotifyChannel:        getEnv("REALTIME_NOTIFY_CHANNEL", orDefault(file.NotifyChannel, constants.DefaultNotifyChannel)),
		WebSocketWriteWait:   getDurationEnv("REALTIME_WS_WRITE_WAIT", fileDuration(file.WebSocket.WriteWait, constants.DefaultWebSocketWriteWait)),
		WebSocketPongWait:    getDurationEnv("REALTIME_WS_PONG_WAIT", fileDuration(file.WebSocket.PongWait, constants.DefaultWebSocketPongWait)),
		WebSocketPingPeriod:  getDurationEnv("REALTIME_WS_PING_PERIOD", fileDuration(file.WebSocket.PingPeriod, constants.DefaultWebSocketPingPeriod)),
		WebSocketMaxMsgSize:  getInt64Env("REALTIME_WS_MAX_MSG_SIZE", fileInt64(file.WebSocket.MaxMsgSize, constants.DefaultWebSocketMaxMsgSize)),
		WebSocketSendBufSize: getIntEnv("REALTIME_WS_SEND_BUF_SIZE", fileInt(file.WebSocket.SendBufSize, constants.DefaultWebSocketSendBufSize)),
		WebSocketSendTimeout: getDurationEnv("REALTIME_WS_SEND_TIMEOUT", fileDuration(file.WebSocket.SendTimeout, constants.DefaultWebSocketSendTimeout)),
		FrameRatePerSecond:   getFloatEnv("REALTIME_WS_FRAME_RATE", fileFloatPtr(file.FrameRate.PerSecond, constants.DefaultFrameRatePerSecond)),
		FrameRateBurst:       getIntEnv("REALTIME_WS_FRAME_BURST", fileIntPtr(file.FrameRate.Burst, constants.DefaultFrameRateBurst)),
		PublishRatePerSecond: getFloatEnv("REALTIME_PUBLISH_RATE", fileFloatPtr(file.PublishRate.PerSecond, constants.DefaultPublishRatePerSecond)),
		PublishRateBurst:     getIntEnv("REALTIME_PUBLISH_BURST", fileIntPtr(file.PublishRate.Burst, constants.DefaultPublishRateBurst)),
		RequestTimeout:       getDurationEnv("REALTIME_REQUEST_TIMEOUT", fileDuration(file.RequestTimeout, constants.DefaultRequestTimeout)),
	}

	if cfg.WebSocketPongWait > 0 && cfg.WebSocketPingPeriod >= cfg.WebSocketPongWait {
		cfg.WebSocketPingPeriod = (cfg.WebSocketPongWait * 9) / 10
	}

	return cfg, nil
}

func loadFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("%w: read %s: %v", commonerrors.ErrInvalidConfigFile, path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("%w: parse %s: %v", commonerrors.ErrInvalidConfigFile, path, err)
	}
	return cfg, nil
}

func validateJWTSecret(secret string) error {
	if len(secret) < constants.JWTSecretMinLength {
		return fmt.Errorf("%w: got %d bytes", commonerrors.ErrInvalidJWTSecret, len(secret))
	}
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func fileDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func fileInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func fileInt64(v, fallback int64) int64 {
	if v == 0 {
		return fallback
	}
	return v
}

func fileIntPtr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func fileFloatPtr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getListEnv(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getIntEnv(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64Env(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloatEnv(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
