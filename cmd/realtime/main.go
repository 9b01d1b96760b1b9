package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/AlibekovAA/crm-realtime/internal/common/clock"
	"github.com/AlibekovAA/crm-realtime/internal/common/config"
	"github.com/AlibekovAA/crm-realtime/internal/common/crypto"
	"github.com/AlibekovAA/crm-realtime/internal/common/db"
	commonhttp "github.com/AlibekovAA/crm-realtime/internal/common/http"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
	srv "github.com/AlibekovAA/crm-realtime/internal/common/server"
	realtimehttp "github.com/AlibekovAA/crm-realtime/internal/realtime/http"
	"github.com/AlibekovAA/crm-realtime/internal/realtime/notify"
	"github.com/AlibekovAA/crm-realtime/internal/realtime/websocket"
)

const serviceName = "realtime"

func main() {
	log, err := logger.New(os.Getenv("LOG_DIR"), serviceName, os.Getenv("LOG_LEVEL"))
	if err != nil {
		logger.NewWithWriter(os.Stderr, serviceName, "ERROR").Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		_ = log.Close()
	}()

	cfg, err := config.LoadRealtimeConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorf("%s service stopped with error: %v", serviceName, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.RealtimeConfig, log *logger.Logger) error {
	clk := clock.NewRealClock()

	hub := websocket.NewHub(log, websocket.HubConfig{
		Client: websocket.ClientConfig{
			WriteWait:          cfg.WebSocketWriteWait,
			PongWait:           cfg.WebSocketPongWait,
			PingPeriod:         cfg.WebSocketPingPeriod,
			MaxMessageSize:     cfg.WebSocketMaxMsgSize,
			SendBufferSize:     cfg.WebSocketSendBufSize,
			SendTimeout:        cfg.WebSocketSendTimeout,
			FrameRatePerSecond: cfg.FrameRatePerSecond,
			FrameRateBurst:     cfg.FrameRateBurst,
		},
		IDs:   crypto.NewUUIDGenerator(),
		Clock: clk,
	})

	publishLimiter := commonhttp.NewRateLimiter(cfg.PublishRatePerSecond, cfg.PublishRateBurst)

	realtimeHandler := realtimehttp.NewHandler(realtimehttp.Deps{
		Hub:         hub,
		Config:      cfg,
		Hasher:      crypto.NewBcryptHasher(),
		RateLimiter: publishLimiter,
		Clock:       clk,
		Log:         log,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", realtimeHandler)

	serverCfg := srv.DefaultServerConfig(cfg.HTTPPort)
	serverCfg.ErrorLog = log.StdLogger(logger.WARNING)
	server := srv.NewServer(serverCfg, commonhttp.BuildBaseHandler(log, mux))

	var listener *notify.Listener
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, notify bridge disabled")
	} else {
		pool, err := db.NewPool(ctx, log, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		listener = notify.NewListener(pool, hub, notify.DefaultConfig(cfg.NotifyChannel), log)

		go db.RunPoolMetrics(ctx, pool, 0)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx, server, log, serviceName, hub.Shutdown)
	})

	g.Go(func() error {
		publishLimiter.Run(ctx)
		return nil
	})

	if listener != nil {
		g.Go(func() error {
			return listener.Run(ctx)
		})
	}

	return g.Wait()
}
