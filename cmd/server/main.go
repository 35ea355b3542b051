// Command server runs the presence backend: REST endpoints for users and
// friend requests, an SSE event stream, and the broker-backed presence
// tracker that ties replicas together.
//
//	@title						Presence Backend API
//	@version					1.0
//	@description				Realtime presence, friend requests and user discovery over REST and Server-Sent Events.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"
	"gorm.io/gorm"

	"github.com/tbourn/go-presence-backend/internal/broker"
	"github.com/tbourn/go-presence-backend/internal/cache"
	"github.com/tbourn/go-presence-backend/internal/config"
	httpapi "github.com/tbourn/go-presence-backend/internal/http"
	"github.com/tbourn/go-presence-backend/internal/http/handlers"
	"github.com/tbourn/go-presence-backend/internal/observability"
	"github.com/tbourn/go-presence-backend/internal/presence"
	"github.com/tbourn/go-presence-backend/internal/realtime"
	"github.com/tbourn/go-presence-backend/internal/repo"
	"github.com/tbourn/go-presence-backend/internal/services"
	"github.com/tbourn/go-presence-backend/internal/supervisor"
	"github.com/tbourn/go-presence-backend/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	logger := sysutil.NewLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped gracefully")
}

// app is the wired process: storage, broker, realtime and HTTP.
type app struct {
	db      *gorm.DB
	broker  broker.Broker
	brokerS suture.Service // nil for the in-process broker
	gateway *realtime.Gateway
	server  *http.Server
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	a := newApp(cfg, db, logger)
	defer a.close(logger)

	tree := supervisor.NewTree(logger, supervisor.TreeConfig{ShutdownTimeout: cfg.ShutdownTimeout})
	if a.brokerS != nil {
		tree.AddMessagingService(supervisor.Named("broker", a.brokerS))
	}
	tree.AddMessagingService(supervisor.Named("realtime-gateway", a.gateway))
	tree.AddAPIService(supervisor.NewHTTPServerService(a.server, cfg.ShutdownTimeout))

	logger.Info().
		Str("addr", a.server.Addr).
		Str("version", ver).
		Bool("distributed", cfg.Broker.URL != "").
		Msg("starting")

	var runErr error
	if err := <-tree.ServeBackground(ctx); err != nil && !errors.Is(err, context.Canceled) {
		runErr = err
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}
	return runErr
}

// newApp wires every component on top of an open database.
func newApp(cfg config.Config, db *gorm.DB, logger zerolog.Logger) *app {
	b, svc := newBroker(cfg, logger)

	kv := cache.New(b)
	tracker := presence.NewTracker(b,
		presence.WithTTL(cfg.Realtime.PresenceTTL),
		presence.WithLogger(logger),
	)
	gw := realtime.New(b, tracker,
		realtime.WithHeartbeat(cfg.Realtime.HeartbeatInterval),
		realtime.WithBuffer(cfg.Realtime.StreamBuffer),
		realtime.WithLogger(logger),
	)

	users := services.NewUserService(db, kv, tracker)
	users.RecommendedTTL = cfg.Realtime.RecommendedCacheTTL

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, handlers.Deps{
		Users:          users,
		Friends:        services.NewFriendService(db, b, kv),
		Presence:       tracker,
		Gateway:        gw,
		DB:             db,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}, cfg)

	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           httpapi.StreamingHandler(engine, cfg),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	return &app{db: db, broker: b, brokerS: svc, gateway: gw, server: server}
}

// newBroker picks NATS when a URL is configured and the in-process broker
// otherwise. The returned service keeps the NATS connection alive.
func newBroker(cfg config.Config, logger zerolog.Logger) (broker.Broker, suture.Service) {
	if cfg.Broker.URL == "" {
		logger.Warn().Msg("BROKER_URL not set; using in-process broker (single replica only)")
		return broker.NewMemory(), nil
	}
	nb := broker.NewNATS(broker.NATSConfig{
		URL:             cfg.Broker.URL,
		Name:            cfg.Broker.Name,
		ConnectAttempts: cfg.Broker.ConnectAttempts,
		BackoffInitial:  cfg.Broker.BackoffInitial,
		BackoffMax:      cfg.Broker.BackoffMax,
		RetryAfter:      cfg.Broker.RetryAfter,
		OpTimeout:       cfg.Broker.OpTimeout,
		CacheMaxAge:     cfg.Broker.CacheMaxAge,
	}, logger)
	return nb, nb
}

func (a *app) close(logger zerolog.Logger) {
	if err := a.broker.Close(); err != nil {
		logger.Warn().Err(err).Msg("broker close")
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Warn().Err(err).Msg("db close")
		}
	}
}
