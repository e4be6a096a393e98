package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kasirinaja/poscore/internal/cache"
	"kasirinaja/poscore/internal/config"
	"kasirinaja/poscore/internal/events"
	"kasirinaja/poscore/internal/httpapi"
	"kasirinaja/poscore/internal/service"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/store/memory"
	pgstore "kasirinaja/poscore/internal/store/postgres"
	"kasirinaja/poscore/internal/telemetry"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("invalid logger configuration: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OtelEndpoint, version)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
	}
	closers := []func() error{closeStore}

	checks := map[string]httpapi.Check{}

	sessions := cache.SessionCache(cache.NoopSessionCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSessionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop session cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			sessions = redisCache
			closers = append(closers, redisCache.Close)
			checks["redis"] = redisCache.Ping
			logger.Info("session cache: redis")
		}
	} else {
		logger.Info("session cache: noop")
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = kafkaPublisher
		closers = append(closers, kafkaPublisher.Close)
		logger.Info("events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	} else {
		logger.Info("events: noop")
	}

	svc := service.New(st, sessions, publisher, logger, telemetry.Tracer(), service.Options{
		AllowNegativeStock:  cfg.AllowNegativeStock,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		SessionTTL:          cfg.SessionTTL,
	})
	checks["store"] = svc.Ping

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           httpapi.New(svc, logger, checks).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("poscore listening", zap.String("addr", cfg.Address()), zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// openStore selects postgres when DATABASE_URL is set and the seeded
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("store: in-memory")
		return memory.NewSeeded(), func() error { return nil }, nil
	}

	if cfg.MigrateOnStart {
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		logger.Info("schema migrations applied")
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.TxMaxRetries)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("store: postgres")
	return pg, pg.Close, nil
}
