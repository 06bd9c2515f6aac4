package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"blankpos/backend/internal/config"
	"blankpos/backend/internal/events"
	"blankpos/backend/internal/httpapi"
	"blankpos/backend/internal/locallog"
	"blankpos/backend/internal/logging"
	"blankpos/backend/internal/sales"
	"blankpos/backend/internal/service"
	"blankpos/backend/internal/store"
	"blankpos/backend/internal/store/memory"
	pgstore "blankpos/backend/internal/store/postgres"
	"blankpos/backend/internal/store/resilient"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(); err != nil {
			logger.Fatal("could not apply migrations", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.SeedAdminEmail, cfg.SeedAdminPassword, logger)
		logger.Info("repository: in-memory")
	}

	remote := resilient.New(repo, resilient.Options{
		Timeout:     cfg.RemoteTimeout(),
		MaxFailures: uint32(cfg.BreakerFailures),
		OpenFor:     cfg.BreakerOpenFor(),
		Logger:      logger,
	})

	var kv locallog.KV = locallog.NewMemoryKV()
	if cfg.RedisAddr != "" {
		redisKV := locallog.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisKV.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, local sales log kept in memory", zap.Error(err))
			_ = redisKV.Close()
		} else {
			kv = redisKV
			closers = append(closers, redisKV.Close)
			logger.Info("local sales log: redis", zap.String("key", cfg.SalesLogKey))
		}
	} else {
		logger.Info("local sales log: memory")
	}
	local := locallog.New(kv, cfg.SalesLogKey, logger)

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaSalesTopic, logger, cfg.KafkaBrokers...)
		publisher = kafkaPublisher
		closers = append(closers, kafkaPublisher.Close)
		logger.Info("events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaSalesTopic))
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Warn("falling back to host timezone for reports", zap.Error(err))
	}

	svc := service.New(service.Deps{
		Remote: remote,
		Users:  repo,
		Local:  local,
		Aggregator: sales.NewAggregator(sales.AggregatorDeps{
			Remote:   remote,
			Local:    local,
			Logger:   logger,
			Location: loc,
		}),
		Publisher:      publisher,
		Logger:         logger,
		CurrencySymbol: cfg.CurrencySymbol,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           otelhttp.NewHandler(api.Handler(), "blankpos-api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	pruneDone := make(chan struct{})
	go pruneCarts(svc, cfg.CartIdle(), logger, pruneDone)

	go func() {
		logger.Info("POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	close(pruneDone)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// pruneCarts drops carts nobody has touched for idle until done is closed.
func pruneCarts(svc *service.Service, idle time.Duration, logger *zap.Logger, done <-chan struct{}) {
	interval := idle / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := svc.PruneIdleCarts(idle); n > 0 {
				logger.Debug("pruned idle carts", zap.Int("count", n))
			}
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DatabaseURL == "" && cfg.SeedAdminPassword != "" && len(cfg.SeedAdminPassword) < 8 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}
