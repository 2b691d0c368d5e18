// Membership Payments Service
//
// This is the main entry point for the payment processing service.
// It wires up all dependencies and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fitstack/membership-payments/config"
	"github.com/fitstack/membership-payments/internal/adapters/kafka"
	"github.com/fitstack/membership-payments/internal/adapters/memory"
	"github.com/fitstack/membership-payments/internal/adapters/postgres"
	rediscache "github.com/fitstack/membership-payments/internal/adapters/redis"
	"github.com/fitstack/membership-payments/internal/adapters/zalopay"
	"github.com/fitstack/membership-payments/internal/core/ports"
	"github.com/fitstack/membership-payments/internal/core/service"
	"github.com/fitstack/membership-payments/internal/handlers"
	"github.com/fitstack/membership-payments/internal/outbox"
	"github.com/fitstack/membership-payments/internal/platform/logging"
	"github.com/fitstack/membership-payments/internal/platform/metrics"
	"github.com/fitstack/membership-payments/internal/platform/tracing"
	"github.com/fitstack/membership-payments/internal/reconciler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "membership-payments"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := config.NewLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(ctx, serviceName, cfg.Env, cfg.Tracing.Endpoint)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Error("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	var (
		workers sync.WaitGroup
		store   ports.PaymentStore
	)

	// Infrastructure Layer
	if cfg.Postgres.URL == "" {
		logging.Warn(ctx, logger, "DB_URL not set, using in-memory payment store")
		store = memory.NewPaymentStore()
	} else {
		if err := postgres.Migrate(cfg.Postgres.URL); err != nil {
			return err
		}

		pool, err := postgres.NewPool(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		pgStore := postgres.NewPaymentStore(pool, logger)

		if cfg.Kafka.Enabled {
			producer, err := kafka.NewProducer(cfg.Kafka.Brokers, logger)
			if err != nil {
				return err
			}
			defer producer.Close()

			outboxRepo := outbox.NewRepository()
			pgStore.WithOutbox(outboxRepo, cfg.Kafka.Topic)

			processor := outbox.NewProcessor(pool, outboxRepo, producer, logger)
			workers.Add(1)
			go func() {
				defer workers.Done()
				processor.Start(ctx)
			}()
		}

		store = pgStore
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer rdb.Close()

		store = rediscache.NewCachedStore(store, rdb, cfg.Redis.TTL, logger)
	}

	gateway, err := zalopay.NewClient(zalopay.Config{
		AppID:       cfg.ZaloPay.AppID,
		Key1:        cfg.ZaloPay.Key1,
		Endpoint:    cfg.ZaloPay.Endpoint,
		CallbackURL: cfg.ZaloPay.CallbackURL,
		RedirectURL: cfg.ZaloPay.RedirectURL,
		Timeout:     cfg.ZaloPay.Timeout,
	}, logger, rec)
	if err != nil {
		return err
	}

	// Service Layer
	paymentService := service.NewPaymentService(
		store,
		gateway,
		zalopay.NewCallbackVerifier(cfg.ZaloPay.Key2),
		logger,
		service.WithRedirectURL(cfg.ZaloPay.RedirectURL),
		service.WithFallbackURL(cfg.ZaloPay.FallbackURL),
		service.WithMetrics(rec),
	)

	if cfg.Reconciler.Enabled {
		sweeper := reconciler.NewSweeper(paymentService, reconciler.Config{
			Interval:  cfg.Reconciler.Interval,
			OlderThan: cfg.Reconciler.OlderThan,
			BatchSize: cfg.Reconciler.BatchSize,
		}, logger)

		workers.Add(1)
		go func() {
			defer workers.Done()
			sweeper.Run(ctx)
		}()
	}

	// API Layer
	handler := handlers.NewPaymentHandler(paymentService, logger)
	router := handlers.SetupRouter(handler, handlers.RouterConfig{
		GinMode:       cfg.Server.GinMode,
		ServiceAPIKey: cfg.Server.ServiceAPIKey,
		Gatherer:      reg,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info(ctx, logger, "server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		workers.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	workers.Wait()
	return nil
}
