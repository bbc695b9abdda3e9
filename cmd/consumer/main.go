package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"catalog_syncer/internal/cache"
	"catalog_syncer/internal/config"
	"catalog_syncer/internal/database"
	"catalog_syncer/internal/metrics"
	"catalog_syncer/internal/publisher"
	"catalog_syncer/internal/service"
	"catalog_syncer/internal/storage/postgres"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	checks := map[string]metrics.Pinger{"database": db}

	var invalidator service.CacheInvalidator
	if cfg.Redis.Addr != "" {
		redisCache := cache.New(cache.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			KeyPattern: cfg.Redis.KeyPattern,
			Timeout:    cfg.Redis.Timeout,
		}, logger)
		defer redisCache.Close()
		invalidator = redisCache
		checks["redis"] = redisCache
	}

	consumer, err := publisher.NewConsumer(publisher.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
		Prefetch:   cfg.RabbitMQ.Prefetch,

		DeadLetterExchange: cfg.RabbitMQ.DeadLetterExchange,
		DeadLetterQueue:    cfg.RabbitMQ.DeadLetterQueue,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer consumer.Close()

	upserter := service.NewUpserter(
		postgres.NewVideoStore(db),
		postgres.NewTermStore(db),
		postgres.NewCategoryStore(db),
		postgres.NewDeletionStore(db),
		postgres.NewTransactionManager(db),
	)
	processor := service.NewPageProcessor(upserter, cfg.Consumer.VideoTimeout, logger)
	handler := service.NewPageHandler(processor, invalidator, collector, cfg.Consumer.InsertOnly, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := consumer.Run(ctx, handler.Handle)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	server := metrics.NewServer(cfg.Metrics.Addr, reg, checks)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("starting page consumer", "queue", cfg.RabbitMQ.QueueName, "insert_only", cfg.Consumer.InsertOnly)

	return g.Wait()
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
