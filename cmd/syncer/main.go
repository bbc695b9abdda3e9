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
	"catalog_syncer/internal/scheduler"
	"catalog_syncer/internal/service"
	"catalog_syncer/internal/source"
	"catalog_syncer/internal/source/searchapi"
	"catalog_syncer/internal/source/siteapi"
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
		logger.Error("syncer stopped", "error", err)
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

	// Stores
	videoStore := postgres.NewVideoStore(db)
	termStore := postgres.NewTermStore(db)
	categoryStore := postgres.NewCategoryStore(db)
	progressStore := postgres.NewProgressStore(db)
	deletionStore := postgres.NewDeletionStore(db)
	runStore := postgres.NewPageRunStore(db)
	txManager := postgres.NewTransactionManager(db)

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

	var bus service.Publisher
	if usesBus(cfg.Workers) {
		rabbitMQ, err := publisher.NewRabbitMQ(rabbitConfig(cfg.RabbitMQ), logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer rabbitMQ.Close()
		bus = rabbitMQ
	}

	sources := make(map[string]service.Source, len(cfg.Sources))
	for name, sc := range cfg.Sources {
		sources[name] = newSource(sc, logger)
	}

	upserter := service.NewUpserter(videoStore, termStore, categoryStore, deletionStore, txManager)

	g, ctx := errgroup.WithContext(ctx)

	for _, w := range cfg.Workers {
		syncService := service.NewSyncService(service.SyncDeps{
			Source:     sources[w.Source],
			Processor:  service.NewPageProcessor(upserter, w.VideoTimeout, logger.With("worker", w.Name)),
			Videos:     videoStore,
			Categories: categoryStore,
			Progress:   progressStore,
			Runs:       runStore,
			Publisher:  bus,
			Cache:      invalidator,
			Recorder:   collector,
		}, logger, w)

		sched := scheduler.NewScheduler(syncService, w.Interval, w.Cooldown, logger.With("worker", w.Name))
		g.Go(func() error {
			return ignoreCanceled(sched.Start(ctx))
		})

		logger.Info("worker configured",
			"worker", w.Name,
			"source", w.Source,
			"strategy", w.Strategy,
			"sink", w.Sink,
			"interval", w.Interval,
		)
	}

	if cfg.Deletion.Enabled {
		deletionSources := make([]service.Source, 0, len(cfg.Deletion.Sources))
		for _, name := range cfg.Deletion.Sources {
			deletionSources = append(deletionSources, sources[name])
		}

		deletionService := service.NewDeletionService(
			deletionSources,
			deletionStore,
			postgres.NewViewRefresher(db),
			txManager,
			invalidator,
			collector,
			cfg.Deletion.Refresh.Policy(),
			cfg.Deletion.MaxPages,
			logger,
		)

		sched := scheduler.NewScheduler(deletionService, cfg.Deletion.Interval, cfg.Deletion.Cooldown, logger.With("worker", "deletion"))
		g.Go(func() error {
			return ignoreCanceled(sched.Start(ctx))
		})
	}

	server := metrics.NewServer(cfg.Metrics.Addr, reg, checks)
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", cfg.Metrics.Addr)
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

	logger.Info("starting catalog syncer", "workers", len(cfg.Workers), "deletion", cfg.Deletion.Enabled)

	return g.Wait()
}

func newSource(sc config.SourceConfig, logger *slog.Logger) service.Source {
	srcCfg := source.Config{
		BaseURL:         sc.BaseURL,
		PageSize:        sc.PageSize,
		Timeout:         sc.Timeout,
		RequestInterval: sc.RequestInterval,
		Retry:           sc.Retry.Policy(),
	}
	if sc.Type == config.SourceSiteAPI {
		return siteapi.New(srcCfg, logger)
	}
	return searchapi.New(srcCfg, logger)
}

func rabbitConfig(c config.RabbitMQConfig) publisher.Config {
	return publisher.Config{
		URL:        c.URL,
		Exchange:   c.Exchange,
		RoutingKey: c.RoutingKey,
		QueueName:  c.QueueName,
		Prefetch:   c.Prefetch,

		DeadLetterExchange: c.DeadLetterExchange,
		DeadLetterQueue:    c.DeadLetterQueue,
	}
}

func usesBus(workers []config.WorkerConfig) bool {
	for _, w := range workers {
		if w.Sink == config.SinkBus {
			return true
		}
	}
	return false
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
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
