package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/triage-ai/warden/internal/api"
	"github.com/triage-ai/warden/internal/chread"
	"github.com/triage-ai/warden/internal/config"
	"github.com/triage-ai/warden/internal/engine"
	"github.com/triage-ai/warden/internal/engine/detectors"
	"github.com/triage-ai/warden/internal/escalation"
	"github.com/triage-ai/warden/internal/gateway"
	"github.com/triage-ai/warden/internal/generation"
	"github.com/triage-ai/warden/internal/metrics"
	"github.com/triage-ai/warden/internal/notify"
	"github.com/triage-ai/warden/internal/pipeline"
	"github.com/triage-ai/warden/internal/quality"
	"github.com/triage-ai/warden/internal/registry"
	"github.com/triage-ai/warden/internal/scheduler"
	"github.com/triage-ai/warden/internal/storage"
	"github.com/triage-ai/warden/internal/store"
)

// scheduleResync is how often contract schedules are reloaded.
const scheduleResync = time.Minute

// backend is what the quality service, escalation manager and scheduler
// need from persistence. Postgres and bbolt both provide it.
type backend interface {
	quality.RunStore
	escalation.Repository
	scheduler.ContractSource
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	// Logger
	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting warden server",
		zap.String("http_port", cfg.HTTPPort),
		zap.Duration("engine_timeout", cfg.EngineTimeout),
		zap.Duration("pipeline_tick", cfg.PipelineTick),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Engines
	scanner := detectors.DefaultScanner()
	if cfg.PatternsFile != "" {
		scanner, err = detectors.LoadScanner(cfg.PatternsFile)
		if err != nil {
			logger.Fatal("failed to load patterns", zap.String("path", cfg.PatternsFile), zap.Error(err))
		}
		logger.Info("patterns loaded", zap.String("path", cfg.PatternsFile))
	}
	runner := engine.NewRunner(detectors.DefaultEngines(scanner), cfg.EngineTimeout, logger)

	// Postgres (required: the system registry lives there)
	if cfg.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	pgStore := store.NewStore(db)
	if err := pgStore.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate postgres", zap.Error(err))
	}
	logger.Info("postgres connected")

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres pool", zap.Error(err))
	}
	defer pool.Close()

	sysRegistry := registry.NewPostgresRegistry(registry.PostgresRegistryConfig{
		DB:       db,
		CacheTTL: cfg.RegistryCacheTTL,
		Logger:   logger,
	})

	// Run and escalation persistence: bbolt when a path is set, Postgres otherwise
	var repo backend = pgStore
	if cfg.BoltPath != "" {
		bolt, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			logger.Fatal("failed to open bolt store", zap.String("path", cfg.BoltPath), zap.Error(err))
		}
		defer func() { _ = bolt.Close() }()
		repo = bolt
		logger.Info("bolt store opened", zap.String("path", cfg.BoltPath))
	}

	// Pipeline feed: in-process for single-replica deployments, Postgres otherwise
	var feed pipeline.Feed
	switch cfg.PipelineFeed {
	case "memory":
		memFeed := pipeline.NewMemoryFeed()
		defer memFeed.Close()
		feed = memFeed
		logger.Info("in-memory pipeline feed enabled")
	default:
		pgFeed := pipeline.NewPostgresFeed(pool, logger)
		if err := pgFeed.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate pipeline feed", zap.Error(err))
		}
		defer pgFeed.Close()
		feed = pgFeed
	}

	// Request logs: ClickHouse or LogWriter fallback
	var (
		logs     storage.RequestLogWriter
		chReader *chread.Reader
	)
	if cfg.ClickHouseDSN != "" {
		conn, err := storage.Open(ctx, cfg.ClickHouseDSN)
		if err == nil {
			err = storage.Migrate(ctx, conn)
		}
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			logs = storage.NewLogWriter(logger)
		} else {
			logs = storage.NewClickHouseWriter(conn, m, logger)
			chReader = chread.NewReader(conn, logger)
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse connected")
		}
	} else {
		logs = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer logs.Close()

	// Escalation
	notifiers := []escalation.Notifier{pipeline.NewFeedNotifier(feed)}
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaIncidentTopic, logger)
		defer func() { _ = kn.Close() }()
		notifiers = append(notifiers, kn)
		logger.Info("kafka incident notifier enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}
	escalations := escalation.NewManager(repo, logger, escalation.Options{
		Notifiers:        notifiers,
		RecordProvenance: true,
		Metrics:          m,
	})

	// Quality: samples and reports live in MinIO when configured
	var (
		samples quality.SampleSource
		reports pipeline.ReportSink
	)
	if cfg.MinIOEndpoint != "" {
		client, err := quality.NewMinIOClient(quality.ObjectStoreConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			logger.Fatal("failed to create minio client", zap.Error(err))
		}
		objects := quality.NewObjectStore(client, cfg.MinIOBucket, cfg.SampleMaxRows)
		samples, reports = objects, objects
		logger.Info("object store enabled", zap.String("endpoint", cfg.MinIOEndpoint), zap.String("bucket", cfg.MinIOBucket))
	}
	qualitySvc := quality.NewService(samples, repo, escalations, m, logger)

	// Pipelines
	var locker pipeline.Locker
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to ping redis", zap.Error(err))
		}
		locker = pipeline.NewRedisLocker(rdb)
		logger.Info("redis pipeline leases enabled")
	}
	orchestrator := pipeline.NewOrchestrator(feed,
		pipeline.NewQualityRunner(qualitySvc, reports, feed, logger),
		logger,
		pipeline.Options{TickInterval: cfg.PipelineTick, Locker: locker, Metrics: m},
	)
	defer orchestrator.Close()

	sched := scheduler.New(repo, orchestrator, logger)
	go func() {
		if err := sched.Run(ctx, scheduleResync); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	// Gateway
	generator := generation.NewOpenAIGenerator(generation.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		RPS:     cfg.GenerationRPS,
	}, m, logger)
	gw := gateway.New(gateway.Config{
		Registry:  sysRegistry,
		Engines:   runner,
		Generator: generator,
		Escalator: escalations,
		Logs:      logs,
		Metrics:   m,
		Logger:    logger,
	})

	deps := &api.Dependencies{
		Gateway:     gw,
		Quality:     qualitySvc,
		Pipelines:   orchestrator,
		Records:     feed,
		Escalations: escalations,
		Metrics:     m,
		Logger:      logger,
	}
	if chReader != nil {
		deps.Logs = chReader
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("warden server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
