package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tenantgrid/index-pipeline/internal/asyncindex"
	"github.com/tenantgrid/index-pipeline/internal/collection"
	"github.com/tenantgrid/index-pipeline/internal/eventqueue"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/indexing"
	"github.com/tenantgrid/index-pipeline/internal/location"
	"github.com/tenantgrid/index-pipeline/internal/mapstore"
	"github.com/tenantgrid/index-pipeline/internal/search"
	"github.com/tenantgrid/index-pipeline/internal/settings"
	versions "github.com/tenantgrid/index-pipeline/internal/version"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/health"
	"github.com/tenantgrid/index-pipeline/pkg/logger"
	"github.com/tenantgrid/index-pipeline/pkg/metrics"
	"github.com/tenantgrid/index-pipeline/pkg/postgres"
	pkgredis "github.com/tenantgrid/index-pipeline/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Async.Impl != asyncindex.ImplDistributed {
		fmt.Fprintln(os.Stderr, "index worker requires async.impl=distributed; local mode consumes in the reindexer process")
		os.Exit(1)
	}

	slog.Info("starting index worker", "workers", cfg.Async.Workers, "brokers", cfg.Kafka.Brokers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
		slog.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	pgClient, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer pgClient.Close()

	stores, err := mapstore.NewPostgresFactory(ctx, pgClient)
	if err != nil {
		slog.Error("failed to initialize map store schema", "error", err)
		os.Exit(1)
	}

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, shared cache tier disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	graphStore := graph.NewMemoryGraph()
	searchFactory := search.NewMemoryFactory()

	locs := location.NewFactory(cfg.Index, redisClient)
	versionSvc := versions.NewService(stores, cfg.Versions, m)
	settingsCache := settings.NewSettingsCache(stores, redisClient, cfg.Settings, m)
	schemaCache := settings.NewSchemaCache(stores, redisClient, cfg.Settings, m)
	indexer := indexing.NewService(graphStore, searchFactory, locs, versionSvc, settingsCache, schemaCache, cfg.Index, m)

	indexQueue := eventqueue.NewKafkaQueue(cfg.Kafka, cfg.Kafka.Topics.IndexEvents, m)
	utilityQueue := eventqueue.NewKafkaQueue(cfg.Kafka, cfg.Kafka.Topics.UtilityEvents, m)
	deleteQueue := eventqueue.NewKafkaQueue(cfg.Kafka, cfg.Kafka.Topics.DeleteEvents, m)

	asyncService, err := asyncindex.New(cfg.Async, indexer, graphStore, indexQueue, utilityQueue, m)
	if err != nil {
		slog.Error("failed to create async index service", "error", err)
		os.Exit(1)
	}
	if err := asyncService.Start(ctx); err != nil {
		slog.Error("failed to start async index service", "error", err)
		os.Exit(1)
	}

	deleteWorker := collection.NewWorker(deleteQueue, graphStore, searchFactory, locs, cfg.Async, m)
	if err := deleteWorker.Start(ctx); err != nil {
		slog.Error("failed to start collection worker", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(pgClient.Ping))
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("health server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}

	asyncService.Stop()
	deleteWorker.Stop()

	slog.Info("index worker stopped")
}
