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

	"github.com/tenantgrid/index-pipeline/internal/api"
	"github.com/tenantgrid/index-pipeline/internal/asyncindex"
	"github.com/tenantgrid/index-pipeline/internal/collection"
	"github.com/tenantgrid/index-pipeline/internal/eventqueue"
	"github.com/tenantgrid/index-pipeline/internal/graph"
	"github.com/tenantgrid/index-pipeline/internal/indexing"
	"github.com/tenantgrid/index-pipeline/internal/location"
	"github.com/tenantgrid/index-pipeline/internal/mapstore"
	"github.com/tenantgrid/index-pipeline/internal/reindex"
	"github.com/tenantgrid/index-pipeline/internal/search"
	"github.com/tenantgrid/index-pipeline/internal/settings"
	versions "github.com/tenantgrid/index-pipeline/internal/version"
	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/health"
	"github.com/tenantgrid/index-pipeline/pkg/logger"
	"github.com/tenantgrid/index-pipeline/pkg/metrics"
	"github.com/tenantgrid/index-pipeline/pkg/middleware"
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
	slog.Info("starting reindexer service", "port", cfg.Server.Port, "async_impl", cfg.Async.Impl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
		slog.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	var stores mapstore.Factory
	var pgClient *postgres.Client
	pgClient, err = postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, using in-memory map store", "error", err)
		stores = mapstore.NewMemoryFactory()
	} else {
		defer pgClient.Close()
		stores, err = mapstore.NewPostgresFactory(ctx, pgClient)
		if err != nil {
			slog.Error("failed to initialize map store schema", "error", err)
			os.Exit(1)
		}
		slog.Info("map store backed by postgres", "host", cfg.Postgres.Host)
	}

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, shared cache tier disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		slog.Info("shared cache tier enabled", "addr", cfg.Redis.Addr)
	}

	// Primary storage and search engine collaborators. The in-process
	// backends serve local deployments; production wires real drivers here.
	graphStore := graph.NewMemoryGraph()
	searchFactory := search.NewMemoryFactory()

	locs := location.NewFactory(cfg.Index, redisClient)
	versionSvc := versions.NewService(stores, cfg.Versions, m)
	settingsCache := settings.NewSettingsCache(stores, redisClient, cfg.Settings, m)
	schemaCache := settings.NewSchemaCache(stores, redisClient, cfg.Settings, m)
	indexer := indexing.NewService(graphStore, searchFactory, locs, versionSvc, settingsCache, schemaCache, cfg.Index, m)

	// The utility topic carries bulk reindex traffic so it cannot starve
	// live index events. The local impl dispatches in process and only the
	// collection deletes need a queue.
	var indexQueue, utilityQueue, deleteQueue eventqueue.Queue
	if cfg.Async.Impl == asyncindex.ImplDistributed {
		indexQueue = eventqueue.NewKafkaQueue(cfg.Kafka, cfg.Kafka.Topics.IndexEvents, m)
		utilityQueue = eventqueue.NewKafkaQueue(cfg.Kafka, cfg.Kafka.Topics.UtilityEvents, m)
		deleteQueue = eventqueue.NewKafkaQueue(cfg.Kafka, cfg.Kafka.Topics.DeleteEvents, m)
	} else {
		deleteQueue = eventqueue.NewMemoryQueue(cfg.Async.VisibilityTimeout)
	}

	asyncService, err := asyncindex.New(cfg.Async, indexer, graphStore, indexQueue, utilityQueue, m)
	if err != nil {
		slog.Error("failed to create async index service", "error", err)
		os.Exit(1)
	}
	if err := asyncService.Start(ctx); err != nil {
		slog.Error("failed to start async index service", "error", err)
		os.Exit(1)
	}
	defer asyncService.Stop()

	reindexSvc := reindex.NewService(graphStore, graphStore, searchFactory, locs, stores, settingsCache, cfg.Reindex, m)
	collectionSvc := collection.NewService(versionSvc, settingsCache, deleteQueue)

	// With the in-process queue, bulk collection jobs must be consumed
	// here; there is no separate worker process to share the queue with.
	if cfg.Async.Impl == asyncindex.ImplLocal {
		worker := collection.NewWorker(deleteQueue, graphStore, searchFactory, locs, cfg.Async, m)
		if err := worker.Start(ctx); err != nil {
			slog.Error("failed to start collection worker", "error", err)
			os.Exit(1)
		}
		defer worker.Stop()
	}

	checker := health.NewChecker()
	if pgClient != nil {
		checker.Register("postgres", health.PingCheck(pgClient.Ping))
	}
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	adminHandler := api.New(reindexSvc, asyncService, versionSvc, collectionSvc, settingsCache)

	mux := http.NewServeMux()
	adminHandler.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("reindexer service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("reindexer service stopped")
}
