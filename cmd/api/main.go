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

	"github.com/marketpulse/transaction-analytics/internal/analytics"
	"github.com/marketpulse/transaction-analytics/internal/ingest/dispatch"
	"github.com/marketpulse/transaction-analytics/internal/ingest/gateway"
	ingesthandler "github.com/marketpulse/transaction-analytics/internal/ingest/handler"
	"github.com/marketpulse/transaction-analytics/internal/ingest/runner"
	"github.com/marketpulse/transaction-analytics/internal/store"
	"github.com/marketpulse/transaction-analytics/pkg/config"
	"github.com/marketpulse/transaction-analytics/pkg/health"
	"github.com/marketpulse/transaction-analytics/pkg/kafka"
	"github.com/marketpulse/transaction-analytics/pkg/logger"
	"github.com/marketpulse/transaction-analytics/pkg/metrics"
	"github.com/marketpulse/transaction-analytics/pkg/middleware"
	"github.com/marketpulse/transaction-analytics/pkg/postgres"
	pkgredis "github.com/marketpulse/transaction-analytics/pkg/redis"
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
	slog.Info("starting api service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	st := store.New(pg)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.Info("postgres ready", "database", cfg.Postgres.Database)

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, view caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		slog.Info("view cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	m := metrics.New()
	viewCache := analytics.NewViewCache(redisClient, cfg.Redis, m)

	runnerCfg := runner.Config{
		Runs:      st,
		Txns:      st,
		Merchants: st,
		BatchSize: cfg.Ingest.BatchSize,
		Metrics:   m,
		Cache:     viewCache,
	}
	if redisClient != nil {
		runnerCfg.CacheStats = redisClient
	}
	proc := runner.New(runnerCfg)

	var dispatcher dispatch.Dispatcher
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IngestionRuns)
	defer producer.Close()
	dispatcher = dispatch.NewKafkaDispatcher(producer)

	fallback := dispatch.NewPool(cfg.Ingest.FallbackWorkers, cfg.Ingest.FallbackQueueDepth, proc, m)
	fallback.Start(ctx)
	defer fallback.Close()

	gw := gateway.New(gateway.Config{
		Runs:        st,
		Dispatcher:  dispatcher,
		Fallback:    fallback,
		StagingDir:  cfg.Ingest.StagingDir,
		MaxFileSize: cfg.Ingest.MaxFileSize,
		Metrics:     m,
	})
	uploadHandler := ingesthandler.New(gw, st)

	analyticsService := analytics.NewService(st, cfg.Analytics)
	analyticsHandler := analytics.NewHandler(analyticsService, viewCache, m)

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pg.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
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
	mux.HandleFunc("POST /api/v1/uploads", uploadHandler.Upload)
	mux.HandleFunc("GET /api/v1/uploads/{run_id}/stats", uploadHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/zone-leaderboard", analyticsHandler.ZoneLeaderboard)
	mux.HandleFunc("GET /api/v1/analytics/category-distribution", analyticsHandler.CategoryDistribution)
	mux.HandleFunc("GET /api/v1/analytics/dormant-merchants", analyticsHandler.DormantMerchants)
	mux.HandleFunc("GET /api/v1/analytics/hourly-pattern", analyticsHandler.HourlyPattern)
	mux.HandleFunc("GET /api/v1/analytics/anomalies", analyticsHandler.Anomalies)
	mux.HandleFunc("GET /api/v1/analytics/customer-retention", analyticsHandler.CustomerRetention)
	mux.HandleFunc("GET /api/v1/analytics/full-report", analyticsHandler.FullReport)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
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

	slog.Info("api service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("api service stopped")
}
