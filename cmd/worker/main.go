package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marketpulse/transaction-analytics/internal/analytics"
	"github.com/marketpulse/transaction-analytics/internal/ingest/dispatch"
	"github.com/marketpulse/transaction-analytics/internal/ingest/runner"
	"github.com/marketpulse/transaction-analytics/internal/store"
	"github.com/marketpulse/transaction-analytics/pkg/config"
	"github.com/marketpulse/transaction-analytics/pkg/kafka"
	"github.com/marketpulse/transaction-analytics/pkg/logger"
	"github.com/marketpulse/transaction-analytics/pkg/metrics"
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
	slog.Info("starting ingestion worker")

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

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, cache metrics and invalidation disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	m := metrics.New()

	runnerCfg := runner.Config{
		Runs:      st,
		Txns:      st,
		Merchants: st,
		BatchSize: cfg.Ingest.BatchSize,
		Metrics:   m,
		Cache:     analytics.NewViewCache(redisClient, cfg.Redis, m),
	}
	if redisClient != nil {
		runnerCfg.CacheStats = redisClient
	}
	proc := runner.New(runnerCfg)

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IngestionRuns, dispatch.HandleMessage(proc))
	defer consumer.Close()

	slog.Info("worker ready, consuming run jobs",
		"topic", cfg.Kafka.Topics.IngestionRuns,
		"group", cfg.Kafka.ConsumerGroup,
	)

	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("ingestion worker stopped")
}
