// Package runner owns the ingestion run lifecycle: it streams a staged file
// through validation and batched writes, drives the run state machine
// QUEUED → PROCESSING → COMPLETED | FAILED, and finalizes per-run metrics
// exactly once.
package runner

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/marketpulse/transaction-analytics/internal/ingest"
	"github.com/marketpulse/transaction-analytics/internal/ingest/meter"
	"github.com/marketpulse/transaction-analytics/internal/ingest/validator"
	"github.com/marketpulse/transaction-analytics/internal/ingest/writer"
	"github.com/marketpulse/transaction-analytics/internal/store"
	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
	"github.com/marketpulse/transaction-analytics/pkg/metrics"
	"github.com/marketpulse/transaction-analytics/pkg/tracing"
)

// CacheInvalidator drops cached analytics responses after new data lands.
// analytics.ViewCache implements it; nil disables invalidation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Runner executes ingestion runs. One Runner serves many runs; each run's
// record is mutated only by the Process call that owns it.
type Runner struct {
	runs       store.RunStore
	txns       store.TransactionStore
	merchants  store.MerchantStore
	cacheStats meter.CacheStatsProvider
	cache      CacheInvalidator
	batchSize  int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Config carries the Runner's collaborators. CacheStats, Cache, and Metrics
// may be nil; their features degrade rather than fail.
type Config struct {
	Runs       store.RunStore
	Txns       store.TransactionStore
	Merchants  store.MerchantStore
	CacheStats meter.CacheStatsProvider
	Cache      CacheInvalidator
	BatchSize  int
	Metrics    *metrics.Metrics
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Runner{
		runs:       cfg.Runs,
		txns:       cfg.Txns,
		merchants:  cfg.Merchants,
		cacheStats: cfg.CacheStats,
		cache:      cfg.Cache,
		batchSize:  cfg.BatchSize,
		metrics:    cfg.Metrics,
		logger:     slog.Default().With("component", "runner"),
	}
}

// Process runs the full pipeline for one staged file. The run-level error is
// recorded on the run record and also returned for the caller's log; record
// rejections never abort the run.
func (r *Runner) Process(ctx context.Context, runID uuid.UUID, filePath string) error {
	ctx, span := tracing.StartSpan(ctx, "ingestion-run", runID.String())
	defer func() {
		span.End()
		span.Log()
	}()

	m := meter.Start(ctx, r.cacheStats)
	defer m.Stop()
	log := r.logger.With("run_id", runID)

	m.IncQueries(1)
	if _, err := r.runs.Get(ctx, runID); err != nil {
		if errors.Is(err, apperrors.ErrRunNotFound) {
			// Nothing to update; swallow per the run contract.
			log.Error("run record not found, dropping job")
			return err
		}
		log.Error("loading run failed", "error", err)
		return err
	}

	m.IncQueries(1)
	if err := r.runs.SetStatus(ctx, runID, ingest.StatusProcessing); err != nil {
		r.fail(ctx, runID, log, fmt.Sprintf("updating run status: %v", err))
		return err
	}

	fileCtx, fileSpan := tracing.StartChildSpan(ctx, "ingest-file")
	processed, rejected, err := r.ingestFile(fileCtx, runID, filePath, m, log)
	fileSpan.SetAttr("rows_processed", processed)
	fileSpan.SetAttr("rows_rejected", rejected)
	fileSpan.End()
	if err != nil {
		r.fail(ctx, runID, log, err.Error())
		return err
	}

	snap := m.Snapshot(ctx, processed)
	runMetrics := ingest.RunMetrics{
		ExecutionTimeMs: snap.ElapsedMs,
		PeakMemoryMB:    roundTo(snap.PeakMemoryMB, 1),
		StoreQueryCount: snap.StoreQueryCount,
		CacheHitRate:    roundTo(snap.CacheHitRate, 2),
		RowsPerSec:      roundTo(snap.RowsPerSec, 0),
	}
	if err := r.runs.Complete(ctx, runID, processed, rejected, runMetrics, time.Now().UTC()); err != nil {
		r.fail(ctx, runID, log, fmt.Sprintf("recording completion: %v", err))
		return err
	}

	// The source file is only removed once the run is COMPLETED; failed
	// runs keep it for diagnosis.
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		log.Warn("removing staged file failed", "path", filePath, "error", err)
	}

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx); err != nil {
			log.Warn("analytics cache invalidation failed", "error", err)
		}
	}
	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(string(ingest.StatusCompleted)).Inc()
		r.metrics.RunDuration.Observe(float64(snap.ElapsedMs) / 1000)
		r.metrics.RowsRejectedTotal.Add(float64(rejected))
	}

	log.Info("run completed",
		"rows_processed", processed,
		"rows_rejected", rejected,
		"elapsed_ms", snap.ElapsedMs,
		"rows_per_sec", runMetrics.RowsPerSec,
		"store_queries", snap.StoreQueryCount,
	)
	return nil
}

// ingestFile streams the staged file through validation and batching,
// returning the final processed/rejected counters.
func (r *Runner) ingestFile(ctx context.Context, runID uuid.UUID, filePath string, m *meter.Meter, log *slog.Logger) (processed, rejected int64, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, 0, fmt.Errorf("opening staged file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("reading header row: %w", err)
	}

	normalizer := validator.NewNormalizer(countingMerchants{r.merchants, m}, nil)
	var lastReported int64
	w := writer.New(countingTxns{r.txns, m}, r.batchSize, func(ctx context.Context, rows int64) {
		m.IncQueries(1)
		if err := r.runs.SetProgress(ctx, runID, rows); err != nil {
			log.Warn("progress update failed", "rows", rows, "error", err)
		}
		if r.metrics != nil {
			r.metrics.BatchFlushesTotal.WithLabelValues("ok").Inc()
			r.metrics.RowsProcessedTotal.Add(float64(rows - lastReported))
		}
		lastReported = rows
	})

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			rejected++
			continue
		}
		if err != nil {
			return w.Processed(), rejected, fmt.Errorf("reading row: %w", err)
		}

		txn, err := normalizer.Normalize(ctx, rowToMap(header, record))
		if err != nil {
			rejected++
			continue
		}
		if err := w.Add(ctx, txn); err != nil {
			if r.metrics != nil {
				r.metrics.BatchFlushesTotal.WithLabelValues("error").Inc()
			}
			return w.Processed(), rejected, err
		}
	}

	if err := w.Flush(ctx); err != nil {
		if r.metrics != nil {
			r.metrics.BatchFlushesTotal.WithLabelValues("error").Inc()
		}
		return w.Processed(), rejected, err
	}
	return w.Processed(), rejected, nil
}

// fail records the FAILED terminal state. Counters stay at their last
// successfully-updated values; a missing run record is swallowed.
func (r *Runner) fail(ctx context.Context, runID uuid.UUID, log *slog.Logger, message string) {
	if err := r.runs.Fail(ctx, runID, message, time.Now().UTC()); err != nil {
		log.Error("recording failure failed", "error", err)
	}
	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(string(ingest.StatusFailed)).Inc()
	}
	log.Error("run failed", "reason", message)
}

// rowToMap pairs header names with row values; short rows leave trailing
// fields empty.
func rowToMap(header, record []string) map[string]string {
	raw := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(record) {
			raw[name] = record[i]
		} else {
			raw[name] = ""
		}
	}
	return raw
}

func roundTo(v float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	return float64(int64(v*shift+0.5)) / shift
}

// countingTxns counts each bulk insert as one store round-trip on the run's
// meter.
type countingTxns struct {
	inner store.TransactionStore
	m     *meter.Meter
}

func (c countingTxns) BulkInsert(ctx context.Context, txns []ingest.Transaction) error {
	c.m.IncQueries(1)
	return c.inner.BulkInsert(ctx, txns)
}

// countingMerchants counts merchant upserts the same way.
type countingMerchants struct {
	inner store.MerchantStore
	m     *meter.Meter
}

func (c countingMerchants) Ensure(ctx context.Context, merchantID string) error {
	c.m.IncQueries(1)
	return c.inner.Ensure(ctx, merchantID)
}
