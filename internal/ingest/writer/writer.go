// Package writer accumulates validated transactions into fixed-capacity
// batches and flushes them to the store in bulk, bounding the memory
// footprint of pending writes and amortizing store round-trips.
package writer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marketpulse/transaction-analytics/internal/ingest"
	"github.com/marketpulse/transaction-analytics/internal/store"
)

// ProgressFunc is invoked after each successful flush with the cumulative
// number of rows written so far.
type ProgressFunc func(ctx context.Context, rowsProcessed int64)

// BatchWriter buffers transactions up to a fixed capacity. On reaching
// capacity it performs one conflict-ignoring bulk insert; rows count toward
// progress whether newly inserted or skipped as duplicates.
type BatchWriter struct {
	txns       store.TransactionStore
	capacity   int
	batch      []ingest.Transaction
	processed  int64
	flushes    int64
	onProgress ProgressFunc
	logger     *slog.Logger
}

// New creates a BatchWriter with the given capacity (default 1000 when
// non-positive). onProgress may be nil.
func New(txns store.TransactionStore, capacity int, onProgress ProgressFunc) *BatchWriter {
	if capacity <= 0 {
		capacity = 1000
	}
	return &BatchWriter{
		txns:       txns,
		capacity:   capacity,
		batch:      make([]ingest.Transaction, 0, capacity),
		onProgress: onProgress,
		logger:     slog.Default().With("component", "batch-writer"),
	}
}

// Add buffers one transaction, flushing when the batch reaches capacity.
func (w *BatchWriter) Add(ctx context.Context, txn ingest.Transaction) error {
	w.batch = append(w.batch, txn)
	if len(w.batch) >= w.capacity {
		return w.flush(ctx)
	}
	return nil
}

// Flush writes any partial batch. Call at end of input.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	return w.flush(ctx)
}

// Processed returns the cumulative number of rows written.
func (w *BatchWriter) Processed() int64 {
	return w.processed
}

// Flushes returns the number of bulk writes issued.
func (w *BatchWriter) Flushes() int64 {
	return w.flushes
}

func (w *BatchWriter) flush(ctx context.Context) error {
	n := len(w.batch)
	if err := w.txns.BulkInsert(ctx, w.batch); err != nil {
		return fmt.Errorf("flushing batch of %d: %w", n, err)
	}
	w.processed += int64(n)
	w.flushes++
	w.batch = w.batch[:0]
	w.logger.Debug("batch flushed", "rows", n, "total", w.processed)

	if w.onProgress != nil {
		w.onProgress(ctx, w.processed)
	}
	return nil
}
