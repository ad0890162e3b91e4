package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketpulse/transaction-analytics/internal/ingest"
	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
	"github.com/marketpulse/transaction-analytics/pkg/postgres"
	"github.com/shopspring/decimal"
)

// Schema is the DDL for the three tables this store owns. EnsureSchema
// applies it idempotently for local development; production deployments run
// it out of band.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id             BIGSERIAL PRIMARY KEY,
    transaction_id TEXT NOT NULL UNIQUE,
    merchant_id    TEXT NOT NULL,
    zone           TEXT NOT NULL,
    category       TEXT NOT NULL,
    amount         NUMERIC(12,2) NOT NULL,
    timestamp      TIMESTAMPTZ NOT NULL,
    customer_phone TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions (merchant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_zone_amount ON transactions (zone, amount);
CREATE INDEX IF NOT EXISTS idx_transactions_category_amount ON transactions (category, amount);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions (timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_phone ON transactions (customer_phone);

CREATE TABLE IF NOT EXISTS merchants (
    merchant_id TEXT PRIMARY KEY,
    name        TEXT,
    zone        TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ingestion_runs (
    run_id                       UUID PRIMARY KEY,
    status                       TEXT NOT NULL DEFAULT 'QUEUED',
    filename                     TEXT NOT NULL,
    file_size                    BIGINT NOT NULL,
    rows_processed               BIGINT NOT NULL DEFAULT 0,
    rows_rejected                BIGINT NOT NULL DEFAULT 0,
    execution_time_ms            BIGINT,
    peak_memory_mb               DOUBLE PRECISION,
    store_query_count            BIGINT,
    cache_hit_rate               DOUBLE PRECISION,
    processing_rate_rows_per_sec DOUBLE PRECISION,
    error_message                TEXT,
    created_at                   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at                 TIMESTAMPTZ
);
`

// Store implements TransactionStore, MerchantStore, RunStore, and
// AnalyticsStore on PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates a Store on the given Postgres client.
func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
}

// EnsureSchema applies the DDL idempotently. The statements run in one
// transaction so a half-applied schema never survives a failure.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, Schema); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		return nil
	})
}

// BulkInsert writes the batch in a single multi-row INSERT, ignoring
// duplicate transaction IDs.
func (s *Store) BulkInsert(ctx context.Context, txns []ingest.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO transactions
		(transaction_id, merchant_id, zone, category, amount, timestamp, customer_phone)
		VALUES `)
	args := make([]any, 0, len(txns)*7)
	for i, txn := range txns {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args,
			txn.TransactionID, txn.MerchantID, txn.Zone, txn.Category,
			txn.Amount, txn.Timestamp, txn.CustomerPhone,
		)
	}
	sb.WriteString(` ON CONFLICT (transaction_id) DO NOTHING`)

	if _, err := s.db.DB.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("bulk inserting %d transactions: %w", len(txns), err)
	}
	return nil
}

// Ensure creates the merchant row if it does not exist.
func (s *Store) Ensure(ctx context.Context, merchantID string) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO merchants (merchant_id) VALUES ($1)
		 ON CONFLICT (merchant_id) DO NOTHING`,
		merchantID,
	)
	if err != nil {
		return fmt.Errorf("ensuring merchant %s: %w", merchantID, err)
	}
	return nil
}

// Create inserts a new run record in QUEUED status.
func (s *Store) Create(ctx context.Context, run *ingest.Run) error {
	err := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO ingestion_runs (run_id, status, filename, file_size)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		run.RunID, run.Status, run.Filename, run.FileSize,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating run %s: %w", run.RunID, err)
	}
	return nil
}

// Get loads a run by ID. A missing run maps to apperrors.ErrRunNotFound.
func (s *Store) Get(ctx context.Context, runID uuid.UUID) (*ingest.Run, error) {
	var (
		run         ingest.Run
		execMs      sql.NullInt64
		peakMB      sql.NullFloat64
		queries     sql.NullInt64
		hitRate     sql.NullFloat64
		rowsPerSec  sql.NullFloat64
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT run_id, status, filename, file_size, rows_processed, rows_rejected,
		        execution_time_ms, peak_memory_mb, store_query_count, cache_hit_rate,
		        processing_rate_rows_per_sec, error_message, created_at, completed_at
		   FROM ingestion_runs WHERE run_id = $1`,
		runID,
	).Scan(
		&run.RunID, &run.Status, &run.Filename, &run.FileSize,
		&run.RowsProcessed, &run.RowsRejected,
		&execMs, &peakMB, &queries, &hitRate, &rowsPerSec,
		&errMsg, &run.CreatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	run.Metrics = ingest.RunMetrics{
		ExecutionTimeMs: execMs.Int64,
		PeakMemoryMB:    peakMB.Float64,
		StoreQueryCount: queries.Int64,
		CacheHitRate:    hitRate.Float64,
		RowsPerSec:      rowsPerSec.Float64,
	}
	run.ErrorMessage = errMsg.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// SetStatus moves the run to the given lifecycle status.
func (s *Store) SetStatus(ctx context.Context, runID uuid.UUID, status ingest.RunStatus) error {
	if _, err := s.db.DB.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = $2 WHERE run_id = $1`,
		runID, status,
	); err != nil {
		return fmt.Errorf("updating run %s status: %w", runID, err)
	}
	return nil
}

// SetProgress updates the running rows_processed counter.
func (s *Store) SetProgress(ctx context.Context, runID uuid.UUID, rowsProcessed int64) error {
	if _, err := s.db.DB.ExecContext(ctx,
		`UPDATE ingestion_runs SET rows_processed = $2 WHERE run_id = $1`,
		runID, rowsProcessed,
	); err != nil {
		return fmt.Errorf("updating run %s progress: %w", runID, err)
	}
	return nil
}

// Complete records the COMPLETED terminal state with final counters and
// metrics.
func (s *Store) Complete(ctx context.Context, runID uuid.UUID, rowsProcessed, rowsRejected int64, m ingest.RunMetrics, completedAt time.Time) error {
	if _, err := s.db.DB.ExecContext(ctx,
		`UPDATE ingestion_runs SET
		    status = $2, rows_processed = $3, rows_rejected = $4,
		    execution_time_ms = $5, peak_memory_mb = $6, store_query_count = $7,
		    cache_hit_rate = $8, processing_rate_rows_per_sec = $9, completed_at = $10
		  WHERE run_id = $1`,
		runID, ingest.StatusCompleted, rowsProcessed, rowsRejected,
		m.ExecutionTimeMs, m.PeakMemoryMB, m.StoreQueryCount,
		m.CacheHitRate, m.RowsPerSec, completedAt,
	); err != nil {
		return fmt.Errorf("completing run %s: %w", runID, err)
	}
	return nil
}

// Fail records the FAILED terminal state, leaving counters at their last
// successfully-updated values.
func (s *Store) Fail(ctx context.Context, runID uuid.UUID, errorMessage string, completedAt time.Time) error {
	if _, err := s.db.DB.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = $2, error_message = $3, completed_at = $4
		  WHERE run_id = $1`,
		runID, ingest.StatusFailed, errorMessage, completedAt,
	); err != nil {
		return fmt.Errorf("failing run %s: %w", runID, err)
	}
	return nil
}

// Delete removes a run record (submission rollback only).
func (s *Store) Delete(ctx context.Context, runID uuid.UUID) error {
	if _, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM ingestion_runs WHERE run_id = $1`, runID,
	); err != nil {
		return fmt.Errorf("deleting run %s: %w", runID, err)
	}
	return nil
}

// ZoneTotals groups by zone with sum/count/avg of amount, ranked by total
// descending.
func (s *Store) ZoneTotals(ctx context.Context, limit int) ([]ZoneTotal, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT zone, SUM(amount), COUNT(*), AVG(amount)
		   FROM transactions
		  GROUP BY zone
		  ORDER BY SUM(amount) DESC
		  LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying zone totals: %w", err)
	}
	defer rows.Close()

	var totals []ZoneTotal
	for rows.Next() {
		var zt ZoneTotal
		if err := rows.Scan(&zt.Zone, &zt.TotalAmount, &zt.TransactionCount, &zt.AverageAmount); err != nil {
			return nil, fmt.Errorf("scanning zone total: %w", err)
		}
		totals = append(totals, zt)
	}
	return totals, rows.Err()
}

// CategoryCounts groups by category, most frequent first.
func (s *Store) CategoryCounts(ctx context.Context) ([]CategoryCount, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT category, COUNT(*)
		   FROM transactions
		  GROUP BY category
		  ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying category counts: %w", err)
	}
	defer rows.Close()

	var counts []CategoryCount
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.TransactionCount); err != nil {
			return nil, fmt.Errorf("scanning category count: %w", err)
		}
		counts = append(counts, cc)
	}
	return counts, rows.Err()
}

// TotalTransactions returns the grand total row count.
func (s *Store) TotalTransactions(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions`,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}
	return total, nil
}

// DormantMerchants returns one page of merchants with no transactions plus
// the total dormant count.
func (s *Store) DormantMerchants(ctx context.Context, limit, offset int) ([]ingest.Merchant, int64, error) {
	total, err := s.DormantMerchantCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT m.merchant_id, COALESCE(m.name, ''), COALESCE(m.zone, ''), m.created_at
		   FROM merchants m
		  WHERE NOT EXISTS (
		        SELECT 1 FROM transactions t WHERE t.merchant_id = m.merchant_id)
		  ORDER BY m.merchant_id
		  LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying dormant merchants: %w", err)
	}
	defer rows.Close()

	var merchants []ingest.Merchant
	for rows.Next() {
		var m ingest.Merchant
		if err := rows.Scan(&m.MerchantID, &m.Name, &m.Zone, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning merchant: %w", err)
		}
		merchants = append(merchants, m)
	}
	return merchants, total, rows.Err()
}

// DormantMerchantCount counts merchants referenced by no transaction.
func (s *Store) DormantMerchantCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*)
		   FROM merchants m
		  WHERE NOT EXISTS (
		        SELECT 1 FROM transactions t WHERE t.merchant_id = m.merchant_id)`,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting dormant merchants: %w", err)
	}
	return count, nil
}

// HourlyBuckets groups by hour of day; hours with no transactions are
// absent and filled in by the caller.
func (s *Store) HourlyBuckets(ctx context.Context) ([]HourlyBucket, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT EXTRACT(HOUR FROM timestamp)::int AS hour, COUNT(*), AVG(amount)
		   FROM transactions
		  GROUP BY hour
		  ORDER BY hour`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying hourly buckets: %w", err)
	}
	defer rows.Close()

	var buckets []HourlyBucket
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.Hour, &b.TransactionCount, &b.AverageAmount); err != nil {
			return nil, fmt.Errorf("scanning hourly bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// RetentionCounts groups transactions by customer phone and reduces to the
// three counts the retention view needs. The INVALID phone sentinel is not
// a customer and is excluded.
func (s *Store) RetentionCounts(ctx context.Context) (RetentionCounts, error) {
	var rc RetentionCounts
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE n > 1), COALESCE(SUM(n), 0)
		   FROM (SELECT COUNT(*) AS n
		           FROM transactions
		          WHERE customer_phone <> 'INVALID'
		          GROUP BY customer_phone) c`,
	).Scan(&rc.TotalCustomers, &rc.RepeatCustomers, &rc.TotalTransactions)
	if err != nil {
		return RetentionCounts{}, fmt.Errorf("querying retention counts: %w", err)
	}
	return rc, nil
}

// CategoryStats computes per-category mean and sample standard deviation of
// amount. A NULL stddev (single row) scans as zero.
func (s *Store) CategoryStats(ctx context.Context) ([]CategoryStat, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT category, AVG(amount), COALESCE(STDDEV_SAMP(amount), 0)
		   FROM transactions
		  GROUP BY category`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying category stats: %w", err)
	}
	defer rows.Close()

	var stats []CategoryStat
	for rows.Next() {
		var cs CategoryStat
		if err := rows.Scan(&cs.Category, &cs.Mean, &cs.StdDev); err != nil {
			return nil, fmt.Errorf("scanning category stat: %w", err)
		}
		stats = append(stats, cs)
	}
	return stats, rows.Err()
}

// TransactionsAbove returns the transactions in a category whose amount
// strictly exceeds the threshold.
func (s *Store) TransactionsAbove(ctx context.Context, category string, threshold decimal.Decimal) ([]OutlierTransaction, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT transaction_id, amount
		   FROM transactions
		  WHERE category = $1 AND amount > $2`,
		category, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("querying outliers for %s: %w", category, err)
	}
	defer rows.Close()

	var outliers []OutlierTransaction
	for rows.Next() {
		var o OutlierTransaction
		if err := rows.Scan(&o.TransactionID, &o.Amount); err != nil {
			return nil, fmt.Errorf("scanning outlier: %w", err)
		}
		outliers = append(outliers, o)
	}
	return outliers, rows.Err()
}
