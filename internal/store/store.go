// Package store defines the persistence interfaces for transactions,
// merchants, ingestion runs, and the grouped aggregations backing the
// analytics views, together with their PostgreSQL implementation.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marketpulse/transaction-analytics/internal/ingest"
	"github.com/shopspring/decimal"
)

// TransactionStore persists accepted transaction records.
type TransactionStore interface {
	// BulkInsert writes a batch in one round-trip. Duplicate transaction
	// IDs are silently ignored, not errors.
	BulkInsert(ctx context.Context, txns []ingest.Transaction) error
}

// MerchantStore creates merchant records lazily.
type MerchantStore interface {
	Ensure(ctx context.Context, merchantID string) error
}

// RunStore persists ingestion run records. Only the run's own controller
// mutates a run after creation.
type RunStore interface {
	Create(ctx context.Context, run *ingest.Run) error
	Get(ctx context.Context, runID uuid.UUID) (*ingest.Run, error)
	SetStatus(ctx context.Context, runID uuid.UUID, status ingest.RunStatus) error
	SetProgress(ctx context.Context, runID uuid.UUID, rowsProcessed int64) error
	Complete(ctx context.Context, runID uuid.UUID, rowsProcessed, rowsRejected int64, metrics ingest.RunMetrics, completedAt time.Time) error
	Fail(ctx context.Context, runID uuid.UUID, errorMessage string, completedAt time.Time) error
	// Delete removes a run record; used only for submission rollback.
	Delete(ctx context.Context, runID uuid.UUID) error
}

// ZoneTotal is one zone's aggregate, ordered by total amount descending.
type ZoneTotal struct {
	Zone             string
	TotalAmount      float64
	TransactionCount int64
	AverageAmount    float64
}

// CategoryCount is one category's transaction count, ordered descending.
type CategoryCount struct {
	Category         string
	TransactionCount int64
}

// CategoryStat carries a category's sample mean and standard deviation of
// amount. StdDev is zero when the store reports NULL (fewer than two rows).
type CategoryStat struct {
	Category string
	Mean     float64
	StdDev   float64
}

// OutlierTransaction is a transaction exceeding a category threshold.
type OutlierTransaction struct {
	TransactionID string
	Amount        decimal.Decimal
}

// HourlyBucket is the aggregate for one hour-of-day that has transactions.
type HourlyBucket struct {
	Hour             int
	TransactionCount int64
	AverageAmount    float64
}

// RetentionCounts are the grouped per-customer counts behind the retention
// view.
type RetentionCounts struct {
	TotalCustomers    int64
	RepeatCustomers   int64
	TotalTransactions int64
}

// AnalyticsStore serves the read-only grouped aggregations. Each method is
// one store round-trip.
type AnalyticsStore interface {
	ZoneTotals(ctx context.Context, limit int) ([]ZoneTotal, error)
	CategoryCounts(ctx context.Context) ([]CategoryCount, error)
	TotalTransactions(ctx context.Context) (int64, error)
	// DormantMerchants returns merchants with zero transactions plus the
	// total dormant count for pagination.
	DormantMerchants(ctx context.Context, limit, offset int) ([]ingest.Merchant, int64, error)
	DormantMerchantCount(ctx context.Context) (int64, error)
	HourlyBuckets(ctx context.Context) ([]HourlyBucket, error)
	RetentionCounts(ctx context.Context) (RetentionCounts, error)
	CategoryStats(ctx context.Context) ([]CategoryStat, error)
	TransactionsAbove(ctx context.Context, category string, threshold decimal.Decimal) ([]OutlierTransaction, error)
}
