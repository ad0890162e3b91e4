// Package ingest defines the transaction, merchant, and ingestion-run types
// shared by the ingestion pipeline and its HTTP surface.
package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequiredHeaders is the exact header set an ingestion source must carry,
// case-sensitive.
var RequiredHeaders = []string{
	"TRANSACTION_ID",
	"MERCHANT_ID",
	"ZONE",
	"CATEGORY",
	"AMOUNT",
	"TIMESTAMP",
	"CUSTOMER_PHONE",
}

// PhoneInvalid is the sentinel stored when a customer phone fails the
// digit-count check. A soft correction, never a rejection.
const PhoneInvalid = "INVALID"

// MaxAmount is the upper bound for an accepted transaction amount.
var MaxAmount = decimal.NewFromInt(1_000_000)

// Transaction is one normalized, accepted transaction record. Immutable once
// written; duplicate transaction IDs are ignored by the store.
type Transaction struct {
	TransactionID string          `json:"transaction_id"`
	MerchantID    string          `json:"merchant_id"`
	Zone          string          `json:"zone"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	CustomerPhone string          `json:"customer_phone"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Merchant is created lazily the first time a transaction references it.
// Name and Zone stay empty until enriched out of band.
type Merchant struct {
	MerchantID string    `json:"merchant_id"`
	Name       string    `json:"merchant_name"`
	Zone       string    `json:"zone"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunStatus is the lifecycle state of an ingestion run. Transitions are
// monotonic: QUEUED → PROCESSING → COMPLETED | FAILED.
type RunStatus string

const (
	StatusQueued     RunStatus = "QUEUED"
	StatusProcessing RunStatus = "PROCESSING"
	StatusCompleted  RunStatus = "COMPLETED"
	StatusFailed     RunStatus = "FAILED"
)

// Run tracks one ingestion attempt for one source file, end to end.
type Run struct {
	RunID         uuid.UUID  `json:"run_id"`
	Status        RunStatus  `json:"status"`
	Filename      string     `json:"filename"`
	FileSize      int64      `json:"file_size"`
	RowsProcessed int64      `json:"rows_processed"`
	RowsRejected  int64      `json:"rows_rejected"`
	Metrics       RunMetrics `json:"metrics"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// RunMetrics holds the per-run performance figures finalized when the run
// reaches a terminal state.
type RunMetrics struct {
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	PeakMemoryMB    float64 `json:"peak_memory_mb"`
	StoreQueryCount int64   `json:"store_query_count"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	RowsPerSec      float64 `json:"processing_rate_rows_per_sec"`
}

// SizeMB converts a byte count to mebibytes rounded to one decimal place,
// the unit reported on receipts and run stats.
func SizeMB(size int64) float64 {
	mb := float64(size) / (1 << 20)
	return float64(int64(mb*10+0.5)) / 10
}

// UploadReceipt is returned to the caller after a submission passes all
// pre-flight checks and is queued. It does not wait for processing.
type UploadReceipt struct {
	RunID         string  `json:"run_id"`
	Filename      string  `json:"filename"`
	SizeMB        float64 `json:"size_mb"`
	EstimatedRows int64   `json:"estimated_rows"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
}
