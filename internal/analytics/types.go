// Package analytics computes the statistical read views over persisted
// transactions: leaderboards, distributions, dormancy, retention, hourly
// patterns, per-category anomaly detection, and the combined fan-out report.
package analytics

// ZoneEntry is one row of the zone leaderboard, ranked by total amount.
type ZoneEntry struct {
	Rank             int     `json:"rank"`
	Zone             string  `json:"zone"`
	TotalAmount      float64 `json:"total_amount"`
	TransactionCount int64   `json:"transaction_count"`
	AverageAmount    float64 `json:"average_amount"`
}

// CategoryEntry is one row of the category distribution.
type CategoryEntry struct {
	Category         string  `json:"category"`
	Percentage       float64 `json:"percentage"`
	TransactionCount int64   `json:"transaction_count"`
}

// DormantMerchant is a merchant with no transactions at query time.
type DormantMerchant struct {
	MerchantID   string `json:"merchant_id"`
	MerchantName string `json:"merchant_name"`
	Zone         string `json:"zone"`
}

// HourlyEntry is the aggregate for one hour of day; all 24 hours are always
// present.
type HourlyEntry struct {
	Hour             int     `json:"hour"`
	TransactionCount int64   `json:"transaction_count"`
	AverageAmount    float64 `json:"average_amount"`
}

// Retention summarizes repeat-customer behavior by phone number.
type Retention struct {
	TotalUniqueCustomers      int64   `json:"total_unique_customers"`
	RepeatCustomers           int64   `json:"repeat_customers"`
	RepeatCustomerPercentage  float64 `json:"repeat_customer_percentage"`
	SingleTransactionCustomers int64  `json:"single_transaction_customers"`
	AvgTransactionsPerCustomer float64 `json:"average_transactions_per_customer"`
}

// Anomaly is a transaction flagged by the per-category z-score rule.
type Anomaly struct {
	TransactionID  string  `json:"transaction_id"`
	Amount         float64 `json:"amount"`
	Category       string  `json:"category"`
	CategoryMean   float64 `json:"category_mean"`
	CategoryStdDev float64 `json:"category_std_dev"`
	StdDevFromMean float64 `json:"std_dev_from_mean"`
}

// Pagination is the envelope for paginated views.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// SectionStatus marks whether a report section computed successfully.
type SectionStatus string

const (
	SectionOK    SectionStatus = "ok"
	SectionError SectionStatus = "error"
)

// Report is the combined fan-out response. Sections that fail report an
// error status instead of blanking the whole report.
type Report struct {
	ZoneLeaderboard      []ZoneEntry     `json:"zone_leaderboard"`
	CategoryDistribution []CategoryEntry `json:"category_distribution"`
	CustomerRetention    *Retention      `json:"customer_retention"`
	DormantMerchantCount int64           `json:"dormant_merchants_count"`
	AnomalyCount         int64           `json:"anomalies_count"`
	Sections             map[string]SectionStatus `json:"sections"`
	TotalQueryTimeMs     int64           `json:"total_query_time_ms"`
}
