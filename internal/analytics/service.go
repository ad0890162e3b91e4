package analytics

import (
	"context"
	"log/slog"
	"math"
	"net/http"

	"github.com/marketpulse/transaction-analytics/internal/store"
	"github.com/marketpulse/transaction-analytics/pkg/config"
	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
)

// Service computes the analytics views. The store does the grouped
// aggregation; the service does ranking, percentages, gap filling, and
// pagination.
type Service struct {
	store  store.AnalyticsStore
	cfg    config.AnalyticsConfig
	logger *slog.Logger
}

func NewService(st store.AnalyticsStore, cfg config.AnalyticsConfig) *Service {
	return &Service{
		store:  st,
		cfg:    cfg,
		logger: slog.Default().With("component", "analytics"),
	}
}

// ZoneLeaderboard returns the top zones by total amount, ranked from 1.
func (s *Service) ZoneLeaderboard(ctx context.Context) ([]ZoneEntry, error) {
	totals, err := s.store.ZoneTotals(ctx, s.cfg.LeaderboardSize)
	if err != nil {
		s.logger.Error("zone totals query failed", "error", err)
		return nil, apperrors.New(apperrors.ErrQueryFailed, http.StatusInternalServerError, "Query failed")
	}

	entries := make([]ZoneEntry, 0, len(totals))
	for i, t := range totals {
		entries = append(entries, ZoneEntry{
			Rank:             i + 1,
			Zone:             t.Zone,
			TotalAmount:      round2(t.TotalAmount),
			TransactionCount: t.TransactionCount,
			AverageAmount:    round2(t.AverageAmount),
		})
	}
	return entries, nil
}

// CategoryDistribution returns each category's share of all transactions.
// An empty store yields an empty slice, not an error.
func (s *Service) CategoryDistribution(ctx context.Context) ([]CategoryEntry, error) {
	counts, err := s.store.CategoryCounts(ctx)
	if err != nil {
		s.logger.Error("category counts query failed", "error", err)
		return nil, apperrors.New(apperrors.ErrQueryFailed, http.StatusInternalServerError, "Query failed")
	}

	var total int64
	for _, c := range counts {
		total += c.TransactionCount
	}
	entries := make([]CategoryEntry, 0, len(counts))
	if total == 0 {
		return entries, nil
	}
	for _, c := range counts {
		entries = append(entries, CategoryEntry{
			Category:         c.Category,
			Percentage:       round1(float64(c.TransactionCount) / float64(total) * 100),
			TransactionCount: c.TransactionCount,
		})
	}
	return entries, nil
}

// DormantMerchants pages through merchants with no transactions. Pages past
// the end are valid and return an empty list.
func (s *Service) DormantMerchants(ctx context.Context, params PageParams) ([]DormantMerchant, Pagination, error) {
	items, total, err := s.store.DormantMerchants(ctx, params.PageSize, params.Offset())
	if err != nil {
		s.logger.Error("dormant merchants query failed", "error", err)
		return nil, Pagination{}, apperrors.New(apperrors.ErrQueryFailed, http.StatusInternalServerError, "Query failed")
	}

	merchants := make([]DormantMerchant, 0, len(items))
	for _, m := range items {
		name := m.Name
		if name == "" {
			name = "Unknown"
		}
		zone := m.Zone
		if zone == "" {
			zone = "Unknown"
		}
		merchants = append(merchants, DormantMerchant{
			MerchantID:   m.MerchantID,
			MerchantName: name,
			Zone:         zone,
		})
	}
	page := Pagination{
		Page:       params.Page,
		PageSize:   params.PageSize,
		Total:      total,
		TotalPages: totalPages(total, params.PageSize),
	}
	return merchants, page, nil
}

// HourlyPattern returns all 24 hours of day, zero-filled for hours with no
// transactions.
func (s *Service) HourlyPattern(ctx context.Context) ([]HourlyEntry, error) {
	buckets, err := s.store.HourlyBuckets(ctx)
	if err != nil {
		s.logger.Error("hourly buckets query failed", "error", err)
		return nil, apperrors.New(apperrors.ErrQueryFailed, http.StatusInternalServerError, "Query failed")
	}

	entries := make([]HourlyEntry, 24)
	for h := range entries {
		entries[h].Hour = h
	}
	for _, b := range buckets {
		if b.Hour < 0 || b.Hour > 23 {
			continue
		}
		entries[b.Hour].TransactionCount = b.TransactionCount
		entries[b.Hour].AverageAmount = round2(b.AverageAmount)
	}
	return entries, nil
}

// CustomerRetention summarizes repeat behavior keyed by phone number.
// Transactions whose phone normalized to the INVALID sentinel carry no
// customer identity and are left out of every count, so the percentages
// describe identifiable customers only.
func (s *Service) CustomerRetention(ctx context.Context) (*Retention, error) {
	counts, err := s.store.RetentionCounts(ctx)
	if err != nil {
		s.logger.Error("retention query failed", "error", err)
		return nil, apperrors.New(apperrors.ErrQueryFailed, http.StatusInternalServerError, "Query failed")
	}

	ret := &Retention{
		TotalUniqueCustomers:       counts.TotalCustomers,
		RepeatCustomers:            counts.RepeatCustomers,
		SingleTransactionCustomers: counts.TotalCustomers - counts.RepeatCustomers,
	}
	if counts.TotalCustomers > 0 {
		ret.RepeatCustomerPercentage = round2(float64(counts.RepeatCustomers) / float64(counts.TotalCustomers) * 100)
		ret.AvgTransactionsPerCustomer = round2(float64(counts.TotalTransactions) / float64(counts.TotalCustomers))
	}
	return ret, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
