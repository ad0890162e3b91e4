package analytics

import (
	"context"
	"net/http"
	"sort"

	"github.com/shopspring/decimal"

	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
)

const anomalySigma = 3.0

// detectAnomalies flags transactions whose amount exceeds its category mean
// by more than three standard deviations. Categories with zero deviation
// (uniform or single-row) cannot produce outliers and are skipped.
func (s *Service) detectAnomalies(ctx context.Context) ([]Anomaly, error) {
	stats, err := s.store.CategoryStats(ctx)
	if err != nil {
		s.logger.Error("category stats query failed", "error", err)
		return nil, apperrors.New(apperrors.ErrQueryFailed, http.StatusInternalServerError, "Query failed")
	}

	var anomalies []Anomaly
	for _, st := range stats {
		if st.StdDev <= 0 {
			continue
		}
		threshold := decimal.NewFromFloat(st.Mean + anomalySigma*st.StdDev)
		outliers, err := s.store.TransactionsAbove(ctx, st.Category, threshold)
		if err != nil {
			s.logger.Error("outlier query failed", "category", st.Category, "error", err)
			return nil, apperrors.New(apperrors.ErrQueryFailed, http.StatusInternalServerError, "Query failed")
		}
		for _, o := range outliers {
			amount, _ := o.Amount.Float64()
			anomalies = append(anomalies, Anomaly{
				TransactionID:  o.TransactionID,
				Amount:         amount,
				Category:       st.Category,
				CategoryMean:   round2(st.Mean),
				CategoryStdDev: round2(st.StdDev),
				StdDevFromMean: round1((amount - st.Mean) / st.StdDev),
			})
		}
	}

	sort.Slice(anomalies, func(i, j int) bool {
		return anomalies[i].Amount > anomalies[j].Amount
	})
	return anomalies, nil
}

// Anomalies returns the flagged transactions across all categories, ordered
// by amount descending and paginated in memory.
func (s *Service) Anomalies(ctx context.Context, params PageParams) ([]Anomaly, Pagination, error) {
	all, err := s.detectAnomalies(ctx)
	if err != nil {
		return nil, Pagination{}, err
	}

	total := int64(len(all))
	start := params.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + params.PageSize
	if end > len(all) {
		end = len(all)
	}
	page := Pagination{
		Page:       params.Page,
		PageSize:   params.PageSize,
		Total:      total,
		TotalPages: totalPages(total, params.PageSize),
	}
	out := make([]Anomaly, end-start)
	copy(out, all[start:end])
	return out, page, nil
}
