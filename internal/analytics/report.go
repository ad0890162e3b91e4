package analytics

import (
	"context"
	"sync"
	"time"
)

const (
	sectionLeaderboard  = "zone_leaderboard"
	sectionDistribution = "category_distribution"
	sectionRetention    = "customer_retention"
	sectionDormant      = "dormant_merchants"
	sectionAnomalies    = "anomalies"
)

// FullReport runs every report section concurrently and assembles the
// combined result. A failed section is reported with an error status while
// the rest of the report stands; the call itself only fails when every
// section does.
func (s *Service) FullReport(ctx context.Context) (*Report, error) {
	start := time.Now()

	report := &Report{
		ZoneLeaderboard:      []ZoneEntry{},
		CategoryDistribution: []CategoryEntry{},
		Sections:             make(map[string]SectionStatus, 5),
	}
	errs := make([]error, 5)
	var wg sync.WaitGroup

	wg.Add(5)
	go func() {
		defer wg.Done()
		entries, err := s.ZoneLeaderboard(ctx)
		if err != nil {
			errs[0] = err
			return
		}
		report.ZoneLeaderboard = entries
	}()
	go func() {
		defer wg.Done()
		entries, err := s.CategoryDistribution(ctx)
		if err != nil {
			errs[1] = err
			return
		}
		report.CategoryDistribution = entries
	}()
	go func() {
		defer wg.Done()
		ret, err := s.CustomerRetention(ctx)
		if err != nil {
			errs[2] = err
			return
		}
		report.CustomerRetention = ret
	}()
	go func() {
		defer wg.Done()
		count, err := s.store.DormantMerchantCount(ctx)
		if err != nil {
			s.logger.Error("dormant merchant count query failed", "error", err)
			errs[3] = err
			return
		}
		report.DormantMerchantCount = count
	}()
	go func() {
		defer wg.Done()
		anomalies, err := s.detectAnomalies(ctx)
		if err != nil {
			errs[4] = err
			return
		}
		report.AnomalyCount = int64(len(anomalies))
	}()
	wg.Wait()

	names := []string{sectionLeaderboard, sectionDistribution, sectionRetention, sectionDormant, sectionAnomalies}
	failed := 0
	for i, name := range names {
		if errs[i] != nil {
			report.Sections[name] = SectionError
			failed++
		} else {
			report.Sections[name] = SectionOK
		}
	}
	if failed == len(names) {
		return nil, errs[0]
	}
	if failed > 0 {
		s.logger.Warn("report assembled with failed sections", "failed", failed)
	}

	report.TotalQueryTimeMs = time.Since(start).Milliseconds()
	return report, nil
}
