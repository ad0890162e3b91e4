package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/marketpulse/transaction-analytics/internal/store"
)

func reportStore() *fakeStore {
	return &fakeStore{
		zones:     []store.ZoneTotal{{Zone: "NORTH", TotalAmount: 1000, TransactionCount: 10, AverageAmount: 100}},
		counts:    []store.CategoryCount{{Category: "Grocery", TransactionCount: 10}},
		retention: store.RetentionCounts{TotalCustomers: 5, RepeatCustomers: 2, TotalTransactions: 10},
		dormantN:  3,
		stats:     []store.CategoryStat{{Category: "Grocery", Mean: 100, StdDev: 0}},
	}
}

func TestFullReportAssemblesAllSections(t *testing.T) {
	s := NewService(reportStore(), testConfig())

	report, err := s.FullReport(context.Background())
	if err != nil {
		t.Fatalf("FullReport() error = %v", err)
	}
	if len(report.ZoneLeaderboard) != 1 {
		t.Errorf("ZoneLeaderboard entries = %d, want 1", len(report.ZoneLeaderboard))
	}
	if report.DormantMerchantCount != 3 {
		t.Errorf("DormantMerchantCount = %d, want 3", report.DormantMerchantCount)
	}
	if report.CustomerRetention == nil {
		t.Fatal("CustomerRetention = nil")
	}
	for name, status := range report.Sections {
		if status != SectionOK {
			t.Errorf("section %s status = %s, want ok", name, status)
		}
	}
	if len(report.Sections) != 5 {
		t.Errorf("sections = %d, want 5", len(report.Sections))
	}
}

func TestFullReportPartialOnSectionFailure(t *testing.T) {
	st := reportStore()
	st.errs = map[string]error{"RetentionCounts": errors.New("timeout")}
	s := NewService(st, testConfig())

	report, err := s.FullReport(context.Background())
	if err != nil {
		t.Fatalf("FullReport() error = %v, want partial report", err)
	}
	if report.Sections[sectionRetention] != SectionError {
		t.Errorf("retention section status = %s, want error", report.Sections[sectionRetention])
	}
	if report.Sections[sectionLeaderboard] != SectionOK {
		t.Errorf("leaderboard section status = %s, want ok", report.Sections[sectionLeaderboard])
	}
	if report.CustomerRetention != nil {
		t.Error("CustomerRetention populated despite section failure")
	}
	if len(report.ZoneLeaderboard) != 1 {
		t.Error("surviving sections lost alongside the failed one")
	}
}

func TestFullReportFailsWhenEverySectionDoes(t *testing.T) {
	st := reportStore()
	st.errs = map[string]error{
		"ZoneTotals":           errors.New("down"),
		"CategoryCounts":       errors.New("down"),
		"RetentionCounts":      errors.New("down"),
		"DormantMerchantCount": errors.New("down"),
		"CategoryStats":        errors.New("down"),
	}
	s := NewService(st, testConfig())

	if _, err := s.FullReport(context.Background()); err == nil {
		t.Fatal("FullReport() with all sections failing: want error, got nil")
	}
}
