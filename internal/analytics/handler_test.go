package analytics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marketpulse/transaction-analytics/internal/store"
)

func newTestServer(t *testing.T, st *fakeStore) *httptest.Server {
	t.Helper()
	service := NewService(st, testConfig())
	h := NewHandler(service, nil, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics/zone-leaderboard", h.ZoneLeaderboard)
	mux.HandleFunc("GET /api/v1/analytics/category-distribution", h.CategoryDistribution)
	mux.HandleFunc("GET /api/v1/analytics/dormant-merchants", h.DormantMerchants)
	mux.HandleFunc("GET /api/v1/analytics/hourly-pattern", h.HourlyPattern)
	mux.HandleFunc("GET /api/v1/analytics/anomalies", h.Anomalies)
	mux.HandleFunc("GET /api/v1/analytics/customer-retention", h.CustomerRetention)
	mux.HandleFunc("GET /api/v1/analytics/full-report", h.FullReport)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestZoneLeaderboardEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeStore{zones: []store.ZoneTotal{
		{Zone: "NORTH", TotalAmount: 1000, TransactionCount: 10, AverageAmount: 100},
	}})

	body := getJSON(t, srv.URL+"/api/v1/analytics/zone-leaderboard", http.StatusOK)
	data, ok := body["data"].([]any)
	if !ok || len(data) != 1 {
		t.Fatalf("data = %v, want one entry", body["data"])
	}
	entry := data[0].(map[string]any)
	if entry["zone"] != "NORTH" || entry["rank"] != float64(1) {
		t.Errorf("entry = %v, want NORTH at rank 1", entry)
	}
	if _, ok := body["query_time_ms"]; !ok {
		t.Error("response missing query_time_ms")
	}
}

func TestDormantMerchantsPaginationEnvelope(t *testing.T) {
	dormant := &fakeStore{dormantN: 3}
	srv := newTestServer(t, dormant)

	body := getJSON(t, srv.URL+"/api/v1/analytics/dormant-merchants?page=1&page_size=2", http.StatusOK)
	pg, ok := body["pagination"].(map[string]any)
	if !ok {
		t.Fatalf("pagination envelope missing: %v", body)
	}
	if pg["page"] != float64(1) || pg["page_size"] != float64(2) {
		t.Errorf("pagination = %v, want page 1 size 2", pg)
	}
	if pg["total"] != float64(3) || pg["total_pages"] != float64(2) {
		t.Errorf("pagination = %v, want total 3, total_pages 2", pg)
	}
}

func TestInvalidPaginationRejected(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})

	for _, query := range []string{"?page=0", "?page_size=2000", "?page=abc"} {
		resp, err := http.Get(srv.URL + "/api/v1/analytics/anomalies" + query)
		if err != nil {
			t.Fatalf("GET %s: %v", query, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s: status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestQueryFailureReturnsGenericError(t *testing.T) {
	st := &fakeStore{errs: map[string]error{"HourlyBuckets": errTest}}
	srv := newTestServer(t, st)

	body := getJSON(t, srv.URL+"/api/v1/analytics/hourly-pattern", http.StatusInternalServerError)
	if body["error"] != "Query failed" {
		t.Errorf("error = %v, want generic Query failed", body["error"])
	}
}

func TestHourlyPatternEndpointFillsAllHours(t *testing.T) {
	srv := newTestServer(t, &fakeStore{hours: []store.HourlyBucket{{Hour: 12, TransactionCount: 5, AverageAmount: 10}}})

	body := getJSON(t, srv.URL+"/api/v1/analytics/hourly-pattern", http.StatusOK)
	data := body["data"].([]any)
	if len(data) != 24 {
		t.Fatalf("data entries = %d, want 24", len(data))
	}
}

func TestFullReportEndpoint(t *testing.T) {
	srv := newTestServer(t, reportStore())

	body := getJSON(t, srv.URL+"/api/v1/analytics/full-report", http.StatusOK)
	sections, ok := body["sections"].(map[string]any)
	if !ok || len(sections) != 5 {
		t.Fatalf("sections = %v, want 5 entries", body["sections"])
	}
	if body["dormant_merchants_count"] != float64(3) {
		t.Errorf("dormant_merchants_count = %v, want 3", body["dormant_merchants_count"])
	}
	if _, ok := body["total_query_time_ms"]; !ok {
		t.Error("response missing total_query_time_ms")
	}
}

var errTest = errors.New("store unavailable")
