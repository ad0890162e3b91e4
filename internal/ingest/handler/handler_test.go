package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marketpulse/transaction-analytics/internal/ingest"
	"github.com/marketpulse/transaction-analytics/internal/ingest/dispatch"
	"github.com/marketpulse/transaction-analytics/internal/ingest/gateway"
	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
)

const sampleCSV = "TRANSACTION_ID,MERCHANT_ID,ZONE,CATEGORY,AMOUNT,TIMESTAMP,CUSTOMER_PHONE\nTXN-1,M-1,NORTH,Grocery,10,2026-01-15,+14155550123\n"

type fakeRuns struct {
	runs map[uuid.UUID]*ingest.Run
}

func (f *fakeRuns) Create(_ context.Context, run *ingest.Run) error {
	if f.runs == nil {
		f.runs = make(map[uuid.UUID]*ingest.Run)
	}
	f.runs[run.RunID] = run
	return nil
}

func (f *fakeRuns) Get(_ context.Context, runID uuid.UUID) (*ingest.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, apperrors.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeRuns) SetStatus(context.Context, uuid.UUID, ingest.RunStatus) error { return nil }
func (f *fakeRuns) SetProgress(context.Context, uuid.UUID, int64) error          { return nil }

func (f *fakeRuns) Complete(context.Context, uuid.UUID, int64, int64, ingest.RunMetrics, time.Time) error {
	return nil
}

func (f *fakeRuns) Fail(context.Context, uuid.UUID, string, time.Time) error { return nil }

func (f *fakeRuns) Delete(_ context.Context, runID uuid.UUID) error {
	delete(f.runs, runID)
	return nil
}

type acceptAllDispatcher struct{}

func (acceptAllDispatcher) Dispatch(context.Context, dispatch.Job) error { return nil }

func newTestServer(t *testing.T, runs *fakeRuns) *httptest.Server {
	t.Helper()
	gw := gateway.New(gateway.Config{
		Runs:        runs,
		Dispatcher:  acceptAllDispatcher{},
		StagingDir:  t.TempDir(),
		MaxFileSize: 3 << 30,
	})
	h := New(gw, runs)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/uploads", h.Upload)
	mux.HandleFunc("GET /api/v1/uploads/{run_id}/stats", h.Stats)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := io.Copy(fw, strings.NewReader(content)); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, url, filename, content string) (*http.Response, map[string]any) {
	t.Helper()
	body, contentType := multipartBody(t, filename, content)
	resp, err := http.Post(url+"/api/v1/uploads", contentType, body)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp, decoded
}

func TestUploadReturnsReceipt(t *testing.T) {
	runs := &fakeRuns{}
	srv := newTestServer(t, runs)

	resp, body := postUpload(t, srv.URL, "transactions.csv", sampleCSV)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	if body["status"] != "QUEUED" {
		t.Errorf("status = %v, want QUEUED", body["status"])
	}
	if body["filename"] != "transactions.csv" {
		t.Errorf("filename = %v, want transactions.csv", body["filename"])
	}
	if _, err := uuid.Parse(body["run_id"].(string)); err != nil {
		t.Errorf("run_id = %v, want a UUID", body["run_id"])
	}
}

func TestUploadWithoutFileField(t *testing.T) {
	srv := newTestServer(t, &fakeRuns{})

	resp, err := http.Post(srv.URL+"/api/v1/uploads", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadRejectionMessageSurfaces(t *testing.T) {
	srv := newTestServer(t, &fakeRuns{})

	resp, body := postUpload(t, srv.URL, "report.pdf", sampleCSV)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["message"] != "Only CSV files allowed" {
		t.Errorf("message = %v, want Only CSV files allowed", body["message"])
	}
}

func TestStatsReturnsRunMetrics(t *testing.T) {
	runs := &fakeRuns{}
	runID := uuid.New()
	runs.Create(context.Background(), &ingest.Run{
		RunID:         runID,
		Status:        ingest.StatusCompleted,
		FileSize:      5 << 20,
		RowsProcessed: 48000,
		RowsRejected:  2000,
		Metrics: ingest.RunMetrics{
			ExecutionTimeMs: 12500,
			PeakMemoryMB:    84.2,
			StoreQueryCount: 61,
			CacheHitRate:    0.93,
			RowsPerSec:      3840,
		},
	})
	srv := newTestServer(t, runs)

	resp, err := http.Get(srv.URL + "/api/v1/uploads/" + runID.String() + "/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body["status"] != "COMPLETED" {
		t.Errorf("status = %v, want COMPLETED", body["status"])
	}
	if body["size_mb"] != 5.0 {
		t.Errorf("size_mb = %v, want 5.0", body["size_mb"])
	}
	metrics := body["metrics"].(map[string]any)
	if metrics["rows_processed"] != float64(48000) {
		t.Errorf("rows_processed = %v, want 48000", metrics["rows_processed"])
	}
	if metrics["cache_hit_rate"] != 0.93 {
		t.Errorf("cache_hit_rate = %v, want 0.93", metrics["cache_hit_rate"])
	}
}

func TestStatsUnknownRun(t *testing.T) {
	srv := newTestServer(t, &fakeRuns{})

	resp, err := http.Get(srv.URL + "/api/v1/uploads/" + uuid.NewString() + "/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatsMalformedRunID(t *testing.T) {
	srv := newTestServer(t, &fakeRuns{})

	resp, err := http.Get(srv.URL + "/api/v1/uploads/not-a-uuid/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
