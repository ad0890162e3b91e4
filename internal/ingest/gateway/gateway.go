// Package gateway accepts uploaded transaction files. It performs the
// structural pre-flight checks, persists the run record, stages the file,
// and hands execution off to the dispatcher — falling back to the bounded
// in-process pool, and rolling everything back when both paths fail.
package gateway

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/marketpulse/transaction-analytics/internal/ingest"
	"github.com/marketpulse/transaction-analytics/internal/ingest/dispatch"
	"github.com/marketpulse/transaction-analytics/internal/store"
	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
	"github.com/marketpulse/transaction-analytics/pkg/metrics"
)

// headerSampleSize is how many leading bytes are inspected for the header
// pre-flight checks.
const headerSampleSize = 2048

// maxFilenameLen bounds the sanitized filename stored with a run.
const maxFilenameLen = 255

// Upload is one submitted file: its declared name and size plus the content
// stream.
type Upload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// Gateway validates submissions and queues runs. It never waits for
// processing.
type Gateway struct {
	runs        store.RunStore
	dispatcher  dispatch.Dispatcher
	fallback    *dispatch.Pool
	stagingDir  string
	maxFileSize int64
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Config carries the Gateway's collaborators. Dispatcher may be nil (no
// broker configured); Metrics may be nil.
type Config struct {
	Runs        store.RunStore
	Dispatcher  dispatch.Dispatcher
	Fallback    *dispatch.Pool
	StagingDir  string
	MaxFileSize int64
	Metrics     *metrics.Metrics
}

// New creates a Gateway.
func New(cfg Config) *Gateway {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 3 << 30
	}
	return &Gateway{
		runs:        cfg.Runs,
		dispatcher:  cfg.Dispatcher,
		fallback:    cfg.Fallback,
		stagingDir:  cfg.StagingDir,
		maxFileSize: cfg.MaxFileSize,
		metrics:     cfg.Metrics,
		logger:      slog.Default().With("component", "gateway"),
	}
}

// Submit runs the pre-flight checks in order, creates the run, stages the
// file, and dispatches. Each check failure is a distinct structural
// rejection produced before any run record exists.
func (g *Gateway) Submit(ctx context.Context, upload Upload) (*ingest.UploadReceipt, error) {
	if upload.Content == nil {
		return nil, g.rejected("No file provided")
	}
	if upload.Size == 0 {
		return nil, g.rejected("Empty file not allowed")
	}
	if !strings.HasSuffix(upload.Filename, ".csv") {
		return nil, g.rejected("Only CSV files allowed")
	}
	if upload.Size > g.maxFileSize {
		return nil, g.rejected("File too large (max 3GB)")
	}

	sample := make([]byte, headerSampleSize)
	n, err := io.ReadFull(upload.Content, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, g.rejected("Failed to validate CSV format")
	}
	sample = sample[:n]
	if err := checkHeaderSample(sample); err != nil {
		g.count("rejected")
		return nil, err
	}

	runID := uuid.New()
	filename := sanitizeFilename(upload.Filename, runID)

	run := &ingest.Run{
		RunID:    runID,
		Status:   ingest.StatusQueued,
		Filename: filename,
		FileSize: upload.Size,
	}
	if err := g.runs.Create(ctx, run); err != nil {
		g.count("error")
		g.logger.Error("creating run record failed", "error", err)
		return nil, apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "Database error")
	}

	stagedPath, err := g.stage(runID, filename, sample, upload.Content)
	if err != nil {
		g.count("error")
		g.logger.Error("staging upload failed", "run_id", runID, "error", err)
		g.rollback(ctx, runID, stagedPath)
		return nil, apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "Failed to save file")
	}

	job := dispatch.Job{RunID: runID, FilePath: stagedPath}
	if err := g.dispatchJob(ctx, job); err != nil {
		g.count("unavailable")
		g.rollback(ctx, runID, stagedPath)
		return nil, apperrors.New(apperrors.ErrQueueUnavailable, http.StatusServiceUnavailable, "Processing queue unavailable")
	}

	g.count("accepted")
	g.logger.Info("run queued",
		"run_id", runID,
		"filename", filename,
		"file_size", upload.Size,
	)
	return &ingest.UploadReceipt{
		RunID:         runID.String(),
		Filename:      filename,
		SizeMB:        ingest.SizeMB(upload.Size),
		EstimatedRows: estimateRows(upload.Size),
		Status:        string(ingest.StatusQueued),
		Message:       "File accepted and queued for processing.",
	}, nil
}

// dispatchJob tries asynchronous dispatch first, then the bounded fallback
// pool. Only a double failure surfaces to the caller.
func (g *Gateway) dispatchJob(ctx context.Context, job dispatch.Job) error {
	if g.dispatcher != nil {
		if err := g.dispatcher.Dispatch(ctx, job); err == nil {
			return nil
		} else {
			g.logger.Warn("async dispatch failed, using fallback pool",
				"run_id", job.RunID,
				"error", err,
			)
		}
	}
	if g.fallback == nil {
		return apperrors.ErrQueueUnavailable
	}
	return g.fallback.Submit(job)
}

// stage writes the buffered sample plus the rest of the stream to the
// staging location named by run ID and sanitized filename.
func (g *Gateway) stage(runID uuid.UUID, filename string, sample []byte, rest io.Reader) (string, error) {
	if err := os.MkdirAll(g.stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}
	path := filepath.Join(g.stagingDir, fmt.Sprintf("%s_%s", runID, filename))
	f, err := os.Create(path)
	if err != nil {
		return path, fmt.Errorf("creating staged file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(sample); err != nil {
		return path, fmt.Errorf("writing staged file: %w", err)
	}
	if _, err := io.Copy(f, rest); err != nil {
		return path, fmt.Errorf("writing staged file: %w", err)
	}
	return path, nil
}

// rollback undoes the staged file and run record after a dispatch or
// staging failure. Best-effort; rollback failures are swallowed.
func (g *Gateway) rollback(ctx context.Context, runID uuid.UUID, stagedPath string) {
	if stagedPath != "" {
		if err := os.Remove(stagedPath); err != nil && !os.IsNotExist(err) {
			g.logger.Warn("rollback: removing staged file failed", "path", stagedPath, "error", err)
		}
	}
	if err := g.runs.Delete(ctx, runID); err != nil {
		g.logger.Warn("rollback: deleting run record failed", "run_id", runID, "error", err)
	}
}

func (g *Gateway) rejected(message string) error {
	g.count("rejected")
	return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, message)
}

func (g *Gateway) count(outcome string) {
	if g.metrics != nil {
		g.metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
	}
}

// checkHeaderSample validates the leading bytes: decodable, non-blank,
// parsable header row, and the full required header set. Missing headers
// are named in the rejection — the one case where detail is echoed back.
func checkHeaderSample(sample []byte) error {
	if !utf8.Valid(sample) {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "File encoding not supported")
	}
	text := string(sample)
	if strings.TrimSpace(text) == "" {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "File appears to be empty or corrupted")
	}

	line, _, _ := strings.Cut(text, "\n")
	headers, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "Malformed CSV file")
	}
	if len(headers) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "No CSV headers found")
	}

	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.TrimSpace(h)] = true
	}
	var missing []string
	for _, required := range ingest.RequiredHeaders {
		if !present[required] {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"Missing required headers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// sanitizeFilename keeps only the base name, truncated to a bounded length,
// with a generated fallback for empty names.
func sanitizeFilename(name string, runID uuid.UUID) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Sprintf("upload_%s.csv", runID)
	}
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	return name
}

// estimateRows is the submission-time heuristic: roughly one row per 100
// bytes, at least one.
func estimateRows(size int64) int64 {
	rows := size / 100
	if rows < 1 {
		rows = 1
	}
	return rows
}
