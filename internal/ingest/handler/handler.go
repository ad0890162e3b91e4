// Package handler exposes the upload submission and run status HTTP
// endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/marketpulse/transaction-analytics/internal/ingest"
	"github.com/marketpulse/transaction-analytics/internal/ingest/gateway"
	"github.com/marketpulse/transaction-analytics/internal/store"
	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
	"github.com/marketpulse/transaction-analytics/pkg/logger"
)

// maxMultipartMemory bounds how much of the multipart form is held in
// memory; the rest spills to disk.
const maxMultipartMemory = 32 << 20

type Handler struct {
	gateway *gateway.Gateway
	runs    store.RunStore
	logger  *slog.Logger
}

func New(gw *gateway.Gateway, runs store.RunStore) *Handler {
	return &Handler{
		gateway: gw,
		runs:    runs,
		logger:  slog.Default().With("component", "ingest-handler"),
	}
}

// Upload accepts a multipart file under the "file" field and returns the
// submission receipt. It never waits for processing.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		h.writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	receipt, err := h.gateway.Submit(ctx, gateway.Upload{
		Filename: header.Filename,
		Size:     header.Size,
		Content:  file,
	})
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		message := "Upload failed due to server error"
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
		if status >= http.StatusInternalServerError {
			log.Error("submission failed", "error", err, "status_code", status)
		}
		h.writeError(w, status, message)
		return
	}

	log.Info("upload accepted",
		"run_id", receipt.RunID,
		"filename", receipt.Filename,
		"estimated_rows", receipt.EstimatedRows,
	)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"run_id":         receipt.RunID,
		"filename":       receipt.Filename,
		"size_mb":        receipt.SizeMB,
		"estimated_rows": receipt.EstimatedRows,
		"status":         receipt.Status,
		"message":        receipt.Message,
	})
}

// Stats returns a run's status and performance metrics. A malformed run ID
// is indistinguishable from a missing one: both are not-found.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Invalid run ID format")
		return
	}
	run, err := h.runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, apperrors.ErrRunNotFound) {
			h.writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		logger.FromContext(ctx).Error("loading run failed", "run_id", runID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  run.RunID.String(),
		"status":  run.Status,
		"size_mb": ingest.SizeMB(run.FileSize),
		"metrics": map[string]any{
			"execution_time_ms":            run.Metrics.ExecutionTimeMs,
			"peak_memory_mb":               run.Metrics.PeakMemoryMB,
			"rows_processed":               run.RowsProcessed,
			"rows_rejected":                run.RowsRejected,
			"store_query_count":            run.Metrics.StoreQueryCount,
			"cache_hit_rate":               run.Metrics.CacheHitRate,
			"processing_rate_rows_per_sec": run.Metrics.RowsPerSec,
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "message": message})
}
