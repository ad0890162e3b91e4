package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
	"github.com/marketpulse/transaction-analytics/pkg/logger"
	"github.com/marketpulse/transaction-analytics/pkg/metrics"
)

// Handler serves the analytics HTTP views. Responses are cached whole in
// the view cache; pagination parameters are part of the cache key.
type Handler struct {
	service *Service
	cache   *ViewCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewHandler(service *Service, cache *ViewCache, m *metrics.Metrics) *Handler {
	return &Handler{
		service: service,
		cache:   cache,
		metrics: m,
		logger:  slog.Default().With("component", "analytics-handler"),
	}
}

type viewResponse struct {
	Data        any         `json:"data"`
	Pagination  *Pagination `json:"pagination,omitempty"`
	QueryTimeMs int64       `json:"query_time_ms"`
}

func (h *Handler) ZoneLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, "zone-leaderboard", func() (any, *Pagination, error) {
		entries, err := h.service.ZoneLeaderboard(r.Context())
		return entries, nil, err
	})
}

func (h *Handler) CategoryDistribution(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, "category-distribution", func() (any, *Pagination, error) {
		entries, err := h.service.CategoryDistribution(r.Context())
		return entries, nil, err
	})
}

func (h *Handler) HourlyPattern(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, "hourly-pattern", func() (any, *Pagination, error) {
		entries, err := h.service.HourlyPattern(r.Context())
		return entries, nil, err
	})
}

func (h *Handler) CustomerRetention(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, "customer-retention", func() (any, *Pagination, error) {
		ret, err := h.service.CustomerRetention(r.Context())
		return ret, nil, err
	})
}

func (h *Handler) DormantMerchants(w http.ResponseWriter, r *http.Request) {
	params, ok := h.pageParams(w, r)
	if !ok {
		return
	}
	key := fmt.Sprintf("dormant-merchants:page=%d:size=%d", params.Page, params.PageSize)
	h.serveView(w, r, key, func() (any, *Pagination, error) {
		merchants, page, err := h.service.DormantMerchants(r.Context(), params)
		return merchants, &page, err
	})
}

func (h *Handler) Anomalies(w http.ResponseWriter, r *http.Request) {
	params, ok := h.pageParams(w, r)
	if !ok {
		return
	}
	key := fmt.Sprintf("anomalies:page=%d:size=%d", params.Page, params.PageSize)
	h.serveView(w, r, key, func() (any, *Pagination, error) {
		anomalies, page, err := h.service.Anomalies(r.Context(), params)
		return anomalies, &page, err
	})
}

func (h *Handler) FullReport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context())

	body, cacheHit, err := h.cache.GetOrCompute(r.Context(), "full-report", func() ([]byte, error) {
		report, err := h.service.FullReport(r.Context())
		if err != nil {
			return nil, err
		}
		return json.Marshal(report)
	})
	if err != nil {
		log.Error("full report failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), errorMessage(err))
		return
	}

	log.Info("full report served", "cache_hit", cacheHit, "latency_ms", time.Since(start).Milliseconds())
	h.observe("full-report", start)
	h.writeRaw(w, body)
}

func (h *Handler) serveView(w http.ResponseWriter, r *http.Request, key string, compute func() (any, *Pagination, error)) {
	start := time.Now()
	log := logger.FromContext(r.Context())
	view, _, _ := strings.Cut(key, ":")

	body, cacheHit, err := h.cache.GetOrCompute(r.Context(), key, func() ([]byte, error) {
		data, page, err := compute()
		if err != nil {
			return nil, err
		}
		return json.Marshal(viewResponse{
			Data:        data,
			Pagination:  page,
			QueryTimeMs: time.Since(start).Milliseconds(),
		})
	})
	if err != nil {
		log.Error("analytics view failed", "view", view, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), errorMessage(err))
		return
	}

	log.Info("analytics view served", "view", view, "cache_hit", cacheHit, "latency_ms", time.Since(start).Milliseconds())
	h.observe(view, start)
	h.writeRaw(w, body)
}

func (h *Handler) pageParams(w http.ResponseWriter, r *http.Request) (PageParams, bool) {
	q := r.URL.Query()
	params, err := ParsePageParams(q.Get("page"), q.Get("page_size"), h.service.cfg.DefaultPageSize, h.service.cfg.MaxPageSize)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), errorMessage(err))
		return PageParams{}, false
	}
	return params, true
}

func (h *Handler) observe(view string, start time.Time) {
	if h.metrics != nil {
		h.metrics.QueryLatency.WithLabelValues(view).Observe(time.Since(start).Seconds())
	}
}

func (h *Handler) writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("writing response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("encoding error response failed", "error", err)
	}
}

func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Query failed"
}
