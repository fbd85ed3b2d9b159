package analytics

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/httpx"
	"github.com/nicktill/perfwatch/pkg/storage"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// Handler serves the read-only analytics endpoints. Every response is
// derived from the store on each request; nothing is cached.
type Handler struct {
	store    storage.Store
	exporter *Exporter
	logger   *zap.SugaredLogger
}

// NewHandler creates a new analytics handler
func NewHandler(store storage.Store, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		store:    store,
		exporter: NewExporter(store),
		logger:   logger,
	}
}

// MetricsResponse is returned by GET /api/analytics/metrics
type MetricsResponse struct {
	Metrics []telemetry.Sample       `json:"metrics"`
	Total   int                      `json:"total"`
	Summary map[string]MetricSummary `json:"summary"`
}

// ErrorsResponse is returned by GET /api/analytics/errors
type ErrorsResponse struct {
	Errors  []telemetry.ErrorRecord `json:"errors"`
	Total   int                     `json:"total"`
	Summary ErrorSummary            `json:"summary"`
}

// AlertsResponse is returned by GET /api/analytics/alerts
type AlertsResponse struct {
	Alerts  []telemetry.Alert `json:"alerts"`
	Total   int               `json:"total"`
	Summary AlertSummary      `json:"summary"`
}

// HandleMetrics handles GET /api/analytics/metrics
// Query params:
//   - metric: metric name filter (optional)
//   - limit: page size, tail of insertion order (default: 100)
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := ParseLimit(query.Get("limit"), config.DefaultMetricsLimit)

	samples, err := h.store.Samples(r.Context(), query.Get("metric"))
	if err != nil {
		h.logger.Errorw("Failed to read metrics", "error", err)
		httpx.RespondError(w, http.StatusInternalServerError, "Failed to fetch metrics")
		return
	}

	httpx.RespondJSON(w, http.StatusOK, MetricsResponse{
		Metrics: Tail(samples, limit),
		Total:   len(samples),
		Summary: SummarizeMetrics(samples),
	})
}

// HandleErrors handles GET /api/analytics/errors
func (h *Handler) HandleErrors(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r.URL.Query().Get("limit"), config.DefaultErrorsLimit)

	records, err := h.store.Errors(r.Context())
	if err != nil {
		h.logger.Errorw("Failed to read errors", "error", err)
		httpx.RespondError(w, http.StatusInternalServerError, "Failed to fetch errors")
		return
	}

	httpx.RespondJSON(w, http.StatusOK, ErrorsResponse{
		Errors:  Tail(records, limit),
		Total:   len(records),
		Summary: SummarizeErrors(records),
	})
}

// HandleAlerts handles GET /api/analytics/alerts
func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r.URL.Query().Get("limit"), config.DefaultAlertsLimit)

	alerts, err := h.store.Alerts(r.Context())
	if err != nil {
		h.logger.Errorw("Failed to read alerts", "error", err)
		httpx.RespondError(w, http.StatusInternalServerError, "Failed to fetch alerts")
		return
	}

	httpx.RespondJSON(w, http.StatusOK, AlertsResponse{
		Alerts:  Tail(alerts, limit),
		Total:   len(alerts),
		Summary: SummarizeAlerts(alerts),
	})
}

// ParseLimit parses a limit query parameter. Missing, non-numeric and
// non-positive values fall back to def; values above
// config.MaxAnalyticsLimit are clamped.
func ParseLimit(param string, def int) int {
	if param == "" {
		return def
	}
	n, err := strconv.Atoi(param)
	if err != nil || n <= 0 {
		return def
	}
	if n > config.MaxAnalyticsLimit {
		return config.MaxAnalyticsLimit
	}
	return n
}
