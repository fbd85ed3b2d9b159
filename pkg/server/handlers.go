package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/httpx"
	"github.com/nicktill/perfwatch/pkg/storage"
)

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Metrics   int    `json:"metrics"`
	Errors    int    `json:"errors"`
	Alerts    int    `json:"alerts"`
}

// handleHealth returns service health status with collection sizes.
func handleHealth(store storage.Store, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Version:   config.Version,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
		}

		counts, err := store.Counts(r.Context())
		if err != nil {
			log.Warnw("Health check could not count collections", "error", err)
			response.Status = "degraded"
			httpx.RespondJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		response.Metrics = counts.Metrics
		response.Errors = counts.Errors
		response.Alerts = counts.Alerts

		httpx.RespondJSON(w, http.StatusOK, response)
	}
}

// SetupRoutes configures all HTTP routes for the server and returns the
// handler to serve. CORS wraps the whole router, so every OPTIONS preflight
// is answered before routing.
func SetupRoutes(router *mux.Router, cfg Config, h Handlers, store storage.Store, log *zap.SugaredLogger) http.Handler {
	// Ingestion
	router.HandleFunc(config.MetricsPath, h.Ingest.HandleSample).Methods(http.MethodPost)
	router.HandleFunc(config.ErrorsPath, h.Ingest.HandleError).Methods(http.MethodPost)
	router.HandleFunc(config.AlertsPath, h.Ingest.HandleAlert).Methods(http.MethodPost)

	// Analytics
	api := router.PathPrefix("/api/analytics").Subrouter()
	api.HandleFunc("/metrics", h.Analytics.HandleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/errors", h.Analytics.HandleErrors).Methods(http.MethodGet)
	api.HandleFunc("/alerts", h.Analytics.HandleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/stream", h.Hub.HandleStream).Methods(http.MethodGet)
	api.HandleFunc("/export", h.Analytics.HandleExport).Methods(http.MethodGet)
	api.HandleFunc("/cardinality", h.Ingest.HandleCardinalityStats).Methods(http.MethodGet)

	router.HandleFunc("/health", handleHealth(store, log)).Methods(http.MethodGet)

	// Prometheus-compatible metrics endpoint (standard /metrics path)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return corsMiddleware(cfg.AllowedOrigins)(router)
}

// corsMiddleware allows cross-origin requests from the browser SDK. With no
// allow-list every origin is accepted.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case len(allowedOrigins) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case originAllowed(origin, allowedOrigins):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
