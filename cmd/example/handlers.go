package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/perfwatch/pkg/sdk"
)

// setupHandlers configures the demo endpoints. Responses are mock data; the
// timings httpx.Middleware reports for them are real.
func setupHandlers(mux *http.ServeMux, client *sdk.Client, log *zap.SugaredLogger) {
	mux.HandleFunc("/api/courts", handleCourts())
	mux.HandleFunc("/api/courts/", handleCourt())
	mux.HandleFunc("/api/search", handleSearch(client, log))
	mux.HandleFunc("/health", handleHealth())
}

// handleCourts handles /api/courts
func handleCourts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Consistent latency: 50-100ms (simulated work)
		time.Sleep(time.Duration(50+rand.Intn(50)) * time.Millisecond)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"courts": [{"id": 1, "name": "Leeds Combined Court"}, {"id": 2, "name": "Bristol Civil Justice Centre"}]}`))
	}
}

// handleCourt handles /api/courts/{id}. Occasionally slow enough to breach
// the TTFB budget.
func handleCourt() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/courts/")
		if id == "" {
			http.NotFound(w, r)
			return
		}

		latency := time.Duration(80+rand.Intn(40)) * time.Millisecond
		if rand.Float32() < 0.05 {
			latency = 2 * time.Second
		}
		time.Sleep(latency)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id": %q, "hearings": 12}`, id)
	}
}

// handleSearch handles /api/search. A missing query panics; the middleware
// recovers it and reports it as an error record.
func handleSearch(client *sdk.Client, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			panic("search called without a query")
		}

		start := time.Now()
		time.Sleep(time.Duration(100+rand.Intn(150)) * time.Millisecond)

		client.TrackCustomMetric("SearchLatency", float64(time.Since(start).Milliseconds()), map[string]interface{}{
			"query": q,
		})

		if rand.Float32() < 0.02 {
			log.Errorw("Search index unavailable", "query", q)
			http.Error(w, "Search temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"query": %q, "results": 3}`, q)
	}
}

// handleHealth returns a simple health check
func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "healthy"}`))
	}
}
