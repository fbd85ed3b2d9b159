package httpx

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/nicktill/perfwatch/pkg/budget"
	"github.com/nicktill/perfwatch/pkg/sdk"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

var (
	numericID = regexp.MustCompile(`/\d+`)
	uuidID    = regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// Middleware returns HTTP middleware that reports server timing through the
// client. It tracks:
//   - TTFB: time until the first byte of each response, by normalized path
//   - panics: recovered through the client's error tracker and answered 500
//
// Usage:
//
//	client, _ := sdk.New(sdk.DefaultConfig())
//	client.Start(ctx)
//	defer client.Stop()
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", handler)
//	http.ListenAndServe(":8000", httpx.Middleware(client)(mux))
func Middleware(client *sdk.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, start: time.Now()}

			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					client.Errors().RecordPanic(rec, debug.Stack())
					if !rw.wroteHeader {
						http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
				}
				rw.report(client, r)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// the time of the first byte
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	start       time.Time
	firstByte   time.Duration
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
		rw.statusCode = code
		rw.firstByte = time.Since(rw.start)
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) report(client *sdk.Client, r *http.Request) {
	ttfb := rw.firstByte
	if !rw.wroteHeader {
		ttfb = time.Since(rw.start)
	}

	client.Record(telemetry.Sample{
		Metric: budget.TTFB,
		Value:  float64(ttfb) / float64(time.Millisecond),
		ID:     "ttfb",
		URL:    normalizePath(r.URL.Path),
		Context: map[string]interface{}{
			"method": r.Method,
			"status": strconv.Itoa(rw.statusCode),
		},
	})
}

// normalizePath normalizes paths to avoid cardinality explosion.
// Examples:
//   - /api/courts/123 → /api/courts/{id}
//   - /court/456/hearings → /court/{id}/hearings
//   - /api/sessions/0b6f...-uuid → /api/sessions/{id}
func normalizePath(path string) string {
	path = uuidID.ReplaceAllString(path, "/{id}")
	return numericID.ReplaceAllString(path, "/{id}")
}
