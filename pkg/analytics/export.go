package analytics

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/httpx"
	"github.com/nicktill/perfwatch/pkg/storage"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// Export collections
const (
	CollectionMetrics = "metrics"
	CollectionErrors  = "errors"
	CollectionAlerts  = "alerts"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ErrUnknownCollection is returned for an export of an unknown collection
var ErrUnknownCollection = errors.New("unknown collection")

// Exporter writes whole collections as JSON or CSV
type Exporter struct {
	store storage.Store
	now   func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Collection: "metrics", "errors" or "alerts"
	Collection string

	// Metric filters the metrics collection by name ("" = all)
	Metric string

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	Exported   int       `json:"exported"`
	Collection string    `json:"collection"`
	Format     string    `json:"format"`
	ExportedAt time.Time `json:"exported_at"`
}

// ExportMetadata heads a JSON export
type ExportMetadata struct {
	ExportedAt time.Time `json:"exported_at"`
	Collection string    `json:"collection"`
	Metric     string    `json:"metric,omitempty"`
	Count      int       `json:"count"`
	Format     string    `json:"format"`
	Version    string    `json:"version"`
}

// Export writes one collection to w in the requested format
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	var (
		header []string
		rows   [][]string
		items  interface{}
		count  int
	)

	switch opts.Collection {
	case CollectionMetrics:
		samples, err := e.store.Samples(ctx, opts.Metric)
		if err != nil {
			return nil, fmt.Errorf("failed to read metrics: %w", err)
		}
		items, count = samples, len(samples)
		if opts.Format == FormatCSV {
			header, rows = sampleRows(samples)
		}
	case CollectionErrors:
		records, err := e.store.Errors(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read errors: %w", err)
		}
		items, count = records, len(records)
		if opts.Format == FormatCSV {
			header, rows = errorRows(records)
		}
	case CollectionAlerts:
		alerts, err := e.store.Alerts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read alerts: %w", err)
		}
		items, count = alerts, len(alerts)
		if opts.Format == FormatCSV {
			header, rows = alertRows(alerts)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, opts.Collection)
	}

	result := &ExportResult{
		Exported:   count,
		Collection: opts.Collection,
		Format:     opts.Format,
		ExportedAt: e.now().UTC(),
	}

	if opts.Format == FormatCSV {
		if err := writeCSV(w, header, rows); err != nil {
			return nil, err
		}
		return result, nil
	}

	// Encode as pretty JSON with the collection under its own key
	exportData := map[string]interface{}{
		"metadata": ExportMetadata{
			ExportedAt: result.ExportedAt,
			Collection: opts.Collection,
			Metric:     opts.Metric,
			Count:      count,
			Format:     FormatJSON,
			Version:    config.Version,
		},
		opts.Collection: items,
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return result, nil
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// sampleRows flattens samples with one column per context key
func sampleRows(samples []telemetry.Sample) ([]string, [][]string) {
	contextKeys := collectContextKeys(samples)

	header := []string{"timestamp", "metric", "value", "delta", "url", "sessionId", "navigationType"}
	header = append(header, contextKeys...)

	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		row := []string{
			formatMillis(s.Timestamp),
			s.Metric,
			formatFloat(s.Value),
			formatFloat(s.Delta),
			s.URL,
			s.SessionID,
			s.NavigationType,
		}
		// Add context values in consistent order
		for _, key := range contextKeys {
			if val, ok := s.Context[key]; ok {
				row = append(row, formatValue(val))
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}
	return header, rows
}

func errorRows(records []telemetry.ErrorRecord) ([]string, [][]string) {
	header := []string{"timestamp", "type", "message", "url", "filename", "lineno", "colno", "sessionId"}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			formatMillis(r.Timestamp),
			string(r.Type),
			r.Message,
			r.URL,
			r.File,
			strconv.Itoa(r.Line),
			strconv.Itoa(r.Column),
			r.SessionID,
		})
	}
	return header, rows
}

func alertRows(alerts []telemetry.Alert) ([]string, [][]string) {
	header := []string{"timestamp", "id", "type", "severity", "message"}
	rows := make([][]string, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, []string{
			formatMillis(a.Timestamp),
			a.ID,
			string(a.Type),
			string(a.Severity),
			a.Message,
		})
	}
	return header, rows
}

// collectContextKeys gathers all unique context keys and returns them sorted
func collectContextKeys(samples []telemetry.Sample) []string {
	keySet := make(map[string]bool)
	for _, s := range samples {
		for key := range s.Context {
			keySet[key] = true
		}
	}

	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatValue renders a decoded JSON value for a CSV cell
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return formatFloat(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// HandleExport handles GET /api/analytics/export
// Query params:
//   - collection: "metrics", "errors" or "alerts" (default: metrics)
//   - format: "json" or "csv" (default: json)
//   - metric: metric name filter (optional, metrics only)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts := ExportOptions{
		Collection: query.Get("collection"),
		Metric:     query.Get("metric"),
		Format:     query.Get("format"),
	}
	if opts.Collection == "" {
		opts.Collection = CollectionMetrics
	}
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if opts.Format != FormatJSON && opts.Format != FormatCSV {
		httpx.RespondError(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}
	switch opts.Collection {
	case CollectionMetrics, CollectionErrors, CollectionAlerts:
	default:
		httpx.RespondError(w, http.StatusBadRequest, "Invalid collection. Must be 'metrics', 'errors' or 'alerts'")
		return
	}

	// Set appropriate headers
	timestamp := time.Now().Format("20060102-150405")
	contentType := "application/json"
	if opts.Format == FormatCSV {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=perfwatch-%s-%s.%s", opts.Collection, timestamp, opts.Format))

	result, err := h.exporter.Export(r.Context(), w, opts)
	if err != nil {
		// Headers may already be sent; the status is best effort
		h.logger.Errorw("Export failed", "collection", opts.Collection, "error", err)
		http.Error(w, "Export failed", http.StatusInternalServerError)
		return
	}

	h.logger.Infow("Exported collection",
		"collection", result.Collection,
		"format", result.Format,
		"count", result.Exported,
	)
}
