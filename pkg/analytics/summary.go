package analytics

import (
	"math"

	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// MetricSummary aggregates the values of one metric
type MetricSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// ErrorSummary aggregates error records
type ErrorSummary struct {
	Total  int                     `json:"total"`
	ByType map[string]int          `json:"byType"`
	ByURL  map[string]int          `json:"byUrl"`
	Recent []telemetry.ErrorRecord `json:"recent"`
}

// AlertSummary aggregates alerts
type AlertSummary struct {
	Total      int               `json:"total"`
	ByType     map[string]int    `json:"byType"`
	BySeverity map[string]int    `json:"bySeverity"`
	Recent     []telemetry.Alert `json:"recent"`
}

// SummarizeMetrics groups samples by metric name
func SummarizeMetrics(samples []telemetry.Sample) map[string]MetricSummary {
	type acc struct {
		count    int
		min, max float64
		sum      float64
		mean     float64 // running mean, used once sum overflows
	}
	groups := make(map[string]*acc)
	for _, s := range samples {
		a, ok := groups[s.Metric]
		if !ok {
			a = &acc{min: math.Inf(1), max: math.Inf(-1)}
			groups[s.Metric] = a
		}
		a.count++
		a.sum += s.Value
		n := float64(a.count)
		a.mean = a.mean*((n-1)/n) + s.Value/n
		a.min = math.Min(a.min, s.Value)
		a.max = math.Max(a.max, s.Value)
	}

	out := make(map[string]MetricSummary, len(groups))
	for name, a := range groups {
		avg := a.sum / float64(a.count)
		if math.IsInf(avg, 0) || math.IsNaN(avg) {
			avg = a.mean
		}
		out[name] = MetricSummary{
			Count: a.count,
			Min:   a.min,
			Max:   a.max,
			Avg:   avg,
		}
	}
	return out
}

// SummarizeErrors counts error records by kind and page URL
func SummarizeErrors(records []telemetry.ErrorRecord) ErrorSummary {
	s := ErrorSummary{
		Total:  len(records),
		ByType: make(map[string]int),
		ByURL:  make(map[string]int),
		Recent: Tail(records, config.RecentEntries),
	}
	for _, r := range records {
		s.ByType[string(r.Type)]++
		s.ByURL[r.URL]++
	}
	return s
}

// SummarizeAlerts counts alerts by type and severity
func SummarizeAlerts(alerts []telemetry.Alert) AlertSummary {
	s := AlertSummary{
		Total:      len(alerts),
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
		Recent:     Tail(alerts, config.RecentEntries),
	}
	for _, a := range alerts {
		s.ByType[string(a.Type)]++
		s.BySeverity[string(a.Severity)]++
	}
	return s
}

// Tail returns a copy of the last n items. The result is never nil so it
// encodes as [] rather than null.
func Tail[T any](items []T, n int) []T {
	if n < 0 {
		n = 0
	}
	if len(items) > n {
		items = items[len(items)-n:]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
