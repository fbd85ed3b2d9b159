// Package budget holds the per-metric performance budgets and classifies
// observations against them.
//
// Budgets are "lower is better": a value at or below Good is good, a value at
// or below Poor needs improvement, anything above Poor is poor. Metrics
// without a budget are always good so unknown measurements never raise alerts.
package budget

import "github.com/nicktill/perfwatch/pkg/telemetry"

// Canonical metric names
const (
	LCP              = "LCP"
	FID              = "FID"
	INP              = "INP"
	CLS              = "CLS"
	FCP              = "FCP"
	TTFB             = "TTFB"
	BundleSize       = "BundleSize"
	MemoryUsage      = "MemoryUsage"
	RouteChange      = "RouteChange"
	DOMContentLoaded = "DOMContentLoaded"
)

// Budget is the good/poor threshold pair for one metric.
type Budget struct {
	Metric   string             `json:"metric"`
	Good     float64            `json:"good"`
	Poor     float64            `json:"poor"`
	Unit     string             `json:"unit,omitempty"`
	Severity telemetry.Severity `json:"severity"` // raised when a sample is poor
}

// Table maps canonical metric names to budgets. A Table is never mutated
// after construction.
type Table struct {
	budgets map[string]Budget
	aliases map[string]string
}

var defaultTable = NewTable([]Budget{
	{Metric: LCP, Good: 2500, Poor: 4000, Unit: "ms", Severity: telemetry.SeverityWarning},
	{Metric: FID, Good: 100, Poor: 300, Unit: "ms", Severity: telemetry.SeverityWarning},
	{Metric: INP, Good: 200, Poor: 500, Unit: "ms", Severity: telemetry.SeverityWarning},
	{Metric: CLS, Good: 0.1, Poor: 0.25, Severity: telemetry.SeverityWarning},
	{Metric: FCP, Good: 1800, Poor: 3000, Unit: "ms", Severity: telemetry.SeverityWarning},
	{Metric: TTFB, Good: 800, Poor: 1800, Unit: "ms", Severity: telemetry.SeverityWarning},
	{Metric: BundleSize, Good: 250000, Poor: 500000, Unit: "bytes", Severity: telemetry.SeverityWarning},
	{Metric: MemoryUsage, Good: 30, Poor: 50, Unit: "MB", Severity: telemetry.SeverityCritical},
	{Metric: RouteChange, Good: 100, Poor: 300, Unit: "ms", Severity: telemetry.SeverityWarning},
	{Metric: DOMContentLoaded, Good: 1000, Poor: 2000, Unit: "ms", Severity: telemetry.SeverityWarning},
}, map[string]string{
	"largest-contentful-paint":  LCP,
	"first-input-delay":         FID,
	"interaction-to-next-paint": INP,
	"cumulative-layout-shift":   CLS,
	"first-contentful-paint":    FCP,
	"time-to-first-byte":        TTFB,
	"bundle-size-bytes":         BundleSize,
	"memory-usage-mb":           MemoryUsage,
	"route-change-ms":           RouteChange,
	"dom-content-loaded-ms":     DOMContentLoaded,
})

// Default returns the built-in budget table.
func Default() Table {
	return defaultTable
}

// NewTable builds a table from budgets and an alias -> canonical name map.
// Budgets with an empty severity default to warning.
func NewTable(budgets []Budget, aliases map[string]string) Table {
	t := Table{
		budgets: make(map[string]Budget, len(budgets)),
		aliases: make(map[string]string, len(aliases)),
	}
	for _, b := range budgets {
		if b.Severity == "" {
			b.Severity = telemetry.SeverityWarning
		}
		t.budgets[b.Metric] = b
	}
	for alias, name := range aliases {
		t.aliases[alias] = name
	}
	return t
}

// Lookup returns the budget for a metric name or alias.
func (t Table) Lookup(metric string) (Budget, bool) {
	if b, ok := t.budgets[metric]; ok {
		return b, true
	}
	if name, ok := t.aliases[metric]; ok {
		b, ok := t.budgets[name]
		return b, ok
	}
	return Budget{}, false
}

// All returns a copy of every budget keyed by canonical name.
func (t Table) All() map[string]Budget {
	out := make(map[string]Budget, len(t.budgets))
	for name, b := range t.budgets {
		out[name] = b
	}
	return out
}

// Lookup returns the default budget for a metric.
func Lookup(metric string) (Budget, bool) {
	return defaultTable.Lookup(metric)
}

// All returns a copy of the default budgets.
func All() map[string]Budget {
	return defaultTable.All()
}
