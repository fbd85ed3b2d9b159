package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nicktill/perfwatch/pkg/budget"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

const metricsPrefix = "perfwatch_"

// Collection label values
const (
	collectionMetrics = "metrics"
	collectionErrors  = "errors"
	collectionAlerts  = "alerts"
)

var ingestedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "ingested_total",
		Help: "Number of entries appended to each collection",
	},
	[]string{"collection"},
)

var ingestFailuresCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "ingest_failures_total",
		Help: "Number of ingestion requests answered with an error",
	},
	[]string{"collection"},
)

var classifiedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "samples_classified_total",
		Help: "Number of ingested samples by budget classification",
	},
	[]string{"metric", "status"},
)

var alertsRaisedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "alerts_raised_total",
		Help: "Number of alerts stored, by type and severity",
	},
	[]string{"type", "severity"},
)

var ingestDurationHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    metricsPrefix + "ingest_duration_seconds",
		Help:    "Time taken to validate and store one ingestion request",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
	},
	[]string{"collection"},
)

// StoreSize is updated by the server's background stats task
var StoreSize = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: metricsPrefix + "store_entries",
		Help: "Number of entries held in each collection",
	},
	[]string{"collection"},
)

func recordIngested(collection string, start time.Time) {
	ingestedCounter.WithLabelValues(collection).Inc()
	ingestDurationHist.WithLabelValues(collection).Observe(time.Since(start).Seconds())
}

func recordFailure(collection string) {
	ingestFailuresCounter.WithLabelValues(collection).Inc()
}

// metric names are bounded by the cardinality tracker before they get here
func recordClassified(metric string, status budget.Status) {
	classifiedCounter.WithLabelValues(metric, string(status)).Inc()
}

// Client-supplied types and severities outside the known set share one label
func recordAlert(a telemetry.Alert) {
	kind, severity := string(a.Type), string(a.Severity)
	if a.Type != telemetry.AlertPerformance && a.Type != telemetry.AlertError {
		kind = "other"
	}
	if a.Severity != telemetry.SeverityWarning && a.Severity != telemetry.SeverityCritical {
		severity = "other"
	}
	alertsRaisedCounter.WithLabelValues(kind, severity).Inc()
}

// RecordCounts publishes collection sizes to the store-size gauges
func RecordCounts(c telemetry.Counts) {
	StoreSize.WithLabelValues(collectionMetrics).Set(float64(c.Metrics))
	StoreSize.WithLabelValues(collectionErrors).Set(float64(c.Errors))
	StoreSize.WithLabelValues(collectionAlerts).Set(float64(c.Alerts))
}
