package budget

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// PoorAlert builds the performance alert for a sample whose classification
// is poor. It returns false for samples that are not poor.
func (t Table) PoorAlert(s telemetry.Sample, now time.Time) (telemetry.Alert, bool) {
	b, ok := t.Lookup(s.Metric)
	if !ok || b.Classify(s.Value) != Poor {
		return telemetry.Alert{}, false
	}

	metadata, err := json.Marshal(s)
	if err != nil {
		// Context holds a value encoding/json cannot represent
		metadata = nil
	}

	return telemetry.Alert{
		Type:      telemetry.AlertPerformance,
		Severity:  b.Severity,
		Message:   PoorMessage(s.Metric, s.Value, b.Unit, s.URL),
		Metadata:  metadata,
		Timestamp: now.UnixMilli(),
	}, true
}

// PoorMessage formats "Poor <metric> detected: <value><unit> on <url>".
func PoorMessage(metric string, value float64, unit, url string) string {
	return fmt.Sprintf("Poor %s detected: %s%s on %s",
		metric, strconv.FormatFloat(value, 'f', -1, 64), unit, url)
}
