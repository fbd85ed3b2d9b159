package ingest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestValidateSample(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		errType error
	}{
		{
			name:    "valid sample",
			body:    `{"metric":"LCP","value":1234.5,"url":"https://x","timestamp":1700000000000,"userId":null}`,
			wantErr: false,
		},
		{
			name:    "valid sample with context and extra fields",
			body:    `{"metric":"CLS","value":0.02,"context":{"route":"/"},"connectionType":"4g"}`,
			wantErr: false,
		},
		{
			name:    "invalid json",
			body:    `{"metric":"LCP",`,
			wantErr: true,
			errType: ErrInvalidJSON,
		},
		{
			name:    "array body",
			body:    `[{"metric":"LCP","value":1}]`,
			wantErr: true,
			errType: ErrNotObject,
		},
		{
			name:    "missing metric",
			body:    `{"value":1}`,
			wantErr: true,
			errType: ErrMetricNameEmpty,
		},
		{
			name:    "empty metric",
			body:    `{"metric":"","value":1}`,
			wantErr: true,
			errType: ErrMetricNameEmpty,
		},
		{
			name:    "numeric metric",
			body:    `{"metric":7,"value":1}`,
			wantErr: true,
			errType: ErrFieldType,
		},
		{
			name:    "metric name too long",
			body:    fmt.Sprintf(`{"metric":%q,"value":1}`, strings.Repeat("m", MaxMetricNameLength+1)),
			wantErr: true,
			errType: ErrMetricNameTooLong,
		},
		{
			name:    "string value",
			body:    `{"metric":"LCP","value":"1200"}`,
			wantErr: true,
			errType: ErrValueNotNumeric,
		},
		{
			name:    "missing value",
			body:    `{"metric":"LCP"}`,
			wantErr: true,
			errType: ErrValueNotNumeric,
		},
		{
			name:    "url not a string",
			body:    `{"metric":"LCP","value":1,"url":42}`,
			wantErr: true,
			errType: ErrFieldType,
		},
		{
			name:    "context not an object",
			body:    `{"metric":"LCP","value":1,"context":"mobile"}`,
			wantErr: true,
			errType: ErrFieldType,
		},
		{
			name:    "too many context keys",
			body:    fmt.Sprintf(`{"metric":"LCP","value":1,"context":%s}`, generateObject(MaxContextKeys+1)),
			wantErr: true,
			errType: ErrTooManyContextKeys,
		},
		{
			name:    "max valid context keys",
			body:    fmt.Sprintf(`{"metric":"LCP","value":1,"context":%s}`, generateObject(MaxContextKeys)),
			wantErr: false,
		},
		{
			name:    "context key too long",
			body:    fmt.Sprintf(`{"metric":"LCP","value":1,"context":{%q:1}}`, strings.Repeat("k", MaxContextKeyLength+1)),
			wantErr: true,
			errType: ErrContextKeyTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSample([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSample() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.errType != nil && !errors.Is(err, tt.errType) {
				t.Errorf("ValidateSample() error = %v, want %v", err, tt.errType)
			}
		})
	}
}

func TestValidateErrorAndAlert(t *testing.T) {
	if err := ValidateError([]byte(`{"type":"JavaScript Error","message":"x is undefined","lineno":12,"colno":4}`)); err != nil {
		t.Errorf("ValidateError() rejected a valid record: %v", err)
	}
	if err := ValidateError([]byte(`{"message":"boom","lineno":"12"}`)); !errors.Is(err, ErrFieldType) {
		t.Errorf("Expected ErrFieldType for string lineno, got %v", err)
	}
	if err := ValidateError([]byte(fmt.Sprintf(`{"message":%q}`, strings.Repeat("x", MaxMessageLength+1)))); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("Expected ErrMessageTooLong, got %v", err)
	}

	if err := ValidateAlert([]byte(`{"type":"performance","severity":"warning","message":"slow"}`)); err != nil {
		t.Errorf("ValidateAlert() rejected a valid alert: %v", err)
	}
	if err := ValidateAlert([]byte(`"slow"`)); !errors.Is(err, ErrNotObject) {
		t.Errorf("Expected ErrNotObject, got %v", err)
	}
	if err := ValidateAlert([]byte(`{"severity":2}`)); !errors.Is(err, ErrFieldType) {
		t.Errorf("Expected ErrFieldType, got %v", err)
	}
}

func TestCardinalityTracker(t *testing.T) {
	tracker := NewCardinalityTracker(0)

	for _, name := range []string{"LCP", "LCP", "CLS"} {
		if err := tracker.CheckAndRecord(name); err != nil {
			t.Errorf("CheckAndRecord(%q) failed: %v", name, err)
		}
	}

	stats := tracker.Stats()
	if stats.UniqueMetrics != 2 {
		t.Errorf("Expected 2 unique metrics, got %d", stats.UniqueMetrics)
	}
	if stats.Limit != 1000 {
		t.Errorf("Expected default limit 1000, got %d", stats.Limit)
	}
	if len(stats.TopMetrics) != 2 || stats.TopMetrics[0].Metric != "LCP" || stats.TopMetrics[0].Samples != 2 {
		t.Errorf("Unexpected top metrics: %+v", stats.TopMetrics)
	}
}

func TestCardinalityTracker_Limit(t *testing.T) {
	const limit = 5
	tracker := NewCardinalityTracker(limit)

	// Add metric names up to the limit
	for i := 0; i < limit; i++ {
		name := fmt.Sprintf("metric_%d", i)
		if err := tracker.CheckAndRecord(name); err != nil {
			t.Fatalf("CheckAndRecord() failed at %d/%d: %v", i, limit, err)
		}
	}

	// Next new name should fail
	if err := tracker.CheckAndRecord("metric_new"); !errors.Is(err, ErrCardinalityLimit) {
		t.Errorf("Expected ErrCardinalityLimit, got %v", err)
	}

	// Known names keep working
	if err := tracker.CheckAndRecord("metric_0"); err != nil {
		t.Errorf("CheckAndRecord() failed for known metric: %v", err)
	}

	stats := tracker.Stats()
	if stats.UniqueMetrics != limit {
		t.Errorf("Expected %d unique metrics, got %d", limit, stats.UniqueMetrics)
	}
	if stats.UtilizationPct != 100 {
		t.Errorf("Expected 100%% utilization, got %v", stats.UtilizationPct)
	}
}

func TestCardinalityTracker_Release(t *testing.T) {
	tracker := NewCardinalityTracker(1)

	tracker.CheckAndRecord("LCP")
	tracker.CheckAndRecord("LCP")
	tracker.Release("LCP")
	if stats := tracker.Stats(); stats.UniqueMetrics != 1 || stats.TopMetrics[0].Samples != 1 {
		t.Errorf("Release must only drop one sample, got %+v", stats)
	}

	tracker.Release("LCP")
	if err := tracker.CheckAndRecord("CLS"); err != nil {
		t.Errorf("released name must free its slot: %v", err)
	}
}

func TestCardinalityTracker_ConcurrentNewNames(t *testing.T) {
	const limit = 10
	tracker := NewCardinalityTracker(limit)

	var wg sync.WaitGroup
	var admitted atomic.Int32
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if tracker.CheckAndRecord(fmt.Sprintf("metric_%d", i)) == nil {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := tracker.Stats().UniqueMetrics; got != limit {
		t.Errorf("Expected exactly %d unique metrics, got %d", limit, got)
	}
	if admitted.Load() != limit {
		t.Errorf("Expected %d admitted names, got %d", limit, admitted.Load())
	}
}

// Helper function to generate a JSON object with n keys
func generateObject(n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf(`"k%d":%d`, i, i)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
