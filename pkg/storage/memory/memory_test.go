package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nicktill/perfwatch/pkg/storage"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

func TestMemoryStorage_AppendAndRead(t *testing.T) {
	store := New(Config{})
	defer store.Close()

	ctx := context.Background()

	samples := []telemetry.Sample{
		{Metric: "LCP", Value: 1200, URL: "/"},
		{Metric: "CLS", Value: 0.05, URL: "/"},
		{Metric: "LCP", Value: 4800, URL: "/courts"},
	}
	for _, s := range samples {
		if err := store.AppendSample(ctx, s); err != nil {
			t.Fatalf("AppendSample failed: %v", err)
		}
	}

	results, err := store.Samples(ctx, "")
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(results))
	}
	for i := range samples {
		if results[i].Metric != samples[i].Metric || results[i].Value != samples[i].Value {
			t.Errorf("Sample %d out of order: got %+v", i, results[i])
		}
	}
}

func TestMemoryStorage_SamplesFilter(t *testing.T) {
	store := New(Config{})
	defer store.Close()

	ctx := context.Background()
	store.AppendSample(ctx, telemetry.Sample{Metric: "LCP", Value: 1})
	store.AppendSample(ctx, telemetry.Sample{Metric: "FID", Value: 2})
	store.AppendSample(ctx, telemetry.Sample{Metric: "LCP", Value: 3})

	results, err := store.Samples(ctx, "LCP")
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 LCP samples, got %d", len(results))
	}
	if results[0].Value != 1 || results[1].Value != 3 {
		t.Errorf("Expected values [1 3], got [%v %v]", results[0].Value, results[1].Value)
	}

	results, err = store.Samples(ctx, "INP")
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Expected empty non-nil slice for unknown metric, got %v", results)
	}
}

func TestMemoryStorage_ReadsReturnCopies(t *testing.T) {
	store := New(Config{})
	defer store.Close()

	ctx := context.Background()
	store.AppendAlert(ctx, telemetry.Alert{Message: "original"})

	alerts, _ := store.Alerts(ctx)
	alerts[0].Message = "mutated"

	again, _ := store.Alerts(ctx)
	if again[0].Message != "original" {
		t.Errorf("Store exposed internal slice, got %q", again[0].Message)
	}
}

func TestMemoryStorage_MaxEntries(t *testing.T) {
	store := New(Config{MaxEntries: 3})
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		store.AppendError(ctx, telemetry.ErrorRecord{Message: fmt.Sprintf("err-%d", i)})
	}

	records, err := store.Errors(ctx)
	if err != nil {
		t.Fatalf("Errors failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 retained errors, got %d", len(records))
	}
	for i, want := range []string{"err-7", "err-8", "err-9"} {
		if records[i].Message != want {
			t.Errorf("records[%d] = %q, want %q", i, records[i].Message, want)
		}
	}
}

func TestMemoryStorage_Counts(t *testing.T) {
	store := New(Config{})
	defer store.Close()

	ctx := context.Background()
	store.AppendSample(ctx, telemetry.Sample{Metric: "LCP"})
	store.AppendSample(ctx, telemetry.Sample{Metric: "FCP"})
	store.AppendError(ctx, telemetry.ErrorRecord{Message: "boom"})

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	want := telemetry.Counts{Metrics: 2, Errors: 1, Alerts: 0}
	if counts != want {
		t.Errorf("Counts = %+v, want %+v", counts, want)
	}
}

func TestMemoryStorage_ConcurrentAppends(t *testing.T) {
	store := New(Config{})
	defer store.Close()

	ctx := context.Background()
	const writers, perWriter = 16, 250

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := store.AppendSample(ctx, telemetry.Sample{Metric: "LCP", Value: float64(w*perWriter + i)}); err != nil {
					t.Errorf("AppendSample failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	counts, _ := store.Counts(ctx)
	if counts.Metrics != writers*perWriter {
		t.Fatalf("Lost writes: got %d samples, want %d", counts.Metrics, writers*perWriter)
	}

	seen := make(map[float64]bool, writers*perWriter)
	samples, _ := store.Samples(ctx, "LCP")
	for _, s := range samples {
		seen[s.Value] = true
	}
	if len(seen) != writers*perWriter {
		t.Errorf("Expected %d distinct samples, got %d", writers*perWriter, len(seen))
	}
}

func TestMemoryStorage_Closed(t *testing.T) {
	store := New(Config{})
	ctx := context.Background()

	store.AppendSample(ctx, telemetry.Sample{Metric: "LCP"})
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err := store.AppendSample(ctx, telemetry.Sample{Metric: "LCP"})
	if !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	// Reads keep working so in-flight analytics requests can finish
	samples, err := store.Samples(ctx, "")
	if err != nil {
		t.Fatalf("Samples after close failed: %v", err)
	}
	if len(samples) != 1 {
		t.Errorf("Expected 1 sample after close, got %d", len(samples))
	}
}

func TestMemoryStorage_CancelledContext(t *testing.T) {
	store := New(Config{})
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.AppendAlert(ctx, telemetry.Alert{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	counts, _ := store.Counts(context.Background())
	if counts.Alerts != 0 {
		t.Errorf("Expected no alerts after cancelled append, got %d", counts.Alerts)
	}
}
