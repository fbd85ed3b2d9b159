package memory

import (
	"context"
	"sync"

	"github.com/nicktill/perfwatch/pkg/storage"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// Config holds memory storage configuration
type Config struct {
	// MaxEntries caps each collection (0 = unbounded). The oldest entries
	// are dropped first.
	MaxEntries int
}

// Store keeps the telemetry collections in memory. Data is lost on restart.
type Store struct {
	cfg Config

	samples []telemetry.Sample
	errors  []telemetry.ErrorRecord
	alerts  []telemetry.Alert
	closed  bool
	mu      sync.RWMutex
}

var _ storage.Store = (*Store)(nil)

// New creates an in-memory store
func New(cfg Config) *Store {
	return &Store{
		cfg:     cfg,
		samples: make([]telemetry.Sample, 0, 1024),
		errors:  make([]telemetry.ErrorRecord, 0, 128),
		alerts:  make([]telemetry.Alert, 0, 128),
	}
}

// AppendSample stores a sample
func (s *Store) AppendSample(ctx context.Context, sample telemetry.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.samples = appendCapped(s.samples, sample, s.cfg.MaxEntries)
	return nil
}

// AppendError stores an error record
func (s *Store) AppendError(ctx context.Context, rec telemetry.ErrorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.errors = appendCapped(s.errors, rec, s.cfg.MaxEntries)
	return nil
}

// AppendAlert stores an alert
func (s *Store) AppendAlert(ctx context.Context, alert telemetry.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.alerts = appendCapped(s.alerts, alert, s.cfg.MaxEntries)
	return nil
}

// Samples returns a copy of the samples, optionally filtered by metric name
func (s *Store) Samples(ctx context.Context, metric string) ([]telemetry.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if metric == "" {
		out := make([]telemetry.Sample, len(s.samples))
		copy(out, s.samples)
		return out, nil
	}

	out := make([]telemetry.Sample, 0)
	for _, sample := range s.samples {
		if sample.Metric == metric {
			out = append(out, sample)
		}
	}
	return out, nil
}

// Errors returns a copy of the error records
func (s *Store) Errors(ctx context.Context) ([]telemetry.ErrorRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.ErrorRecord, len(s.errors))
	copy(out, s.errors)
	return out, nil
}

// Alerts returns a copy of the alerts
func (s *Store) Alerts(ctx context.Context) ([]telemetry.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out, nil
}

// Counts returns collection sizes
func (s *Store) Counts(ctx context.Context) (telemetry.Counts, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Counts{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return telemetry.Counts{
		Metrics: len(s.samples),
		Errors:  len(s.errors),
		Alerts:  len(s.alerts),
	}, nil
}

// Close marks the store closed. Later appends fail with storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// appendCapped appends v and drops the oldest entries beyond max.
// Re-slicing leaves the dropped prefix in the backing array until the next
// append reallocates, which bounds memory at roughly twice max.
// MUST be called with lock held
func appendCapped[T any](items []T, v T, max int) []T {
	items = append(items, v)
	if max <= 0 || len(items) <= max {
		return items
	}
	return items[len(items)-max:]
}
