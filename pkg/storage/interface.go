package storage

import (
	"context"
	"errors"

	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store is closed")

// Store owns the three telemetry collections. Every collection is
// append-only and insertion-ordered. Appends must be serialized so that
// concurrent writers never lose a record.
// Implementations: memory (default), badger (in-memory LSM)
type Store interface {
	// AppendSample appends one performance sample
	AppendSample(ctx context.Context, s telemetry.Sample) error

	// AppendError appends one error record
	AppendError(ctx context.Context, e telemetry.ErrorRecord) error

	// AppendAlert appends one alert
	AppendAlert(ctx context.Context, a telemetry.Alert) error

	// Samples returns samples in insertion order, filtered by metric name
	// when metric is non-empty
	Samples(ctx context.Context, metric string) ([]telemetry.Sample, error)

	// Errors returns error records in insertion order
	Errors(ctx context.Context) ([]telemetry.ErrorRecord, error)

	// Alerts returns alerts in insertion order
	Alerts(ctx context.Context) ([]telemetry.Alert, error)

	// Counts returns the size of each collection
	Counts(ctx context.Context) (telemetry.Counts, error)

	// Close releases resources held by the store
	Close() error
}
