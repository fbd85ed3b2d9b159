package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/ingest"
	"github.com/nicktill/perfwatch/pkg/storage"
)

// RecordStoreStats periodically publishes collection sizes to the
// perfwatch_store_entries gauge until ctx is cancelled.
// Uses exponential backoff on errors to prevent log spam during outages.
func RecordStoreStats(ctx context.Context, store storage.Store, interval time.Duration, log *zap.SugaredLogger) {
	if interval <= 0 {
		interval = config.StoreStatsEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Exponential backoff state for error handling
	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	record := func() {
		counts, err := store.Counts(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveErrors++
			now := time.Now()

			// 1s, 2s, 4s ... 256s, capped at 5m
			backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
			if backoff > maxBackoff {
				backoff = maxBackoff
			}

			// Only log if enough time has passed since last error
			if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
				log.Warnw("Failed to count store entries",
					"consecutive_errors", consecutiveErrors,
					"backoff", backoff,
					"error", err,
				)
				lastErrorTime = now
			}
			return
		}

		if consecutiveErrors > 0 {
			log.Infow("Store stats recovered", "after_errors", consecutiveErrors)
			consecutiveErrors = 0
		}
		ingest.RecordCounts(counts)
	}

	record()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			record()
		}
	}
}
