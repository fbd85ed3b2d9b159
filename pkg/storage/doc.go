/*
Package storage defines the Store that owns the ingestion service's
telemetry collections: performance samples, error records and alerts.

# Backends

  - memory: mutex-guarded slices, optionally capped per collection
  - badger: BadgerDB in in-memory mode, keyed by collection and sequence

Neither backend survives a process restart. The collections are a
demonstration-scale datastore, reset to empty on every start.

# Ordering and concurrency

Each collection is append-only and read back in insertion order. Appends
are serialized by the backend, so two concurrent POSTs are both reflected in
the next read. Reads return copies; callers may keep or modify them freely.

# Retention

The memory backend accepts MaxEntries. Zero keeps everything for the life
of the process. A positive value drops the oldest entries of a collection
once it grows past the cap:

	store := memory.New(memory.Config{MaxEntries: 50000})

# Usage Example

	store := memory.New(memory.Config{})
	defer store.Close()

	err := store.AppendSample(ctx, telemetry.Sample{Metric: "LCP", Value: 1800})
	samples, err := store.Samples(ctx, "LCP")
*/
package storage
