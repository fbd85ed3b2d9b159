package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/nicktill/perfwatch/pkg/storage"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// Key prefixes, one per collection
const (
	prefixSample byte = 's'
	prefixError  byte = 'e'
	prefixAlert  byte = 'a'
)

// Store implements storage.Store on an in-memory BadgerDB (LSM tree).
// Nothing is written to disk; data lives for the lifetime of the process.
type Store struct {
	db     *badger.DB
	seq    atomic.Uint64
	closed atomic.Bool
}

var _ storage.Store = (*Store)(nil)

// Config holds BadgerDB configuration
type Config struct {
	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB default)
	MaxMemoryMB int64

	// Logger receives badger's internal logs (nil = discard)
	Logger *zap.SugaredLogger
}

// New opens an in-memory BadgerDB store
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)

	// BadgerDB defaults: 64 MB memtable, 5 x 64 MB = 320 MB total.
	// Default here is 48 MB total (16 MB memtable + caches).
	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB << 20 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithLogger(newLogger(cfg.Logger))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db}, nil
}

// AppendSample stores a sample under ['s'][xxhash(metric)][seq]
func (s *Store) AppendSample(ctx context.Context, sample telemetry.Sample) error {
	return s.put(ctx, func(seq uint64) []byte {
		return sampleKey(sample.Metric, seq)
	}, sample)
}

// AppendError stores an error record under ['e'][seq]
func (s *Store) AppendError(ctx context.Context, rec telemetry.ErrorRecord) error {
	return s.put(ctx, func(seq uint64) []byte {
		return seqKey(prefixError, seq)
	}, rec)
}

// AppendAlert stores an alert under ['a'][seq]
func (s *Store) AppendAlert(ctx context.Context, alert telemetry.Alert) error {
	return s.put(ctx, func(seq uint64) []byte {
		return seqKey(prefixAlert, seq)
	}, alert)
}

func (s *Store) put(ctx context.Context, key func(seq uint64) []byte, v any) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	// The sequence is taken before the transaction so insertion order is
	// fixed even when commits interleave.
	k := key(s.seq.Add(1))
	return run(ctx, "write", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Set(k, value); err != nil {
				return fmt.Errorf("failed to write entry: %w", err)
			}
			return nil
		})
	})
}

// Samples returns samples in insertion order. A metric filter is a prefix
// scan over that metric's hash.
func (s *Store) Samples(ctx context.Context, metric string) ([]telemetry.Sample, error) {
	prefix := []byte{prefixSample}
	if metric != "" {
		prefix = sampleKey(metric, 0)[:9]
	}

	type entry struct {
		seq    uint64
		sample telemetry.Sample
	}
	var entries []entry

	err := s.scan(ctx, prefix, func(key, val []byte) error {
		var sample telemetry.Sample
		if err := json.Unmarshal(val, &sample); err != nil {
			return fmt.Errorf("failed to decode sample: %w", err)
		}
		// Guard against hash collisions
		if metric != "" && sample.Metric != metric {
			return nil
		}
		entries = append(entries, entry{seq: keySeq(key), sample: sample})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys group samples by metric hash; restore global insertion order
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]telemetry.Sample, len(entries))
	for i, e := range entries {
		out[i] = e.sample
	}
	return out, nil
}

// Errors returns error records in insertion order
func (s *Store) Errors(ctx context.Context) ([]telemetry.ErrorRecord, error) {
	out := make([]telemetry.ErrorRecord, 0)
	err := s.scan(ctx, []byte{prefixError}, func(_, val []byte) error {
		var rec telemetry.ErrorRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("failed to decode error record: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Alerts returns alerts in insertion order
func (s *Store) Alerts(ctx context.Context) ([]telemetry.Alert, error) {
	out := make([]telemetry.Alert, 0)
	err := s.scan(ctx, []byte{prefixAlert}, func(_, val []byte) error {
		var alert telemetry.Alert
		if err := json.Unmarshal(val, &alert); err != nil {
			return fmt.Errorf("failed to decode alert: %w", err)
		}
		out = append(out, alert)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Counts returns collection sizes with a key-only scan
func (s *Store) Counts(ctx context.Context) (telemetry.Counts, error) {
	if s.closed.Load() {
		return telemetry.Counts{}, storage.ErrClosed
	}

	var counts telemetry.Counts
	err := run(ctx, "count", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}

				switch it.Item().Key()[0] {
				case prefixSample:
					counts.Metrics++
				case prefixError:
					counts.Errors++
				case prefixAlert:
					counts.Alerts++
				}
			}
			return nil
		})
	})
	return counts, err
}

// Close shuts down BadgerDB. Later operations fail with storage.ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// scan iterates over every key under prefix in key order
func (s *Store) scan(ctx context.Context, prefix []byte, fn func(key, val []byte) error) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	return run(ctx, "scan", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Prefix = prefix

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				iterCount++
				// Check for cancellation every 1000 iterations
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				key := item.KeyCopy(nil)
				if err := item.Value(func(val []byte) error {
					return fn(key, val)
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// run executes fn in its own goroutine and returns early when ctx is done,
// so a slow transaction never blocks a request past its deadline.
func run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		if errors.Is(err, badger.ErrDBClosed) {
			return storage.ErrClosed
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// sampleKey creates a sortable key: prefix + metric hash + sequence
// Format: ['s'][metric_hash (8 bytes)][seq (8 bytes)]
func sampleKey(metric string, seq uint64) []byte {
	key := make([]byte, 17)
	key[0] = prefixSample
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(metric))
	binary.BigEndian.PutUint64(key[9:17], seq)
	return key
}

// seqKey creates a key for the error and alert collections
// Format: [prefix][seq (8 bytes)]
func seqKey(prefix byte, seq uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:9], seq)
	return key
}

// keySeq extracts the sequence number, always the last 8 bytes of a key
func keySeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// badgerLogger adapts a zap logger to badger.Logger
type badgerLogger struct {
	log *zap.SugaredLogger
}

func newLogger(log *zap.SugaredLogger) badger.Logger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return badgerLogger{log: log.Named("badger")}
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }
