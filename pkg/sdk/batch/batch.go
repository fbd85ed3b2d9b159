// Package batch queues outbound telemetry deliveries and sends them in the
// background.
//
// Delivery is best effort: Add never blocks and never fails, a full queue
// drops new deliveries, every send has a timeout, and a failed send is
// logged once and discarded without retry.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/sdk/transport"
)

// ErrAlreadyStarted is returned by Start on a running queue.
var ErrAlreadyStarted = errors.New("batch: queue already started")

// Delivery is one pending POST.
type Delivery struct {
	Path    string
	Payload []byte
}

// Config holds configuration for the queue
type Config struct {
	// FlushSize triggers a background flush once this many deliveries are pending
	FlushSize int

	// MaxPending bounds the queue; further deliveries are dropped
	MaxPending int

	FlushEvery  time.Duration
	SendTimeout time.Duration
	Logger      *zap.SugaredLogger
}

func (c *Config) setDefaults() {
	if c.FlushSize <= 0 {
		c.FlushSize = config.DefaultFlushSize
	}
	if c.MaxPending <= 0 {
		c.MaxPending = config.DefaultMaxPending
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = config.DefaultFlushEvery
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = config.DefaultSendTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
}

// Stats counts deliveries by outcome
type Stats struct {
	Pending int    `json:"pending"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Queue buffers deliveries and sends them periodically
type Queue struct {
	config    Config
	transport transport.Transport

	pending []Delivery
	mu      sync.Mutex

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool

	flushing atomic.Bool // at most one background flush at a time
	inflight sync.WaitGroup

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a new queue
func New(t transport.Transport, cfg Config) *Queue {
	cfg.setDefaults()
	return &Queue{
		config:    cfg,
		transport: t,
		pending:   make([]Delivery, 0, cfg.FlushSize),
		done:      make(chan struct{}),
	}
}

// Start starts the periodic flush loop
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}
	q.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	go q.flushLoop(loopCtx)
	return nil
}

// Add encodes payload and queues it for path. It never blocks; encoding
// failures and deliveries beyond MaxPending are dropped.
func (q *Queue) Add(path string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		q.dropped.Add(1)
		q.config.Logger.Warnw("Dropping telemetry payload that cannot be encoded", "path", path, "error", err)
		return
	}

	q.mu.Lock()
	if q.stopped || len(q.pending) >= q.config.MaxPending {
		q.mu.Unlock()
		q.dropped.Add(1)
		return
	}
	q.pending = append(q.pending, Delivery{Path: path, Payload: data})
	// inflight is only added to while stopped is false, so Stop's Wait
	// never races with Add
	shouldFlush := q.started && len(q.pending) >= q.config.FlushSize &&
		q.flushing.CompareAndSwap(false, true)
	if shouldFlush {
		q.inflight.Add(1)
	}
	q.mu.Unlock()

	if shouldFlush {
		go func() {
			defer q.inflight.Done()
			q.sendAll(q.drain())
			q.flushing.Store(false)
		}()
	}
}

// Flush sends every pending delivery and waits for the results. Failures
// are combined into one error.
func (q *Queue) Flush() error {
	return q.sendAll(q.drain())
}

// Stop stops the flush loop, waits for background sends and flushes what is
// left. Deliveries added afterwards are dropped.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	started := q.started
	q.mu.Unlock()

	if started {
		q.cancel()
		<-q.done
	}
	q.inflight.Wait()

	return q.Flush()
}

// Stats returns delivery counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	pending := len(q.pending)
	q.mu.Unlock()

	return Stats{
		Pending: pending,
		Sent:    q.sent.Load(),
		Failed:  q.failed.Load(),
		Dropped: q.dropped.Load(),
	}
}

func (q *Queue) flushLoop(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.flushing.CompareAndSwap(false, true) {
				q.sendAll(q.drain())
				q.flushing.Store(false)
			}
		}
	}
}

func (q *Queue) drain() []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	batch := q.pending
	q.pending = make([]Delivery, 0, q.config.FlushSize)
	return batch
}

// sendAll posts each delivery on its own
func (q *Queue) sendAll(batch []Delivery) error {
	var result *multierror.Error
	for _, d := range batch {
		if err := q.send(d); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (q *Queue) send(d Delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.config.SendTimeout)
	defer cancel()

	if err := q.transport.Send(ctx, d.Path, d.Payload); err != nil {
		q.failed.Add(1)
		q.config.Logger.Warnw("Failed to send telemetry", "path", d.Path, "error", err)
		return err
	}
	q.sent.Add(1)
	return nil
}
