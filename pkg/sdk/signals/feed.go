package signals

import (
	"context"
	"sync"

	"github.com/nicktill/perfwatch/pkg/config"
)

// Feed is a VitalsSource the host pushes measurements into, for example from
// a web-vitals bridge or a synthetic load generator.
type Feed struct {
	mu         sync.Mutex
	ch         chan VitalEvent
	subscribed bool
	closed     bool
}

// NewFeed creates a feed buffering up to buffer undelivered events.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = config.DefaultFeedBuffer
	}
	return &Feed{ch: make(chan VitalEvent, buffer)}
}

// Publish offers an event to the subscriber without blocking. It returns
// false when the event was dropped because the buffer is full or the feed
// is closed.
func (f *Feed) Publish(e VitalEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	select {
	case f.ch <- e:
		return true
	default:
		return false
	}
}

// Subscribe implements VitalsSource.
func (f *Feed) Subscribe(ctx context.Context) <-chan VitalEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribed || f.closed {
		done := make(chan VitalEvent)
		close(done)
		return done
	}
	f.subscribed = true

	go func() {
		<-ctx.Done()
		f.Close()
	}()
	return f.ch
}

// Close ends the stream. Buffered events are still delivered.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}
