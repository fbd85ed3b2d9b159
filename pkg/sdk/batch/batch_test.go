package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockTransport records every delivery
type mockTransport struct {
	mu         sync.Mutex
	deliveries []Delivery
	sendErr    error
	delay      time.Duration
}

func (m *mockTransport) Send(ctx context.Context, path string, payload []byte) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.deliveries = append(m.deliveries, Delivery{Path: path, Payload: payload})
	return m.sendErr
}

func (m *mockTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deliveries)
}

func (m *mockTransport) get() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNew_Defaults(t *testing.T) {
	q := New(&mockTransport{}, Config{})

	if q.config.FlushSize != 50 {
		t.Errorf("FlushSize = %d, want 50", q.config.FlushSize)
	}
	if q.config.MaxPending != 1000 {
		t.Errorf("MaxPending = %d, want 1000", q.config.MaxPending)
	}
	if q.config.SendTimeout != 5*time.Second {
		t.Errorf("SendTimeout = %v, want 5s", q.config.SendTimeout)
	}
	if q.config.Logger == nil {
		t.Error("Logger not defaulted")
	}
}

func TestStartStop(t *testing.T) {
	q := New(&mockTransport{}, Config{FlushEvery: 50 * time.Millisecond})

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := q.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
	if err := q.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := q.Stop(); err != nil {
		t.Errorf("second Stop() = %v, want nil", err)
	}
}

func TestAddEncodesPayload(t *testing.T) {
	transport := &mockTransport{}
	q := New(transport, Config{})

	q.Add("/api/performance-metrics", map[string]interface{}{"metric": "LCP", "value": 1200})
	if err := q.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got := transport.get()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Path != "/api/performance-metrics" {
		t.Errorf("path = %q", got[0].Path)
	}
	if string(got[0].Payload) != `{"metric":"LCP","value":1200}` {
		t.Errorf("payload = %s", got[0].Payload)
	}
}

func TestAddDropsUnencodable(t *testing.T) {
	transport := &mockTransport{}
	q := New(transport, Config{})

	q.Add("/api/errors", map[string]interface{}{"bad": make(chan int)})

	if stats := q.Stats(); stats.Dropped != 1 || stats.Pending != 0 {
		t.Errorf("stats = %+v, want 1 dropped and nothing pending", stats)
	}
}

func TestAddTriggersFlushWhenFull(t *testing.T) {
	transport := &mockTransport{}
	q := New(transport, Config{
		FlushSize:  5,
		FlushEvery: time.Hour, // only the size trigger can flush
	})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 5; i++ {
		q.Add("/api/performance-metrics", map[string]int{"i": i})
	}

	waitFor(t, func() bool { return transport.count() == 5 })
}

func TestPeriodicFlush(t *testing.T) {
	transport := &mockTransport{}
	q := New(transport, Config{
		FlushSize:  1000,
		FlushEvery: 50 * time.Millisecond,
	})
	q.Start(context.Background())
	defer q.Stop()

	q.Add("/api/performance-alerts", map[string]string{"message": "slow"})

	waitFor(t, func() bool { return transport.count() == 1 })
}

func TestMaxPendingDropsNewDeliveries(t *testing.T) {
	transport := &mockTransport{}
	q := New(transport, Config{MaxPending: 3})

	for i := 0; i < 5; i++ {
		q.Add("/api/performance-metrics", map[string]int{"i": i})
	}

	stats := q.Stats()
	if stats.Pending != 3 || stats.Dropped != 2 {
		t.Fatalf("stats = %+v, want 3 pending and 2 dropped", stats)
	}

	q.Flush()
	got := transport.get()
	if string(got[0].Payload) != `{"i":0}` || string(got[2].Payload) != `{"i":2}` {
		t.Errorf("oldest deliveries must be kept, got %s .. %s", got[0].Payload, got[2].Payload)
	}
}

func TestFailingTransport(t *testing.T) {
	transport := &mockTransport{sendErr: errors.New("connection refused")}
	q := New(transport, Config{})

	q.Add("/api/errors", map[string]string{"message": "a"})
	q.Add("/api/errors", map[string]string{"message": "b"})

	err := q.Flush()
	if err == nil {
		t.Fatal("Flush() expected combined error")
	}

	stats := q.Stats()
	if stats.Failed != 2 || stats.Sent != 0 {
		t.Errorf("stats = %+v, want 2 failed", stats)
	}

	// No retry: failed deliveries are gone
	if err := q.Flush(); err != nil {
		t.Errorf("second Flush() = %v, want nil", err)
	}
	if transport.count() != 2 {
		t.Errorf("transport saw %d sends, want 2", transport.count())
	}
}

func TestConcurrentAdd(t *testing.T) {
	// Slow transport to create backpressure
	transport := &mockTransport{delay: 5 * time.Millisecond}
	q := New(transport, Config{
		FlushSize:  10,
		MaxPending: 10000,
		FlushEvery: time.Hour,
	})
	q.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				q.Add("/api/performance-metrics", map[string]int{"id": id, "j": j})
			}
		}(i)
	}
	wg.Wait()

	if err := q.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if transport.count() != 200 {
		t.Errorf("expected 200 deliveries, got %d", transport.count())
	}
	if q.flushing.Load() {
		t.Error("flushing flag is stuck")
	}
}

func TestStopFlushesAndRejects(t *testing.T) {
	transport := &mockTransport{}
	q := New(transport, Config{FlushEvery: time.Hour})
	q.Start(context.Background())

	q.Add("/api/errors", map[string]string{"message": "pending"})
	if err := q.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if transport.count() != 1 {
		t.Fatalf("Stop() must flush pending deliveries, got %d", transport.count())
	}

	q.Add("/api/errors", map[string]string{"message": "late"})
	if stats := q.Stats(); stats.Dropped != 1 || stats.Pending != 0 {
		t.Errorf("stats = %+v, want late delivery dropped", stats)
	}
}

func TestAddDoesNotBlockOnSlowTransport(t *testing.T) {
	transport := &mockTransport{delay: 200 * time.Millisecond}
	q := New(transport, Config{FlushSize: 1, FlushEvery: time.Hour})
	q.Start(context.Background())
	defer q.Stop()

	start := time.Now()
	for i := 0; i < 5; i++ {
		q.Add("/api/performance-metrics", map[string]int{"i": i})
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Add blocked for %v", elapsed)
	}
}

func TestNoSendsAfterStop(t *testing.T) {
	transport := &mockTransport{delay: 5 * time.Millisecond}
	q := New(transport, Config{FlushSize: 1, FlushEvery: time.Hour})
	q.Start(context.Background())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Add("/api/performance-metrics", map[string]int{"i": i})
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	q.Stop()
	sent := transport.count()
	wg.Wait()

	time.Sleep(50 * time.Millisecond)
	if got := transport.count(); got != sent {
		t.Errorf("%d deliveries were sent after Stop returned", got-sent)
	}
}

func BenchmarkAdd(b *testing.B) {
	q := New(&mockTransport{}, Config{MaxPending: b.N + 1, FlushEvery: time.Hour})
	payload := map[string]interface{}{"metric": "LCP", "value": 1200.0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Add("/api/performance-metrics", payload)
	}
}
