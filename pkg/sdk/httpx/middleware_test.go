package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nicktill/perfwatch/pkg/sdk"
	"github.com/nicktill/perfwatch/pkg/sdk/signals"
	"github.com/nicktill/perfwatch/pkg/telemetry"
)

// mockTransport collects payloads by path
type mockTransport struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func (m *mockTransport) Send(ctx context.Context, path string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payloads == nil {
		m.payloads = make(map[string][][]byte)
	}
	m.payloads[path] = append(m.payloads[path], payload)
	return nil
}

func (m *mockTransport) samples(t *testing.T) []telemetry.Sample {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []telemetry.Sample
	for _, p := range m.payloads["/api/performance-metrics"] {
		var s telemetry.Sample
		if err := json.Unmarshal(p, &s); err != nil {
			t.Fatalf("bad sample payload: %v", err)
		}
		out = append(out, s)
	}
	return out
}

func (m *mockTransport) errors(t *testing.T) []telemetry.ErrorRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []telemetry.ErrorRecord
	for _, p := range m.payloads["/api/errors"] {
		var rec telemetry.ErrorRecord
		if err := json.Unmarshal(p, &rec); err != nil {
			t.Fatalf("bad error payload: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func newClient(t *testing.T) (*sdk.Client, *mockTransport) {
	t.Helper()

	transport := &mockTransport{}
	cfg := sdk.DefaultConfig()
	cfg.SampleRate = 1
	cfg.Transport = transport
	cfg.Platform = signals.Platform{}
	cfg.FlushEvery = time.Hour

	client, err := sdk.New(cfg)
	if err != nil {
		t.Fatalf("sdk.New() error = %v", err)
	}
	return client, transport
}

func TestMiddleware_BasicRequest(t *testing.T) {
	client, transport := newClient(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrapped := Middleware(client)(handler)

	req := httptest.NewRequest("GET", "/api/courts", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	client.Stop()

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	samples := transport.samples(t)
	if len(samples) != 1 {
		t.Fatalf("Expected 1 TTFB sample, got %d", len(samples))
	}
	s := samples[0]
	if s.Metric != "TTFB" || s.URL != "/api/courts" {
		t.Errorf("unexpected sample %+v", s)
	}
	if s.Context["method"] != "GET" || s.Context["status"] != "200" {
		t.Errorf("unexpected context %v", s.Context)
	}
	if s.Value < 0 {
		t.Errorf("negative TTFB %v", s.Value)
	}
}

func TestMiddleware_MeasuresFirstByte(t *testing.T) {
	client, transport := newClient(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.Write([]byte("first"))
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte("second"))
	})

	Middleware(client)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/slow", nil))
	client.Stop()

	v := transport.samples(t)[0].Value
	if v < 30 || v >= 130 {
		t.Errorf("TTFB = %vms, want time to first write only", v)
	}
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	client, transport := newClient(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	Middleware(client)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))
	client.Stop()

	if got := transport.samples(t)[0].Context["status"]; got != "404" {
		t.Errorf("status = %v, want 404", got)
	}
}

func TestMiddleware_RecoversPanic(t *testing.T) {
	client, transport := newClient(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("template missing")
	})

	rec := httptest.NewRecorder()
	Middleware(client)(handler).ServeHTTP(rec, httptest.NewRequest("POST", "/court/12/hearings", nil))
	client.Stop()

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}

	records := transport.errors(t)
	if len(records) != 1 {
		t.Fatalf("Expected 1 error record, got %d", len(records))
	}
	if records[0].Type != telemetry.KindUncaught || records[0].Message != "template missing" {
		t.Errorf("unexpected record %+v", records[0])
	}

	samples := transport.samples(t)
	if len(samples) != 1 || samples[0].URL != "/court/{id}/hearings" {
		t.Errorf("expected one TTFB sample for the normalized path, got %+v", samples)
	}
}

func TestMiddleware_AbortHandlerPropagates(t *testing.T) {
	client, _ := newClient(t)
	defer client.Stop()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	Middleware(client)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestResponseWriter_DefaultStatusOK(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK, start: time.Now()}
	rw.Write([]byte("body"))

	if rw.statusCode != http.StatusOK || !rw.wroteHeader {
		t.Errorf("Write must imply 200, got %d (wroteHeader=%v)", rw.statusCode, rw.wroteHeader)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/courts", "/api/courts"},
		{"/api/courts/123", "/api/courts/{id}"},
		{"/court/456/hearings", "/court/{id}/hearings"},
		{"/api/sessions/0b6f2c1e-8d3a-4f4e-9c1a-2b7d5e6f7a8b", "/api/sessions/{id}"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
