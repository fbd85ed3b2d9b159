package runtime

import (
	"testing"

	"github.com/nicktill/perfwatch/pkg/sdk/signals"
)

func TestMemoryReader(t *testing.T) {
	var reader signals.MemoryReader = NewMemoryReader()

	usage, ok := reader.HeapUsage()
	if !ok {
		t.Fatal("runtime memory reader must always be available")
	}
	if usage.Used == 0 {
		t.Error("expected non-zero heap usage")
	}
	if usage.Total < usage.Used {
		t.Errorf("heap total %d below used %d", usage.Total, usage.Used)
	}
}

func TestGoroutines(t *testing.T) {
	if n := Goroutines(); n < 1 {
		t.Errorf("expected at least one goroutine, got %d", n)
	}
}
