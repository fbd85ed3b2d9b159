// Package runtime reads heap usage from the Go runtime.
package runtime

import (
	"math"
	"runtime"
	"runtime/debug"

	"github.com/nicktill/perfwatch/pkg/sdk/signals"
)

// MemoryReader implements signals.MemoryReader using runtime.MemStats.
type MemoryReader struct{}

// NewMemoryReader creates a new runtime memory reader.
func NewMemoryReader() MemoryReader {
	return MemoryReader{}
}

// HeapUsage reports allocated heap bytes, heap bytes obtained from the OS,
// and the soft memory limit when one is set. It is always available.
func (MemoryReader) HeapUsage() (signals.HeapUsage, bool) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usage := signals.HeapUsage{
		Used:  m.HeapAlloc,
		Total: m.HeapSys,
	}

	// A negative input reads the limit without changing it
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		usage.Limit = uint64(limit)
	}
	return usage, true
}

// Goroutines returns the number of live goroutines.
func Goroutines() int {
	return runtime.NumGoroutine()
}
