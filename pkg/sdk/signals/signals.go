// Package signals defines the platform capabilities the SDK reads from.
//
// Every source is optional. A nil source, or one reporting that it is not
// available, turns the matching SDK feature into a no-op without affecting
// the others.
package signals

import (
	"context"
	"strings"
	"time"
)

// VitalEvent is one Core Web Vital measurement computed by the platform.
type VitalEvent struct {
	Name           string // CLS, FID, FCP, LCP, TTFB or INP
	Value          float64
	Delta          float64
	ID             string
	NavigationType string
}

// VitalsSource produces vital measurements.
//
// Subscribe returns a lazy, unbounded stream of events. The stream cannot be
// restarted: it closes when ctx is done, and a second subscription receives
// an already closed channel.
type VitalsSource interface {
	Subscribe(ctx context.Context) <-chan VitalEvent
}

// HeapUsage is a heap reading in bytes.
type HeapUsage struct {
	Used  uint64
	Total uint64
	Limit uint64 // 0 when the platform imposes no limit
}

// MemoryReader reports current heap usage. ok is false when the platform
// has no memory API.
type MemoryReader interface {
	HeapUsage() (usage HeapUsage, ok bool)
}

// Resource is a network resource-timing entry.
type Resource struct {
	Name          string
	InitiatorType string
	TransferSize  int64
	ResponseEnd   time.Duration // zero while the fetch is still in flight
}

// Completed reports whether the resource finished loading.
func (r Resource) Completed() bool {
	return r.ResponseEnd > 0
}

// IsFirstPartyScript reports whether the resource is a script that was not
// loaded from a third-party dependency path.
func (r Resource) IsFirstPartyScript() bool {
	if strings.Contains(r.Name, "node_modules") {
		return false
	}
	return r.InitiatorType == "script" || strings.Contains(r.Name, ".js")
}

// ResourceLister enumerates the resource-timing entries recorded so far.
type ResourceLister interface {
	Resources() []Resource
}

// DeviceInfo is best-effort device context. Zero fields are unknown.
type DeviceInfo struct {
	ConnectionType string  // network effective type, e.g. "4g"
	DeviceMemoryGB float64 // approximate device memory
}

// DeviceReader reports device context.
type DeviceReader interface {
	DeviceInfo() DeviceInfo
}

// StaticDevice is a DeviceReader that always reports the same values.
type StaticDevice DeviceInfo

// DeviceInfo implements DeviceReader.
func (d StaticDevice) DeviceInfo() DeviceInfo {
	return DeviceInfo(d)
}

// NavigationTiming holds the navigation entry of a page load, with every
// mark relative to the time origin.
type NavigationTiming struct {
	DOMContentLoadedEventStart time.Duration
	DOMContentLoadedEventEnd   time.Duration
	LoadEventStart             time.Duration
	LoadEventEnd               time.Duration
}

// DOMContentLoaded returns the duration of the DOMContentLoaded handlers.
func (n NavigationTiming) DOMContentLoaded() time.Duration {
	return n.DOMContentLoadedEventEnd - n.DOMContentLoadedEventStart
}

// Load returns the duration of the load handlers.
func (n NavigationTiming) Load() time.Duration {
	return n.LoadEventEnd - n.LoadEventStart
}

// Platform bundles the sources available to the SDK.
type Platform struct {
	Vitals    VitalsSource
	Memory    MemoryReader
	Resources ResourceLister
	Device    DeviceReader
}
