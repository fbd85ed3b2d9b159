package ingest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/perfwatch/pkg/config"
)

// ErrCardinalityLimit is returned when a new metric name would exceed the
// distinct-name limit
var ErrCardinalityLimit = fmt.Errorf("cardinality limit exceeded (max %d unique metric names)", config.MaxUniqueMetrics)

// CardinalityTracker bounds the number of distinct metric names. Every name
// becomes a summary group and a label value, so unbounded names mean
// unbounded memory.
type CardinalityTracker struct {
	mu sync.RWMutex

	limit int

	// names maps xxhash(name) -> name, samples maps the hash -> count
	names   map[uint64]string
	samples map[uint64]int
}

// NewCardinalityTracker creates a tracker allowing limit distinct names
// (0 = config.MaxUniqueMetrics)
func NewCardinalityTracker(limit int) *CardinalityTracker {
	if limit <= 0 {
		limit = config.MaxUniqueMetrics
	}
	return &CardinalityTracker{
		limit:   limit,
		names:   make(map[uint64]string),
		samples: make(map[uint64]int),
	}
}

// CheckAndRecord admits a sample of metric and counts it in one critical
// section, so concurrent first-time names cannot push past the limit
func (c *CardinalityTracker) CheckAndRecord(metric string) error {
	h := xxhash.Sum64String(metric)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.names[h]; !exists {
		if len(c.names) >= c.limit {
			return ErrCardinalityLimit
		}
		c.names[h] = metric
	}
	c.samples[h]++
	return nil
}

// Release undoes one CheckAndRecord whose sample was not stored. A name
// left with no samples frees its slot.
func (c *CardinalityTracker) Release(metric string) {
	h := xxhash.Sum64String(metric)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.samples[h] <= 1 {
		delete(c.samples, h)
		delete(c.names, h)
		return
	}
	c.samples[h]--
}

// Stats returns current cardinality statistics
func (c *CardinalityTracker) Stats() CardinalityStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	top := make([]MetricUsage, 0, len(c.names))
	for h, name := range c.names {
		top = append(top, MetricUsage{Metric: name, Samples: c.samples[h]})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Samples != top[j].Samples {
			return top[i].Samples > top[j].Samples
		}
		return top[i].Metric < top[j].Metric
	})
	if len(top) > 10 {
		top = top[:10]
	}

	return CardinalityStats{
		UniqueMetrics:  len(c.names),
		Limit:          c.limit,
		UtilizationPct: float64(len(c.names)) / float64(c.limit) * 100,
		TopMetrics:     top,
	}
}

// CardinalityStats provides cardinality usage information
type CardinalityStats struct {
	UniqueMetrics  int           `json:"unique_metrics"`
	Limit          int           `json:"limit"`
	UtilizationPct float64       `json:"utilization_percent"`
	TopMetrics     []MetricUsage `json:"top_metrics"`
}

// MetricUsage is the sample count for one metric name
type MetricUsage struct {
	Metric  string `json:"metric"`
	Samples int    `json:"samples"`
}
