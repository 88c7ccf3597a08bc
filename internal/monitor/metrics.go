package monitor

import (
	"sync"
	"time"

	"github.com/stratacache/stratacache/pkg/types"
)

// MetricType identifies a performance series
type MetricType string

const (
	MetricHitRate     MetricType = "hit_rate"
	MetricMissRate    MetricType = "miss_rate"
	MetricEntryCount  MetricType = "entry_count"
	MetricTotalSize   MetricType = "total_size"
	MetricUtilization MetricType = "utilization"
	MetricEvictions   MetricType = "evictions"
	MetricExpirations MetricType = "expirations"
)

// higherIsBetter encodes metric direction semantics for trend
// classification: a rising hit rate improves, a rising eviction or
// miss count degrades.
func higherIsBetter(metricType MetricType) bool {
	return metricType == MetricHitRate
}

// Trend classification results
const (
	TrendImproving        = "improving"
	TrendDegrading        = "degrading"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// trendThreshold is the relative mean change below which a series is
// considered stable.
const trendThreshold = 0.05

// Metric is one performance sample
type Metric struct {
	Timestamp time.Time         `json:"timestamp"`
	Layer     string            `json:"layer"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Collector stores samples in a fixed-capacity ring buffer, dropping
// the oldest first
type Collector struct {
	mu       sync.Mutex
	samples  []Metric
	capacity int
	head     int
	count    int
	clock    types.Clock
}

// NewCollector creates a collector holding at most capacity samples
func NewCollector(capacity int, clock types.Clock) *Collector {
	if capacity <= 0 {
		capacity = 10000
	}
	if clock == nil {
		clock = types.SystemClock()
	}
	return &Collector{
		samples:  make([]Metric, capacity),
		capacity: capacity,
		clock:    clock,
	}
}

// Record appends a sample, evicting the oldest when full
func (c *Collector) Record(layer string, metricType MetricType, value float64, metadata map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples[c.head] = Metric{
		Timestamp: c.clock.Now(),
		Layer:     layer,
		Type:      metricType,
		Value:     value,
		Metadata:  metadata,
	}
	c.head = (c.head + 1) % c.capacity
	if c.count < c.capacity {
		c.count++
	}
}

// Query returns samples matching layer (empty = any) and type within
// the trailing window, oldest first
func (c *Collector) Query(layer string, metricType MetricType, window time.Duration) []Metric {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryLocked(layer, metricType, window)
}

// Average computes the mean value over the trailing window; ok=false
// when no samples match
func (c *Collector) Average(layer string, metricType MetricType, window time.Duration) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	samples := c.queryLocked(layer, metricType, window)
	if len(samples) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, sample := range samples {
		sum += sample.Value
	}
	return sum / float64(len(samples)), true
}

// Trend splits the windowed series into halves and compares mean
// values: a relative change above 5% classifies as improving or
// degrading according to the metric's direction semantics.
func (c *Collector) Trend(layer string, metricType MetricType, window time.Duration) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	samples := c.queryLocked(layer, metricType, window)
	if len(samples) < 4 {
		return TrendInsufficientData
	}

	mid := len(samples) / 2
	firstMean := mean(samples[:mid])
	secondMean := mean(samples[mid:])

	var change float64
	switch {
	case firstMean != 0:
		change = (secondMean - firstMean) / abs(firstMean)
	case secondMean == 0:
		change = 0
	case secondMean > 0:
		change = 1
	default:
		change = -1
	}

	if abs(change) < trendThreshold {
		return TrendStable
	}
	rising := change > 0
	if rising == higherIsBetter(metricType) {
		return TrendImproving
	}
	return TrendDegrading
}

// Len returns the number of stored samples
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// queryLocked walks the ring oldest-first. Caller holds c.mu.
func (c *Collector) queryLocked(layer string, metricType MetricType, window time.Duration) []Metric {
	cutoff := c.clock.Now().Add(-window)

	var result []Metric
	start := c.head - c.count
	if start < 0 {
		start += c.capacity
	}
	for i := 0; i < c.count; i++ {
		sample := c.samples[(start+i)%c.capacity]
		if sample.Type != metricType {
			continue
		}
		if layer != "" && sample.Layer != layer {
			continue
		}
		if window > 0 && sample.Timestamp.Before(cutoff) {
			continue
		}
		result = append(result, sample)
	}
	return result
}

func mean(samples []Metric) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, sample := range samples {
		sum += sample.Value
	}
	return sum / float64(len(samples))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
