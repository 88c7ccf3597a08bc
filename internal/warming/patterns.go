package warming

import (
	"sort"
	"sync"
	"time"

	"github.com/stratacache/stratacache/pkg/types"
)

// recentPerKey caps the per-key access times retained for rate and
// prediction computations.
const recentPerKey = 50

// access is one recorded cache access
type access struct {
	key string
	at  time.Time
}

// KeyFrequency pairs a key with its access count in the history window
type KeyFrequency struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// PatternTracker records cache accesses in a capped history and ranks
// keys by frequency. History is a ring: the oldest access drops first
// and its count is released with it.
type PatternTracker struct {
	mu       sync.Mutex
	capacity int
	history  []access
	head     int
	count    int
	counts   map[string]int64
	recent   map[string][]time.Time
	clock    types.Clock
}

// NewPatternTracker creates a tracker holding at most capacity accesses
func NewPatternTracker(capacity int, clock types.Clock) *PatternTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	if clock == nil {
		clock = types.SystemClock()
	}
	return &PatternTracker{
		capacity: capacity,
		history:  make([]access, capacity),
		counts:   make(map[string]int64),
		recent:   make(map[string][]time.Time),
		clock:    clock,
	}
}

// RecordAccess logs one access to key
func (p *PatternTracker) RecordAccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()

	if p.count == p.capacity {
		evicted := p.history[p.head]
		p.counts[evicted.key]--
		if p.counts[evicted.key] <= 0 {
			// Last ring slot for this key: release its recent
			// timestamps too, keeping tracked state bounded by the
			// keys still present in the ring.
			delete(p.counts, evicted.key)
			delete(p.recent, evicted.key)
		}
	}

	p.history[p.head] = access{key: key, at: now}
	p.head = (p.head + 1) % p.capacity
	if p.count < p.capacity {
		p.count++
	}
	p.counts[key]++

	times := append(p.recent[key], now)
	if len(times) > recentPerKey {
		times = times[len(times)-recentPerKey:]
	}
	p.recent[key] = times
}

// HotKeys returns the n most frequently accessed keys, most frequent
// first
func (p *PatternTracker) HotKeys(n int) []KeyFrequency {
	p.mu.Lock()
	defer p.mu.Unlock()

	ranked := make([]KeyFrequency, 0, len(p.counts))
	for key, count := range p.counts {
		ranked = append(ranked, KeyFrequency{Key: key, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Key < ranked[j].Key
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// AccessRate returns accesses per minute for key over the trailing
// window
func (p *PatternTracker) AccessRate(key string, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.clock.Now().Add(-window)
	hits := 0
	for _, at := range p.recent[key] {
		if !at.Before(cutoff) {
			hits++
		}
	}
	return float64(hits) / window.Minutes()
}

// PredictNextAccess estimates the next access time from the mean
// inter-access interval of the key's recent accesses. ok=false with
// fewer than two samples.
func (p *PatternTracker) PredictNextAccess(key string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	times := p.recent[key]
	if len(times) < 2 {
		return time.Time{}, false
	}

	var total time.Duration
	for i := 1; i < len(times); i++ {
		total += times[i].Sub(times[i-1])
	}
	meanInterval := total / time.Duration(len(times)-1)
	return times[len(times)-1].Add(meanInterval), true
}

// Len returns the number of retained accesses
func (p *PatternTracker) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
