package types

import (
	"context"
	"time"
)

// CacheStats tracks statistics for a single cache layer
type CacheStats struct {
	Entries     int     `json:"entries"`
	MaxEntries  int     `json:"max_entries"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	TotalSize   int64   `json:"total_size"`
}

// Utilization returns the fill ratio of the layer, 0 when unbounded.
func (s CacheStats) Utilization() float64 {
	if s.MaxEntries <= 0 {
		return 0
	}
	return float64(s.Entries) / float64(s.MaxEntries)
}

// ResourceKey identifies a cached resource by type and optional id.
// It replaces stringly-typed "type:id" tags: matching on Type alone
// covers every instance of a resource, Type+ID a single one.
type ResourceKey struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// TypeOnly builds a ResourceKey that matches every instance of a type.
func TypeOnly(resourceType string) ResourceKey {
	return ResourceKey{Type: resourceType}
}

// Tag renders the key in tag form for storage in entry tag sets.
func (k ResourceKey) Tag() string {
	if k.ID == "" {
		return k.Type
	}
	return k.Type + ":" + k.ID
}

// ComputeFunc produces a value for cache-aside population. It runs
// synchronously on the calling goroutine and may block for its full
// duration; the cache enforces no timeout beyond the supplied context.
type ComputeFunc func(ctx context.Context) (interface{}, error)

// CleanupFunc is invoked by the performance analyzer when cache
// utilization crosses the cleanup threshold, or on demand.
type CleanupFunc func()

// Clock is an injectable wall-clock source.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
