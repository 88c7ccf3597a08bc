// Package cache implements the multi-layer cache coordinator: a fast
// in-memory LRU layer in front of an optional durable backend.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stratacache/stratacache/internal/logging"
	"github.com/stratacache/stratacache/internal/store"
	"github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// Layer identifies a cache layer for selective writes
type Layer string

const (
	// LayerMemory is the in-process LRU layer
	LayerMemory Layer = "memory"
	// LayerPersistent is the durable backend layer
	LayerPersistent Layer = "persistent"
)

// MultiLayer coordinates the memory store and the persistent backend.
// Reads try memory first, then the backend with write-through promotion.
// Backend failures are logged and degrade to misses; the memory layer
// stays fully usable without the backend.
type MultiLayer struct {
	store      *store.Store
	backend    types.Backend // nil when running memory-only
	logger     logging.Logger
	group      singleflight.Group
	promoteTTL time.Duration
}

// Config represents multi-layer cache configuration
type Config struct {
	Store   *store.Store
	Backend types.Backend
	Logger  logging.Logger

	// TTL applied when promoting a backend hit into memory; the
	// backend does not report remaining TTL for its payloads
	PromoteTTL time.Duration
}

// New creates a multi-layer cache
func New(config Config) *MultiLayer {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	promoteTTL := config.PromoteTTL
	if promoteTTL <= 0 {
		promoteTTL = 5 * time.Minute
	}
	st := config.Store
	if st == nil {
		st = store.New(nil)
	}
	return &MultiLayer{
		store:      st,
		backend:    config.Backend,
		logger:     logger,
		promoteTTL: promoteTTL,
	}
}

// Store exposes the memory layer for the invalidation engine
func (m *MultiLayer) Store() *store.Store {
	return m.store
}

// Get tries the memory layer, then the backend. A backend hit is
// written through into memory with its tags before returning, so a
// promoted entry stays reachable by tag invalidation. A stale-dropped
// memory entry purges the backend copy instead of falling through to
// it: the value was lazily invalidated and must not resurrect.
func (m *MultiLayer) Get(ctx context.Context, key string) (interface{}, bool) {
	value, result := m.store.Lookup(key)
	if result == store.Hit {
		return value, true
	}

	if m.backend == nil {
		return nil, false
	}

	if result == store.StaleMiss {
		if _, err := m.backend.Delete(ctx, key); err != nil {
			m.logger.Warn("backend purge of stale entry failed",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: err.Error()})
		}
		return nil, false
	}

	data, tags, found, err := m.backend.Get(ctx, key)
	if err != nil {
		m.logger.Warn("backend read failed, degrading to miss",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()})
		return nil, false
	}
	if !found {
		return nil, false
	}

	value, err = decode(data)
	if err != nil {
		m.logger.Warn("backend payload undecodable, degrading to miss",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()})
		return nil, false
	}

	m.store.Set(key, value, m.promoteTTL, tags)
	return value, true
}

// Set writes to the selected layers, defaulting to both. A failed
// backend write is logged and dropped, not replayed.
func (m *MultiLayer) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string, layers ...Layer) error {
	toMemory, toPersistent := selectLayers(layers)

	if toMemory {
		m.store.Set(key, value, ttl, tags)
	}

	if toPersistent && m.backend != nil {
		data, err := encode(value)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeEncode, "value not serializable for backend").
				WithComponent("multilayer").WithOperation("set").WithContext("key", key)
		}
		if err := m.backend.Set(ctx, key, data, ttl, tags); err != nil {
			m.logger.Warn("backend write failed, memory layer still updated",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
	return nil
}

// GetOrCompute implements cache-aside with single-flight: concurrent
// misses on the same key share one compute invocation.
func (m *MultiLayer) GetOrCompute(ctx context.Context, key string, fn types.ComputeFunc, ttl time.Duration, tags []string, forceRefresh bool) (interface{}, error) {
	if !forceRefresh {
		if value, found := m.Get(ctx, key); found {
			return value, nil
		}
	}

	value, err, _ := m.group.Do(key, func() (interface{}, error) {
		// Another flight may have populated the cache while this
		// call waited on the singleflight lock.
		if !forceRefresh {
			if value, found := m.store.Get(key); found {
				return value, nil
			}
		}
		value, err := fn(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeComputeFail, "compute function failed").
				WithComponent("multilayer").WithOperation("get_or_compute").WithContext("key", key)
		}
		if setErr := m.Set(ctx, key, value, ttl, tags); setErr != nil {
			m.logger.Warn("caching computed value failed",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: setErr.Error()})
		}
		return value, nil
	})
	return value, err
}

// Delete removes a key from every configured layer, true when any
// layer held it
func (m *MultiLayer) Delete(ctx context.Context, key string) bool {
	deleted := m.store.Delete(key)

	if m.backend != nil {
		existed, err := m.backend.Delete(ctx, key)
		if err != nil {
			m.logger.Warn("backend delete failed",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			deleted = deleted || existed
		}
	}
	return deleted
}

// InvalidateByTags fans out to every layer, returning the total removed
func (m *MultiLayer) InvalidateByTags(ctx context.Context, tags []string) int {
	removed := m.store.InvalidateByTags(tags)

	if m.backend != nil {
		n, err := m.backend.InvalidateByTags(ctx, tags)
		if err != nil {
			m.logger.Warn("backend tag invalidation failed",
				logging.Field{Key: "tags", Value: tags},
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			removed += n
		}
	}
	return removed
}

// Clear empties every layer
func (m *MultiLayer) Clear(ctx context.Context) error {
	m.store.Clear()
	if m.backend != nil {
		if err := m.backend.Clear(ctx); err != nil {
			return errors.Wrap(err, errors.ErrCodeBackendDelete, "backend clear failed").
				WithComponent("multilayer").WithOperation("clear")
		}
	}
	return nil
}

// Stats returns memory-layer statistics
func (m *MultiLayer) Stats() types.CacheStats {
	return m.store.Stats()
}

// BackendHealth reports backend reachability, nil when memory-only
func (m *MultiLayer) BackendHealth(ctx context.Context) error {
	if m.backend == nil {
		return nil
	}
	return m.backend.Ping(ctx)
}

func selectLayers(layers []Layer) (memory, persistent bool) {
	if len(layers) == 0 {
		return true, true
	}
	for _, layer := range layers {
		switch layer {
		case LayerMemory:
			memory = true
		case LayerPersistent:
			persistent = true
		}
	}
	return memory, persistent
}

// encode/decode define the backend wire form. JSON keeps payloads
// readable in redis and S3 at the cost of number fidelity (decoded
// numbers come back as float64).
func encode(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func decode(data []byte) (interface{}, error) {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
