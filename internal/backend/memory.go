package backend

import (
	"context"
	"sync"
	"time"

	"github.com/stratacache/stratacache/pkg/types"
)

// Memory is an in-process Backend. It is the default when no durable
// store is configured and the collaborator double in tests.
type Memory struct {
	mu    sync.Mutex
	items map[string]*memoryItem
	clock types.Clock
}

type memoryItem struct {
	data      []byte
	expiresAt time.Time
	tags      map[string]struct{}
}

// NewMemory creates a new in-process backend
func NewMemory(clock types.Clock) *Memory {
	if clock == nil {
		clock = types.SystemClock()
	}
	return &Memory{
		items: make(map[string]*memoryItem),
		clock: clock,
	}
}

// Get returns the stored payload and its tags, expired keys are
// dropped on read
func (m *Memory) Get(_ context.Context, key string) ([]byte, []string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, exists := m.items[key]
	if !exists {
		return nil, nil, false, nil
	}
	if !item.expiresAt.IsZero() && m.clock.Now().After(item.expiresAt) {
		delete(m.items, key)
		return nil, nil, false, nil
	}
	data := make([]byte, len(item.data))
	copy(data, item.data)
	tags := make([]string, 0, len(item.tags))
	for tag := range item.tags {
		tags = append(tags, tag)
	}
	return data, tags, true, nil
}

// Set stores a payload with optional ttl and tags
func (m *Memory) Set(_ context.Context, key string, data []byte, ttl time.Duration, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &memoryItem{
		data: make([]byte, len(data)),
		tags: make(map[string]struct{}, len(tags)),
	}
	copy(item.data, data)
	for _, tag := range tags {
		item.tags[tag] = struct{}{}
	}
	if ttl > 0 {
		item.expiresAt = m.clock.Now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

// Delete removes a key, reporting whether it existed
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.items[key]
	delete(m.items, key)
	return exists, nil
}

// InvalidateByTags removes every key whose tag set intersects tags
func (m *Memory) InvalidateByTags(_ context.Context, tags []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, item := range m.items {
		for _, tag := range tags {
			if _, ok := item.tags[tag]; ok {
				delete(m.items, key)
				removed++
				break
			}
		}
	}
	return removed, nil
}

// Clear removes everything
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*memoryItem)
	return nil
}

// Ping always succeeds for the in-process backend
func (m *Memory) Ping(_ context.Context) error {
	return nil
}
