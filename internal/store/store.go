// Package store implements the in-memory LRU+TTL layer of the cache.
package store

import (
	"container/list"
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/stratacache/stratacache/internal/logging"
	"github.com/stratacache/stratacache/pkg/types"
)

// Store implements a thread-safe LRU cache with per-entry TTL and tags
type Store struct {
	mu         sync.Mutex
	maxEntries int
	items      map[string]*Entry
	evictList  *list.List
	clock      types.Clock
	logger     logging.Logger

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
	totalSize   int64
}

// Config represents store configuration
type Config struct {
	MaxEntries int         `yaml:"max_entries"`
	Clock      types.Clock `yaml:"-"`
	Logger     logging.Logger
}

// Entry represents a single cached value with its metadata
type Entry struct {
	Key          string
	Value        interface{}
	CreatedAt    time.Time
	ExpiresAt    time.Time // zero means no TTL
	Tags         map[string]struct{}
	HitCount     int64
	LastAccessed time.Time
	Size         int64

	stale   bool
	element *list.Element
}

// listEntry is the value stored in the eviction list element
type listEntry struct {
	key string
}

// New creates a new store
func New(config *Config) *Store {
	if config == nil {
		config = &Config{}
	}
	maxEntries := config.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	clock := config.Clock
	if clock == nil {
		clock = types.SystemClock()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Store{
		maxEntries: maxEntries,
		items:      make(map[string]*Entry),
		evictList:  list.New(),
		clock:      clock,
		logger:     logger,
	}
}

// LookupResult classifies the outcome of a read
type LookupResult int

const (
	// Hit means a live entry was served
	Hit LookupResult = iota
	// Miss means the key was absent or expired
	Miss
	// StaleMiss means a stale-marked entry was dropped by this read;
	// callers holding a copy elsewhere must not resurrect it
	StaleMiss
)

// Get retrieves a value. Absent, expired and stale-marked entries all
// count as misses.
func (s *Store) Get(key string) (interface{}, bool) {
	value, result := s.Lookup(key)
	return value, result == Hit
}

// Lookup retrieves a value and classifies the outcome. Expired entries
// are removed and recorded as an expiration, which is distinct from an
// eviction; stale-marked entries are dropped and reported as a
// StaleMiss so the multi-layer read path can purge the backend copy
// instead of re-promoting it.
func (s *Store) Lookup(key string) (interface{}, LookupResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.items[key]
	if !exists {
		s.misses++
		return nil, Miss
	}

	now := s.clock.Now()
	if s.isExpired(entry, now) {
		s.removeEntry(entry)
		s.expirations++
		s.misses++
		return nil, Miss
	}

	if entry.stale {
		s.removeEntry(entry)
		s.misses++
		return nil, StaleMiss
	}

	entry.LastAccessed = now
	entry.HitCount++
	s.evictList.MoveToFront(entry.element)

	s.hits++
	return entry.Value, Hit
}

// Set creates or replaces an entry and marks it most-recently-used.
// A zero ttl means the entry never expires. Eviction runs after the
// insert, so size may transiently reach maxEntries+1.
func (s *Store) Set(key string, value interface{}, ttl time.Duration, tags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	size := estimateSize(value)

	tagSet := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tagSet[tag] = struct{}{}
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if entry, exists := s.items[key]; exists {
		s.totalSize -= entry.Size
		entry.Value = value
		entry.CreatedAt = now
		entry.ExpiresAt = expiresAt
		entry.Tags = tagSet
		entry.LastAccessed = now
		entry.HitCount++
		entry.Size = size
		entry.stale = false
		s.totalSize += size
		s.evictList.MoveToFront(entry.element)
		return
	}

	entry := &Entry{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		Tags:         tagSet,
		LastAccessed: now,
		Size:         size,
	}
	entry.element = s.evictList.PushFront(&listEntry{key: key})
	s.items[key] = entry
	s.totalSize += size

	s.evictIfNeeded()
}

// Delete removes an entry, reporting whether it existed
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.items[key]
	if !exists {
		return false
	}
	s.removeEntry(entry)
	return true
}

// InvalidateByTags removes every live entry whose tag set intersects
// tags and returns the number removed
func (s *Store) InvalidateByTags(tags []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, entry := range s.collectByTags(tags) {
		s.removeEntry(entry)
		removed++
	}
	return removed
}

// KeysByTags returns the keys of live entries whose tag set intersects tags
func (s *Store) KeysByTags(tags []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.collectByTags(tags)
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.Key)
	}
	return keys
}

// KeysMatching returns the keys of live entries matched by the pattern.
// This scans every entry; reserve it for low-cardinality caches.
func (s *Store) KeysMatching(pattern *regexp.Regexp) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var keys []string
	for key, entry := range s.items {
		if s.isExpired(entry, now) || entry.stale {
			continue
		}
		if pattern.MatchString(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// MarkStale flags an entry for lazy invalidation; the entry is dropped
// on its next read instead of immediately
func (s *Store) MarkStale(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.items[key]
	if !exists {
		return false
	}
	entry.stale = true
	return true
}

// MarkStaleByTags flags every entry whose tags intersect the given set
func (s *Store) MarkStaleByTags(tags []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, entry := range s.collectByTags(tags) {
		entry.stale = true
		marked++
	}
	return marked
}

// Clear removes all entries without touching hit/miss counters
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*Entry)
	s.evictList.Init()
	s.totalSize = 0
}

// Keys returns all live keys
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	keys := make([]string, 0, len(s.items))
	for key, entry := range s.items {
		if s.isExpired(entry, now) || entry.stale {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Contains reports whether a live entry exists without touching LRU order
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.items[key]
	if !exists {
		return false
	}
	return !s.isExpired(entry, s.clock.Now()) && !entry.stale
}

// TagsOf returns the tag set of a live entry
func (s *Store) TagsOf(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.items[key]
	if !exists {
		return nil
	}
	tags := make([]string, 0, len(entry.Tags))
	for tag := range entry.Tags {
		tags = append(tags, tag)
	}
	return tags
}

// Stats returns a snapshot of store statistics
func (s *Store) Stats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := types.CacheStats{
		Entries:     len(s.items),
		MaxEntries:  s.maxEntries,
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evictions,
		Expirations: s.expirations,
		TotalSize:   s.totalSize,
	}
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Helper methods. All assume the caller holds s.mu.

func (s *Store) collectByTags(tags []string) []*Entry {
	now := s.clock.Now()
	var matched []*Entry
	for _, entry := range s.items {
		if s.isExpired(entry, now) {
			continue
		}
		for _, tag := range tags {
			if _, ok := entry.Tags[tag]; ok {
				matched = append(matched, entry)
				break
			}
		}
	}
	return matched
}

func (s *Store) isExpired(entry *Entry, now time.Time) bool {
	return !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt)
}

func (s *Store) removeEntry(entry *Entry) {
	if entry.element != nil {
		s.evictList.Remove(entry.element)
	}
	delete(s.items, entry.Key)
	s.totalSize -= entry.Size
}

func (s *Store) evictIfNeeded() {
	for len(s.items) > s.maxEntries && s.evictList.Len() > 0 {
		element := s.evictList.Back()
		if element == nil {
			return
		}
		le := element.Value.(*listEntry)
		if entry, ok := s.items[le.key]; ok {
			s.removeEntry(entry)
			s.evictions++
		} else {
			s.evictList.Remove(element)
		}
	}
}

// estimateSize returns a best-effort serialized size; 0 when the value
// cannot be marshalled
func estimateSize(value interface{}) int64 {
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
