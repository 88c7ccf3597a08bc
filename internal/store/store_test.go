package store

import (
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for TTL tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(maxEntries int, clock *fakeClock) *Store {
	return New(&Config{MaxEntries: maxEntries, Clock: clock})
}

func TestGetMissOnUnsetKey(t *testing.T) {
	s := newTestStore(10, newFakeClock())

	if _, found := s.Get("absent"); found {
		t.Error("expected miss for key that was never set")
	}

	stats := s.Stats()
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
	if stats.Hits != 0 {
		t.Errorf("expected 0 hits, got %d", stats.Hits)
	}
}

func TestSetAndGet(t *testing.T) {
	s := newTestStore(10, newFakeClock())

	s.Set("key1", "value1", 0, []string{"tag1"})

	value, found := s.Get("key1")
	if !found {
		t.Fatal("expected hit after set")
	}
	if value != "value1" {
		t.Errorf("expected value1, got %v", value)
	}

	stats := s.Stats()
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Errorf("expected 1 hit 0 misses, got %d/%d", stats.Hits, stats.Misses)
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(10, clock)

	s.Set("short", "v", time.Minute, nil)
	s.Set("forever", "v", 0, nil)

	clock.Advance(2 * time.Minute)

	if _, found := s.Get("short"); found {
		t.Error("expected expired entry to miss")
	}
	if _, found := s.Get("forever"); !found {
		t.Error("expected zero-ttl entry to survive")
	}

	stats := s.Stats()
	if stats.Expirations != 1 {
		t.Errorf("expected 1 expiration, got %d", stats.Expirations)
	}
	if stats.Evictions != 0 {
		t.Errorf("expiry must not count as eviction, got %d evictions", stats.Evictions)
	}
	if stats.Entries != 1 {
		t.Errorf("expected expired entry removed, got %d entries", stats.Entries)
	}
}

func TestLRUEvictionOrder(t *testing.T) {
	s := newTestStore(3, newFakeClock())

	s.Set("a", 1, 0, nil)
	s.Set("b", 2, 0, nil)
	s.Set("c", 3, 0, nil)

	// Touch a so b becomes least recently used
	if _, found := s.Get("a"); !found {
		t.Fatal("expected hit on a")
	}

	s.Set("d", 4, 0, nil)

	if s.Contains("b") {
		t.Error("expected b evicted as least recently used")
	}
	for _, key := range []string{"a", "c", "d"} {
		if !s.Contains(key) {
			t.Errorf("expected %s to survive eviction", key)
		}
	}

	stats := s.Stats()
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
	if stats.Expirations != 0 {
		t.Errorf("eviction must not count as expiration, got %d", stats.Expirations)
	}
}

func TestSetReplaceRefreshesEntry(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(10, clock)

	s.Set("key1", "old", time.Minute, []string{"old-tag"})
	clock.Advance(30 * time.Second)
	s.Set("key1", "new", time.Minute, []string{"new-tag"})

	// Original ttl would have lapsed here; the replacement's has not
	clock.Advance(45 * time.Second)

	value, found := s.Get("key1")
	if !found {
		t.Fatal("expected replaced entry to use its own ttl")
	}
	if value != "new" {
		t.Errorf("expected new, got %v", value)
	}
	if removed := s.InvalidateByTags([]string{"old-tag"}); removed != 0 {
		t.Errorf("old tag should be gone, invalidated %d", removed)
	}
}

func TestInvalidateByTags(t *testing.T) {
	tests := []struct {
		name     string
		tags     []string
		expected int
		survives []string
	}{
		{
			name:     "single instance tag",
			tags:     []string{"user:1"},
			expected: 2,
			survives: []string{"post:9"},
		},
		{
			name:     "type tag covers all instances",
			tags:     []string{"user"},
			expected: 2,
			survives: []string{"post:9"},
		},
		{
			name:     "unknown tag",
			tags:     []string{"nothing"},
			expected: 0,
			survives: []string{"u1:profile", "u1:settings", "post:9"},
		},
		{
			name:     "overlapping tags counted once",
			tags:     []string{"user:1", "user"},
			expected: 2,
			survives: []string{"post:9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(10, newFakeClock())
			s.Set("u1:profile", "p", 0, []string{"user", "user:1"})
			s.Set("u1:settings", "s", 0, []string{"user", "user:1"})
			s.Set("post:9", "x", 0, []string{"post", "post:9"})

			removed := s.InvalidateByTags(tt.tags)
			if removed != tt.expected {
				t.Errorf("expected %d removed, got %d", tt.expected, removed)
			}
			for _, key := range tt.survives {
				if !s.Contains(key) {
					t.Errorf("expected %s to survive", key)
				}
			}
		})
	}
}

func TestMarkStaleDropsOnNextRead(t *testing.T) {
	s := newTestStore(10, newFakeClock())
	s.Set("key1", "v", 0, nil)

	if !s.MarkStale("key1") {
		t.Fatal("expected MarkStale to find the entry")
	}
	if s.Contains("key1") {
		t.Error("stale entry must not report as live")
	}

	if _, found := s.Get("key1"); found {
		t.Error("stale entry must miss on read")
	}
	// The read dropped it
	if _, exists := s.items["key1"]; exists {
		t.Error("stale entry should be removed after the read")
	}
}

func TestMarkStaleByTags(t *testing.T) {
	s := newTestStore(10, newFakeClock())
	s.Set("a", 1, 0, []string{"group"})
	s.Set("b", 2, 0, []string{"group"})
	s.Set("c", 3, 0, []string{"other"})

	if marked := s.MarkStaleByTags([]string{"group"}); marked != 2 {
		t.Errorf("expected 2 marked, got %d", marked)
	}
	if _, found := s.Get("a"); found {
		t.Error("expected a stale")
	}
	if _, found := s.Get("c"); !found {
		t.Error("expected c untouched")
	}
}

func TestLookupClassifiesMisses(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(10, clock)

	if _, result := s.Lookup("absent"); result != Miss {
		t.Errorf("expected Miss for unset key, got %v", result)
	}

	s.Set("key1", "v", time.Minute, nil)
	if value, result := s.Lookup("key1"); result != Hit || value != "v" {
		t.Errorf("expected Hit with v, got %v/%v", value, result)
	}

	s.MarkStale("key1")
	if _, result := s.Lookup("key1"); result != StaleMiss {
		t.Errorf("expected StaleMiss for stale-marked entry, got %v", result)
	}
	// The stale drop already removed the entry; further reads are
	// plain misses
	if _, result := s.Lookup("key1"); result != Miss {
		t.Errorf("expected Miss after stale drop, got %v", result)
	}

	s.Set("key2", "v", time.Minute, nil)
	clock.Advance(2 * time.Minute)
	if _, result := s.Lookup("key2"); result != Miss {
		t.Errorf("expected expired entry to read as a plain Miss, got %v", result)
	}
}

func TestKeysByTagsAndMatching(t *testing.T) {
	s := newTestStore(10, newFakeClock())
	s.Set("user:1:profile", "p", 0, []string{"user:1"})
	s.Set("user:1:posts", "x", 0, []string{"user:1"})
	s.Set("session:9", "s", 0, []string{"session"})

	keys := s.KeysByTags([]string{"user:1"})
	if len(keys) != 2 {
		t.Errorf("expected 2 keys by tag, got %v", keys)
	}

	matched := s.KeysMatching(regexp.MustCompile(`^user:1:`))
	if len(matched) != 2 {
		t.Errorf("expected 2 keys by pattern, got %v", matched)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(10, newFakeClock())
	s.Set("key1", "v", 0, nil)

	if !s.Delete("key1") {
		t.Error("expected delete to report existing entry")
	}
	if s.Delete("key1") {
		t.Error("expected second delete to report missing entry")
	}
}

func TestClearKeepsCounters(t *testing.T) {
	s := newTestStore(10, newFakeClock())
	s.Set("key1", "v", 0, nil)
	s.Get("key1")
	s.Get("absent")

	s.Clear()

	stats := s.Stats()
	if stats.Entries != 0 || stats.TotalSize != 0 {
		t.Errorf("expected empty store, got %d entries %d bytes", stats.Entries, stats.TotalSize)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("clear must keep hit/miss counters, got %d/%d", stats.Hits, stats.Misses)
	}
}

func TestSizeAccounting(t *testing.T) {
	s := newTestStore(10, newFakeClock())

	s.Set("key1", "0123456789", 0, nil)
	before := s.Stats().TotalSize
	if before <= 0 {
		t.Fatalf("expected positive size estimate, got %d", before)
	}

	s.Delete("key1")
	if after := s.Stats().TotalSize; after != 0 {
		t.Errorf("expected size back to 0, got %d", after)
	}

	// Unserializable values degrade to size 0 rather than failing
	s.Set("fn", func() {}, 0, nil)
	if got := s.Stats().TotalSize; got != 0 {
		t.Errorf("expected 0 size for unserializable value, got %d", got)
	}
}

func TestStatsHitRate(t *testing.T) {
	s := newTestStore(10, newFakeClock())
	s.Set("key1", "v", 0, nil)

	for i := 0; i < 3; i++ {
		s.Get("key1")
	}
	s.Get("absent")

	stats := s.Stats()
	if stats.HitRate != 0.75 {
		t.Errorf("expected hit rate 0.75, got %f", stats.HitRate)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(1000, newFakeClock())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i)
				s.Set(key, i, 0, []string{"load"})
				s.Get(key)
			}
		}(g)
	}
	wg.Wait()

	stats := s.Stats()
	if stats.Entries != 1000 {
		t.Errorf("expected store capped at 1000 entries, got %d", stats.Entries)
	}
	if stats.Evictions != 600 {
		t.Errorf("expected 600 evictions, got %d", stats.Evictions)
	}
}
