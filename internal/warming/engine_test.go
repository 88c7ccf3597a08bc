package warming

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stratacache/stratacache/internal/cache"
	"github.com/stratacache/stratacache/internal/store"
	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
)

func newTestEngine(t *testing.T, clock *fakeClock) (*Engine, *cache.MultiLayer) {
	t.Helper()
	layer := cache.New(cache.Config{Store: store.New(&store.Config{MaxEntries: 100, Clock: clock})})
	engine := NewEngine(Config{
		Layer:         layer,
		Patterns:      NewPatternTracker(100, clock),
		Clock:         clock,
		PriorityFloor: 80,
	})
	return engine, layer
}

func staticTask(id, key string, value interface{}) *Task {
	return &Task{
		ID:       id,
		CacheKey: key,
		TTL:      time.Minute,
		Compute: func(ctx context.Context) (interface{}, error) {
			return value, nil
		},
	}
}

func TestRegisterTaskDuplicate(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeClock())

	if err := engine.RegisterTask(staticTask("t1", "k1", 1)); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	err := engine.RegisterTask(staticTask("t1", "k2", 2))
	if cacheerrors.GetCode(err) != cacheerrors.ErrCodeTaskExists {
		t.Errorf("expected TASK_EXISTS, got %v", err)
	}
}

func TestUnregisterTask(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeClock())
	engine.RegisterTask(staticTask("t1", "k1", 1))

	if !engine.UnregisterTask("t1") {
		t.Error("expected unregister to find the task")
	}
	if engine.UnregisterTask("t1") {
		t.Error("expected second unregister to report missing")
	}
}

func TestWarmCriticalDataSelectionAndOrder(t *testing.T) {
	ctx := context.Background()
	engine, layer := newTestEngine(t, newFakeClock())

	var order []string
	record := func(id string, value interface{}) *Task {
		task := staticTask(id, "key:"+id, value)
		task.Compute = func(ctx context.Context) (interface{}, error) {
			order = append(order, id)
			return value, nil
		}
		return task
	}

	critical := record("critical", 1)
	critical.Critical = true
	critical.Priority = 10

	high := record("high", 2)
	high.Priority = 90 // above the floor of 80

	low := record("low", 3)
	low.Priority = 10

	engine.RegisterTask(low)
	engine.RegisterTask(critical)
	engine.RegisterTask(high)

	warmed := engine.WarmCriticalData(ctx)
	if warmed != 2 {
		t.Fatalf("expected 2 tasks warmed, got %d", warmed)
	}

	// Highest priority first: high(90) before critical(10)
	if len(order) != 2 || order[0] != "high" || order[1] != "critical" {
		t.Errorf("expected [high critical], got %v", order)
	}

	if _, found := layer.Get(ctx, "key:low"); found {
		t.Error("expected low-priority task skipped")
	}
	if _, found := layer.Get(ctx, "key:critical"); !found {
		t.Error("expected critical task cached")
	}
}

func TestWarmCriticalDataSkipsNotDue(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	engine, _ := newTestEngine(t, clock)

	task := staticTask("t1", "k1", 1)
	task.Critical = true
	task.NextRun = clock.Now().Add(time.Hour)
	engine.RegisterTask(task)

	if warmed := engine.WarmCriticalData(ctx); warmed != 0 {
		t.Errorf("expected task with future next run skipped, got %d", warmed)
	}

	clock.Advance(2 * time.Hour)
	if warmed := engine.WarmCriticalData(ctx); warmed != 1 {
		t.Errorf("expected task due after advance, got %d", warmed)
	}
}

func TestRunTaskUpdatesSchedule(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	engine, _ := newTestEngine(t, clock)

	task := staticTask("t1", "k1", 1)
	task.Critical = true
	task.Interval = 10 * time.Minute
	engine.RegisterTask(task)

	engine.WarmCriticalData(ctx)

	snapshot, ok := engine.TaskSnapshot("t1")
	if !ok {
		t.Fatal("expected task snapshot")
	}
	if snapshot.RunCount != 1 {
		t.Errorf("expected run count 1, got %d", snapshot.RunCount)
	}
	want := clock.Now().Add(10 * time.Minute)
	if !snapshot.NextRun.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, snapshot.NextRun)
	}

	stats := engine.GetStats()
	if stats.TasksWarmed != 1 {
		t.Errorf("expected 1 task warmed, got %d", stats.TasksWarmed)
	}
}

func TestRunTaskFailureCounted(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, newFakeClock())

	task := &Task{
		ID:       "failing",
		CacheKey: "k1",
		Critical: true,
		Compute: func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("source down")
		},
	}
	engine.RegisterTask(task)

	if warmed := engine.WarmCriticalData(ctx); warmed != 0 {
		t.Errorf("expected failing task not counted as warmed, got %d", warmed)
	}
	if stats := engine.GetStats(); stats.CycleErrors != 1 {
		t.Errorf("expected 1 cycle error, got %d", stats.CycleErrors)
	}
}

func TestWarmUserDataCooldown(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	layer := cache.New(cache.Config{Store: store.New(&store.Config{MaxEntries: 100, Clock: clock})})

	loads := 0
	engine := NewEngine(Config{
		Layer:    layer,
		Patterns: NewPatternTracker(100, clock),
		Clock:    clock,
		UserLoader: func(ctx context.Context, userID string, limit int) ([]*Task, error) {
			loads++
			return []*Task{staticTask("u:"+userID, "user:"+userID+":recent", "data")}, nil
		},
	})

	warmed, skipped := engine.WarmUserData(ctx, "42", false)
	if skipped || warmed != 1 {
		t.Fatalf("expected first warm to run, warmed=%d skipped=%v", warmed, skipped)
	}

	// Within the cool-down: skipped
	clock.Advance(time.Minute)
	if _, skipped := engine.WarmUserData(ctx, "42", false); !skipped {
		t.Error("expected warm within cool-down to be skipped")
	}

	// force bypasses the cool-down
	if _, skipped := engine.WarmUserData(ctx, "42", true); skipped {
		t.Error("expected forced warm to run inside cool-down")
	}

	// Another user is unaffected
	if _, skipped := engine.WarmUserData(ctx, "7", false); skipped {
		t.Error("expected different user to warm immediately")
	}

	// Past the cool-down the user warms again
	clock.Advance(10 * time.Minute)
	if _, skipped := engine.WarmUserData(ctx, "42", false); skipped {
		t.Error("expected warm after cool-down to run")
	}

	if loads != 4 {
		t.Errorf("expected 4 loader calls, got %d", loads)
	}
}

func TestWarmUserDataRespectsPreloadLimit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	layer := cache.New(cache.Config{Store: store.New(&store.Config{MaxEntries: 100, Clock: clock})})

	engine := NewEngine(Config{
		Layer:            layer,
		Patterns:         NewPatternTracker(100, clock),
		Clock:            clock,
		UserPreloadLimit: 2,
		UserLoader: func(ctx context.Context, userID string, limit int) ([]*Task, error) {
			tasks := make([]*Task, 5)
			for i := range tasks {
				tasks[i] = staticTask("t", "k"+string(rune('0'+i)), i)
			}
			return tasks, nil
		},
	})

	warmed, _ := engine.WarmUserData(ctx, "42", false)
	if warmed != 2 {
		t.Errorf("expected preload capped at 2, got %d", warmed)
	}
}

func TestWarmFromPatterns(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	engine, layer := newTestEngine(t, clock)

	engine.RegisterTask(staticTask("t-hot", "hot-key", "warmed"))
	engine.RegisterTask(staticTask("t-cached", "cached-key", "already"))

	for i := 0; i < 5; i++ {
		engine.Patterns().RecordAccess("hot-key")
		engine.Patterns().RecordAccess("cached-key")
		engine.Patterns().RecordAccess("untracked-key")
	}

	// cached-key is already present and must be skipped
	layer.Set(ctx, "cached-key", "present", time.Minute, nil)

	warmed := engine.WarmFromPatterns(ctx)
	if warmed != 1 {
		t.Errorf("expected 1 key warmed from patterns, got %d", warmed)
	}
	if value, found := layer.Get(ctx, "hot-key"); !found || value != "warmed" {
		t.Errorf("expected hot-key warmed, got %v found=%v", value, found)
	}
	if value, _ := layer.Get(ctx, "cached-key"); value != "present" {
		t.Errorf("expected cached-key untouched, got %v", value)
	}
}

func TestIntervalForRateTiers(t *testing.T) {
	tests := []struct {
		rate     float64
		expected time.Duration
	}{
		{12, time.Minute},
		{10, time.Minute},
		{3, 5 * time.Minute},
		{1, 5 * time.Minute},
		{0.2, 15 * time.Minute},
		{0, time.Hour},
	}
	for _, tt := range tests {
		if got := intervalForRate(tt.rate); got != tt.expected {
			t.Errorf("rate %g: expected %v, got %v", tt.rate, tt.expected, got)
		}
	}
}

func TestOptimizeSchedules(t *testing.T) {
	clock := newFakeClock()
	engine, _ := newTestEngine(t, clock)

	engine.RegisterTask(staticTask("busy", "busy-key", 1))
	engine.RegisterTask(staticTask("idle", "idle-key", 2))

	// ~0.5 accesses per minute over the trailing hour
	for i := 0; i < 30; i++ {
		engine.Patterns().RecordAccess("busy-key")
		clock.Advance(time.Minute)
	}

	engine.OptimizeSchedules()

	busy, _ := engine.TaskSnapshot("busy")
	if busy.Interval != 15*time.Minute {
		t.Errorf("expected low-rate tier 15m for busy task, got %v", busy.Interval)
	}
	idle, _ := engine.TaskSnapshot("idle")
	if idle.Interval != time.Hour {
		t.Errorf("expected idle tier 1h, got %v", idle.Interval)
	}
}

func TestStartStop(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeClock())

	if err := engine.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := engine.Start(); cacheerrors.GetCode(err) != cacheerrors.ErrCodeAlreadyStarted {
		t.Errorf("expected ALREADY_STARTED, got %v", err)
	}
	if err := engine.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := engine.Stop(); cacheerrors.GetCode(err) != cacheerrors.ErrCodeNotStarted {
		t.Errorf("expected NOT_STARTED, got %v", err)
	}
}
