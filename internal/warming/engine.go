// Package warming implements proactive cache warming: named warming
// tasks, critical-data and usage-pattern-driven warming, and adaptive
// re-warm scheduling from observed access frequency.
package warming

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stratacache/stratacache/internal/cache"
	"github.com/stratacache/stratacache/internal/logging"
	"github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// Task is a named warming job bound to one cache key
type Task struct {
	ID       string
	CacheKey string
	Compute  types.ComputeFunc
	TTL      time.Duration
	Tags     []string
	Priority int
	Critical bool

	// Interval is the re-warm period; OptimizeSchedules rewrites it
	// from observed access frequency
	Interval time.Duration

	// Execution state, owned by the engine
	NextRun     time.Time
	RunCount    int64
	AvgDuration time.Duration
}

// UserDataFunc loads warming tasks for a user's most recent
// sub-resources, bounded by limit
type UserDataFunc func(ctx context.Context, userID string, limit int) ([]*Task, error)

// Config represents warming engine configuration
type Config struct {
	Layer    *cache.MultiLayer
	Patterns *PatternTracker
	Logger   logging.Logger
	Clock    types.Clock

	// CycleInterval paces the background loop, which alternates
	// critical-data warming and pattern-driven warming
	CycleInterval time.Duration `yaml:"cycle_interval"`

	// PriorityFloor admits non-critical tasks into critical warming
	PriorityFloor int `yaml:"priority_floor"`

	// UserCooldown is the per-user minimum gap between warmups
	UserCooldown time.Duration `yaml:"user_cooldown"`

	// UserPreloadLimit bounds sub-resources preloaded per user
	UserPreloadLimit int `yaml:"user_preload_limit"`

	// HotKeyLimit bounds pattern-driven warming per cycle
	HotKeyLimit int `yaml:"hot_key_limit"`

	JoinTimeout time.Duration `yaml:"join_timeout"`

	// UserLoader is optional; without it WarmUserData only tracks the
	// cool-down
	UserLoader UserDataFunc `yaml:"-"`
}

// Engine owns the warming task registry and the background loop
type Engine struct {
	layer    *cache.MultiLayer
	patterns *PatternTracker
	logger   logging.Logger
	clock    types.Clock
	config   Config

	mu           sync.Mutex
	tasks        map[string]*Task
	tasksByKey   map[string]*Task
	lastUserWarm map[string]time.Time
	cycleToggle  bool
	started      bool

	cron    *cron.Cron
	entryID cron.EntryID

	cyclesRun   uint64
	tasksWarmed uint64
	cycleErrors uint64
}

// NewEngine creates a warming engine
func NewEngine(config Config) *Engine {
	if config.Logger == nil {
		config.Logger = logging.NewNop()
	}
	if config.Clock == nil {
		config.Clock = types.SystemClock()
	}
	if config.CycleInterval <= 0 {
		config.CycleInterval = time.Minute
	}
	if config.UserCooldown <= 0 {
		config.UserCooldown = 5 * time.Minute
	}
	if config.UserPreloadLimit <= 0 {
		config.UserPreloadLimit = 10
	}
	if config.HotKeyLimit <= 0 {
		config.HotKeyLimit = 20
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = 5 * time.Second
	}
	if config.Patterns == nil {
		config.Patterns = NewPatternTracker(0, config.Clock)
	}
	return &Engine{
		layer:        config.Layer,
		patterns:     config.Patterns,
		logger:       config.Logger,
		clock:        config.Clock,
		config:       config,
		tasks:        make(map[string]*Task),
		tasksByKey:   make(map[string]*Task),
		lastUserWarm: make(map[string]time.Time),
	}
}

// Patterns exposes the usage tracker so the cache read path can feed it
func (e *Engine) Patterns() *PatternTracker {
	return e.patterns
}

// RegisterTask adds a warming task
func (e *Engine) RegisterTask(task *Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tasks[task.ID]; exists {
		return errors.Newf(errors.ErrCodeTaskExists, "warming task %q already registered", task.ID).
			WithComponent("warming")
	}
	e.tasks[task.ID] = task
	e.tasksByKey[task.CacheKey] = task
	return nil
}

// UnregisterTask removes a warming task by id
func (e *Engine) UnregisterTask(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, exists := e.tasks[id]
	if !exists {
		return false
	}
	delete(e.tasks, id)
	if e.tasksByKey[task.CacheKey] == task {
		delete(e.tasksByKey, task.CacheKey)
	}
	return true
}

// WarmCriticalData runs tasks flagged critical or at/above the priority
// floor, highest priority first, skipping tasks not yet due. Per-task
// failures are logged and do not stop the sweep.
func (e *Engine) WarmCriticalData(ctx context.Context) int {
	now := e.clock.Now()

	e.mu.Lock()
	candidates := make([]*Task, 0, len(e.tasks))
	for _, task := range e.tasks {
		if !task.Critical && task.Priority < e.config.PriorityFloor {
			continue
		}
		if task.NextRun.After(now) {
			continue
		}
		candidates = append(candidates, task)
	}
	e.mu.Unlock()

	sortTasksByPriority(candidates)

	warmed := 0
	for _, task := range candidates {
		if e.runTask(ctx, task) {
			warmed++
		}
	}
	return warmed
}

// WarmUserData warms a user's cached data with a per-user cool-down.
// Within the cool-down the call is a no-op with skipped=true unless
// force is set. When a user loader is configured, up to the preload
// limit of the user's most recent sub-resources are warmed as well.
func (e *Engine) WarmUserData(ctx context.Context, userID string, force bool) (warmed int, skipped bool) {
	now := e.clock.Now()

	e.mu.Lock()
	last, seen := e.lastUserWarm[userID]
	if !force && seen && now.Sub(last) < e.config.UserCooldown {
		e.mu.Unlock()
		return 0, true
	}
	e.lastUserWarm[userID] = now
	e.mu.Unlock()

	if e.config.UserLoader == nil {
		return 0, false
	}

	tasks, err := e.config.UserLoader(ctx, userID, e.config.UserPreloadLimit)
	if err != nil {
		e.logger.Warn("user data loader failed",
			logging.Field{Key: "user_id", Value: userID},
			logging.Field{Key: "error", Value: err.Error()})
		return 0, false
	}
	if len(tasks) > e.config.UserPreloadLimit {
		tasks = tasks[:e.config.UserPreloadLimit]
	}

	for _, task := range tasks {
		if e.runTask(ctx, task) {
			warmed++
		}
	}
	return warmed, false
}

// WarmFromPatterns warms registered tasks whose cache keys rank hottest
// in the usage tracker and are not currently cached
func (e *Engine) WarmFromPatterns(ctx context.Context) int {
	hot := e.patterns.HotKeys(e.config.HotKeyLimit)

	warmed := 0
	for _, candidate := range hot {
		e.mu.Lock()
		task := e.tasksByKey[candidate.Key]
		e.mu.Unlock()
		if task == nil {
			continue
		}
		if e.layer.Store().Contains(candidate.Key) {
			continue
		}
		if e.runTask(ctx, task) {
			warmed++
		}
	}
	return warmed
}

// OptimizeSchedules recomputes each task's re-warm interval from its
// observed access rate. More frequent access means a shorter interval.
func (e *Engine) OptimizeSchedules() {
	e.mu.Lock()
	tasks := make([]*Task, 0, len(e.tasks))
	for _, task := range e.tasks {
		tasks = append(tasks, task)
	}
	e.mu.Unlock()

	for _, task := range tasks {
		rate := e.patterns.AccessRate(task.CacheKey, time.Hour)
		interval := intervalForRate(rate)

		e.mu.Lock()
		task.Interval = interval
		e.mu.Unlock()
	}
}

// intervalForRate maps accesses-per-minute to a re-warm interval tier
func intervalForRate(perMinute float64) time.Duration {
	switch {
	case perMinute >= 10:
		return time.Minute
	case perMinute >= 1:
		return 5 * time.Minute
	case perMinute > 0:
		return 15 * time.Minute
	default:
		return time.Hour
	}
}

// Start launches the background loop. Cycles alternate between
// critical-data warming and pattern-driven warming.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errors.New(errors.ErrCodeAlreadyStarted, "warming engine already started").
			WithComponent("warming")
	}
	e.started = true
	e.cron = cron.New()
	entryID, err := e.cron.AddFunc("@every "+e.config.CycleInterval.String(), e.runCycle)
	if err != nil {
		e.started = false
		return errors.Wrap(err, errors.ErrCodeInternal, "scheduling warming cycle failed").
			WithComponent("warming")
	}
	e.entryID = entryID
	e.cron.Start()
	e.logger.Info("warming engine started",
		logging.Field{Key: "cycle_interval", Value: e.config.CycleInterval.String()})
	return nil
}

// Stop halts the loop, waiting for an in-flight cycle up to the join
// timeout
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return errors.New(errors.ErrCodeNotStarted, "warming engine not started").
			WithComponent("warming")
	}
	e.started = false
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(e.config.JoinTimeout):
		e.logger.Warn("warming cycle did not stop within join timeout",
			logging.Field{Key: "timeout", Value: e.config.JoinTimeout.String()})
	}
	return nil
}

// EngineStats is a snapshot of warming counters
type EngineStats struct {
	Tasks       int    `json:"tasks"`
	CyclesRun   uint64 `json:"cycles_run"`
	TasksWarmed uint64 `json:"tasks_warmed"`
	CycleErrors uint64 `json:"cycle_errors"`
}

// GetStats returns warming engine counters
func (e *Engine) GetStats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStats{
		Tasks:       len(e.tasks),
		CyclesRun:   e.cyclesRun,
		TasksWarmed: e.tasksWarmed,
		CycleErrors: e.cycleErrors,
	}
}

// TaskSnapshot returns a copy of a task's execution state
func (e *Engine) TaskSnapshot(id string) (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task, exists := e.tasks[id]
	if !exists {
		return Task{}, false
	}
	return *task, true
}

// runCycle executes one background cycle with error isolation
func (e *Engine) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.cycleErrors++
			e.mu.Unlock()
			e.logger.Error("warming cycle panicked", nil,
				logging.Field{Key: "panic", Value: r})
		}
	}()

	e.mu.Lock()
	e.cyclesRun++
	critical := !e.cycleToggle
	e.cycleToggle = !e.cycleToggle
	e.mu.Unlock()

	ctx := context.Background()
	if critical {
		e.WarmCriticalData(ctx)
	} else {
		e.WarmFromPatterns(ctx)
	}
}

// runTask warms one task, updating its schedule and duration stats
func (e *Engine) runTask(ctx context.Context, task *Task) bool {
	started := e.clock.Now()
	_, err := e.layer.GetOrCompute(ctx, task.CacheKey, task.Compute, task.TTL, task.Tags, false)
	elapsed := e.clock.Now().Sub(started)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.cycleErrors++
		e.logger.Warn("warming task failed",
			logging.Field{Key: "task", Value: task.ID},
			logging.Field{Key: "error", Value: err.Error()})
		return false
	}

	task.RunCount++
	if task.RunCount == 1 {
		task.AvgDuration = elapsed
	} else {
		task.AvgDuration = time.Duration(
			(int64(task.AvgDuration)*(task.RunCount-1) + int64(elapsed)) / task.RunCount)
	}
	interval := task.Interval
	if interval <= 0 {
		interval = intervalForRate(e.patterns.AccessRate(task.CacheKey, time.Hour))
	}
	task.NextRun = e.clock.Now().Add(interval)
	e.tasksWarmed++
	return true
}

func sortTasksByPriority(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority > tasks[j].Priority
	})
}
