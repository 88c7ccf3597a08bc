// Package invalidation implements rule-driven, relationship-aware cache
// invalidation: write-triggered rule dispatch, dependency-graph cascades
// and debounced batch invalidation.
package invalidation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stratacache/stratacache/internal/cache"
	"github.com/stratacache/stratacache/internal/logging"
	"github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// maxExpansionDepth bounds relationship walks that declare no tighter
// cascade depth of their own.
const maxExpansionDepth = 16

// executionLogSize bounds the recent-execution ring.
const executionLogSize = 128

// Engine owns the rule registry, the relationship graph and the pending
// debounce batch. One mutex guards all engine state; calls into the
// cache layer and the tracker take those components' own locks, so a
// multi-component invalidation is not atomic as a whole.
type Engine struct {
	layer   *cache.MultiLayer
	tracker *Tracker
	logger  logging.Logger
	clock   types.Clock

	mu            sync.Mutex
	rules         map[string]*Rule
	rulesByType   map[string][]*Rule
	relationships map[string][]Relationship
	nextSeq       int

	pendingTags   map[string]struct{}
	pendingKeys   map[string]struct{}
	debounce      *time.Timer
	debounceGen   uint64
	debounceDelay time.Duration

	writesProcessed  uint64
	rulesExecuted    uint64
	totalInvalidated uint64
	batchesExecuted  uint64
	executionLog     []string
}

// Config represents engine configuration
type Config struct {
	Layer   *cache.MultiLayer
	Tracker *Tracker
	Logger  logging.Logger
	Clock   types.Clock

	// DebounceDelay is the quiet period before a pending batch fires;
	// each new batch request restarts it
	DebounceDelay time.Duration `yaml:"debounce_delay"`
}

// NewEngine creates an invalidation engine
func NewEngine(config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	clock := config.Clock
	if clock == nil {
		clock = types.SystemClock()
	}
	delay := config.DebounceDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	tracker := config.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Engine{
		layer:         config.Layer,
		tracker:       tracker,
		logger:        logger,
		clock:         clock,
		rules:         make(map[string]*Rule),
		rulesByType:   make(map[string][]*Rule),
		relationships: make(map[string][]Relationship),
		pendingTags:   make(map[string]struct{}),
		pendingKeys:   make(map[string]struct{}),
		debounceDelay: delay,
	}
}

// Tracker exposes the dependency tracker
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// RegisterRule adds a rule, indexing it by the type of each trigger tag
func (e *Engine) RegisterRule(rule *Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[rule.Name]; exists {
		return errors.Newf(errors.ErrCodeRuleExists, "rule %q already registered", rule.Name).
			WithComponent("invalidation")
	}
	rule.seq = e.nextSeq
	e.nextSeq++
	e.rules[rule.Name] = rule
	for _, trigger := range rule.TriggerTags {
		e.rulesByType[trigger.Type] = append(e.rulesByType[trigger.Type], rule)
	}
	return nil
}

// UnregisterRule removes a rule by name
func (e *Engine) UnregisterRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, exists := e.rules[name]
	if !exists {
		return false
	}
	delete(e.rules, name)
	for _, trigger := range rule.TriggerTags {
		bucket := e.rulesByType[trigger.Type]
		for i, r := range bucket {
			if r == rule {
				e.rulesByType[trigger.Type] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(e.rulesByType[trigger.Type]) == 0 {
			delete(e.rulesByType, trigger.Type)
		}
	}
	return true
}

// AddRelationship registers a source→targets relationship
func (e *Engine) AddRelationship(rel Relationship) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.relationships[rel.SourceType] = append(e.relationships[rel.SourceType], rel)
}

// InvalidateByWrite reacts to a write against a resource: it expands the
// resource's relationships into a related-tag set, dispatches matching
// rules in priority order, and finally applies the unconditional
// baseline invalidation of every key tagged with a related tag. Returns
// the total number of entries invalidated synchronously.
func (e *Engine) InvalidateByWrite(ctx context.Context, res types.ResourceKey, operation string, wctx WriteContext) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.writesProcessed++
	related := e.expandRelatedLocked(res)
	candidates := e.candidatesLocked(related)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].seq < candidates[j].seq
	})

	total := 0
	for _, rule := range candidates {
		if !e.predicateMatches(rule, wctx) {
			continue
		}
		switch rule.Strategy {
		case Immediate:
			total += e.executeRuleLocked(ctx, rule)
		case Batched:
			e.enqueueLocked(rule.InvalidateTags, nil)
			e.recordExecutionLocked(rule, 0)
		case Lazy:
			marked := e.layer.Store().MarkStaleByTags(rule.InvalidateTags)
			e.recordExecutionLocked(rule, marked)
		case Cascade:
			total += e.executeCascadeLocked(ctx, rule)
		}
	}

	// Baseline: every key tagged with a related tag goes, whether or
	// not any rule matched.
	relatedTags := make([]string, 0, len(related))
	for _, key := range related {
		relatedTags = append(relatedTags, key.Tag())
	}
	baseline := e.layer.InvalidateByTags(ctx, relatedTags)
	total += baseline

	e.totalInvalidated += uint64(total)
	e.logger.Debug("write invalidation",
		logging.Field{Key: "resource", Value: res.Tag()},
		logging.Field{Key: "operation", Value: operation},
		logging.Field{Key: "rules_matched", Value: len(candidates)},
		logging.Field{Key: "invalidated", Value: total})
	return total
}

// InvalidateWithDependencies invalidates key together with its
// dependents: direct only, or the full transitive closure.
func (e *Engine) InvalidateWithDependencies(ctx context.Context, key string, recursive bool) int {
	batch := append([]string{key}, e.tracker.DependentsOf(key, recursive)...)

	removed := 0
	for _, k := range batch {
		if e.layer.Delete(ctx, k) {
			removed++
		}
	}

	e.mu.Lock()
	e.totalInvalidated += uint64(removed)
	e.mu.Unlock()
	return removed
}

// ScheduleBatchInvalidation merges tags and keys into the shared
// pending batch and restarts the debounce timer. Repeated calls within
// the quiet period coalesce into a single consolidated execution.
func (e *Engine) ScheduleBatchInvalidation(tags, keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueueLocked(tags, keys)
}

// FlushPending cancels the debounce timer and executes the accumulated
// batch immediately. Used at shutdown or when callers need synchronous
// guarantees.
func (e *Engine) FlushPending(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.debounceGen++
	return e.executePendingLocked(ctx)
}

// PendingCounts reports the size of the pending batch
func (e *Engine) PendingCounts() (tags, keys int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pendingTags), len(e.pendingKeys)
}

// Stats is a snapshot of engine counters
type Stats struct {
	Rules            int    `json:"rules"`
	WritesProcessed  uint64 `json:"writes_processed"`
	RulesExecuted    uint64 `json:"rules_executed"`
	TotalInvalidated uint64 `json:"total_invalidated"`
	BatchesExecuted  uint64 `json:"batches_executed"`
	PendingTags      int    `json:"pending_tags"`
	PendingKeys      int    `json:"pending_keys"`
}

// GetStats returns engine-level counters
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Rules:            len(e.rules),
		WritesProcessed:  e.writesProcessed,
		RulesExecuted:    e.rulesExecuted,
		TotalInvalidated: e.totalInvalidated,
		BatchesExecuted:  e.batchesExecuted,
		PendingTags:      len(e.pendingTags),
		PendingKeys:      len(e.pendingKeys),
	}
}

// RuleSnapshot returns a copy of a rule's execution counters
func (e *Engine) RuleSnapshot(name string) (Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, exists := e.rules[name]
	if !exists {
		return Rule{}, false
	}
	return *rule, true
}

// ExecutionLog returns recent rule executions, oldest first
func (e *Engine) ExecutionLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	log := make([]string, len(e.executionLog))
	copy(log, e.executionLog)
	return log
}

// Internal methods. All assume the caller holds e.mu.

// expandRelatedLocked computes the related resource set for a write:
// the resource itself (type and type:id), plus every type reachable
// through registered relationships within cascade depth. Visited types
// guard against relationship cycles.
func (e *Engine) expandRelatedLocked(res types.ResourceKey) []types.ResourceKey {
	visited := map[string]struct{}{res.Type: {}}
	related := []types.ResourceKey{types.TypeOnly(res.Type)}
	if res.ID != "" {
		related = append(related, res)
	}

	var expand func(sourceType string, remaining int)
	expand = func(sourceType string, remaining int) {
		for _, rel := range e.relationships[sourceType] {
			depth := rel.CascadeDepth
			if depth > remaining {
				depth = remaining
			}
			if depth <= 0 {
				continue
			}
			for _, target := range rel.TargetTypes {
				if _, seen := visited[target]; seen {
					continue
				}
				visited[target] = struct{}{}
				related = append(related, types.TypeOnly(target))
				expand(target, depth-1)
			}
		}
	}
	expand(res.Type, maxExpansionDepth)
	return related
}

// candidatesLocked selects rules via the type index and keeps those
// whose trigger tags intersect the related set.
func (e *Engine) candidatesLocked(related []types.ResourceKey) []*Rule {
	relatedTypes := make(map[string]struct{}, len(related))
	relatedExact := make(map[types.ResourceKey]struct{}, len(related))
	for _, key := range related {
		relatedTypes[key.Type] = struct{}{}
		relatedExact[key] = struct{}{}
	}

	seen := make(map[string]struct{})
	var candidates []*Rule
	for relType := range relatedTypes {
		for _, rule := range e.rulesByType[relType] {
			if _, dup := seen[rule.Name]; dup {
				continue
			}
			if !triggerMatches(rule, relatedTypes, relatedExact) {
				continue
			}
			seen[rule.Name] = struct{}{}
			candidates = append(candidates, rule)
		}
	}
	return candidates
}

func triggerMatches(rule *Rule, relatedTypes map[string]struct{}, relatedExact map[types.ResourceKey]struct{}) bool {
	for _, trigger := range rule.TriggerTags {
		if trigger.ID == "" {
			if _, ok := relatedTypes[trigger.Type]; ok {
				return true
			}
			continue
		}
		if _, ok := relatedExact[trigger]; ok {
			return true
		}
	}
	return false
}

// predicateMatches evaluates a rule predicate, isolating panics so one
// broken predicate cannot abort the surrounding invalidation.
func (e *Engine) predicateMatches(rule *Rule, wctx WriteContext) (matched bool) {
	if rule.Predicate == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule predicate panicked, skipping rule", nil,
				logging.Field{Key: "rule", Value: rule.Name},
				logging.Field{Key: "panic", Value: r})
			matched = false
		}
	}()
	return rule.Predicate(wctx)
}

// executeRuleLocked runs one rule now. A pattern rule scans live keys;
// otherwise the rule's invalidate tags fan out across layers.
func (e *Engine) executeRuleLocked(ctx context.Context, rule *Rule) int {
	invalidated := 0
	if rule.Pattern != nil {
		for _, key := range e.layer.Store().KeysMatching(rule.Pattern) {
			if e.layer.Delete(ctx, key) {
				invalidated++
			}
		}
	} else {
		invalidated = e.layer.InvalidateByTags(ctx, rule.InvalidateTags)
	}
	e.recordExecutionLocked(rule, invalidated)
	return invalidated
}

// executeCascadeLocked runs a rule immediately, then walks the reverse
// dependency graph from every key that carried an invalidate tag.
func (e *Engine) executeCascadeLocked(ctx context.Context, rule *Rule) int {
	tagged := e.layer.Store().KeysByTags(rule.InvalidateTags)

	invalidated := e.executeRuleLocked(ctx, rule)

	cascaded := 0
	for _, key := range tagged {
		for _, dependent := range e.tracker.DependentsOf(key, true) {
			if e.layer.Delete(ctx, dependent) {
				cascaded++
			}
		}
	}
	rule.TotalInvalidated += int64(cascaded)
	return invalidated + cascaded
}

func (e *Engine) recordExecutionLocked(rule *Rule, invalidated int) {
	rule.ExecutionCount++
	rule.TotalInvalidated += int64(invalidated)
	rule.LastExecuted = e.clock.Now()
	e.rulesExecuted++
	e.executionLog = append(e.executionLog, rule.Name)
	if len(e.executionLog) > executionLogSize {
		e.executionLog = e.executionLog[len(e.executionLog)-executionLogSize:]
	}
}

// enqueueLocked merges into the pending batch and restarts the timer.
func (e *Engine) enqueueLocked(tags, keys []string) {
	for _, tag := range tags {
		e.pendingTags[tag] = struct{}{}
	}
	for _, key := range keys {
		e.pendingKeys[key] = struct{}{}
	}

	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounceGen++
	gen := e.debounceGen
	e.debounce = time.AfterFunc(e.debounceDelay, func() {
		e.fireDebounce(gen)
	})
}

// fireDebounce runs on the timer goroutine; the generation check drops
// stale timers that lost a Stop race.
func (e *Engine) fireDebounce(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.debounceGen {
		return
	}
	e.debounce = nil
	e.executePendingLocked(context.Background())
}

// executePendingLocked runs one consolidated invalidation over the
// accumulated pending tags and keys, then clears them.
func (e *Engine) executePendingLocked(ctx context.Context) int {
	if len(e.pendingTags) == 0 && len(e.pendingKeys) == 0 {
		return 0
	}

	tags := make([]string, 0, len(e.pendingTags))
	for tag := range e.pendingTags {
		tags = append(tags, tag)
	}
	keys := make([]string, 0, len(e.pendingKeys))
	for key := range e.pendingKeys {
		keys = append(keys, key)
	}
	e.pendingTags = make(map[string]struct{})
	e.pendingKeys = make(map[string]struct{})

	invalidated := 0
	if len(tags) > 0 {
		invalidated += e.layer.InvalidateByTags(ctx, tags)
	}
	for _, key := range keys {
		if e.layer.Delete(ctx, key) {
			invalidated++
		}
	}

	e.batchesExecuted++
	e.totalInvalidated += uint64(invalidated)
	e.logger.Debug("batch invalidation executed",
		logging.Field{Key: "tags", Value: len(tags)},
		logging.Field{Key: "keys", Value: len(keys)},
		logging.Field{Key: "invalidated", Value: invalidated})
	return invalidated
}
