package invalidation

import (
	"regexp"
	"time"

	"github.com/stratacache/stratacache/pkg/types"
)

// Strategy selects how a matched rule executes
type Strategy int

const (
	// Immediate executes synchronously within the triggering write
	Immediate Strategy = iota
	// Batched joins the shared debounced batch
	Batched
	// Lazy marks matching entries stale; they drop on next read
	Lazy
	// Cascade executes immediately and additionally walks dependents
	// of every key bearing the rule's invalidate tags
	Cascade
)

// String returns the strategy name
func (s Strategy) String() string {
	switch s {
	case Immediate:
		return "immediate"
	case Batched:
		return "batched"
	case Lazy:
		return "lazy"
	case Cascade:
		return "cascade"
	default:
		return "unknown"
	}
}

// WriteContext carries write metadata into rule predicates
type WriteContext map[string]interface{}

// Predicate decides whether a rule applies to a specific write
type Predicate func(ctx WriteContext) bool

// Rule describes one invalidation rule. Trigger matching uses typed
// resource keys; an empty ID matches every instance of the type.
type Rule struct {
	Name           string
	TriggerTags    []types.ResourceKey
	InvalidateTags []string
	Predicate      Predicate
	Strategy       Strategy
	Priority       int // higher runs first

	// Pattern, when set, takes precedence over InvalidateTags and
	// selects keys by regex over all live keys. O(n) per execution;
	// reserve for low-cardinality caches.
	Pattern *regexp.Regexp

	// Execution counters, owned by the engine
	ExecutionCount   int64
	TotalInvalidated int64
	LastExecuted     time.Time

	seq int // registration order, breaks priority ties
}

// Relationship declares that writes to SourceType affect TargetTypes.
// CascadeDepth bounds recursive expansion through further relationships.
type Relationship struct {
	SourceType       string
	TargetTypes      []string
	RelationshipType string
	CascadeDepth     int
}
