package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratacache/stratacache/internal/cache"
	"github.com/stratacache/stratacache/internal/logging"
	"github.com/stratacache/stratacache/pkg/types"
)

// Severity grades an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a threshold-crossing event. Only Acknowledge mutates it
// after creation.
type Alert struct {
	ID           string     `json:"id"`
	Severity     Severity   `json:"severity"`
	Message      string     `json:"message"`
	Type         MetricType `json:"metric_type"`
	Threshold    float64    `json:"threshold"`
	Actual       float64    `json:"actual"`
	Timestamp    time.Time  `json:"timestamp"`
	Acknowledged bool       `json:"acknowledged"`
}

// AlertFunc receives raised alerts. Callbacks run synchronously on the
// raising goroutine and are isolated from each other.
type AlertFunc func(Alert)

// Thresholds configures analyzer alerting
type Thresholds struct {
	// Hit rate below this raises a warning
	LowHitRate float64 `yaml:"low_hit_rate"`
	// Utilization above this raises a warning
	HighUtilization float64 `yaml:"high_utilization"`
	// Utilization above this triggers registered cleanups
	CleanupUtilization float64 `yaml:"cleanup_utilization"`
	// Relative hit-rate drop (percent) against the rolling average
	// that counts as degradation
	DegradationPercent float64 `yaml:"degradation_percent"`
	// Rolling-average window for degradation detection
	DegradationWindow time.Duration `yaml:"degradation_window"`
}

// DefaultThresholds returns the default alerting thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowHitRate:         0.5,
		HighUtilization:    0.9,
		CleanupUtilization: 0.95,
		DegradationPercent: 20,
		DegradationWindow:  15 * time.Minute,
	}
}

// Snapshot is a pull-based view of cache performance, computed on
// demand rather than continuously
type Snapshot struct {
	Timestamp   time.Time        `json:"timestamp"`
	Stats       types.CacheStats `json:"stats"`
	Utilization float64          `json:"utilization"`
}

// Analyzer derives performance snapshots, raises threshold alerts and
// runs cleanup callbacks
type Analyzer struct {
	layer      *cache.MultiLayer
	collector  *Collector
	thresholds Thresholds
	logger     logging.Logger
	clock      types.Clock

	mu             sync.Mutex
	alerts         map[string]*Alert
	alertCallbacks []AlertFunc
	cleanups       []types.CleanupFunc
}

// NewAnalyzer creates a performance analyzer
func NewAnalyzer(layer *cache.MultiLayer, collector *Collector, thresholds Thresholds, logger logging.Logger, clock types.Clock) *Analyzer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if clock == nil {
		clock = types.SystemClock()
	}
	return &Analyzer{
		layer:      layer,
		collector:  collector,
		thresholds: thresholds,
		logger:     logger,
		clock:      clock,
		alerts:     make(map[string]*Alert),
	}
}

// Snapshot reads current layer stats and records them as metric samples
func (a *Analyzer) Snapshot() Snapshot {
	stats := a.layer.Stats()
	utilization := stats.Utilization()

	a.collector.Record("memory", MetricHitRate, stats.HitRate, nil)
	a.collector.Record("memory", MetricEntryCount, float64(stats.Entries), nil)
	a.collector.Record("memory", MetricTotalSize, float64(stats.TotalSize), nil)
	a.collector.Record("memory", MetricUtilization, utilization, nil)
	a.collector.Record("memory", MetricEvictions, float64(stats.Evictions), nil)
	a.collector.Record("memory", MetricExpirations, float64(stats.Expirations), nil)

	return Snapshot{
		Timestamp:   a.clock.Now(),
		Stats:       stats,
		Utilization: utilization,
	}
}

// CheckThresholds raises alerts for threshold crossings in the given
// snapshot and returns the newly raised alerts
func (a *Analyzer) CheckThresholds(snapshot Snapshot) []Alert {
	var raised []Alert

	requests := snapshot.Stats.Hits + snapshot.Stats.Misses
	if requests > 0 && snapshot.Stats.HitRate < a.thresholds.LowHitRate {
		raised = append(raised, a.raiseAlert(SeverityWarning, "cache hit rate below threshold",
			MetricHitRate, a.thresholds.LowHitRate, snapshot.Stats.HitRate))
	}
	if snapshot.Utilization > a.thresholds.HighUtilization {
		raised = append(raised, a.raiseAlert(SeverityWarning, "cache utilization above threshold",
			MetricUtilization, a.thresholds.HighUtilization, snapshot.Utilization))
	}
	return raised
}

// DetectDegradation compares the current hit rate against its rolling
// historical average and raises a critical alert when the relative
// drop exceeds the configured percentage
func (a *Analyzer) DetectDegradation() *Alert {
	stats := a.layer.Stats()
	if stats.Hits+stats.Misses == 0 {
		return nil
	}

	average, ok := a.collector.Average("memory", MetricHitRate, a.thresholds.DegradationWindow)
	if !ok || average <= 0 {
		return nil
	}

	dropPercent := (average - stats.HitRate) / average * 100
	if dropPercent <= a.thresholds.DegradationPercent {
		return nil
	}

	alert := a.raiseAlert(SeverityCritical, "cache hit rate degraded against rolling average",
		MetricHitRate, average, stats.HitRate)
	return &alert
}

// RegisterAlertCallback adds a callback invoked for every raised alert
func (a *Analyzer) RegisterAlertCallback(fn AlertFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alertCallbacks = append(a.alertCallbacks, fn)
}

// RegisterCleanup adds a cleanup callback for high-utilization runs
func (a *Analyzer) RegisterCleanup(fn types.CleanupFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanups = append(a.cleanups, fn)
}

// RunCleanups invokes every registered cleanup callback, isolating
// panics so one failing callback does not abort its siblings
func (a *Analyzer) RunCleanups() {
	a.mu.Lock()
	cleanups := make([]types.CleanupFunc, len(a.cleanups))
	copy(cleanups, a.cleanups)
	a.mu.Unlock()

	for i, fn := range cleanups {
		a.runIsolated("cleanup callback", i, func() { fn() })
	}
}

// MaybeCleanup runs cleanups when utilization crosses the cleanup
// threshold, reporting whether it did
func (a *Analyzer) MaybeCleanup(ctx context.Context) bool {
	_ = ctx
	stats := a.layer.Stats()
	if stats.Utilization() < a.thresholds.CleanupUtilization {
		return false
	}
	a.logger.Info("utilization above cleanup threshold, running cleanups",
		logging.Field{Key: "utilization", Value: stats.Utilization()})
	a.RunCleanups()
	return true
}

// AcknowledgeAlert marks an alert acknowledged
func (a *Analyzer) AcknowledgeAlert(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	alert, exists := a.alerts[id]
	if !exists {
		return false
	}
	alert.Acknowledged = true
	return true
}

// ActiveAlerts returns unacknowledged alerts
func (a *Analyzer) ActiveAlerts() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	var active []Alert
	for _, alert := range a.alerts {
		if !alert.Acknowledged {
			active = append(active, *alert)
		}
	}
	return active
}

func (a *Analyzer) raiseAlert(severity Severity, message string, metricType MetricType, threshold, actual float64) Alert {
	alert := Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Message:   message,
		Type:      metricType,
		Threshold: threshold,
		Actual:    actual,
		Timestamp: a.clock.Now(),
	}

	a.mu.Lock()
	a.alerts[alert.ID] = &alert
	callbacks := make([]AlertFunc, len(a.alertCallbacks))
	copy(callbacks, a.alertCallbacks)
	a.mu.Unlock()

	a.logger.Warn("cache alert raised",
		logging.Field{Key: "severity", Value: string(severity)},
		logging.Field{Key: "message", Value: message},
		logging.Field{Key: "threshold", Value: threshold},
		logging.Field{Key: "actual", Value: actual})

	snapshot := alert
	for i, fn := range callbacks {
		cb := fn
		a.runIsolated("alert callback", i, func() { cb(snapshot) })
	}
	return alert
}

// runIsolated shields the caller from a panicking callback
func (a *Analyzer) runIsolated(kind string, index int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("callback panicked", nil,
				logging.Field{Key: "kind", Value: kind},
				logging.Field{Key: "index", Value: index},
				logging.Field{Key: "panic", Value: r})
		}
	}()
	fn()
}
