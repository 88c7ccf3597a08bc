// Package monitor ties together metric collection, performance analysis
// and the background polling loop that drives both.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/stratacache/stratacache/internal/logging"
	"github.com/stratacache/stratacache/pkg/errors"
)

// alertCheckEvery controls how many ticks pass between active-alert log
// sweeps.
const alertCheckEvery = 5

// Monitor polls the analyzer at a fixed interval on a dedicated
// goroutine. Each tick collects metrics and checks thresholds; every
// fifth tick logs active alerts; when auto-cleanup is enabled,
// high utilization triggers the analyzer's cleanup callbacks. Tick
// failures are isolated: the loop logs and continues.
type Monitor struct {
	analyzer    *Analyzer
	exporter    *Exporter // optional
	logger      logging.Logger
	interval    time.Duration
	autoCleanup bool
	joinTimeout time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// MonitorConfig represents monitor configuration
type MonitorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	AutoCleanup bool          `yaml:"auto_cleanup"`
	JoinTimeout time.Duration `yaml:"join_timeout"`
}

// NewMonitor creates a cache monitor
func NewMonitor(analyzer *Analyzer, exporter *Exporter, config MonitorConfig, logger logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := config.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	joinTimeout := config.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = 5 * time.Second
	}
	return &Monitor{
		analyzer:    analyzer,
		exporter:    exporter,
		logger:      logger,
		interval:    interval,
		autoCleanup: config.AutoCleanup,
		joinTimeout: joinTimeout,
	}
}

// Start launches the polling loop
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New(errors.ErrCodeAlreadyStarted, "monitor already started").
			WithComponent("monitor")
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run()
	m.logger.Info("cache monitor started",
		logging.Field{Key: "interval", Value: m.interval.String()})
	return nil
}

// Stop signals the loop and joins it with a bounded timeout. A stuck
// tick (for example a blocking cleanup callback) can delay shutdown up
// to that timeout.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return errors.New(errors.ErrCodeNotStarted, "monitor not started").
			WithComponent("monitor")
	}
	m.started = false
	close(m.stopCh)

	select {
	case <-m.doneCh:
		return nil
	case <-time.After(m.joinTimeout):
		m.logger.Warn("monitor loop did not stop within join timeout",
			logging.Field{Key: "timeout", Value: m.joinTimeout.String()})
		return nil
	}
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			tick++
			m.safeTick(tick)
		}
	}
}

// safeTick runs one monitoring cycle, recovering from panics so a
// single bad cycle cannot kill the loop
func (m *Monitor) safeTick(tick int) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor tick panicked", nil,
				logging.Field{Key: "tick", Value: tick},
				logging.Field{Key: "panic", Value: r})
		}
	}()

	snapshot := m.analyzer.Snapshot()
	m.analyzer.CheckThresholds(snapshot)
	m.analyzer.DetectDegradation()

	if m.exporter != nil {
		m.exporter.Update(snapshot)
	}

	if tick%alertCheckEvery == 0 {
		for _, alert := range m.analyzer.ActiveAlerts() {
			m.logger.Warn("active cache alert",
				logging.Field{Key: "id", Value: alert.ID},
				logging.Field{Key: "severity", Value: string(alert.Severity)},
				logging.Field{Key: "message", Value: alert.Message})
		}
	}

	if m.autoCleanup {
		m.analyzer.MaybeCleanup(context.Background())
	}
}
