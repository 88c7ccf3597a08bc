package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratacache/stratacache/internal/logging"
)

// Exporter publishes monitor snapshots to a private prometheus registry
// and optionally serves it over HTTP
type Exporter struct {
	registry *prometheus.Registry
	logger   logging.Logger

	hitRate     prometheus.Gauge
	entries     prometheus.Gauge
	totalSize   prometheus.Gauge
	utilization prometheus.Gauge
	evictions   prometheus.Gauge
	expirations prometheus.Gauge

	server *http.Server
}

// ExporterConfig represents prometheus exporter configuration
type ExporterConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewExporter creates an exporter with its own registry
func NewExporter(config ExporterConfig, logger logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = "stratacache"
	}

	e := &Exporter{
		registry: prometheus.NewRegistry(),
		logger:   logger,
		hitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hit_rate",
			Help:      "Memory layer hit rate",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Live entries in the memory layer",
		}),
		totalSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "size_bytes",
			Help:      "Estimated serialized size of the memory layer",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "utilization",
			Help:      "Memory layer fill ratio",
		}),
		evictions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Cumulative LRU evictions",
		}),
		expirations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "expirations_total",
			Help:      "Cumulative TTL expirations",
		}),
	}

	e.registry.MustRegister(e.hitRate, e.entries, e.totalSize, e.utilization, e.evictions, e.expirations)

	if config.Enabled && config.Port > 0 {
		path := config.Path
		if path == "" {
			path = "/metrics"
		}
		mux := http.NewServeMux()
		mux.Handle(path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
		e.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           mux,
			ReadHeaderTimeout: 30 * time.Second,
		}
	}

	return e
}

// Update pushes a snapshot into the registry
func (e *Exporter) Update(snapshot Snapshot) {
	e.hitRate.Set(snapshot.Stats.HitRate)
	e.entries.Set(float64(snapshot.Stats.Entries))
	e.totalSize.Set(float64(snapshot.Stats.TotalSize))
	e.utilization.Set(snapshot.Utilization)
	e.evictions.Set(float64(snapshot.Stats.Evictions))
	e.expirations.Set(float64(snapshot.Stats.Expirations))
}

// Registry exposes the private registry for embedding in an existing
// metrics endpoint
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Start serves the metrics endpoint when one is configured
func (e *Exporter) Start() {
	if e.server == nil {
		return
	}
	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics server failed", err)
		}
	}()
}

// Stop shuts the metrics endpoint down
func (e *Exporter) Stop(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}
