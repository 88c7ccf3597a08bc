package stratacache

import (
	"context"
	"io"
	"time"

	"github.com/stratacache/stratacache/internal/backend"
	"github.com/stratacache/stratacache/internal/backend/redis"
	"github.com/stratacache/stratacache/internal/backend/s3"
	"github.com/stratacache/stratacache/internal/cache"
	"github.com/stratacache/stratacache/internal/circuit"
	"github.com/stratacache/stratacache/internal/config"
	"github.com/stratacache/stratacache/internal/invalidation"
	"github.com/stratacache/stratacache/internal/logging"
	"github.com/stratacache/stratacache/internal/monitor"
	"github.com/stratacache/stratacache/internal/store"
	"github.com/stratacache/stratacache/internal/warming"
	"github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// System is the assembled cache: every component is owned by the System
// instance, nothing lives in package-level state, so a process can run
// several independent systems side by side.
type System struct {
	config *config.Config
	logger logging.Logger
	clock  types.Clock

	store         *store.Store
	backendCloser io.Closer // nil unless the backend holds connections
	layer         *cache.MultiLayer

	tracker      *invalidation.Tracker
	invalidation *invalidation.Engine

	collector *monitor.Collector
	analyzer  *monitor.Analyzer
	exporter  *monitor.Exporter
	monitor   *monitor.Monitor

	patterns *warming.PatternTracker
	warming  *warming.Engine

	started bool
	closed  bool
}

// Option customizes System construction
type Option func(*options)

type options struct {
	logger     logging.Logger
	clock      types.Clock
	backend    types.Backend
	userLoader warming.UserDataFunc
}

// WithLogger supplies a logger; by default one is built from the
// logging section of the configuration
func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock supplies a clock, for tests
func WithClock(clock types.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithBackend supplies a pre-built persistent backend, overriding the
// backend section of the configuration
func WithBackend(b types.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithUserLoader supplies the loader used by user-scoped warming
func WithUserLoader(fn warming.UserDataFunc) Option {
	return func(o *options) { o.userLoader = fn }
}

// Open builds a System from configuration. Background loops are not
// running yet; call Start to launch them, or drive the components
// manually.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid configuration").
			WithComponent("system")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.NewZapLogger(logging.Config{
			Level: logging.ParseLevel(cfg.Logging.Level),
			Name:  cfg.Logging.Name,
		})
	}
	clock := o.clock
	if clock == nil {
		clock = types.SystemClock()
	}

	sys := &System{
		config: cfg,
		logger: logger,
		clock:  clock,
	}

	sys.store = store.New(&store.Config{
		MaxEntries: cfg.Store.MaxEntries,
		Clock:      clock,
		Logger:     logger.With(logging.Field{Key: "component", Value: "store"}),
	})

	be, closer, err := buildBackend(ctx, cfg, o.backend, clock, logger)
	if err != nil {
		return nil, err
	}
	sys.backendCloser = closer

	sys.layer = cache.New(cache.Config{
		Store:      sys.store,
		Backend:    be,
		Logger:     logger.With(logging.Field{Key: "component", Value: "cache"}),
		PromoteTTL: cfg.Cache.PromoteTTL,
	})

	sys.tracker = invalidation.NewTracker()
	sys.invalidation = invalidation.NewEngine(invalidation.Config{
		Layer:         sys.layer,
		Tracker:       sys.tracker,
		Logger:        logger.With(logging.Field{Key: "component", Value: "invalidation"}),
		Clock:         clock,
		DebounceDelay: cfg.Invalidation.DebounceDelay,
	})

	sys.collector = monitor.NewCollector(cfg.Monitoring.MetricsCapacity, clock)
	sys.analyzer = monitor.NewAnalyzer(sys.layer, sys.collector, monitor.Thresholds{
		LowHitRate:         cfg.Monitoring.LowHitRate,
		HighUtilization:    cfg.Monitoring.HighUtilization,
		CleanupUtilization: cfg.Monitoring.CleanupUtilization,
		DegradationPercent: cfg.Monitoring.DegradationPercent,
		DegradationWindow:  cfg.Monitoring.DegradationWindow,
	}, logger.With(logging.Field{Key: "component", Value: "monitor"}), clock)

	if cfg.Monitoring.Exporter.Enabled {
		sys.exporter = monitor.NewExporter(monitor.ExporterConfig{
			Enabled:   true,
			Port:      cfg.Monitoring.Exporter.Port,
			Path:      cfg.Monitoring.Exporter.Path,
			Namespace: cfg.Monitoring.Exporter.Namespace,
		}, logger)
	}
	sys.monitor = monitor.NewMonitor(sys.analyzer, sys.exporter, monitor.MonitorConfig{
		Interval:    cfg.Monitoring.Interval,
		AutoCleanup: cfg.Monitoring.AutoCleanup,
		JoinTimeout: cfg.Monitoring.JoinTimeout,
	}, logger)

	sys.patterns = warming.NewPatternTracker(cfg.Warming.HistoryCapacity, clock)
	sys.warming = warming.NewEngine(warming.Config{
		Layer:            sys.layer,
		Patterns:         sys.patterns,
		Logger:           logger.With(logging.Field{Key: "component", Value: "warming"}),
		Clock:            clock,
		CycleInterval:    cfg.Warming.CycleInterval,
		PriorityFloor:    cfg.Warming.PriorityFloor,
		UserCooldown:     cfg.Warming.UserCooldown,
		UserPreloadLimit: cfg.Warming.UserPreloadLimit,
		HotKeyLimit:      cfg.Warming.HotKeyLimit,
		JoinTimeout:      cfg.Warming.JoinTimeout,
		UserLoader:       o.userLoader,
	})

	return sys, nil
}

// buildBackend constructs the persistent layer from configuration,
// wrapping it in a circuit breaker when one is enabled
func buildBackend(ctx context.Context, cfg *config.Config, override types.Backend, clock types.Clock, logger logging.Logger) (types.Backend, io.Closer, error) {
	var (
		be     types.Backend
		closer io.Closer
	)

	switch {
	case override != nil:
		be = override
		if c, ok := override.(io.Closer); ok {
			closer = c
		}
	case cfg.Backend.Type == config.BackendNone:
		return nil, nil, nil
	case cfg.Backend.Type == config.BackendMemory:
		be = backend.NewMemory(clock)
	case cfg.Backend.Type == config.BackendRedis:
		rb := redis.New(redis.Config{
			Addr:      cfg.Backend.Redis.Addr,
			Password:  cfg.Backend.Redis.Password,
			DB:        cfg.Backend.Redis.DB,
			KeyPrefix: cfg.Backend.Redis.KeyPrefix,
		})
		be, closer = rb, rb
	case cfg.Backend.Type == config.BackendS3:
		sb, err := s3.New(ctx, s3.Config{
			Bucket:         cfg.Backend.S3.Bucket,
			Region:         cfg.Backend.S3.Region,
			KeyPrefix:      cfg.Backend.S3.KeyPrefix,
			Endpoint:       cfg.Backend.S3.Endpoint,
			ForcePathStyle: cfg.Backend.S3.ForcePathStyle,
			AccessKey:      cfg.Backend.S3.AccessKey,
			SecretKey:      cfg.Backend.S3.SecretKey,
		}, clock)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrCodeBackendUnavailable, "failed to build s3 backend").
				WithComponent("system")
		}
		be = sb
	}

	if cfg.Backend.Breaker.Enabled {
		be = backend.NewGuarded(be, circuit.Config{
			MaxRequests: cfg.Backend.Breaker.MaxRequests,
			Interval:    cfg.Backend.Breaker.Interval,
			Timeout:     cfg.Backend.Breaker.Timeout,
			Clock:       clock,
		}, logger.With(logging.Field{Key: "component", Value: "backend"}))
	}
	return be, closer, nil
}

// Start launches the monitoring loop, the warming loop and the metrics
// endpoint
func (s *System) Start() error {
	if s.closed {
		return errors.New(errors.ErrCodeClosed, "system is closed").WithComponent("system")
	}
	if s.started {
		return errors.New(errors.ErrCodeAlreadyStarted, "system already started").
			WithComponent("system")
	}

	if err := s.monitor.Start(); err != nil {
		return err
	}
	if s.config.Warming.Enabled {
		if err := s.warming.Start(); err != nil {
			_ = s.monitor.Stop()
			return err
		}
	}
	if s.exporter != nil {
		s.exporter.Start()
	}

	s.started = true
	s.logger.Info("cache system started",
		logging.Field{Key: "backend", Value: s.config.Backend.Type},
		logging.Field{Key: "max_entries", Value: s.config.Store.MaxEntries})
	return nil
}

// Close flushes pending invalidations, stops the background loops and
// releases backend connections. The System is unusable afterwards.
func (s *System) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.invalidation.FlushPending(ctx)

	var firstErr error
	if s.started {
		if s.config.Warming.Enabled {
			if err := s.warming.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := s.monitor.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		if s.exporter != nil {
			if err := s.exporter.Stop(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		s.started = false
	}

	if s.backendCloser != nil {
		if err := s.backendCloser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("cache system closed")
	return firstErr
}

// Get reads a key through the layered cache and feeds the usage tracker
func (s *System) Get(ctx context.Context, key string) (interface{}, bool) {
	s.patterns.RecordAccess(key)
	return s.layer.Get(ctx, key)
}

// Set writes a key through the layered cache
func (s *System) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = s.config.Cache.DefaultTTL
	}
	return s.layer.Set(ctx, key, value, ttl, tags)
}

// GetOrCompute returns the cached value or computes and stores it.
// Concurrent callers for the same key share one computation.
func (s *System) GetOrCompute(ctx context.Context, key string, fn types.ComputeFunc, ttl time.Duration, tags []string) (interface{}, error) {
	s.patterns.RecordAccess(key)
	if ttl <= 0 {
		ttl = s.config.Cache.DefaultTTL
	}
	return s.layer.GetOrCompute(ctx, key, fn, ttl, tags, false)
}

// Delete removes a key from every layer
func (s *System) Delete(ctx context.Context, key string) bool {
	return s.layer.Delete(ctx, key)
}

// InvalidateByTags removes every entry carrying any of the tags
func (s *System) InvalidateByTags(ctx context.Context, tags []string) int {
	return s.layer.InvalidateByTags(ctx, tags)
}

// NotifyWrite reports a resource write and runs the matching
// invalidation rules
func (s *System) NotifyWrite(ctx context.Context, res types.ResourceKey, operation string, wctx invalidation.WriteContext) int {
	return s.invalidation.InvalidateByWrite(ctx, res, operation, wctx)
}

// Health pings the persistent backend; nil for memory-only systems
func (s *System) Health(ctx context.Context) error {
	return s.layer.BackendHealth(ctx)
}

// Stats returns memory-layer statistics
func (s *System) Stats() types.CacheStats {
	return s.layer.Stats()
}

// Cache exposes the layered cache
func (s *System) Cache() *cache.MultiLayer { return s.layer }

// Invalidation exposes the invalidation engine
func (s *System) Invalidation() *invalidation.Engine { return s.invalidation }

// Tracker exposes the dependency tracker
func (s *System) Tracker() *invalidation.Tracker { return s.tracker }

// Analyzer exposes the performance analyzer
func (s *System) Analyzer() *monitor.Analyzer { return s.analyzer }

// Monitor exposes the polling monitor
func (s *System) Monitor() *monitor.Monitor { return s.monitor }

// Warming exposes the warming engine
func (s *System) Warming() *warming.Engine { return s.warming }

// Patterns exposes the usage pattern tracker
func (s *System) Patterns() *warming.PatternTracker { return s.patterns }
