package backend

import (
	"context"
	"time"

	"github.com/stratacache/stratacache/internal/circuit"
	"github.com/stratacache/stratacache/internal/logging"
	"github.com/stratacache/stratacache/pkg/types"
)

// Guarded wraps a Backend with a circuit breaker. While the breaker is
// open every call returns circuit.ErrOpen immediately; callers treat
// that like any other backend failure and degrade to a miss or no-op.
type Guarded struct {
	inner   types.Backend
	breaker *circuit.Breaker
	logger  logging.Logger
}

// NewGuarded wraps a backend with breaker protection
func NewGuarded(inner types.Backend, config circuit.Config, logger logging.Logger) *Guarded {
	if logger == nil {
		logger = logging.NewNop()
	}
	log := logger
	prev := config.OnStateChange
	config.OnStateChange = func(from, to circuit.State) {
		log.Warn("backend circuit state changed",
			logging.Field{Key: "from", Value: from.String()},
			logging.Field{Key: "to", Value: to.String()})
		if prev != nil {
			prev(from, to)
		}
	}
	return &Guarded{
		inner:   inner,
		breaker: circuit.New(config),
		logger:  logger,
	}
}

// State exposes the breaker state for health reporting
func (g *Guarded) State() circuit.State {
	return g.breaker.State()
}

func (g *Guarded) Get(ctx context.Context, key string) ([]byte, []string, bool, error) {
	var data []byte
	var tags []string
	var found bool
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, tags, found, err = g.inner.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, nil, false, err
	}
	return data, tags, found, nil
}

func (g *Guarded) Set(ctx context.Context, key string, data []byte, ttl time.Duration, tags []string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Set(ctx, key, data, ttl, tags)
	})
}

func (g *Guarded) Delete(ctx context.Context, key string) (bool, error) {
	var existed bool
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		existed, err = g.inner.Delete(ctx, key)
		return err
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

func (g *Guarded) InvalidateByTags(ctx context.Context, tags []string) (int, error) {
	var removed int
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		removed, err = g.inner.InvalidateByTags(ctx, tags)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (g *Guarded) Clear(ctx context.Context) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Clear(ctx)
	})
}

func (g *Guarded) Ping(ctx context.Context) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Ping(ctx)
	})
}
