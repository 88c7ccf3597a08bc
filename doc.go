// Package stratacache provides a multi-layer cache with tag-based,
// relationship-aware invalidation, performance monitoring and proactive
// warming.
//
// The package root exposes System, which wires the layers together: an
// in-memory LRU store, an optional durable backend (redis or S3) behind
// a circuit breaker, the invalidation engine with its dependency
// tracker, the performance monitor and the warming engine. Components
// are also usable on their own through the internal constructors when
// embedded in a larger service.
//
// Basic usage:
//
//	cfg := config.DefaultConfig()
//	sys, err := stratacache.Open(context.Background(), cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sys.Close(context.Background())
//
//	sys.Set(ctx, "user:42", profile, 10*time.Minute, []string{"user:42", "user"})
//	v, ok := sys.Get(ctx, "user:42")
package stratacache
