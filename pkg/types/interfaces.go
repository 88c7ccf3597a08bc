package types

import (
	"context"
	"time"
)

// Backend defines the interface for durable key/value backends behind
// the in-memory layer. Values are opaque byte payloads; the multi-layer
// cache owns serialization.
type Backend interface {
	// Get returns the stored payload together with the tags it was
	// written with, or found=false when the key is absent or expired.
	// Tags must round-trip so a promoted entry stays reachable by
	// InvalidateByTags.
	Get(ctx context.Context, key string) (data []byte, tags []string, found bool, err error)

	// Set stores a payload. A zero ttl means no expiry. Tags are
	// retained so InvalidateByTags can match against them.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration, tags []string) error

	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// InvalidateByTags removes every key whose tag set intersects tags
	// and returns the number removed.
	InvalidateByTags(ctx context.Context, tags []string) (int, error)

	// Clear removes everything owned by this backend.
	Clear(ctx context.Context) error

	// Ping reports backend reachability.
	Ping(ctx context.Context) error
}
