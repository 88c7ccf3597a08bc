// Package redis provides a Redis-backed persistent cache layer.
//
// Values live under prefix+"v:"+key. Tag membership is mirrored both
// ways: per-tag sets under prefix+"t:"+tag let InvalidateByTags
// resolve to a handful of SMEMBERS calls instead of a full keyspace
// scan, and a per-key set under prefix+"k:"+key lets Get return the
// tags a value was written with.
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Backend implements types.Backend on a Redis client
type Backend struct {
	client *redis.Client
	prefix string
}

// Config represents redis backend configuration
type Config struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// New creates a redis backend from config
func New(config Config) *Backend {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewWithClient(client, config.KeyPrefix)
}

// NewWithClient wraps an existing client, used by tests with miniredis
func NewWithClient(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = "stratacache:"
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) valueKey(key string) string   { return b.prefix + "v:" + key }
func (b *Backend) tagKey(tag string) string     { return b.prefix + "t:" + tag }
func (b *Backend) keyTagsKey(key string) string { return b.prefix + "k:" + key }

// Get retrieves a payload together with the tags it was written with
func (b *Backend) Get(ctx context.Context, key string) ([]byte, []string, bool, error) {
	data, err := b.client.Get(ctx, b.valueKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	tags, err := b.client.SMembers(ctx, b.keyTagsKey(key)).Result()
	if err != nil && err != redis.Nil {
		return nil, nil, false, err
	}
	return data, tags, true, nil
}

// Set stores a payload and registers the key in each tag set. Tag sets
// carry the value TTL as well so they cannot outlive their members
// forever; a tag set is refreshed on every write that touches it.
func (b *Backend) Set(ctx context.Context, key string, data []byte, ttl time.Duration, tags []string) error {
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.valueKey(key), data, ttl)
	pipe.Del(ctx, b.keyTagsKey(key))
	for _, tag := range tags {
		pipe.SAdd(ctx, b.tagKey(tag), key)
		pipe.SAdd(ctx, b.keyTagsKey(key), tag)
		if ttl > 0 {
			pipe.Expire(ctx, b.tagKey(tag), ttl)
		}
	}
	if len(tags) > 0 && ttl > 0 {
		pipe.Expire(ctx, b.keyTagsKey(key), ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a key, reporting whether it existed
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Del(ctx, b.valueKey(key)).Result()
	if err != nil {
		return false, err
	}
	b.client.Del(ctx, b.keyTagsKey(key))
	return n > 0, nil
}

// InvalidateByTags removes every key registered under any of the tags
func (b *Backend) InvalidateByTags(ctx context.Context, tags []string) (int, error) {
	seen := make(map[string]struct{})
	for _, tag := range tags {
		members, err := b.client.SMembers(ctx, b.tagKey(tag)).Result()
		if err != nil && err != redis.Nil {
			return 0, err
		}
		for _, member := range members {
			seen[member] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return 0, nil
	}

	valueKeys := make([]string, 0, len(seen))
	for key := range seen {
		valueKeys = append(valueKeys, b.valueKey(key))
	}
	removed, err := b.client.Del(ctx, valueKeys...).Result()
	if err != nil {
		return 0, err
	}
	for key := range seen {
		b.client.Del(ctx, b.keyTagsKey(key))
	}
	for _, tag := range tags {
		b.client.Del(ctx, b.tagKey(tag))
	}
	return int(removed), nil
}

// Clear removes everything under the backend's prefix
func (b *Backend) Clear(ctx context.Context) error {
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return b.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Ping checks connectivity
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the underlying client
func (b *Backend) Close() error {
	return b.client.Close()
}
