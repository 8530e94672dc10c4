package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrNotFound     = errors.New("key not found")
	ErrEncodeFailed = errors.New("failed to encode value")
	ErrDecodeFailed = errors.New("failed to decode value")
)

// cache is a generic msgpack-encoded cache backed by Redis.
type cache[T any] struct {
	client *redis.Client
	prefix string
}

func newCache[T any](client *redis.Client, prefix string) *cache[T] {
	return &cache[T]{client: client, prefix: prefix}
}

func (c *cache[T]) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Get retrieves a value by key. Returns ErrNotFound if the key is absent.
func (c *cache[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrNotFound
		}
		return zero, err
	}
	var value T
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return zero, errors.Join(ErrDecodeFailed, err)
	}
	return value, nil
}

// MSet stores multiple key-value pairs with one pipelined round trip.
// Use ttl=0 for no expiration.
func (c *cache[T]) MSet(ctx context.Context, items map[string]T, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for k, v := range items {
		data, err := msgpack.Marshal(v)
		if err != nil {
			return errors.Join(ErrEncodeFailed, err)
		}
		pipe.Set(ctx, c.key(k), data, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
