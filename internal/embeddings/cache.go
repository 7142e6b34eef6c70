package embeddings

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Cache stores embeddings by product name. Lookup returns only the names it
// knows; Store may be called with vectors the cache already holds.
type Cache interface {
	Lookup(ctx context.Context, names []string) (map[string][]float32, error)
	Store(ctx context.Context, vectors map[string][]float32) error
}

// RedisCache keeps embeddings as little-endian float32 blobs under
// "<prefix><name>".
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. ttl <= 0 keeps keys forever.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "offer-sync:embedding:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Lookup implements Cache with a single MGET.
func (c *RedisCache) Lookup(ctx context.Context, names []string) (map[string][]float32, error) {
	if len(names) == 0 {
		return map[string][]float32{}, nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = c.prefix + n
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget")
	}

	out := make(map[string][]float32, len(names))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if vec := Deserialize([]byte(s)); vec != nil {
			out[names[i]] = vec
		}
	}
	return out, nil
}

// Store implements Cache with one pipelined SET per vector.
func (c *RedisCache) Store(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for name, vec := range vectors {
		pipe.Set(ctx, c.prefix+name, Serialize(vec), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis pipeline")
	}
	return nil
}
