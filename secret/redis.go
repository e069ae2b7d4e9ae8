package secret

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/remit/errors"
)

// RedisCache stores PINs in Redis with native key expiry, so every process
// sharing the instance sees the same window
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// RedisOptions configures NewRedisCache
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisCache connects to Redis. The connection is established lazily;
// call Ping to fail fast on startup.
func NewRedisCache(opts RedisOptions) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisCacheWithClient(rdb, opts.Prefix)
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "remit:pin:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(payerID string) string {
	return c.prefix + payerID
}

// Ping checks connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return errors.Mark(errors.Wrap(err, "redis secret cache unreachable"), errors.ErrServiceUnavailable)
	}
	return nil
}

func (c *RedisCache) Put(ctx context.Context, payerID, pin string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := c.client.Set(ctx, c.key(payerID), pin, ttl).Err(); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to cache secret for payer %s", payerID), errors.ErrServiceUnavailable)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, payerID string) (string, bool, error) {
	pin, err := c.client.Get(ctx, c.key(payerID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Mark(errors.Wrapf(err, "failed to read secret for payer %s", payerID), errors.ErrServiceUnavailable)
	}
	return pin, true, nil
}

func (c *RedisCache) Evict(ctx context.Context, payerID string) error {
	if err := c.client.Del(ctx, c.key(payerID)).Err(); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to evict secret for payer %s", payerID), errors.ErrServiceUnavailable)
	}
	return nil
}

// Close releases the client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
