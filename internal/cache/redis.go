package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RedisCache implements domain.Cache using Redis.
// Used as the Pro tier distributed cache and as L2 in two-tier caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis. Returns nil, nil on miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.ns(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.ns(key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.ns(key)).Err()
}

// GetFactor retrieves a resolved rating factor scoped to a version.
func (c *RedisCache) GetFactor(ctx context.Context, source, key, versionID string) (*domain.RatingFactor, error) {
	data, err := c.Get(ctx, FactorKey(source, key, versionID))
	if err != nil || data == nil {
		return nil, err
	}

	var f domain.RatingFactor
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// SetFactor caches a resolved rating factor scoped to a version.
func (c *RedisCache) SetFactor(ctx context.Context, source, key, versionID string, f *domain.RatingFactor, ttl time.Duration) error {
	bytes, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.Set(ctx, FactorKey(source, key, versionID), bytes, ttl)
}

// GetActiveVersionID retrieves the active-version pointer for a key pair.
func (c *RedisCache) GetActiveVersionID(ctx context.Context, jurisdiction, productType string) (string, error) {
	data, err := c.Get(ctx, ActiveKey(jurisdiction, productType))
	if err != nil || data == nil {
		return "", err
	}
	return string(data), nil
}

// SetActiveVersionID stores the active-version pointer.
func (c *RedisCache) SetActiveVersionID(ctx context.Context, jurisdiction, productType, versionID string, ttl time.Duration) error {
	return c.Set(ctx, ActiveKey(jurisdiction, productType), []byte(versionID), ttl)
}

// InvalidateActiveVersion drops the active-version pointer across all
// instances sharing this Redis.
func (c *RedisCache) InvalidateActiveVersion(ctx context.Context, jurisdiction, productType string) error {
	return c.Delete(ctx, ActiveKey(jurisdiction, productType))
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) ns(key string) string {
	return "kestrel:" + key
}
