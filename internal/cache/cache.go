package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a cache based on configuration.
// Community tier: local LRU only.
// Pro tier with two-tier enabled: LRU in front of Redis.
// Pro tier without: Redis only.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoTier {
			return NewTwoTierCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoTierCache layers a local LRU (L1) in front of Redis (L2).
// L1 keeps hot factor lookups off the network; L2 gives cross-instance
// consistency for rate table lookups.
type TwoTierCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoTierCache creates a two-tier cache with LRU + Redis.
func NewTwoTierCache(cfg domain.CacheConfig) (*TwoTierCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = time.Minute
	}

	return &TwoTierCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoTierCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		// Populate L1 for future reads
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoTierCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoTierCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// GetFactor retrieves a resolved factor, L1 first.
func (c *TwoTierCache) GetFactor(ctx context.Context, source, key, versionID string) (*domain.RatingFactor, error) {
	f, err := c.local.GetFactor(ctx, source, key, versionID)
	if err != nil {
		return nil, err
	}
	if f != nil {
		return f, nil
	}

	f, err = c.remote.GetFactor(ctx, source, key, versionID)
	if err != nil {
		return nil, err
	}
	if f != nil {
		_ = c.local.SetFactor(ctx, source, key, versionID, f, c.l1TTL)
	}

	return f, nil
}

// SetFactor caches a factor in both tiers.
func (c *TwoTierCache) SetFactor(ctx context.Context, source, key, versionID string, f *domain.RatingFactor, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.SetFactor(ctx, source, key, versionID, f, l1TTL); err != nil {
		return err
	}
	return c.remote.SetFactor(ctx, source, key, versionID, f, ttl)
}

// GetActiveVersionID retrieves the active-version pointer, L1 first.
func (c *TwoTierCache) GetActiveVersionID(ctx context.Context, jurisdiction, productType string) (string, error) {
	id, err := c.local.GetActiveVersionID(ctx, jurisdiction, productType)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id, err = c.remote.GetActiveVersionID(ctx, jurisdiction, productType)
	if err != nil {
		return "", err
	}
	if id != "" {
		_ = c.local.SetActiveVersionID(ctx, jurisdiction, productType, id, c.l1TTL)
	}
	return id, nil
}

// SetActiveVersionID stores the pointer in both tiers.
func (c *TwoTierCache) SetActiveVersionID(ctx context.Context, jurisdiction, productType, versionID string, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.SetActiveVersionID(ctx, jurisdiction, productType, versionID, l1TTL); err != nil {
		return err
	}
	return c.remote.SetActiveVersionID(ctx, jurisdiction, productType, versionID, ttl)
}

// InvalidateActiveVersion drops the pointer from both tiers.
func (c *TwoTierCache) InvalidateActiveVersion(ctx context.Context, jurisdiction, productType string) error {
	if err := c.local.InvalidateActiveVersion(ctx, jurisdiction, productType); err != nil {
		return err
	}
	return c.remote.InvalidateActiveVersion(ctx, jurisdiction, productType)
}

// Ping checks both tiers.
func (c *TwoTierCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both tiers.
func (c *TwoTierCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoTierCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
