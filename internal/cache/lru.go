// Package cache provides the multi-tier caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-tier caching.
type LRUCache struct {
	mu      sync.RWMutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get retrieves a value from cache. Returns nil, nil on miss.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Update existing entry
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	// Add new entry
	entry := &cacheEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	elem := c.order.PushFront(entry)
	c.items[key] = elem

	// Evict if over capacity
	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetFactor retrieves a resolved rating factor scoped to a version.
func (c *LRUCache) GetFactor(ctx context.Context, source, key, versionID string) (*domain.RatingFactor, error) {
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
func (c *LRUCache) SetFactor(ctx context.Context, source, key, versionID string, f *domain.RatingFactor, ttl time.Duration) error {
	bytes, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.Set(ctx, FactorKey(source, key, versionID), bytes, ttl)
}

// GetActiveVersionID retrieves the active-version pointer for a key pair.
func (c *LRUCache) GetActiveVersionID(ctx context.Context, jurisdiction, productType string) (string, error) {
	data, err := c.Get(ctx, ActiveKey(jurisdiction, productType))
	if err != nil || data == nil {
		return "", err
	}
	return string(data), nil
}

// SetActiveVersionID stores the active-version pointer.
func (c *LRUCache) SetActiveVersionID(ctx context.Context, jurisdiction, productType, versionID string, ttl time.Duration) error {
	return c.Set(ctx, ActiveKey(jurisdiction, productType), []byte(versionID), ttl)
}

// InvalidateActiveVersion drops the active-version pointer. Called as part of
// the activation step.
func (c *LRUCache) InvalidateActiveVersion(ctx context.Context, jurisdiction, productType string) error {
	return c.Delete(ctx, ActiveKey(jurisdiction, productType))
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

// FactorKey builds the cache key for a resolved factor. Qualifying by
// version id means a new active version changes the key space instead of
// requiring explicit purges.
func FactorKey(source, key, versionID string) string {
	return "factor:" + source + ":" + key + ":" + versionID
}

// ActiveKey builds the cache key for the active-version pointer.
func ActiveKey(jurisdiction, productType string) string {
	return "active:" + jurisdiction + ":" + productType
}
