// Package cache provides caching implementations for Heron.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/opensource-clinical/heron/internal/domain"
)

const defaultLocalTTL = 5 * time.Minute

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
//
// The underlying expirable LRU enforces maxTTL for every entry; a shorter
// per-entry TTL is checked on read.
type LRUCache struct {
	items   *expirable.LRU[string, cacheEntry]
	maxSize int
	maxTTL  time.Duration
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size and
// maximum entry lifetime.
func NewLRUCache(maxSize int, maxTTL time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if maxTTL <= 0 {
		maxTTL = defaultLocalTTL
	}
	return &LRUCache{
		items:   expirable.NewLRU[string, cacheEntry](maxSize, nil, maxTTL),
		maxSize: maxSize,
		maxTTL:  maxTTL,
	}
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	entry, ok := c.items.Get(key)
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.items.Remove(key)
		return nil, nil
	}
	return entry.value, nil
}

// Set stores a value in cache with TTL. TTLs above the cache's maximum are
// capped.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if ttl <= 0 || ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	c.items.Add(key, cacheEntry{value: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	c.items.Remove(key)
	return nil
}

// GetCalculation retrieves a cached calculation.
func (c *LRUCache) GetCalculation(ctx context.Context, id string) (*domain.Calculation, error) {
	return getCalculation(ctx, c, id)
}

// SetCalculation caches a calculation.
func (c *LRUCache) SetCalculation(ctx context.Context, calc *domain.Calculation, ttl time.Duration) error {
	return setCalculation(ctx, c, calc, ttl)
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.items.Purge()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	return c.items.Len(), c.maxSize
}

// CalculationKey is the cache key of a calculation result.
func CalculationKey(id string) string {
	return "calc:" + id
}

type byteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func getCalculation(ctx context.Context, s byteStore, id string) (*domain.Calculation, error) {
	data, err := s.Get(ctx, CalculationKey(id))
	if err != nil || data == nil {
		return nil, err
	}

	var calc domain.Calculation
	if err := json.Unmarshal(data, &calc); err != nil {
		return nil, err
	}
	return &calc, nil
}

func setCalculation(ctx context.Context, s byteStore, calc *domain.Calculation, ttl time.Duration) error {
	bytes, err := json.Marshal(calc)
	if err != nil {
		return err
	}
	return s.Set(ctx, CalculationKey(calc.ID), bytes, ttl)
}
