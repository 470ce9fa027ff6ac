// Package cache is a TTL read cache for backend responses, layered on
// the durable store so cached lessons survive restarts.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"azbuka/internal/domain"
	"azbuka/internal/metrics"
	"azbuka/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidTTL       = errors.New("ttl must be positive")
	ErrInvalidNamespace = errors.New("namespace must be non-empty and must not contain '.'")
	ErrInvalidKey       = errors.New("key must be non-empty")
)

// envelope is the stored form of one entry. Expiry is evaluated lazily
// on read; the store itself never expires anything.
type envelope struct {
	Payload  []byte        `json:"payload"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
}

func (e *envelope) expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

type Cache struct {
	store  domain.Store
	logger *zerolog.Logger
	now    func() time.Time
}

func New(store domain.Store, logger *zerolog.Logger) *Cache {
	return &Cache{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the cached value when present and fresh. An expired entry
// is deleted on the way out; a corrupt entry is likewise dropped and
// reported as a miss rather than an error.
func (c *Cache) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if err := validate(namespace, key); err != nil {
		return nil, false, err
	}

	storeKey := models.CacheKey(namespace, key)
	raw, err := c.store.Get(ctx, storeKey)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.IncCache("miss")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry envelope
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn().Err(err).Str("key", storeKey).Msg("Dropping corrupt cache entry")
		c.drop(ctx, storeKey)
		metrics.IncCache("miss")
		return nil, false, nil
	}

	if entry.expired(c.now()) {
		c.drop(ctx, storeKey)
		metrics.IncCache("expired")
		return nil, false, nil
	}

	metrics.IncCache("hit")
	return entry.Payload, true, nil
}

// Set stores value under namespace/key for ttl. The value is kept as
// opaque bytes; callers serialize whatever they respond with.
func (c *Cache) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if err := validate(namespace, key); err != nil {
		return err
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	entry := envelope{
		Payload:  value,
		StoredAt: c.now(),
		TTL:      ttl,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.store.Set(ctx, models.CacheKey(namespace, key), raw); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes a single entry. Removing an absent entry is not an error.
func (c *Cache) Delete(ctx context.Context, namespace, key string) error {
	if err := validate(namespace, key); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, models.CacheKey(namespace, key)); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Invalidate removes every entry in a namespace and reports how many.
func (c *Cache) Invalidate(ctx context.Context, namespace string) (int, error) {
	if namespace == "" || strings.Contains(namespace, ".") {
		return 0, ErrInvalidNamespace
	}
	return c.deleteByPrefix(ctx, models.CacheKeyPrefix+namespace+".")
}

// InvalidateAll clears the whole cache, leaving sync data untouched.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	return c.deleteByPrefix(ctx, models.CacheKeyPrefix)
}

func (c *Cache) deleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("failed to delete cache entry %q: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

// Stats walks the cache without mutating it. Expired entries are
// counted but left for Get or Sweep to remove.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var stats models.CacheStats

	keys, err := c.store.Keys(ctx, models.CacheKeyPrefix)
	if err != nil {
		return stats, fmt.Errorf("failed to list cache entries: %w", err)
	}

	now := c.now()
	for _, key := range keys {
		raw, err := c.store.Get(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read cache entry %q: %w", key, err)
		}

		var entry envelope
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.expired(now) {
			stats.Expired++
			continue
		}
		stats.Entries++
		stats.Bytes += int64(len(entry.Payload))
		storedAt := entry.StoredAt
		if stats.Oldest == nil || storedAt.Before(*stats.Oldest) {
			stats.Oldest = &storedAt
		}
		if stats.Newest == nil || storedAt.After(*stats.Newest) {
			stats.Newest = &storedAt
		}
	}
	return stats, nil
}

// Sweep deletes expired and corrupt entries, returning how many went.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, models.CacheKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}

	now := c.now()
	removed := 0
	for _, key := range keys {
		raw, err := c.store.Get(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to read cache entry %q: %w", key, err)
		}

		var entry envelope
		if err := json.Unmarshal(raw, &entry); err == nil && !entry.expired(now) {
			continue
		}

		if err := c.store.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("failed to delete cache entry %q: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

// StartSweeper runs Sweep on a fixed interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	c.logger.Info().Dur("interval", interval).Msg("Cache sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.Sweep(ctx)
			if err != nil {
				c.logger.Error().Err(err).Msg("Cache sweep failed")
				continue
			}
			if removed > 0 {
				c.logger.Debug().Int("removed", removed).Msg("Cache sweep finished")
			}
		}
	}
}

func (c *Cache) drop(ctx context.Context, storeKey string) {
	if err := c.store.Delete(ctx, storeKey); err != nil {
		c.logger.Warn().Err(err).Str("key", storeKey).Msg("Failed to drop cache entry")
	}
}

func validate(namespace, key string) error {
	if namespace == "" || strings.Contains(namespace, ".") {
		return ErrInvalidNamespace
	}
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
