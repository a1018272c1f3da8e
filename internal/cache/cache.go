// Package cache provides a TTL-gated payload cache over a KVStore. Every upstream
// call goes through it, including failures, which are cached as empty payloads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
)

// Cache reads and writes CacheEntry envelopes. It never returns an error to the
// caller on read: a missing, stale or undecodable entry is a miss.
type Cache struct {
	kv     interfaces.KVStore
	clock  common.Clock
	logger *common.Logger
}

// New creates a cache over kv.
func New(kv interfaces.KVStore, clock common.Clock, logger *common.Logger) *Cache {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Cache{kv: kv, clock: clock, logger: logger}
}

// Get decodes the payload of namespace/key into dest when the entry is younger than ttl.
func (c *Cache) Get(ctx context.Context, namespace, key string, ttl time.Duration, dest interface{}) bool {
	entry, ok := c.Entry(ctx, namespace, key)
	if !ok {
		return false
	}
	if !common.IsFreshAt(entry.CachedAt, c.clock.Now(), ttl) {
		c.logger.Debug().Str("namespace", namespace).Str("key", key).
			Time("cached_at", entry.CachedAt).Msg("Cache entry expired")
		return false
	}
	return c.decode(ctx, namespace, key, entry, dest)
}

// GetAny decodes the payload regardless of its age. The ledger uses it to price
// positions from the last known series.
func (c *Cache) GetAny(ctx context.Context, namespace, key string, dest interface{}) bool {
	_, ok := c.Lookup(ctx, namespace, key, dest)
	return ok
}

// Lookup decodes the payload regardless of its age and returns when it was cached,
// for callers whose freshness rule depends on the payload itself.
func (c *Cache) Lookup(ctx context.Context, namespace, key string, dest interface{}) (time.Time, bool) {
	entry, ok := c.Entry(ctx, namespace, key)
	if !ok {
		return time.Time{}, false
	}
	if !c.decode(ctx, namespace, key, entry, dest) {
		return time.Time{}, false
	}
	return entry.CachedAt, true
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time {
	return c.clock.Now()
}

// Entry returns the raw envelope of namespace/key.
func (c *Cache) Entry(ctx context.Context, namespace, key string) (*models.CacheEntry, bool) {
	data, err := c.kv.Get(ctx, namespace, key)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			c.logger.Warn().Err(err).Str("namespace", namespace).Str("key", key).Msg("Cache read failed")
		}
		return nil, false
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.CachedAt.IsZero() {
		reason := "missing cached_at"
		if err != nil {
			reason = err.Error()
		}
		c.quarantine(ctx, namespace, key, reason)
		return nil, false
	}
	return &entry, true
}

// Put stamps payload with the current time and overwrites namespace/key.
// Write failures are logged, not returned.
func (c *Cache) Put(ctx context.Context, namespace, key string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn().Err(err).Str("namespace", namespace).Str("key", key).Msg("Cache payload not encodable")
		return
	}
	entry := models.CacheEntry{Key: key, CachedAt: c.clock.Now().UTC(), Payload: raw}
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache entry not encodable")
		return
	}
	if err := c.kv.Put(ctx, namespace, key, data); err != nil {
		c.logger.Warn().Err(err).Str("namespace", namespace).Str("key", key).Msg("Cache write failed")
	}
}

// Invalidate removes namespace/key.
func (c *Cache) Invalidate(ctx context.Context, namespace, key string) {
	if err := c.kv.Delete(ctx, namespace, key); err != nil {
		c.logger.Warn().Err(err).Str("namespace", namespace).Str("key", key).Msg("Cache delete failed")
	}
}

func (c *Cache) decode(ctx context.Context, namespace, key string, entry *models.CacheEntry, dest interface{}) bool {
	if dest == nil {
		return true
	}
	if err := json.Unmarshal(entry.Payload, dest); err != nil {
		c.quarantine(ctx, namespace, key, err.Error())
		return false
	}
	return true
}

func (c *Cache) quarantine(ctx context.Context, namespace, key, reason string) {
	if err := c.kv.Quarantine(ctx, namespace, key, reason); err != nil {
		c.logger.Warn().Err(err).Str("namespace", namespace).Str("key", key).Msg("Quarantine failed")
	}
}
