// Package slotcache caches availability pre-flight checks in Redis so chat
// collaborators can poll candidate slots without hitting the engine's
// resource locks. Entries are versioned per resource: any mutation bumps
// the version, making every cached answer for that resource unreachable.
package slotcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bookwell/reservation-engine/internal/reservation"
	"github.com/bookwell/reservation-engine/pkg/logging"
)

// Cache is a best-effort availability cache. Redis failures degrade to
// cache misses, never to errors on the booking path.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// New creates a slot cache with the given entry TTL.
func New(client *redis.Client, ttl time.Duration, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func versionKey(tenantID, resourceID string) string {
	return fmt.Sprintf("slots:ver:%s:%s", tenantID, resourceID)
}

func slotKey(tenantID, resourceID string, ver int64, r reservation.TimeRange) string {
	return fmt.Sprintf("slots:%s:%s:%d:%d:%d",
		tenantID, resourceID, ver, r.Start.UnixNano(), r.End.UnixNano())
}

// Get returns a cached availability answer, if one exists for the current
// resource version, plus the version observed as the token for a later Set.
// A negative token means the version could not be resolved and nothing may
// be cached for this lookup.
func (c *Cache) Get(ctx context.Context, tenantID, resourceID string, r reservation.TimeRange) (available, ok bool, token int64) {
	ver, err := c.client.Get(ctx, versionKey(tenantID, resourceID)).Int64()
	if err != nil && err != redis.Nil {
		c.logger.Debug("slotcache: version lookup failed", "error", err)
		return false, false, -1
	}
	val, err := c.client.Get(ctx, slotKey(tenantID, resourceID, ver, r)).Result()
	if err == redis.Nil {
		return false, false, ver
	}
	if err != nil {
		c.logger.Debug("slotcache: get failed", "error", err)
		return false, false, ver
	}
	return val == "1", true, ver
}

// Set stores an availability answer under the version captured at Get time.
// If the resource mutated in between, the version has moved on and the stale
// write lands under a dead key.
func (c *Cache) Set(ctx context.Context, tenantID, resourceID string, r reservation.TimeRange, available bool, token int64) {
	if token < 0 {
		return
	}
	val := "0"
	if available {
		val = "1"
	}
	if err := c.client.Set(ctx, slotKey(tenantID, resourceID, token, r), val, c.ttl).Err(); err != nil {
		c.logger.Debug("slotcache: set failed", "error", err)
	}
}

// Invalidate bumps the resource version so all cached answers for it miss.
func (c *Cache) Invalidate(ctx context.Context, tenantID, resourceID string) {
	if err := c.client.Incr(ctx, versionKey(tenantID, resourceID)).Err(); err != nil {
		c.logger.Debug("slotcache: invalidate failed", "error", err)
	}
}
