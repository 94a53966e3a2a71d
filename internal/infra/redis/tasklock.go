package redis

import (
	"context"
	"fmt"
	"time"
)

// Key helpers
func lockKey(trackID string) string {
	return fmt.Sprintf("enriching:%s", trackID)
}

// AcquireTaskLock attempts to mark a track as being enriched. Returns false
// when another worker already holds the lock, so duplicate deliveries of the
// same track are skipped instead of racing on field writes.
func (c *Client) AcquireTaskLock(ctx context.Context, trackID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(trackID), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseTaskLock releases the enrichment lock for a track.
func (c *Client) ReleaseTaskLock(ctx context.Context, trackID string) error {
	return c.rdb.Del(ctx, lockKey(trackID)).Err()
}

// RefreshTaskLock extends the TTL of an enrichment lock.
func (c *Client) RefreshTaskLock(ctx context.Context, trackID string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, lockKey(trackID), ttl).Err()
}
