package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedResult is one enriched field value kept for downstream consumers
// and for skipping recently-completed work on re-delivery.
type CachedResult struct {
	TrackID    string    `json:"track_id"`
	Field      string    `json:"field"`
	Value      string    `json:"value"`
	Provider   string    `json:"provider"`
	Confidence float64   `json:"confidence"`
	EnrichedAt time.Time `json:"enriched_at"`
}

func resultKey(trackID, field string) string {
	return fmt.Sprintf("enriched:%s:%s", trackID, field)
}

// StoreResult caches an accepted field value.
func (c *Client) StoreResult(ctx context.Context, res CachedResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := c.rdb.Set(ctx, resultKey(res.TrackID, res.Field), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set result: %w", err)
	}
	return nil
}

// GetResult returns the cached value for a (track, field), or nil when the
// field has not been enriched recently.
func (c *Client) GetResult(ctx context.Context, trackID, field string) (*CachedResult, error) {
	data, err := c.rdb.Get(ctx, resultKey(trackID, field)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var res CachedResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &res, nil
}
