package enrich

import (
	"context"
	"log/slog"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
	redisclient "github.com/soundgraph/enricher/internal/infra/redis"
)

// CacheSink stores accepted field values in Redis for downstream consumers
// and doubles as the recent-result skip check.
type CacheSink struct {
	client *redisclient.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewCacheSink creates a sink with the given result TTL.
func NewCacheSink(client *redisclient.Client, ttl time.Duration) *CacheSink {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CacheSink{client: client, ttl: ttl, log: slog.Default()}
}

// Accept implements ResultSink.
func (s *CacheSink) Accept(ctx context.Context, task *domain.EnrichmentTask, outcome FieldOutcome) error {
	return s.client.StoreResult(ctx, redisclient.CachedResult{
		TrackID:    task.TrackID,
		Field:      outcome.Field,
		Value:      outcome.Value,
		Provider:   string(outcome.Provider),
		Confidence: outcome.Confidence,
		EnrichedAt: time.Now().UTC(),
	}, s.ttl)
}

// Skip reports whether the (track, field) pair already has a cached result.
// Usable as a SkipFunc.
func (s *CacheSink) Skip(ctx context.Context, trackID, field string) bool {
	res, err := s.client.GetResult(ctx, trackID, field)
	if err != nil {
		s.log.Warn("Result cache lookup failed", "track", trackID, "field", field, "error", err)
		return false
	}
	return res != nil
}
