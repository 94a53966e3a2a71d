package enrich

import (
	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/infra/breaker"
	"github.com/soundgraph/enricher/internal/infra/ratelimit"
)

// ResilienceManager holds the per-provider rate limiter buckets and circuit
// breakers. It is constructed once at process start and passed by reference
// to every worker, so each provider has exactly one bucket and one breaker
// shared across all callers.
type ResilienceManager struct {
	limiter  *ratelimit.Manager
	breakers *breaker.Manager
}

// ResilienceConfig carries the per-provider tuning loaded from config.
type ResilienceConfig struct {
	RateLimits map[domain.ProviderID]ratelimit.Config
	Breakers   map[domain.ProviderID]breaker.Config

	RateLimitFallback ratelimit.Config
	BreakerFallback   breaker.Config
}

// NewResilienceManager builds the shared per-provider state.
func NewResilienceManager(cfg ResilienceConfig) *ResilienceManager {
	return &ResilienceManager{
		limiter:  ratelimit.NewManager(cfg.RateLimits, cfg.RateLimitFallback),
		breakers: breaker.NewManager(cfg.Breakers, cfg.BreakerFallback),
	}
}

// Limiter returns the shared rate limiter manager.
func (m *ResilienceManager) Limiter() *ratelimit.Manager {
	return m.limiter
}

// Breaker returns the shared breaker for a provider.
func (m *ResilienceManager) Breaker(provider domain.ProviderID) *breaker.Breaker {
	return m.breakers.Get(provider)
}

// BreakerSnapshots returns all breaker states for health reporting.
func (m *ResilienceManager) BreakerSnapshots() []breaker.Snapshot {
	return m.breakers.Snapshots()
}
