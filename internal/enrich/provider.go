// Package enrich composes the resilience primitives into the per-task
// provider waterfall. It owns the single seam between the core and
// provider-specific clients: the Provider interface.
package enrich

import (
	"context"
	"sync"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// Provider is the capability contract every pluggable metadata client
// satisfies. Fetch returns the provider's answer with its confidence score
// and any rate-limit headers from the upstream response, or a classified
// *domain.ProviderError. A completed lookup that found nothing returns
// domain.ErrNoMatch wrapped in the provider error's Err.
type Provider interface {
	Name() domain.ProviderID
	Fetch(ctx context.Context, req domain.EnrichmentRequest) (*domain.EnrichmentResult, error)
}

// Registry maps provider ids to their clients.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.ProviderID]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[domain.ProviderID]Provider)}
}

// Register adds or replaces a provider client.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the client for a provider id, or nil when unregistered.
func (r *Registry) Get(id domain.ProviderID) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[id]
}

// Names returns the registered provider ids.
func (r *Registry) Names() []domain.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProviderID, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	return out
}
