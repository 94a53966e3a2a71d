package breaker

import (
	"sync"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// Manager owns one Breaker per provider for the lifetime of the process.
type Manager struct {
	mu       sync.RWMutex
	breakers map[domain.ProviderID]*Breaker
	fallback Config
}

// NewManager builds breakers for the configured providers. Unknown providers
// get a breaker with the fallback config on first use.
func NewManager(cfgs map[domain.ProviderID]Config, fallback Config) *Manager {
	if fallback.FailureThreshold <= 0 {
		fallback = DefaultConfig()
	}
	m := &Manager{
		breakers: make(map[domain.ProviderID]*Breaker, len(cfgs)),
		fallback: fallback,
	}
	for id, cfg := range cfgs {
		m.breakers[id] = New(id, cfg)
	}
	return m
}

// Get returns the provider's breaker, creating one lazily if needed.
func (m *Manager) Get(provider domain.ProviderID) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[provider]; ok {
		return b
	}
	b = New(provider, m.fallback)
	m.breakers[provider] = b
	return b
}

// Snapshots returns the current state of every breaker.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
