package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/enrich/metrics"
)

// Manager owns one Bucket per provider for the lifetime of the process.
// It is constructed once at startup and shared by all workers.
type Manager struct {
	mu       sync.RWMutex
	buckets  map[domain.ProviderID]*Bucket
	fallback Config
}

// NewManager builds buckets for the configured providers. Providers not in
// cfgs get a bucket with the fallback config on first use.
func NewManager(cfgs map[domain.ProviderID]Config, fallback Config) *Manager {
	if fallback.Capacity <= 0 {
		fallback = Config{Capacity: 5, RefillRate: 1}
	}
	m := &Manager{
		buckets:  make(map[domain.ProviderID]*Bucket, len(cfgs)),
		fallback: fallback,
	}
	for id, cfg := range cfgs {
		m.buckets[id] = NewBucket(cfg)
	}
	return m
}

func (m *Manager) bucket(provider domain.ProviderID) *Bucket {
	m.mu.RLock()
	b, ok := m.buckets[provider]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[provider]; ok {
		return b
	}
	b = NewBucket(m.fallback)
	m.buckets[provider] = b
	return b
}

// Acquire takes one token for the provider, suspending the caller when the
// bucket is empty. Priority is recorded on metrics only; admission itself is
// priority-agnostic.
func (m *Manager) Acquire(ctx context.Context, provider domain.ProviderID, priority int) bool {
	tier := "normal"
	if priority >= 8 {
		tier = "urgent"
	}
	start := time.Now()
	outcome, ok := m.bucket(provider).Acquire(ctx)
	metrics.RateLimitWaitSeconds.WithLabelValues(string(provider), string(outcome), tier).
		Observe(time.Since(start).Seconds())
	if !ok {
		metrics.RateLimitFailures.WithLabelValues(string(provider)).Inc()
	}
	return ok
}

// UpdateFromHeaders feeds upstream rate-limit headers back into the
// provider's bucket.
func (m *Manager) UpdateFromHeaders(provider domain.ProviderID, h http.Header) {
	m.bucket(provider).UpdateFromHeaders(h)
}

// Stats returns a snapshot for the provider's bucket.
func (m *Manager) Stats(provider domain.ProviderID) Stats {
	return m.bucket(provider).Stats()
}

// Reset refills the provider's bucket to capacity.
func (m *Manager) Reset(provider domain.ProviderID) {
	m.bucket(provider).Reset()
}
