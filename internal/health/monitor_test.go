package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/enrich"
	"github.com/soundgraph/enricher/internal/infra/breaker"
	"github.com/soundgraph/enricher/internal/infra/ratelimit"
)

type fakePinger struct{ err error }

func (p *fakePinger) Health(ctx context.Context) error { return p.err }

func newTestResilience() *enrich.ResilienceManager {
	return enrich.NewResilienceManager(enrich.ResilienceConfig{
		RateLimitFallback: ratelimit.Config{Capacity: 5, RefillRate: 1},
		BreakerFallback:   breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour},
	})
}

func TestMonitor_Healthy(t *testing.T) {
	res := newTestResilience()
	res.Breaker(domain.ProviderSpotify) // register one provider

	m := NewMonitor(res, map[string]Pinger{"database": &fakePinger{}})
	report := m.Check(context.Background())

	if report.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", report.Status)
	}
	if !report.Checks["database"] {
		t.Error("Expected database check to pass")
	}
	if len(report.Providers) != 1 {
		t.Errorf("Expected 1 provider, got %d", len(report.Providers))
	}
}

func TestMonitor_OpenBreakerDegrades(t *testing.T) {
	res := newTestResilience()
	res.Breaker(domain.ProviderSpotify).RecordFailure()

	m := NewMonitor(res, nil)
	report := m.Check(context.Background())

	if report.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", report.Status)
	}
	if report.Providers[0].BreakerState != "open" {
		t.Errorf("BreakerState = %q, want open", report.Providers[0].BreakerState)
	}
}

func TestMonitor_FailedPingCritical(t *testing.T) {
	res := newTestResilience()
	res.Breaker(domain.ProviderSpotify).RecordFailure() // degraded too

	m := NewMonitor(res, map[string]Pinger{
		"database": &fakePinger{err: errors.New("connection refused")},
		"redis":    nil, // unconfigured, skipped
	})
	report := m.Check(context.Background())

	if report.Status != StatusCritical {
		t.Errorf("Status = %v, want critical (worst case wins)", report.Status)
	}
	if _, ok := report.Checks["redis"]; ok {
		t.Error("Nil pinger should be skipped")
	}
}
