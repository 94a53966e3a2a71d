// Package health exposes operator-facing health endpoints: overall status,
// per-provider breaker and bucket detail, and Prometheus metrics.
package health

import (
	"context"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/enrich"
	"github.com/soundgraph/enricher/internal/infra/breaker"
)

// Status levels, worst case wins across checks.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Pinger is any dependency with a health check.
type Pinger interface {
	Health(ctx context.Context) error
}

// ProviderHealth is one provider's resilience state.
type ProviderHealth struct {
	Provider     domain.ProviderID `json:"provider"`
	BreakerState string            `json:"breaker_state"`
	FailureCount int               `json:"failure_count"`
	Tokens       float64           `json:"tokens"`
	Capacity     float64           `json:"capacity"`
	Status       Status            `json:"status"`
}

// Report is the detailed health view.
type Report struct {
	Status    Status           `json:"status"`
	Providers []ProviderHealth `json:"providers"`
	Checks    map[string]bool  `json:"checks"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Monitor aggregates provider resilience state and dependency pings.
type Monitor struct {
	res     *enrich.ResilienceManager
	pingers map[string]Pinger
}

// NewMonitor creates a monitor. pingers maps a check name ("database",
// "redis") to the dependency; nil entries are allowed and skipped.
func NewMonitor(res *enrich.ResilienceManager, pingers map[string]Pinger) *Monitor {
	return &Monitor{res: res, pingers: pingers}
}

// Check builds the current report. A single open breaker degrades the
// service; a failed dependency ping is critical.
func (m *Monitor) Check(ctx context.Context) Report {
	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]bool),
		UpdatedAt: time.Now().UTC(),
	}

	for _, snap := range m.res.BreakerSnapshots() {
		stats := m.res.Limiter().Stats(snap.Provider)
		ph := ProviderHealth{
			Provider:     snap.Provider,
			BreakerState: snap.State.String(),
			FailureCount: snap.FailureCount,
			Tokens:       stats.Tokens,
			Capacity:     stats.Capacity,
			Status:       StatusHealthy,
		}
		if snap.State == breaker.StateOpen {
			ph.Status = StatusDegraded
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
		report.Providers = append(report.Providers, ph)
	}

	for name, p := range m.pingers {
		if p == nil {
			continue
		}
		ok := p.Health(ctx) == nil
		report.Checks[name] = ok
		if !ok {
			report.Status = StatusCritical
		}
	}

	return report
}
