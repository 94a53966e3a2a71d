// Package breaker implements a per-provider circuit breaker giving
// fail-fast backpressure: once a provider is deemed unhealthy, calls are
// rejected before any token or network cost is paid.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/enrich/metrics"
)

// State is the breaker state machine position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// ErrOpen is returned by Allow while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" mapstructure:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"           mapstructure:"timeout"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// Snapshot is a point-in-time view of a breaker for operators.
type Snapshot struct {
	Provider        domain.ProviderID
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
}

// Breaker guards one provider. The mutex covers only state mutation; callers
// never sleep while holding it.
type Breaker struct {
	mu       sync.Mutex
	provider domain.ProviderID
	cfg      Config

	state        State
	failureCount int
	successCount int
	probesInUse  int
	lastFailure  time.Time
	openedAt     time.Time

	now func() time.Time
}

// New creates a closed breaker for the provider.
func New(provider domain.ProviderID, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	b := &Breaker{
		provider: provider,
		cfg:      cfg,
		state:    StateClosed,
		now:      time.Now,
	}
	metrics.BreakerState.WithLabelValues(string(provider)).Set(0)
	return b
}

// Allow reports whether a call may proceed. While open, calls are rejected
// with ErrOpen until the timeout elapses; the first call after that is
// admitted as the half-open probe. Half-open admits only as many calls as
// the success threshold still needs, so a herd of blocked callers cannot
// stampede a recovering provider.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probesInUse+b.successCount >= b.cfg.SuccessThreshold {
			return fmt.Errorf("provider %s: %w", b.provider, ErrOpen)
		}
		b.probesInUse++
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Timeout {
			return fmt.Errorf("provider %s: %w", b.provider, ErrOpen)
		}
		b.transitionLocked(StateHalfOpen)
		b.probesInUse = 1
		return nil
	}
	return nil
}

// RecordSuccess accounts a successful provider call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		if b.probesInUse > 0 {
			b.probesInUse--
		}
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	}
}

// RecordFailure accounts a failed provider call. Callers only invoke this
// for failures that should count toward opening the breaker (transient
// failures after retry exhaustion), never for permanent 4xx responses or
// respected 429s.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// One failed probe reopens immediately.
		b.transitionLocked(StateOpen)
	}
}

// RecordNeutral accounts a call that ended without a health verdict, such
// as a permanent client error or a respected rate limit. It frees a
// half-open probe slot without moving the state machine.
func (b *Breaker) RecordNeutral() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.probesInUse > 0 {
		b.probesInUse--
	}
}

// transitionLocked moves the state machine and resets counters per state.
// Callers hold mu.
func (b *Breaker) transitionLocked(to State) {
	b.state = to
	b.probesInUse = 0
	switch to {
	case StateClosed:
		b.failureCount = 0
		b.successCount = 0
	case StateHalfOpen:
		b.successCount = 0
	case StateOpen:
		b.openedAt = b.now()
	}
	metrics.BreakerState.WithLabelValues(string(b.provider)).Set(stateGauge(to))
	metrics.BreakerTransitions.WithLabelValues(string(b.provider), to.String()).Inc()
}

func stateGauge(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return 0
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's counters for health reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Provider:        b.provider,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailure,
	}
}
