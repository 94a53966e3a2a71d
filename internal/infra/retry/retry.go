// Package retry implements exponential backoff with jitter and the error
// classification that drives both retry and circuit breaker accounting.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// Config defines retry behavior.
type Config struct {
	MaxRetries   int           `yaml:"max_retries"   mapstructure:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"     mapstructure:"max_delay"`
	Base         float64       `yaml:"base"          mapstructure:"base"`
	JitterFrac   float64       `yaml:"jitter"        mapstructure:"jitter"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxRetries:   5,
	InitialDelay: 1 * time.Second,
	MaxDelay:     60 * time.Second,
	Base:         2.0,
	JitterFrac:   0.2,
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultConfig.MaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultConfig.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultConfig.MaxDelay
	}
	if c.Base <= 1 {
		c.Base = DefaultConfig.Base
	}
	if c.JitterFrac < 0 {
		c.JitterFrac = DefaultConfig.JitterFrac
	}
	return c
}

// ExhaustedError is returned when every retry attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Delay computes the backoff before the given attempt (0-based). The jitter
// is uniform in ±JitterFrac of the exponential delay; the result never
// exceeds MaxDelay. A Retry-After header on the failure overrides the
// computed delay, still capped at MaxDelay.
func Delay(cfg Config, attempt int, lastErr error) time.Duration {
	cfg = cfg.withDefaults()

	if ra, ok := retryAfterFrom(lastErr); ok {
		if ra > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return ra
	}

	d := float64(cfg.InitialDelay) * math.Pow(cfg.Base, float64(attempt))
	if cfg.JitterFrac > 0 {
		d += (rand.Float64()*2 - 1) * cfg.JitterFrac * d
	}
	if d < 0 {
		d = 0
	}
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	return time.Duration(d)
}

// Do runs fn up to 1+MaxRetries times. Permanent errors propagate
// immediately without consuming a retry slot; transient and rate-limited
// errors are retried with backoff. On exhaustion it returns an
// *ExhaustedError wrapping the last failure.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if Classify(err) == ClassPermanent {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Delay(cfg, attempt, err)):
		}
	}

	return &ExhaustedError{Attempts: cfg.MaxRetries + 1, Last: lastErr}
}

// retryAfterFrom extracts a Retry-After delay from a classified provider
// error, accepting both delta-seconds and HTTP-date forms.
func retryAfterFrom(err error) (time.Duration, bool) {
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		return 0, false
	}
	v := strings.TrimSpace(pe.RetryAfter())
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d, true
		}
	}
	return 0, false
}
