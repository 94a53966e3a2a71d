// Package ratelimit implements per-provider token-bucket rate limiting with
// lazy refill and header-driven correction from upstream responses.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Outcome describes how an Acquire call was satisfied.
type Outcome string

const (
	OutcomeImmediate Outcome = "immediate"
	OutcomeDelayed   Outcome = "delayed"
	OutcomeFailed    Outcome = "failed"
)

// Config holds the static shape of a bucket.
type Config struct {
	Capacity   float64 `yaml:"capacity"    mapstructure:"capacity"`
	RefillRate float64 `yaml:"refill_rate" mapstructure:"refill_rate"` // tokens per second
}

// Stats is a point-in-time snapshot of a bucket.
type Stats struct {
	Tokens        float64
	Capacity      float64
	RefillRate    float64
	LastRefill    time.Time
	AcquiredTotal int64
	DelayedTotal  int64
	FailedTotal   int64
}

// Bucket is a token bucket for one provider. Tokens refill lazily on each
// Acquire; the invariant 0 <= tokens <= capacity holds at every observation
// point. Waiting happens outside the mutex so one starved caller never
// blocks others from observing or correcting the bucket.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time

	acquired int64
	delayed  int64
	failed   int64

	now func() time.Time
}

// NewBucket creates a full bucket.
func NewBucket(cfg Config) *Bucket {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = 1
	}
	now := time.Now()
	return &Bucket{
		tokens:     cfg.Capacity,
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillRate,
		lastRefill: now,
		now:        time.Now,
	}
}

// refillLocked adds elapsed*rate tokens, capped at capacity. Callers hold mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// tryTakeLocked consumes one token if available and returns the wait needed
// otherwise. Callers hold mu.
func (b *Bucket) tryTakeLocked() (time.Duration, bool) {
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	// A Retry-After correction may have pushed the refill point into the
	// future; the caller has to sit out that deferral too.
	if deferred := b.lastRefill.Sub(b.now()); deferred > 0 {
		wait += deferred
	}
	return wait, false
}

// Acquire takes one token, sleeping at most one computed refill interval if
// the bucket is empty. It returns the outcome and whether a token was
// obtained. It never returns an error for normal operation; a false return
// after the delayed path means the bucket is misconfigured or was corrected
// downward while waiting.
func (b *Bucket) Acquire(ctx context.Context) (Outcome, bool) {
	b.mu.Lock()
	wait, ok := b.tryTakeLocked()
	if ok {
		b.acquired++
		b.mu.Unlock()
		return OutcomeImmediate, true
	}
	b.mu.Unlock()

	// Sleep outside the lock.
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		b.mu.Lock()
		b.failed++
		b.mu.Unlock()
		return OutcomeFailed, false
	case <-timer.C:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tryTakeLocked(); ok {
		b.acquired++
		b.delayed++
		return OutcomeDelayed, true
	}
	// Still short after waiting a full refill interval. Do not loop forever.
	b.failed++
	return OutcomeFailed, false
}

// Reset refills the bucket to capacity.
func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.capacity
	b.lastRefill = b.now()
}

// Stats returns a snapshot after applying lazy refill.
func (b *Bucket) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return Stats{
		Tokens:        b.tokens,
		Capacity:      b.capacity,
		RefillRate:    b.refillRate,
		LastRefill:    b.lastRefill,
		AcquiredTotal: b.acquired,
		DelayedTotal:  b.delayed,
		FailedTotal:   b.failed,
	}
}
