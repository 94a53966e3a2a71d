package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// rateDivergenceThreshold is how far (req/s) the API-reported refill rate
// must diverge from the current estimate before we adopt it.
const rateDivergenceThreshold = 0.5

// UpdateFromHeaders corrects the bucket from upstream rate-limit headers.
//
//   - X-RateLimit-Remaining below our token estimate clamps tokens down.
//   - X-RateLimit-Limit + X-RateLimit-Reset recompute the refill rate when
//     the implied rate diverges by more than 0.5 req/s.
//   - Retry-After zeroes the bucket and defers the next refill point by the
//     given delay.
func (b *Bucket) UpdateFromHeaders(h http.Header) {
	if h == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()

	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if remaining, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			if remaining < b.tokens {
				b.tokens = math.Max(remaining, 0)
			}
		}
	}

	limit, haveLimit := parseFloatHeader(h, "X-RateLimit-Limit")
	reset, haveReset := parseResetHeader(h, b.now())
	if haveLimit && haveReset && reset > 0 {
		implied := limit / reset.Seconds()
		if implied > 0 && math.Abs(implied-b.refillRate) > rateDivergenceThreshold {
			b.refillRate = implied
		}
	}

	if v := h.Get("Retry-After"); v != "" {
		if delay, ok := parseRetryAfter(v, b.now()); ok {
			b.tokens = 0
			b.lastRefill = b.now().Add(delay)
		}
	}
}

func parseFloatHeader(h http.Header, key string) (float64, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

// parseResetHeader interprets X-RateLimit-Reset as either seconds-from-now
// or an absolute unix timestamp, returning the time until reset.
func parseResetHeader(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("X-RateLimit-Reset"))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	// Values larger than a year's worth of seconds are unix timestamps.
	if n > 365*24*3600 {
		until := time.Unix(int64(n), 0).Sub(now)
		if until <= 0 {
			return 0, false
		}
		return until, true
	}
	return time.Duration(n * float64(time.Second)), true
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := when.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}
