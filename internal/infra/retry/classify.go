package retry

import (
	"context"
	"errors"
	"net"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// Class buckets provider failures for retry and breaker accounting.
type Class int

const (
	// ClassTransient covers 5xx responses, timeouts and connection errors.
	// Retried; counts toward the breaker only after retry exhaustion.
	ClassTransient Class = iota
	// ClassRateLimited covers 429. Retried with Retry-After honored; never
	// counts toward the breaker while the delay is being respected.
	ClassRateLimited
	// ClassPermanent covers client errors that will never succeed. Never
	// retried and never counted toward the breaker.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanent:
		return "permanent"
	}
	return "unknown"
}

// permanentStatuses are never retried; the waterfall moves on immediately.
var permanentStatuses = map[int]bool{
	400: true, 401: true, 403: true, 404: true,
	405: true, 406: true, 410: true, 422: true,
}

// retryableStatuses are retried up to the attempt cap.
var retryableStatuses = map[int]bool{
	429: true, 500: true, 502: true, 503: true, 504: true,
}

// Classify maps an error to its retry class. Errors without a status code
// (timeouts, connection resets, context deadlines) are transient.
func Classify(err error) Class {
	var pe *domain.ProviderError
	if errors.As(err, &pe) && pe.StatusCode > 0 {
		return classifyStatus(pe.StatusCode)
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassTransient
}

func classifyStatus(status int) Class {
	switch {
	case status == 429:
		return ClassRateLimited
	case permanentStatuses[status]:
		return ClassPermanent
	case retryableStatuses[status]:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	case status >= 400:
		return ClassPermanent
	}
	return ClassTransient
}

// ShouldRetry reports whether another attempt is allowed for the error at
// the given attempt index (0-based).
func ShouldRetry(err error, attempt, maxRetries int) bool {
	if attempt >= maxRetries {
		return false
	}
	return Classify(err) != ClassPermanent
}
