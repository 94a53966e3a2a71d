package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ProviderID identifies an external metadata provider (e.g. "spotify").
type ProviderID string

const (
	ProviderSpotify       ProviderID = "spotify"
	ProviderMusicBrainz   ProviderID = "musicbrainz"
	ProviderDiscogs       ProviderID = "discogs"
	ProviderLastFM        ProviderID = "lastfm"
	ProviderAudioAnalysis ProviderID = "audio_analysis"
)

// EnrichmentRequest is the input to a provider lookup.
type EnrichmentRequest struct {
	TrackID       string
	Artist        string
	Title         string
	Field         string
	CorrelationID string
}

// EnrichmentResult is a provider answer for a single field.
// Confidence is the provider's match score in [0,1]; Headers carries the
// raw rate-limit headers from the upstream response, when present.
type EnrichmentResult struct {
	Field      string
	Value      string
	Confidence float64
	Headers    http.Header
}

// ProviderError is a classified failure from a provider call. StatusCode is
// zero for transport-level failures (timeout, connection reset). Headers may
// carry Retry-After and rate-limit information from the failed response.
type ProviderError struct {
	Provider   ProviderID
	StatusCode int
	Headers    http.Header
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetryAfter returns the Retry-After header value, if any.
func (e *ProviderError) RetryAfter() string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers.Get("Retry-After")
}

// ErrNoMatch is returned by providers that completed the lookup but found
// nothing. It is an expected outcome, not a failure: it moves the waterfall
// to the next provider without breaker accounting.
var ErrNoMatch = errors.New("no match found")
