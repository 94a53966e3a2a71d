package domain

import "time"

// ErrorType buckets DLQ entries by the subsystem that produced the failure.
type ErrorType string

const (
	ErrorTypeSpotify       ErrorType = "spotify"
	ErrorTypeMusicBrainz   ErrorType = "musicbrainz"
	ErrorTypeLastFM        ErrorType = "lastfm"
	ErrorTypeAudioAnalysis ErrorType = "audio_analysis"
	ErrorTypeDiscogs       ErrorType = "discogs"
	ErrorTypeGeneral       ErrorType = "general"
)

// ErrorContext captures everything an operator needs to diagnose a
// terminally-failed item.
type ErrorContext struct {
	ErrorType     ErrorType `json:"error_type"`
	ErrorClass    string    `json:"error_class"`
	ErrorMessage  string    `json:"error_message"`
	StackTrace    string    `json:"stack_trace"`
	Timestamp     time.Time `json:"timestamp"`
	RetryCount    int       `json:"retry_count"`
	SourceService string    `json:"source_service"`
	CorrelationID string    `json:"correlation_id"`
}

// DLQEnvelope is the immutable record published for unrecoverable failures.
type DLQEnvelope struct {
	Item         any            `json:"item"`
	ErrorContext ErrorContext   `json:"error_context"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
