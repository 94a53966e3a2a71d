package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/enrich/metrics"
)

// Header truncation bounds: envelopes keep the full text, the duplicated
// AMQP headers stay small enough for broker-side filtering.
const (
	maxHeaderMessageLen = 500
	maxHeaderStackLen   = 2000
)

// errorTypeKeywords classifies errors by substring match against the error
// message and class name. First match wins; order is fixed.
var errorTypeKeywords = []struct {
	errorType domain.ErrorType
	keywords  []string
}{
	{domain.ErrorTypeSpotify, []string{"spotify"}},
	{domain.ErrorTypeMusicBrainz, []string{"musicbrainz", "mbid"}},
	{domain.ErrorTypeLastFM, []string{"lastfm", "last.fm"}},
	{domain.ErrorTypeAudioAnalysis, []string{"audio_analysis", "audio analysis", "essentia", "bpm"}},
	{domain.ErrorTypeDiscogs, []string{"discogs"}},
}

// ClassifyErrorType maps an error to its DLQ category by keyword.
func ClassifyErrorType(err error) domain.ErrorType {
	if err == nil {
		return domain.ErrorTypeGeneral
	}

	haystack := strings.ToLower(err.Error())
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		haystack += " " + strings.ToLower(string(pe.Provider))
	}

	for _, entry := range errorTypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(haystack, kw) {
				return entry.errorType
			}
		}
	}
	return domain.ErrorTypeGeneral
}

// DLQPublisher publishes terminally-failed items to the dead-letter
// exchange with full error context.
type DLQPublisher struct {
	client        *Client
	sourceService string
}

// NewDLQPublisher creates a publisher. sourceService tags every envelope
// with the emitting service name.
func NewDLQPublisher(client *Client, sourceService string) *DLQPublisher {
	if sourceService == "" {
		sourceService = "enricher"
	}
	return &DLQPublisher{client: client, sourceService: sourceService}
}

// PublishToDLQ builds a DLQEnvelope for the failed item and publishes it to
// the topic exchange under <error_type>.enrichment.failed. The envelope is
// immutable once published; the correlation id is taken from metadata when
// present so DLQ entries join back to their originating task.
func (p *DLQPublisher) PublishToDLQ(
	ctx context.Context,
	item any,
	cause error,
	retryCount int,
	metadata map[string]any,
) error {
	errorType := ClassifyErrorType(cause)
	now := time.Now().UTC()

	message := "unknown error"
	errorClass := "nil"
	if cause != nil {
		message = cause.Error()
		errorClass = fmt.Sprintf("%T", cause)
	}

	correlationID := ""
	if task, ok := item.(*domain.EnrichmentTask); ok {
		correlationID = task.CorrelationID
	}
	if v, ok := metadata["correlation_id"].(string); ok && v != "" {
		correlationID = v
	}

	envelope := domain.DLQEnvelope{
		Item: item,
		ErrorContext: domain.ErrorContext{
			ErrorType:     errorType,
			ErrorClass:    errorClass,
			ErrorMessage:  message,
			StackTrace:    string(debug.Stack()),
			Timestamp:     now,
			RetryCount:    retryCount,
			SourceService: p.sourceService,
			CorrelationID: correlationID,
		},
		Metadata: metadata,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ envelope: %w", err)
	}

	ch, err := p.client.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, DLXExchange, RoutingKey(errorType), false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    now,
			Headers:      BuildDLQHeaders(envelope.ErrorContext),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQPublished.WithLabelValues(string(errorType)).Inc()
	return nil
}

// BuildDLQHeaders duplicates the error context into AMQP headers, truncated
// for broker-side filtering.
func BuildDLQHeaders(ec domain.ErrorContext) amqp.Table {
	return amqp.Table{
		"x-retry-count":    int32(ec.RetryCount),
		"x-error-type":     string(ec.ErrorType),
		"x-error-message":  Truncate(ec.ErrorMessage, maxHeaderMessageLen),
		"x-stack-trace":    Truncate(ec.StackTrace, maxHeaderStackLen),
		"x-source-service": ec.SourceService,
		"x-failed-at":      ec.Timestamp.Format(time.RFC3339),
	}
}

// Truncate bounds s to max bytes.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
