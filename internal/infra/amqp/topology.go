package amqp

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// Queue and exchange names.
const (
	QueueTasks   = "enrichment.tasks"
	QueueBacklog = "enrichment.backlog"

	DLXExchange   = "enrichment.dlx"
	QueueDLQMain  = "enrichment.dlq"
	QueueDLQRetry = "enrichment.dlq.retry"

	// dlqAnalysisQueueFmt yields the per-error-type analysis queues.
	dlqAnalysisQueueFmt = "enrichment.dlq.analysis.%s"
)

// Retention and capacity policies.
const (
	taskTTLMillis    = int64(24 * 60 * 60 * 1000)      // 24h
	backlogTTLMillis = int64(7 * 24 * 60 * 60 * 1000)  // 7d
	dlqMainTTLMillis = int64(30 * 24 * 60 * 60 * 1000) // 30d
	dlqTypeTTLMillis = int64(7 * 24 * 60 * 60 * 1000)  // 7d
	dlqRetryTTLMs    = int64(24 * 60 * 60 * 1000)      // 24h

	dlqMainMaxLength  = int64(100_000)
	dlqRetryMaxLength = int64(10_000)
	backlogMaxLength  = int64(500_000)
)

// analysisErrorTypes are the per-error-type queues bound under the DLX for
// pattern mining.
var analysisErrorTypes = []domain.ErrorType{
	domain.ErrorTypeSpotify,
	domain.ErrorTypeMusicBrainz,
	domain.ErrorTypeLastFM,
	domain.ErrorTypeAudioAnalysis,
	domain.ErrorTypeDiscogs,
	domain.ErrorTypeGeneral,
}

// AnalysisQueue returns the analysis queue name for an error type.
func AnalysisQueue(t domain.ErrorType) string {
	return fmt.Sprintf(dlqAnalysisQueueFmt, t)
}

// RoutingKey returns the DLX routing key for an error type.
func RoutingKey(t domain.ErrorType) string {
	return fmt.Sprintf("%s.enrichment.failed", t)
}

// DeclareTopology declares every queue and exchange the core uses. Safe to
// call repeatedly; declarations are idempotent as long as arguments match.
func DeclareTopology(ch *amqp.Channel) error {
	// Main priority task queue.
	if _, err := ch.QueueDeclare(QueueTasks, true, false, false, false, amqp.Table{
		"x-max-priority": int32(domain.MaxPriority),
		"x-message-ttl":  taskTTLMillis,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", QueueTasks, err)
	}

	// Backlog queue: long TTL, large capacity, no priority support so bulk
	// work can never head-of-line-block the main queue.
	if _, err := ch.QueueDeclare(QueueBacklog, true, false, false, false, amqp.Table{
		"x-message-ttl": backlogTTLMillis,
		"x-max-length":  backlogMaxLength,
		"x-overflow":    "drop-head",
	}); err != nil {
		return fmt.Errorf("declare %s: %w", QueueBacklog, err)
	}

	// Dead-letter topic exchange.
	if err := ch.ExchangeDeclare(DLXExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DLXExchange, err)
	}

	// Main DLQ: receives every *.enrichment.failed key, drops oldest on
	// overflow so the newest failures are always retained.
	if _, err := ch.QueueDeclare(QueueDLQMain, true, false, false, false, amqp.Table{
		"x-message-ttl": dlqMainTTLMillis,
		"x-max-length":  dlqMainMaxLength,
		"x-overflow":    "drop-head",
	}); err != nil {
		return fmt.Errorf("declare %s: %w", QueueDLQMain, err)
	}
	if err := ch.QueueBind(QueueDLQMain, "*.enrichment.failed", DLXExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", QueueDLQMain, err)
	}

	// Per-error-type analysis queues for pattern mining.
	for _, t := range analysisErrorTypes {
		q := AnalysisQueue(t)
		if _, err := ch.QueueDeclare(q, true, false, false, false, amqp.Table{
			"x-message-ttl": dlqTypeTTLMillis,
		}); err != nil {
			return fmt.Errorf("declare %s: %w", q, err)
		}
		if err := ch.QueueBind(q, RoutingKey(t), DLXExchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", q, err)
		}
	}

	// Manual-replay retry queue: reject new publishes rather than silently
	// dropping queued replays.
	if _, err := ch.QueueDeclare(QueueDLQRetry, true, false, false, false, amqp.Table{
		"x-message-ttl": dlqRetryTTLMs,
		"x-max-length":  dlqRetryMaxLength,
		"x-overflow":    "reject-publish",
	}); err != nil {
		return fmt.Errorf("declare %s: %w", QueueDLQRetry, err)
	}

	return nil
}
