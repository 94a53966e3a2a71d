package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed tracks consumed tasks by final disposition
	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_tasks_processed_total",
			Help: "Total number of enrichment tasks processed",
		},
		[]string{"status"}, // acked, requeued, dead_lettered, skipped
	)

	// ProviderCalls tracks provider invocations per outcome
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_provider_calls_total",
			Help: "Total number of provider calls",
		},
		[]string{"provider", "outcome"}, // accepted, declined, error, skipped_open
	)

	// ProviderCallLatency tracks provider call latency
	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enricher_provider_call_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// FieldsEnriched tracks accepted field values per provider
	FieldsEnriched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_fields_enriched_total",
			Help: "Total number of fields enriched, by field and winning provider",
		},
		[]string{"field", "provider"},
	)

	// BreakerState exposes circuit breaker state per provider
	// (0=closed, 1=half_open, 2=open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "enricher_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half_open, 2=open)",
		},
		[]string{"provider"},
	)

	// BreakerTransitions counts breaker state transitions
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"provider", "to"},
	)

	// RateLimitWaitSeconds tracks time spent waiting for tokens
	RateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enricher_ratelimit_wait_seconds",
			Help:    "Time spent acquiring rate limiter tokens",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"provider", "outcome", "tier"},
	)

	// RateLimitFailures counts failed token acquisitions
	RateLimitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_ratelimit_failures_total",
			Help: "Total failed rate limiter acquisitions",
		},
		[]string{"provider"},
	)

	// RetryAttempts counts retry attempts per provider
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_retry_attempts_total",
			Help: "Total retry attempts against providers",
		},
		[]string{"provider"},
	)

	// DLQPublished counts dead-lettered items per error type
	DLQPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_dlq_published_total",
			Help: "Total messages published to the dead-letter exchange",
		},
		[]string{"error_type"},
	)

	// QueueDepth exposes broker queue depths from passive declares
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "enricher_queue_depth",
			Help: "Current message count per queue",
		},
		[]string{"queue"},
	)

	// WaterfallReloads counts config snapshot reloads
	WaterfallReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_waterfall_reloads_total",
			Help: "Total waterfall configuration reloads",
		},
		[]string{"status"}, // success, failure
	)

	// DBConnectionPoolUsage tracks connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enricher_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
