package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/core/waterfall"
	"github.com/soundgraph/enricher/internal/enrich/metrics"
	"github.com/soundgraph/enricher/internal/infra/breaker"
	"github.com/soundgraph/enricher/internal/infra/retry"
)

// FieldStatus is the outcome of one field waterfall pass.
type FieldStatus string

const (
	FieldAccepted     FieldStatus = "accepted"
	FieldUnenriched   FieldStatus = "unenriched"
	FieldUnconfigured FieldStatus = "unconfigured"
)

// FieldOutcome reports one field enrichment attempt. TransientFailure is set
// when at least one provider failed transiently, which makes the task worth
// re-queuing even though the field pass itself is not an error.
type FieldOutcome struct {
	Field            string
	Status           FieldStatus
	Value            string
	Provider         domain.ProviderID
	Confidence       float64
	TransientFailure bool
}

// Report aggregates a full task pass across all configured fields.
type Report struct {
	Enriched          []FieldOutcome
	Unenriched        []string
	TransientFailures int
}

// ResultSink receives accepted field values. Downstream persistence is an
// external collaborator; the core only hands results over.
type ResultSink interface {
	Accept(ctx context.Context, task *domain.EnrichmentTask, outcome FieldOutcome) error
}

// SkipFunc reports whether a (track, field) pair was enriched recently
// enough to skip. May be nil.
type SkipFunc func(ctx context.Context, trackID, field string) bool

// Config tunes the orchestrator.
type Config struct {
	CallTimeout    time.Duration `yaml:"call_timeout"`
	SnapshotMaxAge time.Duration `yaml:"snapshot_max_age"`
	Retry          retry.Config  `yaml:"retry"`
}

// Orchestrator runs the provider waterfall per enrichment task, composing
// the rate limiter, circuit breaker and retry strategy around each
// provider call.
type Orchestrator struct {
	cfg      Config
	loader   *waterfall.Loader
	registry *Registry
	res      *ResilienceManager
	sink     ResultSink
	skip     SkipFunc
	log      *slog.Logger
}

// NewOrchestrator wires the composition. sink may be nil when callers only
// want the report; skip may be nil to disable recent-result skipping.
func NewOrchestrator(
	cfg Config,
	loader *waterfall.Loader,
	registry *Registry,
	res *ResilienceManager,
	sink ResultSink,
	skip SkipFunc,
) *Orchestrator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = waterfall.DefaultMaxAge
	}
	return &Orchestrator{
		cfg:      cfg,
		loader:   loader,
		registry: registry,
		res:      res,
		sink:     sink,
		skip:     skip,
		log:      slog.Default(),
	}
}

// EnrichTask runs the waterfall for every configured field of the task.
// Provider failures are absorbed per field; only the report says whether a
// re-queue is warranted.
func (o *Orchestrator) EnrichTask(ctx context.Context, task *domain.EnrichmentTask) (*Report, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := o.loader.ReloadIfStale(ctx, o.cfg.SnapshotMaxAge); err != nil {
		// Stale config is better than no enrichment pass.
		o.log.Warn("Waterfall reload failed, using previous snapshot", "error", err)
	}

	report := &Report{}
	for _, field := range o.loader.Snapshot().Fields() {
		if o.skip != nil && o.skip(ctx, task.TrackID, field) {
			continue
		}

		outcome := o.EnrichField(ctx, task, field)
		if outcome.TransientFailure {
			report.TransientFailures++
		}

		switch outcome.Status {
		case FieldAccepted:
			report.Enriched = append(report.Enriched, outcome)
			if o.sink != nil {
				if err := o.sink.Accept(ctx, task, outcome); err != nil {
					o.log.Error("Result sink failed",
						"track", task.TrackID, "field", field, "error", err)
				}
			}
		case FieldUnenriched:
			report.Unenriched = append(report.Unenriched, field)
		}
	}
	return report, nil
}

// EnrichField iterates the field's provider chain in priority order. The
// first result meeting its confidence threshold wins and stops the
// waterfall; every failure mode moves to the next provider.
func (o *Orchestrator) EnrichField(
	ctx context.Context,
	task *domain.EnrichmentTask,
	field string,
) FieldOutcome {
	outcome := FieldOutcome{Field: field, Status: FieldUnconfigured}

	refs := o.loader.ProvidersForField(field)
	if len(refs) == 0 {
		// Unconfigured or disabled field: cannot be enriched, not an error.
		return outcome
	}
	outcome.Status = FieldUnenriched

	req := domain.EnrichmentRequest{
		TrackID:       task.TrackID,
		Artist:        task.Artist,
		Title:         task.Title,
		Field:         field,
		CorrelationID: task.CorrelationID,
	}

	for _, ref := range refs {
		provider := o.registry.Get(ref.Provider)
		if provider == nil {
			o.log.Warn("Configured provider not registered", "provider", ref.Provider)
			continue
		}

		br := o.res.Breaker(ref.Provider)
		if err := br.Allow(); err != nil {
			// Fail fast: no token spent, no network attempt.
			metrics.ProviderCalls.WithLabelValues(string(ref.Provider), "skipped_open").Inc()
			continue
		}

		result, err := o.callProvider(ctx, provider, req, task.Priority)
		if err != nil {
			outcome.TransientFailure = o.accountFailure(br, ref.Provider, err) || outcome.TransientFailure
			continue
		}

		br.RecordSuccess()

		if result.Confidence < ref.Confidence {
			metrics.ProviderCalls.WithLabelValues(string(ref.Provider), "declined").Inc()
			o.log.Debug("Provider result below threshold",
				"track", task.TrackID, "field", field,
				"provider", ref.Provider,
				"confidence", result.Confidence, "threshold", ref.Confidence)
			continue
		}

		metrics.ProviderCalls.WithLabelValues(string(ref.Provider), "accepted").Inc()
		metrics.FieldsEnriched.WithLabelValues(field, string(ref.Provider)).Inc()
		outcome.Status = FieldAccepted
		outcome.Value = result.Value
		outcome.Provider = ref.Provider
		outcome.Confidence = result.Confidence
		return outcome
	}

	return outcome
}

// callProvider is one breaker-guarded invocation: the retry loop lives
// inside it, and each attempt pays for its own rate limiter token so
// upstream quotas see every network call.
func (o *Orchestrator) callProvider(
	ctx context.Context,
	provider Provider,
	req domain.EnrichmentRequest,
	priority int,
) (*domain.EnrichmentResult, error) {
	var result *domain.EnrichmentResult
	attempt := 0

	err := retry.Do(ctx, o.cfg.Retry, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.RetryAttempts.WithLabelValues(string(provider.Name())).Inc()
		}
		attempt++

		if !o.res.Limiter().Acquire(ctx, provider.Name(), priority) {
			return &domain.ProviderError{
				Provider: provider.Name(),
				Err:      errors.New("rate limiter token unavailable"),
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()

		start := time.Now()
		res, err := provider.Fetch(callCtx, req)
		metrics.ProviderCallLatency.WithLabelValues(string(provider.Name())).
			Observe(time.Since(start).Seconds())
		if err != nil {
			// Rate-limit headers mostly arrive on 429/503 responses; the
			// bucket has to see them so every worker backs off, not just
			// this retry loop.
			var pe *domain.ProviderError
			if errors.As(err, &pe) && pe.Headers != nil {
				o.res.Limiter().UpdateFromHeaders(provider.Name(), pe.Headers)
			}
			return err
		}
		if res.Headers != nil {
			o.res.Limiter().UpdateFromHeaders(provider.Name(), res.Headers)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// accountFailure applies the error taxonomy to breaker accounting and
// returns whether the failure was transient (worth a task re-queue).
//
//   - no-match: expected outcome, counts as provider success
//   - permanent 4xx: waterfall moves on, no breaker count
//   - rate-limited: Retry-After was respected, no breaker count
//   - transient after retry exhaustion: one breaker failure
func (o *Orchestrator) accountFailure(
	br *breaker.Breaker,
	provider domain.ProviderID,
	err error,
) bool {
	if errors.Is(err, domain.ErrNoMatch) {
		br.RecordSuccess()
		metrics.ProviderCalls.WithLabelValues(string(provider), "declined").Inc()
		return false
	}

	metrics.ProviderCalls.WithLabelValues(string(provider), "error").Inc()

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		if retry.Classify(exhausted.Last) == retry.ClassTransient {
			br.RecordFailure()
			return true
		}
		// Rate-limited exhaustion: the provider said slow down and we did.
		br.RecordNeutral()
		return true
	}

	// Permanent classification or context cancellation: no breaker count.
	br.RecordNeutral()
	return false
}
