package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	rabbit "github.com/rabbitmq/amqp091-go"

	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/core/waterfall"
	"github.com/soundgraph/enricher/internal/enrich"
	"github.com/soundgraph/enricher/internal/infra/breaker"
	"github.com/soundgraph/enricher/internal/infra/ratelimit"
	"github.com/soundgraph/enricher/internal/infra/retry"
	"github.com/soundgraph/enricher/internal/infra/storage/memory"
)

type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error { a.acks++; return nil }

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

type fakeRequeuer struct {
	tasks []*domain.EnrichmentTask
	err   error
}

func (r *fakeRequeuer) Requeue(ctx context.Context, task *domain.EnrichmentTask) error {
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, task)
	return nil
}

type fakeDLQ struct {
	items    []any
	causes   []error
	metadata []map[string]any
	err      error
}

func (d *fakeDLQ) PublishToDLQ(ctx context.Context, item any, cause error, retryCount int, metadata map[string]any) error {
	if d.err != nil {
		return d.err
	}
	d.items = append(d.items, item)
	d.causes = append(d.causes, cause)
	d.metadata = append(d.metadata, metadata)
	return nil
}

type fakeLocker struct {
	acquired bool
	released []string
}

func (l *fakeLocker) AcquireTaskLock(ctx context.Context, trackID string, ttl time.Duration) (bool, error) {
	return l.acquired, nil
}

func (l *fakeLocker) ReleaseTaskLock(ctx context.Context, trackID string) error {
	l.released = append(l.released, trackID)
	return nil
}

type flakyProvider struct {
	id domain.ProviderID
}

func (p *flakyProvider) Name() domain.ProviderID { return p.id }

func (p *flakyProvider) Fetch(ctx context.Context, req domain.EnrichmentRequest) (*domain.EnrichmentResult, error) {
	return nil, &domain.ProviderError{Provider: p.id, StatusCode: 503, Err: errors.New("upstream error")}
}

// newTestPool builds a pool over an in-memory waterfall store. An empty
// store produces a clean report; a store with a failing provider produces
// transient failures.
func newTestPool(t *testing.T, store *memory.WaterfallStore, requeuer *fakeRequeuer, dlq *fakeDLQ, locker TaskLocker, providers ...enrich.Provider) *Pool {
	t.Helper()

	loader := waterfall.NewLoader(store)
	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Loader load failed: %v", err)
	}

	registry := enrich.NewRegistry()
	for _, p := range providers {
		registry.Register(p)
	}

	res := enrich.NewResilienceManager(enrich.ResilienceConfig{
		RateLimitFallback: ratelimit.Config{Capacity: 10_000, RefillRate: 10_000},
		BreakerFallback:   breaker.Config{FailureThreshold: 100, SuccessThreshold: 1, Timeout: time.Hour},
	})

	orch := enrich.NewOrchestrator(enrich.Config{
		CallTimeout:    time.Second,
		SnapshotMaxAge: time.Hour,
		Retry:          retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Base: 2},
	}, loader, registry, res, nil, nil)

	return NewPool(Config{Workers: 1, MaxTaskRetries: 2, LockTTL: time.Minute}, orch, requeuer, dlq, locker)
}

func delivery(t *testing.T, task *domain.EnrichmentTask, ack *fakeAcknowledger) rabbit.Delivery {
	t.Helper()
	body, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return rabbit.Delivery{Acknowledger: ack, Body: body}
}

func TestHandle_MalformedBodyDeadLetters(t *testing.T) {
	requeuer := &fakeRequeuer{}
	dlq := &fakeDLQ{}
	pool := newTestPool(t, memory.NewWaterfallStore(), requeuer, dlq, nil)

	ack := &fakeAcknowledger{}
	pool.handle(context.Background(), rabbit.Delivery{Acknowledger: ack, Body: []byte("not json")})

	if len(dlq.items) != 1 {
		t.Fatalf("Expected 1 DLQ publish, got %d", len(dlq.items))
	}
	if !errors.Is(dlq.causes[0], domain.ErrMalformedTask) {
		t.Errorf("DLQ cause = %v, want ErrMalformedTask", dlq.causes[0])
	}
	if ack.acks != 1 || len(requeuer.tasks) != 0 {
		t.Errorf("Malformed body: acks=%d requeues=%d", ack.acks, len(requeuer.tasks))
	}
}

func TestHandle_InvalidTaskDeadLetters(t *testing.T) {
	dlq := &fakeDLQ{}
	pool := newTestPool(t, memory.NewWaterfallStore(), &fakeRequeuer{}, dlq, nil)

	ack := &fakeAcknowledger{}
	task := &domain.EnrichmentTask{TrackID: "", Artist: "x", Title: "y"}
	pool.handle(context.Background(), delivery(t, task, ack))

	if len(dlq.items) != 1 || ack.acks != 1 {
		t.Errorf("Invalid task: dlq=%d acks=%d", len(dlq.items), ack.acks)
	}
}

func TestHandle_CleanTaskAcked(t *testing.T) {
	requeuer := &fakeRequeuer{}
	dlq := &fakeDLQ{}
	locker := &fakeLocker{acquired: true}
	pool := newTestPool(t, memory.NewWaterfallStore(), requeuer, dlq, locker)

	ack := &fakeAcknowledger{}
	task := domain.NewTask("track-1", "Autechre", "Amber", 5, domain.SourceIngestion)
	pool.handle(context.Background(), delivery(t, task, ack))

	if ack.acks != 1 || len(dlq.items) != 0 || len(requeuer.tasks) != 0 {
		t.Errorf("Clean task: acks=%d dlq=%d requeues=%d", ack.acks, len(dlq.items), len(requeuer.tasks))
	}
	if len(locker.released) != 1 || locker.released[0] != "track-1" {
		t.Errorf("Lock not released: %v", locker.released)
	}
}

func TestHandle_LockHeldElsewhereSkips(t *testing.T) {
	dlq := &fakeDLQ{}
	locker := &fakeLocker{acquired: false}
	pool := newTestPool(t, memory.NewWaterfallStore(), &fakeRequeuer{}, dlq, locker)

	ack := &fakeAcknowledger{}
	task := domain.NewTask("track-1", "Autechre", "Amber", 5, domain.SourceIngestion)
	pool.handle(context.Background(), delivery(t, task, ack))

	if ack.acks != 1 || len(dlq.items) != 0 {
		t.Errorf("Skipped task: acks=%d dlq=%d", ack.acks, len(dlq.items))
	}
	// The other worker's lock must not be released.
	if len(locker.released) != 0 {
		t.Errorf("Released a lock held elsewhere: %v", locker.released)
	}
}

func transientStore() *memory.WaterfallStore {
	store := memory.NewWaterfallStore()
	store.Put(domain.FieldWaterfall{
		Field: "genre", Enabled: true,
		Providers: []domain.ProviderRef{{Provider: domain.ProviderSpotify, Confidence: 0.7}},
	})
	return store
}

func TestHandle_TransientFailuresRequeue(t *testing.T) {
	requeuer := &fakeRequeuer{}
	dlq := &fakeDLQ{}
	pool := newTestPool(t, transientStore(), requeuer, dlq, nil, &flakyProvider{id: domain.ProviderSpotify})

	ack := &fakeAcknowledger{}
	task := domain.NewTask("track-1", "Autechre", "Amber", 5, domain.SourceIngestion)
	pool.handle(context.Background(), delivery(t, task, ack))

	if len(requeuer.tasks) != 1 {
		t.Fatalf("Expected 1 requeue, got %d", len(requeuer.tasks))
	}
	if ack.acks != 1 || len(dlq.items) != 0 {
		t.Errorf("Requeued task: acks=%d dlq=%d", ack.acks, len(dlq.items))
	}
}

func TestHandle_RetriesExhaustedDeadLetters(t *testing.T) {
	requeuer := &fakeRequeuer{}
	dlq := &fakeDLQ{}
	pool := newTestPool(t, transientStore(), requeuer, dlq, nil, &flakyProvider{id: domain.ProviderSpotify})

	ack := &fakeAcknowledger{}
	task := domain.NewTask("track-1", "Autechre", "Amber", 5, domain.SourceIngestion)
	task.RetryCount = 2 // at the pool's MaxTaskRetries
	pool.handle(context.Background(), delivery(t, task, ack))

	if len(requeuer.tasks) != 0 {
		t.Errorf("Exhausted task was requeued")
	}
	if len(dlq.items) != 1 || ack.acks != 1 {
		t.Fatalf("Exhausted task: dlq=%d acks=%d", len(dlq.items), ack.acks)
	}
	if dlq.metadata[0]["transient_failures"] == nil {
		t.Error("Expected transient failure count in DLQ metadata")
	}
}

func TestHandle_DLQPublishFailureNacks(t *testing.T) {
	dlq := &fakeDLQ{err: errors.New("broker unavailable")}
	pool := newTestPool(t, memory.NewWaterfallStore(), &fakeRequeuer{}, dlq, nil)

	ack := &fakeAcknowledger{}
	pool.handle(context.Background(), rabbit.Delivery{Acknowledger: ack, Body: []byte("not json")})

	// Terminally-failed work goes back to the broker rather than vanishing.
	if ack.acks != 0 {
		t.Errorf("Delivery acked despite DLQ failure")
	}
	if ack.nacks != 1 || !ack.requeue {
		t.Errorf("Expected nack with requeue, got nacks=%d requeue=%v", ack.nacks, ack.requeue)
	}
}

func TestHandle_RequeueFailureDeadLetters(t *testing.T) {
	requeuer := &fakeRequeuer{err: errors.New("publish failed")}
	dlq := &fakeDLQ{}
	pool := newTestPool(t, transientStore(), requeuer, dlq, nil, &flakyProvider{id: domain.ProviderSpotify})

	ack := &fakeAcknowledger{}
	task := domain.NewTask("track-1", "Autechre", "Amber", 5, domain.SourceIngestion)
	pool.handle(context.Background(), delivery(t, task, ack))

	if len(dlq.items) != 1 || ack.acks != 1 {
		t.Errorf("Requeue failure: dlq=%d acks=%d", len(dlq.items), ack.acks)
	}
}
