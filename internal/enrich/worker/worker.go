// Package worker runs the consumer pool that pulls enrichment tasks from
// the broker and drives them through the waterfall orchestrator.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	rabbit "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/soundgraph/enricher/internal/core/domain"
	"github.com/soundgraph/enricher/internal/enrich"
	"github.com/soundgraph/enricher/internal/enrich/metrics"
)

// Requeuer republishes a task with its retry count incremented.
type Requeuer interface {
	Requeue(ctx context.Context, task *domain.EnrichmentTask) error
}

// DeadLetterer publishes terminally-failed items with full error context.
type DeadLetterer interface {
	PublishToDLQ(ctx context.Context, item any, cause error, retryCount int, metadata map[string]any) error
}

// TaskLocker guards against concurrent enrichment of the same track.
type TaskLocker interface {
	AcquireTaskLock(ctx context.Context, trackID string, ttl time.Duration) (bool, error)
	ReleaseTaskLock(ctx context.Context, trackID string) error
}

// Config tunes the pool.
type Config struct {
	Workers        int           `yaml:"workers"`
	MaxTaskRetries int           `yaml:"max_task_retries"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
}

// Pool consumes deliveries and processes them with a bounded number of
// concurrent workers.
type Pool struct {
	cfg      Config
	orch     *enrich.Orchestrator
	requeuer Requeuer
	dlq      DeadLetterer
	locker   TaskLocker // may be nil
	log      *slog.Logger
}

// NewPool wires a pool. locker may be nil when Redis is not configured.
func NewPool(
	cfg Config,
	orch *enrich.Orchestrator,
	requeuer Requeuer,
	dlq DeadLetterer,
	locker TaskLocker,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxTaskRetries <= 0 {
		cfg.MaxTaskRetries = 3
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Pool{
		cfg:      cfg,
		orch:     orch,
		requeuer: requeuer,
		dlq:      dlq,
		locker:   locker,
		log:      slog.Default(),
	}
}

// Run fans the delivery stream out to the worker pool and blocks until the
// stream closes or ctx is canceled.
func (p *Pool) Run(ctx context.Context, deliveries <-chan rabbit.Delivery) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case d, ok := <-deliveries:
					if !ok {
						return nil
					}
					p.handle(ctx, d)
				}
			}
		})
	}

	return g.Wait()
}

// handle processes one delivery end to end. Every path acks the original
// delivery: failed work moves forward via requeue or DLQ, never via broker
// redelivery loops.
func (p *Pool) handle(ctx context.Context, d rabbit.Delivery) {
	var task domain.EnrichmentTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		p.deadLetter(ctx, d, string(d.Body), fmt.Errorf("%w: %v", domain.ErrMalformedTask, err), 0, nil)
		return
	}

	if err := task.Validate(); err != nil {
		p.deadLetter(ctx, d, &task, err, task.RetryCount, nil)
		return
	}

	log := p.log.With("track", task.TrackID, "correlation_id", task.CorrelationID)

	if p.locker != nil {
		ok, err := p.locker.AcquireTaskLock(ctx, task.TrackID, p.cfg.LockTTL)
		if err != nil {
			log.Warn("Task lock check failed, proceeding without lock", "error", err)
		} else if !ok {
			// Another worker is already enriching this track.
			p.ack(d)
			metrics.TasksProcessed.WithLabelValues("skipped").Inc()
			return
		} else {
			defer func() {
				if err := p.locker.ReleaseTaskLock(context.WithoutCancel(ctx), task.TrackID); err != nil {
					log.Warn("Failed to release task lock", "error", err)
				}
			}()
		}
	}

	report, err := p.orch.EnrichTask(ctx, &task)
	if err != nil {
		// Structural failure: bypass retry, straight to the DLQ.
		p.deadLetter(ctx, d, &task, err, task.RetryCount, nil)
		return
	}

	if report.TransientFailures > 0 {
		if task.RetryCount < p.cfg.MaxTaskRetries {
			if err := p.requeuer.Requeue(ctx, &task); err != nil {
				log.Error("Requeue failed, dead-lettering", "error", err)
				p.deadLetter(ctx, d, &task, err, task.RetryCount, nil)
				return
			}
			p.ack(d)
			metrics.TasksProcessed.WithLabelValues("requeued").Inc()
			log.Debug("Task requeued after transient failures",
				"retry_count", task.RetryCount+1,
				"transient_failures", report.TransientFailures)
			return
		}

		p.deadLetter(ctx, d, &task,
			fmt.Errorf("task retries exhausted after %d attempts", task.RetryCount+1),
			task.RetryCount,
			map[string]any{"transient_failures": report.TransientFailures})
		return
	}

	p.ack(d)
	metrics.TasksProcessed.WithLabelValues("acked").Inc()
	log.Debug("Task completed",
		"enriched", len(report.Enriched),
		"unenriched", len(report.Unenriched))
}

// deadLetter publishes the failed item and acks the delivery. When the DLQ
// publish itself fails, the delivery is nacked back to the broker instead:
// terminally-failed work is never silently dropped.
func (p *Pool) deadLetter(ctx context.Context, d rabbit.Delivery, item any, cause error, retryCount int, metadata map[string]any) {
	// Dead-lettering must survive a canceled task context.
	ctx = context.WithoutCancel(ctx)
	if err := p.dlq.PublishToDLQ(ctx, item, cause, retryCount, metadata); err != nil {
		p.log.Error("DLQ publish failed, returning delivery to broker", "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil && !errors.Is(nackErr, rabbit.ErrClosed) {
			p.log.Warn("Nack failed", "error", nackErr)
		}
		return
	}
	p.ack(d)
	metrics.TasksProcessed.WithLabelValues("dead_lettered").Inc()
}

func (p *Pool) ack(d rabbit.Delivery) {
	if err := d.Ack(false); err != nil && !errors.Is(err, rabbit.ErrClosed) {
		p.log.Warn("Ack failed", "error", err)
	}
}
