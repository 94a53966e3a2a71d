package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	rabbit "github.com/rabbitmq/amqp091-go"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// TaskPublisher publishes tasks to the main queue.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task *domain.EnrichmentTask) error
}

// Replayer drains the manual-replay DLQ retry queue: operators move
// envelopes into that queue, and this worker turns them back into live
// tasks on the main queue with priority bumped to front of the line.
type Replayer struct {
	producer TaskPublisher
	log      *slog.Logger
}

// NewReplayer creates a replay worker.
func NewReplayer(producer TaskPublisher) *Replayer {
	return &Replayer{producer: producer, log: slog.Default()}
}

// Run consumes replay deliveries until the stream closes or ctx ends.
func (r *Replayer) Run(ctx context.Context, deliveries <-chan rabbit.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			r.handle(ctx, d)
		}
	}
}

func (r *Replayer) handle(ctx context.Context, d rabbit.Delivery) {
	var envelope struct {
		Item domain.EnrichmentTask `json:"item"`
	}
	if err := json.Unmarshal(d.Body, &envelope); err != nil || envelope.Item.TrackID == "" {
		// Not a replayable task envelope; drop it rather than loop.
		r.log.Warn("Discarding unreplayable DLQ entry", "error", err)
		r.finish(d, true)
		return
	}

	task := envelope.Item
	task.RetryCount = 0
	task.Source = domain.SourceReplay

	if err := r.producer.PublishTask(ctx, &task); err != nil {
		r.log.Error("Replay publish failed, returning to retry queue", "track", task.TrackID, "error", err)
		r.finish(d, false)
		return
	}

	r.log.Info("Replayed dead-lettered task", "track", task.TrackID, "correlation_id", task.CorrelationID)
	r.finish(d, true)
}

func (r *Replayer) finish(d rabbit.Delivery, ok bool) {
	var err error
	if ok {
		err = d.Ack(false)
	} else {
		err = d.Nack(false, true)
	}
	if err != nil && !errors.Is(err, rabbit.ErrClosed) {
		r.log.Warn("Replay ack failed", "error", err)
	}
}
