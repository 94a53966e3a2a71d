package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// Producer publishes enrichment tasks to the broker.
type Producer struct {
	client *Client
}

// NewProducer creates a task producer.
func NewProducer(client *Client) *Producer {
	return &Producer{client: client}
}

// PublishTask publishes a task to the main priority queue with persistent
// delivery. The AMQP priority property mirrors the task priority.
func (p *Producer) PublishTask(ctx context.Context, task *domain.EnrichmentTask) error {
	return p.publish(ctx, QueueTasks, task)
}

// PublishBacklog publishes bulk/catch-up work to the backlog queue.
func (p *Producer) PublishBacklog(ctx context.Context, task *domain.EnrichmentTask) error {
	return p.publish(ctx, QueueBacklog, task)
}

// Requeue republishes a task with its retry count incremented. The caller
// acks the original delivery after a successful requeue.
func (p *Producer) Requeue(ctx context.Context, task *domain.EnrichmentTask) error {
	return p.publish(ctx, QueueTasks, requeued(task))
}

// requeued copies a task for republication: retry count bumped, queue
// timestamp refreshed, everything else (correlation id included) intact.
// The original task is left untouched.
func requeued(task *domain.EnrichmentTask) *domain.EnrichmentTask {
	copied := *task
	copied.RetryCount++
	copied.QueuedAt = time.Now().UTC()
	return &copied
}

func (p *Producer) publish(ctx context.Context, queue string, task *domain.EnrichmentTask) error {
	if err := task.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	ch, err := p.client.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     uint8(task.Priority),
		Timestamp:    task.QueuedAt,
		MessageId:    task.CorrelationID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish task %s: %w", task.TrackID, err)
	}
	return nil
}
