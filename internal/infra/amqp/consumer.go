package amqp

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer pulls deliveries from one queue with bounded prefetch so slow
// tasks cannot starve other consumers of the same queue.
type Consumer struct {
	client   *Client
	queue    string
	prefetch int

	ch *amqp.Channel
}

// NewConsumer creates a consumer for the given queue. A prefetch of 0 uses
// the client default.
func NewConsumer(client *Client, queue string, prefetch int) *Consumer {
	if prefetch <= 0 {
		prefetch = client.PrefetchCount()
	}
	return &Consumer{client: client, queue: queue, prefetch: prefetch}
}

// Consume opens a channel and returns the delivery stream. Deliveries must
// be acked or nacked by the caller; autoAck is off.
func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	ch, err := c.client.Channel(ctx)
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", c.queue, err)
	}

	c.ch = ch

	// Close the channel when the context ends so the delivery stream
	// terminates and workers drain out.
	go func() {
		<-ctx.Done()
		ch.Close()
	}()

	return deliveries, nil
}

// Close closes the consumer channel.
func (c *Consumer) Close() error {
	if c.ch == nil {
		return nil
	}
	return c.ch.Close()
}
