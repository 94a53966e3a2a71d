// Package amqp provides the broker infrastructure for the enrichment core:
// the priority task queue, the backlog queue, and the dead-letter topology.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"

	"github.com/soundgraph/enricher/internal/enrich/metrics"
)

// Config holds broker connection configuration.
type Config struct {
	URL           string        `yaml:"url"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	MaxDialRetry  uint64        `yaml:"max_dial_retry"`
	PrefetchCount int           `yaml:"prefetch_count"`
}

// Client wraps an AMQP connection with redial and topology management.
type Client struct {
	mu   sync.Mutex
	cfg  Config
	conn *amqp.Connection
}

// NewClient dials the broker with exponential backoff and declares the full
// topology on the first channel.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.MaxDialRetry == 0 {
		cfg.MaxDialRetry = 5
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 10
	}

	c := &Client{cfg: cfg}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	ch, err := c.Channel(ctx)
	if err != nil {
		return nil, err
	}
	defer ch.Close()
	if err := DeclareTopology(ch); err != nil {
		return nil, fmt.Errorf("failed to declare topology: %w", err)
	}

	return c, nil
}

// dial connects with backoff. Holding a stale connection, callers retry
// through Channel which redials as needed.
func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	backoff := retry.WithMaxRetries(c.cfg.MaxDialRetry, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
			Dial: amqp.DefaultDial(c.cfg.DialTimeout),
		})
		if err != nil {
			slog.Warn("AMQP dial failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	slog.Info("Connected to AMQP broker")
	return nil
}

// Channel returns a fresh channel, redialing the connection if it dropped.
// The redial backoff honors ctx cancellation.
func (c *Client) Channel(ctx context.Context) (*amqp.Channel, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		if err := c.dial(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// PrefetchCount returns the configured consumer prefetch.
func (c *Client) PrefetchCount() int {
	return c.cfg.PrefetchCount
}

// Close closes the broker connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// CollectQueueDepths updates the queue depth gauges from passive declares.
// Runs until ctx is canceled.
func (c *Client) CollectQueueDepths(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	queues := []string{QueueTasks, QueueBacklog, QueueDLQMain, QueueDLQRetry}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ch, err := c.Channel(ctx)
			if err != nil {
				slog.Warn("Queue depth collection failed", "error", err)
				continue
			}
			for _, q := range queues {
				state, err := ch.QueueDeclarePassive(q, true, false, false, false, nil)
				if err != nil {
					// Passive declare failures close the channel.
					break
				}
				metrics.QueueDepth.WithLabelValues(q).Set(float64(state.Messages))
			}
			ch.Close()
		}
	}
}
