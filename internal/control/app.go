// Package control wires the enrichment core together and manages its
// lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/soundgraph/enricher/internal/core/config"
	"github.com/soundgraph/enricher/internal/core/waterfall"
	"github.com/soundgraph/enricher/internal/enrich"
	"github.com/soundgraph/enricher/internal/enrich/worker"
	"github.com/soundgraph/enricher/internal/health"
	amqpclient "github.com/soundgraph/enricher/internal/infra/amqp"
	"github.com/soundgraph/enricher/internal/infra/breaker"
	"github.com/soundgraph/enricher/internal/infra/ratelimit"
	redisclient "github.com/soundgraph/enricher/internal/infra/redis"
	"github.com/soundgraph/enricher/internal/infra/storage/postgres"

	"github.com/soundgraph/enricher/internal/core/domain"
)

// App is the composed enrichment service.
type App struct {
	cfg config.AppConfig

	db          *postgres.DB
	redisClient *redisclient.Client
	broker      *amqpclient.Client
	producer    *amqpclient.Producer
	dlq         *amqpclient.DLQPublisher

	loader   *waterfall.Loader
	registry *enrich.Registry
	res      *enrich.ResilienceManager
	orch     *enrich.Orchestrator
	pool     *worker.Pool
	replayer *worker.Replayer

	healthServer *health.Server
	log          *slog.Logger

	cancel context.CancelFunc
}

// NewApp initializes every dependency. Providers with a configured URL are
// registered automatically; additional providers can be registered on the
// returned app before Start.
func NewApp(ctx context.Context, cfg config.AppConfig) (*App, error) {
	// 1. Database and migrations
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	if err := goose.Up(db.DB.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}

	// 2. Waterfall snapshot
	loader := waterfall.NewLoader(postgres.NewWaterfallRepo(db))
	if err := loader.Load(ctx); err != nil {
		return nil, err
	}

	// 3. Redis (optional: locks and result cache)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, locks and result cache disabled", "error", err)
			redisClient = nil
		}
	}

	// 4. Broker
	broker, err := amqpclient.NewClient(ctx, cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("failed to init broker: %w", err)
	}
	producer := amqpclient.NewProducer(broker)
	dlq := amqpclient.NewDLQPublisher(broker, "enricher")

	// 5. Per-provider resilience state (one bucket + one breaker each,
	// shared by all workers)
	resCfg := enrich.ResilienceConfig{
		RateLimits: make(map[domain.ProviderID]ratelimit.Config),
		Breakers:   make(map[domain.ProviderID]breaker.Config),
	}
	registry := enrich.NewRegistry()
	for _, pc := range cfg.Providers {
		resCfg.RateLimits[pc.Name] = pc.RateLimit
		resCfg.Breakers[pc.Name] = pc.Breaker
		if pc.URL != "" {
			registry.Register(enrich.NewHTTPProvider(pc.Name, pc.URL, cfg.Enrichment.CallTimeout))
		}
	}
	res := enrich.NewResilienceManager(resCfg)

	// 6. Orchestrator and worker pool
	var sink enrich.ResultSink
	var skip enrich.SkipFunc
	if redisClient != nil {
		cacheSink := enrich.NewCacheSink(redisClient, cfg.Enrichment.ResultTTL)
		sink = cacheSink
		skip = cacheSink.Skip
	}

	orch := enrich.NewOrchestrator(enrich.Config{
		CallTimeout:    cfg.Enrichment.CallTimeout,
		SnapshotMaxAge: cfg.Enrichment.SnapshotMaxAge,
		Retry:          cfg.Enrichment.Retry,
	}, loader, registry, res, sink, skip)

	var locker worker.TaskLocker
	if redisClient != nil {
		locker = redisClient
	}
	pool := worker.NewPool(worker.Config{
		Workers:        cfg.Enrichment.Workers,
		MaxTaskRetries: cfg.Enrichment.MaxTaskRetries,
		LockTTL:        cfg.Enrichment.LockTTL,
	}, orch, producer, dlq, locker)

	var replayer *worker.Replayer
	if cfg.Enrichment.ReplayEnabled {
		replayer = worker.NewReplayer(producer)
	}

	// 7. Health
	pingers := map[string]health.Pinger{"database": db}
	if redisClient != nil {
		pingers["redis"] = redisClient
	}
	healthServer := health.NewServer(health.NewMonitor(res, pingers), cfg.Server.Port)

	return &App{
		cfg:          cfg,
		db:           db,
		redisClient:  redisClient,
		broker:       broker,
		producer:     producer,
		dlq:          dlq,
		loader:       loader,
		registry:     registry,
		res:          res,
		orch:         orch,
		pool:         pool,
		replayer:     replayer,
		healthServer: healthServer,
		log:          slog.Default(),
	}, nil
}

// Registry exposes the provider registry for programmatic registration.
func (a *App) Registry() *enrich.Registry {
	return a.registry
}

// Producer exposes the task producer for ingestion collaborators.
func (a *App) Producer() *amqpclient.Producer {
	return a.producer
}

// Start launches all background components.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// Health server
	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	// Background config refresh and metrics collectors
	go a.loader.Refresh(ctx, a.cfg.Enrichment.SnapshotMaxAge)
	go a.broker.CollectQueueDepths(ctx, 30*time.Second)
	a.db.StartMetricsCollector(ctx)

	// Main consumer pool
	if err := a.startPool(ctx, amqpclient.QueueTasks, 0); err != nil {
		return err
	}

	// Backlog consumer: prefetch 1 so bulk work trickles in behind the
	// main queue instead of competing with it.
	if a.cfg.Enrichment.BacklogEnabled {
		if err := a.startPool(ctx, amqpclient.QueueBacklog, 1); err != nil {
			return err
		}
	}

	// DLQ replay worker
	if a.replayer != nil {
		consumer := amqpclient.NewConsumer(a.broker, amqpclient.QueueDLQRetry, 1)
		deliveries, err := consumer.Consume(ctx)
		if err != nil {
			return fmt.Errorf("failed to consume replay queue: %w", err)
		}
		go func() {
			if err := a.replayer.Run(ctx, deliveries); err != nil && ctx.Err() == nil {
				a.log.Error("Replay worker failed", "error", err)
			}
		}()
		a.log.Info("Replay worker started")
	}

	a.log.Info("Enricher started",
		"workers", a.cfg.Enrichment.Workers,
		"providers", len(a.registry.Names()),
		"fields", len(a.loader.Snapshot().Fields()))
	return nil
}

func (a *App) startPool(ctx context.Context, queue string, prefetch int) error {
	consumer := amqpclient.NewConsumer(a.broker, queue, prefetch)
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}
	go func() {
		if err := a.pool.Run(ctx, deliveries); err != nil && ctx.Err() == nil {
			a.log.Error("Worker pool stopped", "queue", queue, "error", err)
		}
	}()
	a.log.Info("Consumer pool started", "queue", queue)
	return nil
}

// Stop shuts everything down in dependency order.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping enricher...")

	if a.cancel != nil {
		a.cancel()
	}

	if err := a.healthServer.Stop(ctx); err != nil {
		a.log.Warn("Failed to stop health server", "error", err)
	}

	if err := a.broker.Close(); err != nil {
		a.log.Warn("Failed to close broker connection", "error", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}

	if err := a.db.Close(); err != nil {
		a.log.Warn("Failed to close database", "error", err)
	}

	a.log.Info("Enricher stopped")
	return nil
}
