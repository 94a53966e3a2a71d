package config

import (
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
	amqpclient "github.com/soundgraph/enricher/internal/infra/amqp"
	"github.com/soundgraph/enricher/internal/infra/breaker"
	"github.com/soundgraph/enricher/internal/infra/ratelimit"
	redisclient "github.com/soundgraph/enricher/internal/infra/redis"
	"github.com/soundgraph/enricher/internal/infra/retry"
	"github.com/soundgraph/enricher/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Broker     amqpclient.Config  `yaml:"broker"`
	Redis      redisclient.Config `yaml:"redis"`
	Database   postgres.Config    `yaml:"database"`
	Providers  []ProviderConfig   `yaml:"providers"`
	Enrichment EnrichmentConfig   `yaml:"enrichment"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ProviderConfig holds the resilience tuning for one provider. URL points
// at the provider adapter endpoint; providers without a URL are expected to
// be registered programmatically.
type ProviderConfig struct {
	Name      domain.ProviderID `yaml:"name"`
	URL       string            `yaml:"url"`
	RateLimit ratelimit.Config  `yaml:"rate_limit"`
	Breaker   breaker.Config    `yaml:"breaker"`
}

// EnrichmentConfig tunes the orchestration core.
type EnrichmentConfig struct {
	Workers        int           `yaml:"workers"`
	MaxTaskRetries int           `yaml:"max_task_retries"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	SnapshotMaxAge time.Duration `yaml:"snapshot_max_age"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	ResultTTL      time.Duration `yaml:"result_ttl"`
	BacklogEnabled bool          `yaml:"backlog_enabled"`
	ReplayEnabled  bool          `yaml:"replay_enabled"`
	Retry          retry.Config  `yaml:"retry"`
}
