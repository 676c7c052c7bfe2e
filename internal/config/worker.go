package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// WorkerConfig configures cmd/worker. It is read from RX_WORKER_* variables,
// e.g. RX_WORKER_BATCH_SIZE or RX_WORKER_DATABASE_HOST.
type WorkerConfig struct {
	BatchSize     int           `split_words:"true" default:"50"`
	PollInterval  time.Duration `split_words:"true" default:"2s"`
	RetryAttempts int           `split_words:"true" default:"3"`
	RetryDelay    time.Duration `split_words:"true" default:"500ms"`
	LogLevel      string        `split_words:"true" default:"info"`
	LogJSON       bool          `split_words:"true" default:"true"`
	MetricsPort   int           `split_words:"true" default:"9091"`

	// Redelivery across polls after the in-poll retries are spent.
	MaxDeliveries   int           `split_words:"true" default:"10"`
	RedeliveryDelay time.Duration `split_words:"true" default:"5s"`
	StaleAfter      time.Duration `split_words:"true" default:"5m"`

	Database  DatabaseConfig  `envconfig:"DATABASE"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	Broker    BrokerConfig    `envconfig:"BROKER"`
	Telemetry TelemetryConfig `envconfig:"TELEMETRY"`
}

const WorkerEnvPrefix = "RX_WORKER"

func LoadWorkerConfig() (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := envconfig.Process(WorkerEnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Database.Driver != DriverPostgres {
		return nil, fmt.Errorf("worker requires the %s driver", DriverPostgres)
	}
	return &cfg, nil
}
