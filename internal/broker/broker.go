// Package broker selects the outbox destination named by broker.driver.
package broker

import (
	"context"
	"fmt"

	"github.com/jwalitptl/rx-api/internal/config"
	"github.com/jwalitptl/rx-api/pkg/logger"
	"github.com/jwalitptl/rx-api/pkg/messaging"
	"github.com/jwalitptl/rx-api/pkg/messaging/rabbitmq"
	redisbroker "github.com/jwalitptl/rx-api/pkg/messaging/redis"
)

func RedisConfig(cfg config.RedisConfig) redisbroker.Config {
	return redisbroker.Config{
		URL:          cfg.URL,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
}

// New connects the configured broker. Driver "none" logs events instead of
// publishing them.
func New(ctx context.Context, cfg config.BrokerConfig, redisCfg config.RedisConfig, log *logger.Logger) (messaging.Broker, error) {
	switch cfg.Driver {
	case config.BrokerRedis:
		client, err := redisbroker.NewClient(ctx, RedisConfig(redisCfg))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisbroker.NewRedisBroker(client, log), nil
	case config.BrokerRabbitMQ:
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.Exchange, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		return publisher, nil
	case config.BrokerNone, "":
		return messaging.NewLogBroker(log), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}
