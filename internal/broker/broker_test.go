package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-api/internal/config"
	"github.com/jwalitptl/rx-api/pkg/logger"
	"github.com/jwalitptl/rx-api/pkg/messaging"
)

func TestNewLogBroker(t *testing.T) {
	b, err := New(context.Background(), config.BrokerConfig{Driver: config.BrokerNone}, config.RedisConfig{}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &messaging.LogBroker{}, b)
	assert.NoError(t, b.Publish(context.Background(), "prescription.created", []byte(`{}`)))
	assert.NoError(t, b.Close())
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.BrokerConfig{Driver: "kafka"}, config.RedisConfig{}, logger.Nop())
	assert.EqualError(t, err, `unknown broker driver "kafka"`)
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := New(context.Background(), config.BrokerConfig{Driver: config.BrokerRedis}, config.RedisConfig{URL: "not a url"}, logger.Nop())
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestRedisConfig(t *testing.T) {
	c := RedisConfig(config.RedisConfig{URL: "redis://cache:6379/1", PoolSize: 4})
	assert.Equal(t, "redis://cache:6379/1", c.URL)
	assert.Equal(t, 4, c.PoolSize)
}
