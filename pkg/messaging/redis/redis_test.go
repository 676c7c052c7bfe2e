package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{URL: "http://not-redis"})
	assert.ErrorContains(t, err, "failed to parse Redis URL")
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewClient(ctx, Config{URL: "redis://127.0.0.1:1/0", MaxRetries: -1})
	assert.ErrorContains(t, err, "failed to connect to Redis")
}
