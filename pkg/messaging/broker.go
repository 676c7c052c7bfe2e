package messaging

import (
	"context"
)

// Broker publishes encoded messages on a topic. For RabbitMQ the topic is the
// routing key; for Redis it is the channel.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Subscriber delivers raw payloads published on topic until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
}
