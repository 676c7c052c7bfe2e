package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/pkg/logger"
)

// Message is the envelope every broker carries.
type Message struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Encode wraps an outbox row into the wire envelope.
func Encode(event *model.OutboxEvent) ([]byte, error) {
	b, err := json.Marshal(Message{
		ID:         event.ID,
		Type:       event.EventType,
		Payload:    event.Payload,
		OccurredAt: event.CreatedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// Consume decodes every payload on topic and hands it to handler. Bad
// payloads and handler errors are logged and skipped. It returns when the
// subscription channel closes.
func Consume(ctx context.Context, sub Subscriber, topic string, log *logger.Logger, handler func(*Message) error) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	for raw := range msgs {
		msg, err := Decode(raw)
		if err != nil {
			log.Error(err, "dropping undecodable message", "topic", topic)
			continue
		}
		if err := handler(msg); err != nil {
			log.Error(err, "message handler failed", "topic", topic, "message_id", msg.ID.String())
		}
	}
	return nil
}

// LogBroker records events in the log instead of delivering them. It is used
// when no broker is configured.
type LogBroker struct {
	log *logger.Logger
}

func NewLogBroker(log *logger.Logger) *LogBroker {
	return &LogBroker{log: log}
}

func (b *LogBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.log.Info("event published", "topic", topic, "bytes", len(payload))
	return nil
}

func (b *LogBroker) Close() error { return nil }
