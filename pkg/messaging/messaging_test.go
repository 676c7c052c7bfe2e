package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/pkg/logger"
)

type chanSubscriber struct {
	ch  chan []byte
	err error
}

func (s *chanSubscriber) Subscribe(context.Context, string) (<-chan []byte, error) {
	return s.ch, s.err
}

func TestEncodeDecode(t *testing.T) {
	p := &model.Prescription{}
	p.ID = uuid.New()
	event, err := model.NewPrescriptionEvent(model.EventPrescriptionCreated, p, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	raw, err := Encode(event)
	require.NoError(t, err)
	msg, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, event.ID, msg.ID)
	assert.Equal(t, model.EventPrescriptionCreated, msg.Type)

	var payload model.PrescriptionEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, p.ID, payload.PrescriptionID)
}

func TestConsumeSkipsBadMessages(t *testing.T) {
	sub := &chanSubscriber{ch: make(chan []byte, 3)}
	good, err := json.Marshal(Message{ID: uuid.New(), Type: "prescription.updated"})
	require.NoError(t, err)
	sub.ch <- []byte("not json")
	sub.ch <- good
	sub.ch <- good
	close(sub.ch)

	var seen int
	err = Consume(context.Background(), sub, "prescription.updated", logger.Nop(), func(m *Message) error {
		seen++
		if seen == 1 {
			return errors.New("handler failed")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)

	failing := &chanSubscriber{err: errors.New("no connection")}
	assert.Error(t, Consume(context.Background(), failing, "x", logger.Nop(), func(*Message) error { return nil }))
}

func TestLogBroker(t *testing.T) {
	b := NewLogBroker(logger.Nop())
	assert.NoError(t, b.Publish(context.Background(), "prescription.created", []byte("{}")))
	assert.NoError(t, b.Close())
}
