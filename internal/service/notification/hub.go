// Package notification fans prescription refresh events out to connected
// clients so their lists can be re-assembled.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/pkg/logger"
	"github.com/jwalitptl/rx-api/pkg/messaging"
)

const defaultBuffer = 16

// Topics are the refresh event types the hub consumes.
var Topics = []string{model.EventPrescriptionCreated, model.EventPrescriptionUpdated}

// Notification is one refresh signal for a listener.
type Notification struct {
	ID   uuid.UUID `json:"id"`
	Type string    `json:"type"`
	model.PrescriptionEvent
}

type listener struct {
	ch chan Notification
}

// Hub routes each event to the doctor and patient it names. A listener that
// falls behind loses notifications rather than blocking delivery.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID]map[*listener]struct{}
	closed    bool
	buffer    int
	log       *logger.Logger
}

func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		listeners: make(map[uuid.UUID]map[*listener]struct{}),
		buffer:    buffer,
		log:       log,
	}
}

// Listen registers identity for its own refresh events. The returned
// function unregisters it and closes the channel.
func (h *Hub) Listen(identity *model.Identity) (<-chan Notification, func(), error) {
	if !identity.Valid() {
		return nil, nil, fmt.Errorf("listen requires a valid identity")
	}

	l := &listener{ch: make(chan Notification, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, fmt.Errorf("hub is closed")
	}
	set, ok := h.listeners[identity.UserID]
	if !ok {
		set = make(map[*listener]struct{})
		h.listeners[identity.UserID] = set
	}
	set[l] = struct{}{}

	var once sync.Once
	return l.ch, func() {
		once.Do(func() { h.remove(identity.UserID, l) })
	}, nil
}

func (h *Hub) remove(userID uuid.UUID, l *listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.listeners[userID]
	if !ok {
		return
	}
	if _, ok := set[l]; !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(h.listeners, userID)
	}
	close(l.ch)
}

// Listeners reports how many listeners are registered.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.listeners {
		n += len(set)
	}
	return n
}

// Dispatch delivers msg to its doctor and patient. Non-prescription messages
// are ignored.
func (h *Hub) Dispatch(msg *messaging.Message) error {
	if !strings.HasPrefix(msg.Type, "prescription.") {
		return nil
	}
	var event model.PrescriptionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("failed to unmarshal prescription event: %w", err)
	}
	n := Notification{ID: msg.ID, Type: msg.Type, PrescriptionEvent: event}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(event.DoctorID, n)
	if event.PatientID != event.DoctorID {
		h.deliver(event.PatientID, n)
	}
	return nil
}

// deliver expects h.mu to be held.
func (h *Hub) deliver(userID uuid.UUID, n Notification) {
	for l := range h.listeners[userID] {
		select {
		case l.ch <- n:
		default:
			h.log.Warn("dropping notification for slow listener", "user_id", userID.String(), "type", n.Type)
		}
	}
}

// Publish lets the hub stand in for a broker when the API drains its own
// outbox and nothing else consumes the events.
func (h *Hub) Publish(_ context.Context, _ string, payload []byte) error {
	msg, err := messaging.Decode(payload)
	if err != nil {
		return err
	}
	return h.Dispatch(msg)
}

// Close unregisters every listener.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, set := range h.listeners {
		for l := range set {
			close(l.ch)
		}
	}
	h.listeners = make(map[uuid.UUID]map[*listener]struct{})
	return nil
}

// Run consumes every refresh topic from sub until the subscriptions end.
func (h *Hub) Run(ctx context.Context, sub messaging.Subscriber) error {
	errs := make(chan error, len(Topics))
	var wg sync.WaitGroup
	for _, topic := range Topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			if err := messaging.Consume(ctx, sub, topic, h.log, h.Dispatch); err != nil {
				errs <- fmt.Errorf("failed to consume %s: %w", topic, err)
			}
		}(topic)
	}
	wg.Wait()
	close(errs)
	return <-errs
}
