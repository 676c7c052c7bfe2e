package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository"
	"github.com/jwalitptl/rx-api/pkg/circuitbreaker"
	"github.com/jwalitptl/rx-api/pkg/logger"
	"github.com/jwalitptl/rx-api/pkg/messaging"
	"github.com/jwalitptl/rx-api/pkg/metrics"
)

const (
	defaultMaxDeliveries   = 10
	defaultRedeliveryDelay = 5 * time.Second
	maxRedeliveryDelay     = 10 * time.Minute
	defaultStaleAfter      = 5 * time.Minute
)

// OutboxProcessorConfig tunes one processor. RetryAttempts and RetryDelay
// govern the in-poll publish loop; MaxDeliveries and RedeliveryDelay govern
// how often a row is rescheduled across polls before it is marked failed.
type OutboxProcessorConfig struct {
	BatchSize       int
	PollInterval    time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	MaxDeliveries   int
	RedeliveryDelay time.Duration
	StaleAfter      time.Duration
}

func (c OutboxProcessorConfig) withDefaults() OutboxProcessorConfig {
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = defaultMaxDeliveries
	}
	if c.RedeliveryDelay <= 0 {
		c.RedeliveryDelay = defaultRedeliveryDelay
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	return c
}

// redeliveryDelay doubles per failed delivery, capped.
func (c OutboxProcessorConfig) redeliveryDelay(failures int) time.Duration {
	d := c.RedeliveryDelay
	for i := 0; i < failures && d < maxRedeliveryDelay; i++ {
		d *= 2
	}
	if d > maxRedeliveryDelay {
		d = maxRedeliveryDelay
	}
	return d
}

func (c OutboxProcessorConfig) validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.New("BatchSize must be greater than 0")
	case c.PollInterval <= 0:
		return errors.New("PollInterval must be greater than 0")
	case c.RetryAttempts <= 0:
		return errors.New("RetryAttempts must be greater than 0")
	case c.RetryDelay < 0:
		return errors.New("RetryDelay must not be negative")
	}
	return nil
}

// OutboxProcessor drains prescription refresh events to the broker.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	breaker *circuitbreaker.CircuitBreaker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	breaker *circuitbreaker.CircuitBreaker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) (*OutboxProcessor, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		breaker: breaker,
		config:  config.withDefaults(),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Start polls until ctx is done.
func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("starting outbox processor", "batch_size", p.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "failed to process events")
			}
		}
	}
}

// ProcessBatch claims one batch and publishes it. It returns how many events
// were delivered.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	events, err := p.repo.ClaimPendingEvents(ctx, p.config.BatchSize, p.config.StaleAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}

	delivered := 0
	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	started := time.Now()

	payload, err := messaging.Encode(event)
	if err == nil {
		err = p.publish(ctx, event.EventType, payload)
	}
	p.metrics.ObserveOutbox(event.EventType, started, err)

	if err != nil {
		p.reschedule(ctx, event, err)
		return err
	}

	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// reschedule puts event back for a later poll, or parks it as failed once it
// has used its deliveries.
func (p *OutboxProcessor) reschedule(ctx context.Context, event *model.OutboxEvent, cause error) {
	if event.RetryCount+1 >= p.config.MaxDeliveries {
		if err := p.repo.MarkFailed(ctx, event.ID, cause.Error()); err != nil {
			p.logger.Error(err, "failed to mark event failed", "event_id", event.ID.String())
		}
		return
	}
	retryAt := p.now().Add(p.config.redeliveryDelay(event.RetryCount))
	if err := p.repo.MarkRetry(ctx, event.ID, cause.Error(), retryAt); err != nil {
		p.logger.Error(err, "failed to schedule event retry", "event_id", event.ID.String())
	}
}

func (p *OutboxProcessor) publish(ctx context.Context, topic string, payload []byte) error {
	return retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func(attempt int) error {
		if attempt > 0 {
			p.metrics.ObserveRetry(topic)
		}
		return p.breaker.Execute(func() error {
			return p.broker.Publish(ctx, topic, payload)
		})
	})
}

// retry stops early when the breaker is open or ctx is done.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func(attempt int) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return err
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
