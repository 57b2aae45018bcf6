package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/pkg/circuitbreaker"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

// EventPublisher delivers one outbox event to the message broker
type EventPublisher interface {
	PublishEvent(ctx context.Context, e model.OutboxEvent) error
}

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// RetryAttempts is the number of in-process publish attempts per claim
	RetryAttempts int
	RetryDelay    time.Duration
	// Lease is how long a claimed event stays hidden from other relays
	Lease time.Duration
	// MaxDeliveries failed claims park an event; zero retries forever
	MaxDeliveries int
	// Retention is how long processed events are kept; zero keeps them
	Retention       time.Duration
	CleanupInterval time.Duration
	Now             func() time.Time
}

func (c OutboxProcessorConfig) validate() error {
	if c.BatchSize <= 0 {
		return errors.New("BatchSize must be greater than 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("PollInterval must be greater than 0")
	}
	if c.RetryAttempts <= 0 {
		return errors.New("RetryAttempts must be greater than 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("RetryDelay cannot be negative")
	}
	if c.Lease <= 0 {
		return errors.New("Lease must be greater than 0")
	}
	return nil
}

type OutboxProcessor struct {
	repo      repository.OutboxRepository
	publisher EventPublisher
	config    OutboxProcessorConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	publisher EventPublisher,
	config OutboxProcessorConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) (*OutboxProcessor, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid outbox processor config: %w", err)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OutboxProcessor{
		repo:      repo,
		publisher: publisher,
		config:    config,
		logger:    log,
		metrics:   m,
	}, nil
}

// Start polls until ctx is cancelled
func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(p.config.CleanupInterval)
	defer cleanup.Stop()

	p.logger.Info("Starting outbox processor",
		"batch_size", p.config.BatchSize, "poll_interval", p.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		case <-cleanup.C:
			if _, err := p.Cleanup(ctx); err != nil {
				p.logger.Error(err, "Failed to delete processed events")
			}
		}
	}
}

// ProcessBatch claims one batch of due events and publishes them in order.
// It returns the number of events published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { p.metrics.ObserveOutboxBatch(time.Since(start).Seconds()) }()

	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize, p.config.Lease)
	p.metrics.IncDatabase("claim_outbox", err)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}

	published := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType,
				"retry_count", event.RetryCount)
			continue
		}
		published++
	}
	return published, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event model.OutboxEvent) error {
	retries, err := p.publish(ctx, event)
	p.metrics.ObserveOutboxEvent(event.EventType, err, retries)

	if err != nil {
		var retryAt *time.Time
		if p.config.MaxDeliveries <= 0 || event.RetryCount+1 < p.config.MaxDeliveries {
			next := p.config.Now().Add(p.backoff(event.RetryCount))
			retryAt = &next
		} else {
			p.logger.Warn("Parking outbox event after too many failed deliveries",
				"event_id", event.ID.String(), "event_type", event.EventType)
		}
		if updateErr := p.repo.MarkFailed(ctx, event.ID, err.Error(), retryAt); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update event status", "event_id", event.ID.String())
		}
		return err
	}

	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	p.logger.Debug("Published outbox event", "event_id", event.ID.String(), "event_type", event.EventType)
	return nil
}

// publish tries up to RetryAttempts times and reports how many retries it took.
// An open breaker ends the attempts at once.
func (p *OutboxProcessor) publish(ctx context.Context, event model.OutboxEvent) (int, error) {
	var err error
	for attempt := 0; attempt < p.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			case <-time.After(p.config.RetryDelay):
			}
		}
		if err = p.publisher.PublishEvent(ctx, event); err == nil {
			return attempt, nil
		}
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return attempt, err
		}
	}
	return p.config.RetryAttempts - 1, err
}

// backoff doubles the retry delay per failed delivery, capped at 64 times
func (p *OutboxProcessor) backoff(retryCount int) time.Duration {
	base := p.config.RetryDelay
	if base <= 0 {
		base = time.Second
	}
	if retryCount > 6 {
		retryCount = 6
	}
	return base << uint(retryCount)
}

// Cleanup deletes processed events older than the retention period
func (p *OutboxProcessor) Cleanup(ctx context.Context) (int64, error) {
	if p.config.Retention <= 0 {
		return 0, nil
	}
	n, err := p.repo.DeleteProcessedBefore(ctx, p.config.Now().Add(-p.config.Retention))
	p.metrics.IncDatabase("delete_processed_outbox", err)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("Deleted processed outbox events", "count", n)
	}
	return n, nil
}
