package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Message is the envelope published for every outbox event
type Message struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Publisher routes outbox events onto one channel per event type
type Publisher struct {
	broker Broker
	prefix string
}

func NewPublisher(broker Broker, channelPrefix string) *Publisher {
	return &Publisher{broker: broker, prefix: channelPrefix}
}

// Channel returns the channel events of eventType are published on,
// e.g. "clinic.appointment.booked"
func (p *Publisher) Channel(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return strings.TrimSuffix(p.prefix, ".") + "." + eventType
}

func (p *Publisher) PublishEvent(ctx context.Context, e model.OutboxEvent) error {
	body, err := json.Marshal(Message{
		ID:          e.ID,
		Type:        e.EventType,
		AggregateID: e.AggregateID,
		OccurredAt:  e.CreatedAt,
		Payload:     e.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
	}
	return p.broker.Publish(ctx, p.Channel(e.EventType), body)
}
