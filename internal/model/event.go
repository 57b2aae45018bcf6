package model

import (
	"time"

	"github.com/google/uuid"
)

// Domain event types raised by the aggregates
const (
	EventAppointmentBooked      = "appointment.booked"
	EventAppointmentUpdated     = "appointment.updated"
	EventAppointmentRescheduled = "appointment.rescheduled"
	EventAppointmentCancelled   = "appointment.cancelled"
	EventAppointmentCompleted   = "appointment.completed"
	EventReviewAdded            = "review.added"
	EventReviewUpdated          = "review.updated"
	EventReviewRemoved          = "review.removed"
	EventPrescriptionsChanged   = "prescriptions.changed"
	EventScheduleAdded          = "doctor.schedule_added"
	EventScheduleRemoved        = "doctor.schedule_removed"
	EventDoctorRatingChanged    = "doctor.rating_changed"
)

// Event is a fact recorded by an aggregate mutation. Events are drained by
// the unit of work on commit and written to the outbox.
type Event struct {
	ID          uuid.UUID              `json:"id"`
	Type        string                 `json:"type"`
	AggregateID uuid.UUID              `json:"aggregate_id"`
	Payload     map[string]interface{} `json:"payload"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

func newEvent(eventType string, aggregateID uuid.UUID, now time.Time, payload map[string]interface{}) Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  now.UTC(),
	}
}
