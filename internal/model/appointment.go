package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Statuses accepted from older clients and folded into the canonical set.
const (
	legacyStatusPendingConfirmation = "pending_confirmation"
	legacyStatusRejected            = "rejected"

	CancelReasonRejected = "rejected"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusCompleted, AppointmentStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed
func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentStatusCompleted || s == AppointmentStatusCancelled
}

// ParseAppointmentStatus accepts the canonical statuses plus the legacy
// pending_confirmation and rejected values. Rejected maps to cancelled and
// carries a default cancel reason.
func ParseAppointmentStatus(s string) (AppointmentStatus, string, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case legacyStatusPendingConfirmation:
		return AppointmentStatusScheduled, "", nil
	case legacyStatusRejected:
		return AppointmentStatusCancelled, CancelReasonRejected, nil
	default:
		status := AppointmentStatus(v)
		if !status.Valid() {
			return "", "", apperrors.Validationf("unknown appointment status %q", s)
		}
		return status, "", nil
	}
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusWaived   PaymentStatus = "waived"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusRefunded, PaymentStatusWaived:
		return true
	}
	return false
}

// Outcome records what happened at a completed appointment
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeAttended Outcome = "attended"
	OutcomeNoShow   Outcome = "no_show"
)

func (o Outcome) Valid() bool {
	return o == OutcomeAttended || o == OutcomeNoShow
}

// Appointment is the booking aggregate. It owns at most one Review and a set
// of Prescription lines keyed by medicine id. All mutation goes through the
// named methods below.
type Appointment struct {
	id            uuid.UUID
	patientID     uuid.UUID
	doctorID      uuid.UUID
	diseaseID     *uuid.UUID
	slot          TimeRange
	status        AppointmentStatus
	fee           int64
	paymentStatus PaymentStatus
	notes         string
	patientNotes  string
	outcome       Outcome
	cancelReason  string
	createdAt     time.Time
	updatedAt     time.Time

	review       *Review
	reviewLoaded bool

	prescriptions       map[uuid.UUID]Prescription
	prescriptionsLoaded bool

	events []Event
}

// NewAppointmentParams carries the inputs to book an appointment
type NewAppointmentParams struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	DiseaseID *uuid.UUID
	Start     time.Time
	End       time.Time
	Fee       int64
	Notes     string
}

// NewAppointment validates the booking and returns a Scheduled appointment.
// Slot availability is checked by the caller against the store.
func NewAppointment(p NewAppointmentParams, now time.Time) (*Appointment, error) {
	if p.PatientID == uuid.Nil {
		return nil, apperrors.Validation("patient id is required")
	}
	if p.DoctorID == uuid.Nil {
		return nil, apperrors.Validation("doctor id is required")
	}
	slot, err := NewTimeRange(p.Start, p.End)
	if err != nil {
		return nil, err
	}
	if !slot.Start.After(now) {
		return nil, apperrors.Validation("appointment must start in the future")
	}
	if p.Fee < 0 {
		return nil, apperrors.Validation("fee cannot be negative")
	}

	now = now.UTC()
	a := &Appointment{
		id:                  uuid.New(),
		patientID:           p.PatientID,
		doctorID:            p.DoctorID,
		diseaseID:           copyUUID(p.DiseaseID),
		slot:                slot,
		status:              AppointmentStatusScheduled,
		fee:                 p.Fee,
		paymentStatus:       PaymentStatusPending,
		notes:               p.Notes,
		createdAt:           now,
		updatedAt:           now,
		reviewLoaded:        true,
		prescriptions:       map[uuid.UUID]Prescription{},
		prescriptionsLoaded: true,
	}
	a.raise(EventAppointmentBooked, now, map[string]interface{}{
		"patient_id": a.patientID.String(),
		"doctor_id":  a.doctorID.String(),
		"start":      slot.Start,
		"end":        slot.End,
		"fee":        a.fee,
	})
	return a, nil
}

func (a *Appointment) ID() uuid.UUID                { return a.id }
func (a *Appointment) PatientID() uuid.UUID         { return a.patientID }
func (a *Appointment) DoctorID() uuid.UUID          { return a.doctorID }
func (a *Appointment) DiseaseID() *uuid.UUID        { return copyUUID(a.diseaseID) }
func (a *Appointment) Slot() TimeRange              { return a.slot }
func (a *Appointment) Status() AppointmentStatus    { return a.status }
func (a *Appointment) Fee() int64                   { return a.fee }
func (a *Appointment) PaymentStatus() PaymentStatus { return a.paymentStatus }
func (a *Appointment) Notes() string                { return a.notes }
func (a *Appointment) PatientNotes() string         { return a.patientNotes }
func (a *Appointment) Outcome() Outcome             { return a.outcome }
func (a *Appointment) CancelReason() string         { return a.cancelReason }
func (a *Appointment) CreatedAt() time.Time         { return a.createdAt }
func (a *Appointment) UpdatedAt() time.Time         { return a.updatedAt }

// Review returns a copy of the attached review, if any
func (a *Appointment) Review() *Review {
	if a.review == nil {
		return nil
	}
	r := *a.review
	return &r
}

// DoctorChanges is a partial update issued by the treating doctor. Nil
// fields are left untouched.
type DoctorChanges struct {
	Status        *AppointmentStatus
	CancelReason  *string
	Outcome       *Outcome
	Fee           *int64
	PaymentStatus *PaymentStatus
	Notes         *string
	Start         *time.Time
	End           *time.Time
	DiseaseID     *uuid.UUID
}

func (c DoctorChanges) reschedules() bool {
	return c.Start != nil || c.End != nil
}

// DoctorUpdate applies a partial update. Every field is validated before any
// of them is applied, so a rejected update leaves the appointment untouched.
// Field changes are applied before a status transition.
func (a *Appointment) DoctorUpdate(c DoctorChanges, now time.Time) error {
	if a.status.IsTerminal() {
		return apperrors.InvalidState(fmt.Sprintf("appointment is %s and can no longer be changed", a.status))
	}

	slot := a.slot
	if c.reschedules() {
		start, end := a.slot.Start, a.slot.End
		if c.Start != nil {
			start = *c.Start
		}
		if c.End != nil {
			end = *c.End
		}
		var err error
		if slot, err = NewTimeRange(start, end); err != nil {
			return err
		}
		if !slot.Start.Equal(a.slot.Start) && !slot.Start.After(now) {
			return apperrors.Validation("appointment must start in the future")
		}
	}
	if c.Fee != nil && *c.Fee < 0 {
		return apperrors.Validation("fee cannot be negative")
	}
	if c.PaymentStatus != nil && !c.PaymentStatus.Valid() {
		return apperrors.Validationf("unknown payment status %q", *c.PaymentStatus)
	}
	if c.Status != nil && !c.Status.Valid() {
		return apperrors.Validationf("unknown appointment status %q", *c.Status)
	}
	if c.Outcome != nil {
		if c.Status == nil || *c.Status != AppointmentStatusCompleted {
			return apperrors.Validation("outcome can only be recorded when completing an appointment")
		}
		if !c.Outcome.Valid() {
			return apperrors.Validationf("unknown outcome %q", *c.Outcome)
		}
	}

	now = now.UTC()
	changed := []string{}
	if c.Fee != nil && *c.Fee != a.fee {
		a.fee = *c.Fee
		changed = append(changed, "fee")
	}
	if c.PaymentStatus != nil && *c.PaymentStatus != a.paymentStatus {
		a.paymentStatus = *c.PaymentStatus
		changed = append(changed, "payment_status")
	}
	if c.Notes != nil && *c.Notes != a.notes {
		a.notes = *c.Notes
		changed = append(changed, "notes")
	}
	if c.DiseaseID != nil && (a.diseaseID == nil || *a.diseaseID != *c.DiseaseID) {
		a.diseaseID = copyUUID(c.DiseaseID)
		changed = append(changed, "disease_id")
	}
	if !slot.Equal(a.slot) {
		previous := a.slot
		a.slot = slot
		changed = append(changed, "slot")
		a.raise(EventAppointmentRescheduled, now, map[string]interface{}{
			"doctor_id":      a.doctorID.String(),
			"previous_start": previous.Start,
			"previous_end":   previous.End,
			"start":          slot.Start,
			"end":            slot.End,
		})
	}
	if len(changed) > 0 {
		a.updatedAt = now
		a.raise(EventAppointmentUpdated, now, map[string]interface{}{
			"doctor_id": a.doctorID.String(),
			"fields":    changed,
		})
	}

	if c.Status == nil {
		return nil
	}
	switch *c.Status {
	case AppointmentStatusCompleted:
		outcome := OutcomeAttended
		if c.Outcome != nil {
			outcome = *c.Outcome
		}
		return a.Complete(outcome, now)
	case AppointmentStatusCancelled:
		reason := ""
		if c.CancelReason != nil {
			reason = *c.CancelReason
		}
		return a.Cancel(reason, now)
	}
	return nil
}

// PatientUpdate changes the patient's free-text notes. It never changes status.
func (a *Appointment) PatientUpdate(patientNotes string, now time.Time) error {
	if a.status.IsTerminal() {
		return apperrors.InvalidState(fmt.Sprintf("appointment is %s and can no longer be changed", a.status))
	}
	if patientNotes == a.patientNotes {
		return nil
	}
	now = now.UTC()
	a.patientNotes = patientNotes
	a.updatedAt = now
	a.raise(EventAppointmentUpdated, now, map[string]interface{}{
		"doctor_id": a.doctorID.String(),
		"fields":    []string{"patient_notes"},
	})
	return nil
}

// Cancel moves the appointment to Cancelled. It is irreversible.
func (a *Appointment) Cancel(reason string, now time.Time) error {
	if a.status.IsTerminal() {
		return apperrors.InvalidState(fmt.Sprintf("cannot cancel a %s appointment", a.status))
	}
	now = now.UTC()
	a.status = AppointmentStatusCancelled
	a.cancelReason = strings.TrimSpace(reason)
	a.updatedAt = now
	a.raise(EventAppointmentCancelled, now, map[string]interface{}{
		"patient_id": a.patientID.String(),
		"doctor_id":  a.doctorID.String(),
		"reason":     a.cancelReason,
		"start":      a.slot.Start,
	})
	return nil
}

// Complete moves a Scheduled appointment to Completed with the given outcome
func (a *Appointment) Complete(outcome Outcome, now time.Time) error {
	if a.status != AppointmentStatusScheduled {
		return apperrors.InvalidState(fmt.Sprintf("only scheduled appointments can be completed, appointment is %s", a.status))
	}
	if outcome == OutcomeNone {
		outcome = OutcomeAttended
	}
	if !outcome.Valid() {
		return apperrors.Validationf("unknown outcome %q", outcome)
	}
	now = now.UTC()
	a.status = AppointmentStatusCompleted
	a.outcome = outcome
	a.updatedAt = now
	a.raise(EventAppointmentCompleted, now, map[string]interface{}{
		"patient_id": a.patientID.String(),
		"doctor_id":  a.doctorID.String(),
		"outcome":    string(outcome),
	})
	return nil
}

// PullEvents returns and clears the pending domain events
func (a *Appointment) PullEvents() []Event {
	events := a.events
	a.events = nil
	return events
}

func (a *Appointment) raise(eventType string, now time.Time, payload map[string]interface{}) {
	a.events = append(a.events, newEvent(eventType, a.id, now, payload))
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
