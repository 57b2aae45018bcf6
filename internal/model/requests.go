package model

import (
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	DoctorID  uuid.UUID  `json:"doctor_id" binding:"required"`
	DiseaseID *uuid.UUID `json:"disease_id"`
	StartTime time.Time  `json:"start_time" binding:"required,halfhour"`
	EndTime   time.Time  `json:"end_time" binding:"required,halfhour,gtfield=StartTime"`
	// Fee defaults to the doctor's consultation fee when omitted
	Fee   *int64 `json:"fee" binding:"omitempty,min=0"`
	Notes string `json:"notes" binding:"max=2000"`
}

type DoctorUpdateAppointmentRequest struct {
	Status        *string    `json:"status"`
	CancelReason  *string    `json:"cancel_reason" binding:"omitempty,max=500"`
	Outcome       *Outcome   `json:"outcome" binding:"omitempty,oneof=attended no_show"`
	Fee           *int64     `json:"fee" binding:"omitempty,min=0"`
	PaymentStatus *string    `json:"payment_status" binding:"omitempty,oneof=pending paid refunded waived"`
	Notes         *string    `json:"notes" binding:"omitempty,max=2000"`
	StartTime     *time.Time `json:"start_time" binding:"omitempty,halfhour"`
	EndTime       *time.Time `json:"end_time" binding:"omitempty,halfhour"`
	DiseaseID     *uuid.UUID `json:"disease_id"`
}

// Changes converts the request into a domain update. Legacy status values
// are mapped onto the canonical set.
func (r DoctorUpdateAppointmentRequest) Changes() (DoctorChanges, error) {
	c := DoctorChanges{
		CancelReason: r.CancelReason,
		Outcome:      r.Outcome,
		Fee:          r.Fee,
		Notes:        r.Notes,
		Start:        r.StartTime,
		End:          r.EndTime,
		DiseaseID:    r.DiseaseID,
	}
	if r.Status != nil {
		status, reason, err := ParseAppointmentStatus(*r.Status)
		if err != nil {
			return DoctorChanges{}, err
		}
		c.Status = &status
		if reason != "" && c.CancelReason == nil {
			c.CancelReason = &reason
		}
	}
	if r.PaymentStatus != nil {
		ps := PaymentStatus(*r.PaymentStatus)
		c.PaymentStatus = &ps
	}
	return c, nil
}

type PatientUpdateAppointmentRequest struct {
	PatientNotes string `json:"patient_notes" binding:"max=2000"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type CompleteAppointmentRequest struct {
	Outcome Outcome `json:"outcome" binding:"omitempty,oneof=attended no_show"`
}

type UpsertPrescriptionRequest struct {
	Lines []PrescriptionLine `json:"lines" binding:"dive"`
}

type ReviewRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

type AddScheduleRequest struct {
	DayOfWeek           *int   `json:"day_of_week" binding:"required,min=0,max=6"`
	StartTime           string `json:"start_time" binding:"required,len=5"`
	EndTime             string `json:"end_time" binding:"required,len=5"`
	SlotDurationMinutes int    `json:"slot_duration_minutes" binding:"required,min=1"`
}

// ListAppointmentsQuery is the query string accepted by the list endpoint
type ListAppointmentsQuery struct {
	DoctorID  string    `form:"doctor_id" binding:"omitempty,uuid"`
	PatientID string    `form:"patient_id" binding:"omitempty,uuid"`
	Status    string    `form:"status" binding:"omitempty,oneof=scheduled completed cancelled"`
	From      time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit     int       `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset    int       `form:"offset" binding:"omitempty,min=0"`
}

// Filters converts the query into store filters
func (q ListAppointmentsQuery) Filters() AppointmentFilters {
	f := AppointmentFilters{
		Status: AppointmentStatus(q.Status),
		From:   q.From,
		To:     q.To,
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	if id, err := uuid.Parse(q.DoctorID); err == nil {
		f.DoctorID = id
	}
	if id, err := uuid.Parse(q.PatientID); err == nil {
		f.PatientID = id
	}
	return f
}

// AppointmentFilters narrows ListAppointments. Zero values are ignored.
type AppointmentFilters struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    AppointmentStatus
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

const DefaultListLimit = 50

// AppointmentView is the read model returned by the API
type AppointmentView struct {
	AppointmentRecord
	Review        *Review        `json:"review,omitempty"`
	Prescriptions []Prescription `json:"prescriptions,omitempty"`
}

func (a *Appointment) View() AppointmentView {
	snap := a.Snapshot()
	return AppointmentView{
		AppointmentRecord: snap.Appointment,
		Review:            snap.Review,
		Prescriptions:     snap.Prescriptions,
	}
}

// DoctorView is the public doctor summary with the display rating
type DoctorView struct {
	ID              uuid.UUID        `json:"id"`
	ExperienceYears int              `json:"experience_years"`
	ConsultationFee int64            `json:"consultation_fee"`
	IsActive        bool             `json:"is_active"`
	Rating          float64          `json:"rating"`
	ReviewCount     int              `json:"review_count"`
	Specialties     []string         `json:"specialties"`
	Schedules       []DoctorSchedule `json:"schedules,omitempty"`
}

func (d *Doctor) View() DoctorView {
	return DoctorView{
		ID:              d.id,
		ExperienceYears: d.experienceYears,
		ConsultationFee: d.consultationFee,
		IsActive:        d.isActive,
		Rating:          d.DisplayRating(),
		ReviewCount:     d.reviewCount,
		Specialties:     d.Specialties(),
		Schedules:       d.Schedules(),
	}
}
