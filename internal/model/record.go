package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// AppointmentRecord is the row shape of an appointment. It is comparable so
// a unit of work can detect changes with ==.
type AppointmentRecord struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	PatientID     uuid.UUID         `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	DiseaseID     uuid.NullUUID     `db:"disease_id" json:"disease_id"`
	StartTime     time.Time         `db:"start_time" json:"start_time"`
	EndTime       time.Time         `db:"end_time" json:"end_time"`
	Status        AppointmentStatus `db:"status" json:"status"`
	Fee           int64             `db:"fee" json:"fee"`
	PaymentStatus PaymentStatus     `db:"payment_status" json:"payment_status"`
	Notes         string            `db:"notes" json:"notes"`
	PatientNotes  string            `db:"patient_notes" json:"patient_notes"`
	Outcome       Outcome           `db:"outcome" json:"outcome,omitempty"`
	CancelReason  string            `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// AppointmentSnapshot is the full persisted state of the aggregate. The
// Loaded flags record which child collections were read, so a unit of work
// never mistakes an unloaded collection for an emptied one.
type AppointmentSnapshot struct {
	Appointment         AppointmentRecord
	Review              *Review
	ReviewLoaded        bool
	Prescriptions       []Prescription
	PrescriptionsLoaded bool
}

func (a *Appointment) Snapshot() AppointmentSnapshot {
	rec := AppointmentRecord{
		ID:            a.id,
		PatientID:     a.patientID,
		DoctorID:      a.doctorID,
		StartTime:     a.slot.Start,
		EndTime:       a.slot.End,
		Status:        a.status,
		Fee:           a.fee,
		PaymentStatus: a.paymentStatus,
		Notes:         a.notes,
		PatientNotes:  a.patientNotes,
		Outcome:       a.outcome,
		CancelReason:  a.cancelReason,
		CreatedAt:     a.createdAt,
		UpdatedAt:     a.updatedAt,
	}
	if a.diseaseID != nil {
		rec.DiseaseID = uuid.NullUUID{UUID: *a.diseaseID, Valid: true}
	}
	snap := AppointmentSnapshot{
		Appointment:         rec,
		Review:              a.Review(),
		ReviewLoaded:        a.reviewLoaded,
		PrescriptionsLoaded: a.prescriptionsLoaded,
	}
	if a.prescriptionsLoaded {
		snap.Prescriptions = a.Prescriptions()
	}
	return snap
}

// RestoreAppointment rebuilds the aggregate from stored state
func RestoreAppointment(s AppointmentSnapshot) *Appointment {
	r := s.Appointment
	a := &Appointment{
		id:                  r.ID,
		patientID:           r.PatientID,
		doctorID:            r.DoctorID,
		slot:                TimeRange{Start: r.StartTime.UTC(), End: r.EndTime.UTC()},
		status:              r.Status,
		fee:                 r.Fee,
		paymentStatus:       r.PaymentStatus,
		notes:               r.Notes,
		patientNotes:        r.PatientNotes,
		outcome:             r.Outcome,
		cancelReason:        r.CancelReason,
		createdAt:           r.CreatedAt.UTC(),
		updatedAt:           r.UpdatedAt.UTC(),
		reviewLoaded:        s.ReviewLoaded,
		prescriptionsLoaded: s.PrescriptionsLoaded,
	}
	if r.DiseaseID.Valid {
		id := r.DiseaseID.UUID
		a.diseaseID = &id
	}
	if s.ReviewLoaded && s.Review != nil {
		review := *s.Review
		a.review = &review
	}
	if s.PrescriptionsLoaded {
		a.prescriptions = make(map[uuid.UUID]Prescription, len(s.Prescriptions))
		for _, p := range s.Prescriptions {
			a.prescriptions[p.MedicineID] = p
		}
	}
	return a
}

// DoctorRecord is the row shape of a doctor
type DoctorRecord struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ExperienceYears int       `db:"experience_years" json:"experience_years"`
	ConsultationFee int64     `db:"consultation_fee" json:"consultation_fee"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	Rating          float64   `db:"rating" json:"rating"`
	RatingTotal     int       `db:"rating_total" json:"-"`
	ReviewCount     int       `db:"review_count" json:"review_count"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// DoctorSnapshot is the persisted state of the doctor aggregate. Specialties
// are read only in this service and never diffed.
type DoctorSnapshot struct {
	Doctor          DoctorRecord
	Specialties     []string
	Schedules       []DoctorSchedule
	SchedulesLoaded bool
}

func (d *Doctor) Snapshot() DoctorSnapshot {
	snap := DoctorSnapshot{
		Doctor: DoctorRecord{
			ID:              d.id,
			ExperienceYears: d.experienceYears,
			ConsultationFee: d.consultationFee,
			IsActive:        d.isActive,
			Rating:          d.Rating(),
			RatingTotal:     d.ratingTotal,
			ReviewCount:     d.reviewCount,
			CreatedAt:       d.createdAt,
			UpdatedAt:       d.updatedAt,
		},
		Specialties:     d.Specialties(),
		SchedulesLoaded: d.schedulesLoaded,
	}
	if d.schedulesLoaded {
		snap.Schedules = d.Schedules()
	}
	return snap
}

// RestoreDoctor rebuilds the aggregate. Rows written before rating_total
// existed are recovered from rating * review_count.
func RestoreDoctor(s DoctorSnapshot) *Doctor {
	r := s.Doctor
	total := r.RatingTotal
	if r.ReviewCount > 0 && total == 0 {
		total = int(math.Round(r.Rating * float64(r.ReviewCount)))
	}
	if r.ReviewCount <= 0 {
		total = 0
	}
	d := &Doctor{
		id:              r.ID,
		experienceYears: r.ExperienceYears,
		consultationFee: r.ConsultationFee,
		isActive:        r.IsActive,
		ratingTotal:     total,
		reviewCount:     max(r.ReviewCount, 0),
		specialties:     append([]string(nil), s.Specialties...),
		createdAt:       r.CreatedAt.UTC(),
		updatedAt:       r.UpdatedAt.UTC(),
		schedulesLoaded: s.SchedulesLoaded,
	}
	if s.SchedulesLoaded {
		d.schedules = append([]DoctorSchedule(nil), s.Schedules...)
	}
	return d
}
