package repository

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const (
	TableAppointments    = "appointments"
	TableReviews         = "reviews"
	TablePrescriptions   = "prescriptions"
	TableDoctors         = "doctors"
	TableDoctorSchedules = "doctor_schedules"
)

type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Op is one row level write. Row holds the model record for Table:
// model.AppointmentRecord, model.Review, model.Prescription,
// model.DoctorRecord or model.DoctorSchedule.
type Op struct {
	Kind  OpKind
	Table string
	Row   interface{}
}

// DiffAppointment computes the writes turning before into after. A nil
// before means the aggregate is new. Child collections are only compared
// when they were loaded on both sides.
func DiffAppointment(before *model.AppointmentSnapshot, after model.AppointmentSnapshot) []Op {
	var ops []Op
	if before == nil {
		ops = append(ops, Op{OpInsert, TableAppointments, after.Appointment})
		if after.Review != nil {
			ops = append(ops, Op{OpInsert, TableReviews, *after.Review})
		}
		for _, p := range after.Prescriptions {
			ops = append(ops, Op{OpInsert, TablePrescriptions, p})
		}
		return ops
	}

	if before.Appointment != after.Appointment {
		ops = append(ops, Op{OpUpdate, TableAppointments, after.Appointment})
	}

	if before.ReviewLoaded && after.ReviewLoaded {
		ops = append(ops, diffReview(before.Review, after.Review)...)
	}

	if before.PrescriptionsLoaded && after.PrescriptionsLoaded {
		old := make(map[uuid.UUID]model.Prescription, len(before.Prescriptions))
		for _, p := range before.Prescriptions {
			old[p.MedicineID] = p
		}
		current := make(map[uuid.UUID]struct{}, len(after.Prescriptions))
		for _, p := range after.Prescriptions {
			current[p.MedicineID] = struct{}{}
		}
		for _, p := range before.Prescriptions {
			if _, ok := current[p.MedicineID]; !ok {
				ops = append(ops, Op{OpDelete, TablePrescriptions, p})
			}
		}
		for _, p := range after.Prescriptions {
			prev, ok := old[p.MedicineID]
			switch {
			case !ok:
				ops = append(ops, Op{OpInsert, TablePrescriptions, p})
			case prev != p:
				ops = append(ops, Op{OpUpdate, TablePrescriptions, p})
			}
		}
	}
	return ops
}

func diffReview(before, after *model.Review) []Op {
	switch {
	case before == nil && after == nil:
		return nil
	case before == nil:
		return []Op{{OpInsert, TableReviews, *after}}
	case after == nil:
		return []Op{{OpDelete, TableReviews, *before}}
	case before.ID != after.ID:
		// removed and re-added within one unit of work
		return []Op{{OpDelete, TableReviews, *before}, {OpInsert, TableReviews, *after}}
	case *before != *after:
		return []Op{{OpUpdate, TableReviews, *after}}
	}
	return nil
}

// DiffDoctor computes the writes for a loaded doctor. Doctors are never
// inserted through a unit of work.
func DiffDoctor(before, after model.DoctorSnapshot) []Op {
	var ops []Op
	if before.Doctor != after.Doctor {
		ops = append(ops, Op{OpUpdate, TableDoctors, after.Doctor})
	}
	if !before.SchedulesLoaded || !after.SchedulesLoaded {
		return ops
	}
	old := make(map[uuid.UUID]model.DoctorSchedule, len(before.Schedules))
	for _, s := range before.Schedules {
		old[s.ID] = s
	}
	current := make(map[uuid.UUID]struct{}, len(after.Schedules))
	for _, s := range after.Schedules {
		current[s.ID] = struct{}{}
	}
	for _, s := range before.Schedules {
		if _, ok := current[s.ID]; !ok {
			ops = append(ops, Op{OpDelete, TableDoctorSchedules, s})
		}
	}
	for _, s := range after.Schedules {
		prev, ok := old[s.ID]
		switch {
		case !ok:
			ops = append(ops, Op{OpInsert, TableDoctorSchedules, s})
		case prev != s:
			ops = append(ops, Op{OpUpdate, TableDoctorSchedules, s})
		}
	}
	return ops
}

type trackedAppointment struct {
	agg      *model.Appointment
	original *model.AppointmentSnapshot
}

type trackedDoctor struct {
	agg      *model.Doctor
	original model.DoctorSnapshot
}

// Tracker is the identity map and change tracker shared by the store
// implementations
type Tracker struct {
	appointments map[uuid.UUID]*trackedAppointment
	doctors      map[uuid.UUID]*trackedDoctor
	order        []uuid.UUID
}

func NewTracker() *Tracker {
	return &Tracker{
		appointments: map[uuid.UUID]*trackedAppointment{},
		doctors:      map[uuid.UUID]*trackedDoctor{},
	}
}

// Appointment returns the tracked instance for id, if any
func (t *Tracker) Appointment(id uuid.UUID) (*model.Appointment, bool) {
	ta, ok := t.appointments[id]
	if !ok {
		return nil, false
	}
	return ta.agg, true
}

func (t *Tracker) Doctor(id uuid.UUID) (*model.Doctor, bool) {
	td, ok := t.doctors[id]
	if !ok {
		return nil, false
	}
	return td.agg, true
}

// AttachAppointment starts tracking a loaded appointment
func (t *Tracker) AttachAppointment(a *model.Appointment) *model.Appointment {
	if existing, ok := t.appointments[a.ID()]; ok {
		return existing.agg
	}
	snap := a.Snapshot()
	t.appointments[a.ID()] = &trackedAppointment{agg: a, original: &snap}
	t.order = append(t.order, a.ID())
	return a
}

// AddAppointment tracks a new appointment to be inserted
func (t *Tracker) AddAppointment(a *model.Appointment) error {
	if _, ok := t.appointments[a.ID()]; ok {
		return apperrors.AlreadyExists(fmt.Sprintf("appointment %s is already tracked", a.ID()))
	}
	t.appointments[a.ID()] = &trackedAppointment{agg: a}
	t.order = append(t.order, a.ID())
	return nil
}

func (t *Tracker) AttachDoctor(d *model.Doctor) *model.Doctor {
	if existing, ok := t.doctors[d.ID()]; ok {
		return existing.agg
	}
	t.doctors[d.ID()] = &trackedDoctor{agg: d, original: d.Snapshot()}
	t.order = append(t.order, d.ID())
	return d
}

// Pending holds everything a commit must write
type Pending struct {
	Ops    []Op
	Events []model.Event
	accept func()
}

// Accept marks the pending changes as persisted so a later SaveChanges on
// the same unit of work only writes what changed since
func (p Pending) Accept() {
	if p.accept != nil {
		p.accept()
	}
}

// Pending collects the row writes and drains the domain events of every
// tracked aggregate, in the order they were tracked. Doctors are written
// before appointments.
func (t *Tracker) Pending() Pending {
	var doctorOps, apptOps []Op
	var events []model.Event
	var afterApp = map[uuid.UUID]model.AppointmentSnapshot{}
	var afterDoc = map[uuid.UUID]model.DoctorSnapshot{}

	for _, id := range t.order {
		if td, ok := t.doctors[id]; ok {
			snap := td.agg.Snapshot()
			afterDoc[id] = snap
			doctorOps = append(doctorOps, DiffDoctor(td.original, snap)...)
			events = append(events, td.agg.PullEvents()...)
		}
		if ta, ok := t.appointments[id]; ok {
			snap := ta.agg.Snapshot()
			afterApp[id] = snap
			apptOps = append(apptOps, DiffAppointment(ta.original, snap)...)
			events = append(events, ta.agg.PullEvents()...)
		}
	}

	return Pending{
		Ops:    append(doctorOps, apptOps...),
		Events: events,
		accept: func() {
			for id, snap := range afterApp {
				s := snap
				t.appointments[id].original = &s
			}
			for id, snap := range afterDoc {
				t.doctors[id].original = snap
			}
		},
	}
}
