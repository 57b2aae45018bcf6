package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// state is the full data set. Commits apply to a clone and swap it in, so a
// failed commit leaves nothing behind.
type state struct {
	appointments  map[uuid.UUID]model.AppointmentRecord
	reviews       map[uuid.UUID]model.Review // by appointment id
	prescriptions map[uuid.UUID]map[uuid.UUID]model.Prescription
	doctors       map[uuid.UUID]model.DoctorRecord
	specialties   map[uuid.UUID][]string
	schedules     map[uuid.UUID]map[uuid.UUID]model.DoctorSchedule
	outbox        map[uuid.UUID]model.OutboxEvent
}

func newState() *state {
	return &state{
		appointments:  map[uuid.UUID]model.AppointmentRecord{},
		reviews:       map[uuid.UUID]model.Review{},
		prescriptions: map[uuid.UUID]map[uuid.UUID]model.Prescription{},
		doctors:       map[uuid.UUID]model.DoctorRecord{},
		specialties:   map[uuid.UUID][]string{},
		schedules:     map[uuid.UUID]map[uuid.UUID]model.DoctorSchedule{},
		outbox:        map[uuid.UUID]model.OutboxEvent{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.appointments {
		c.appointments[k] = v
	}
	for k, v := range st.reviews {
		c.reviews[k] = v
	}
	for k, lines := range st.prescriptions {
		m := make(map[uuid.UUID]model.Prescription, len(lines))
		for mk, mv := range lines {
			m[mk] = mv
		}
		c.prescriptions[k] = m
	}
	for k, v := range st.doctors {
		c.doctors[k] = v
	}
	for k, v := range st.specialties {
		c.specialties[k] = v
	}
	for k, blocks := range st.schedules {
		m := make(map[uuid.UUID]model.DoctorSchedule, len(blocks))
		for bk, bv := range blocks {
			m[bk] = bv
		}
		c.schedules[k] = m
	}
	for k, v := range st.outbox {
		c.outbox[k] = v
	}
	return c
}

// Store is an in-process implementation of repository.Store and
// repository.OutboxRepository. Booking commands are serialised per doctor
// by a keyed mutex held for the life of the unit of work.
type Store struct {
	mu    sync.RWMutex
	data  *state
	locks *keyedMutex
	now   func() time.Time
}

var (
	_ repository.Store            = (*Store)(nil)
	_ repository.OutboxRepository = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		data:  newState(),
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// WithClock overrides the clock used for outbox bookkeeping
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// SeedDoctor registers a doctor together with its schedule blocks
func (s *Store) SeedDoctor(d *model.Doctor) {
	snap := d.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.doctors[snap.Doctor.ID] = snap.Doctor
	s.data.specialties[snap.Doctor.ID] = snap.Specialties
	blocks := map[uuid.UUID]model.DoctorSchedule{}
	for _, b := range snap.Schedules {
		blocks[b.ID] = b
	}
	s.data.schedules[snap.Doctor.ID] = blocks
}

// SeedOutbox stores events as they are, bypassing any unit of work
func (s *Store) SeedOutbox(events ...model.OutboxEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.data.outbox[e.ID] = e
	}
}

// OutboxEvents returns every outbox row ordered by creation time
func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.OutboxEvent, 0, len(s.data.outbox))
	for _, e := range s.data.outbox {
		out = append(out, e)
	}
	sortOutbox(out)
	return out
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Begin(ctx context.Context) (repository.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Persistence("begin transaction", err)
	}
	return &unitOfWork{
		store:   s,
		tracker: repository.NewTracker(),
		locked:  map[uuid.UUID]bool{},
	}, nil
}

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, err := s.data.appointmentSnapshot(id, true, true)
	if err != nil {
		return nil, err
	}
	return model.RestoreAppointment(snap), nil
}

func (s *Store) ListAppointments(ctx context.Context, f model.AppointmentFilters) ([]*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []model.AppointmentRecord
	for _, r := range s.data.appointments {
		if f.PatientID != uuid.Nil && r.PatientID != f.PatientID {
			continue
		}
		if f.DoctorID != uuid.Nil && r.DoctorID != f.DoctorID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && r.StartTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !r.StartTime.Before(f.To) {
			continue
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].StartTime.Equal(recs[j].StartTime) {
			return recs[i].StartTime.Before(recs[j].StartTime)
		}
		return bytes.Compare(recs[i].ID[:], recs[j].ID[:]) < 0
	})

	limit := f.Limit
	if limit <= 0 {
		limit = model.DefaultListLimit
	}
	offset := max(f.Offset, 0)
	if offset >= len(recs) {
		return []*model.Appointment{}, nil
	}
	recs = recs[offset:]
	if len(recs) > limit {
		recs = recs[:limit]
	}

	out := make([]*model.Appointment, 0, len(recs))
	for _, r := range recs {
		snap, err := s.data.appointmentSnapshot(r.ID, true, true)
		if err != nil {
			return nil, err
		}
		out = append(out, model.RestoreAppointment(snap))
	}
	return out, nil
}

func (s *Store) ListBookedRanges(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]model.TimeRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window := model.TimeRange{Start: from, End: to}
	var out []model.TimeRange
	for _, r := range s.data.appointments {
		if r.DoctorID != doctorID || r.Status != model.AppointmentStatusScheduled {
			continue
		}
		slot := model.TimeRange{Start: r.StartTime, End: r.EndTime}
		if slot.Overlaps(window) {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Store) GetDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, err := s.data.doctorSnapshot(id, true)
	if err != nil {
		return nil, err
	}
	return model.RestoreDoctor(snap), nil
}

func (st *state) appointmentSnapshot(id uuid.UUID, withReview, withPrescriptions bool) (model.AppointmentSnapshot, error) {
	rec, ok := st.appointments[id]
	if !ok {
		return model.AppointmentSnapshot{}, apperrors.NotFound("appointment", nil)
	}
	snap := model.AppointmentSnapshot{
		Appointment:         rec,
		ReviewLoaded:        withReview,
		PrescriptionsLoaded: withPrescriptions,
	}
	if withReview {
		if r, ok := st.reviews[id]; ok {
			snap.Review = &r
		}
	}
	if withPrescriptions {
		for _, p := range st.prescriptions[id] {
			snap.Prescriptions = append(snap.Prescriptions, p)
		}
	}
	return snap, nil
}

func (st *state) doctorSnapshot(id uuid.UUID, withSchedules bool) (model.DoctorSnapshot, error) {
	rec, ok := st.doctors[id]
	if !ok {
		return model.DoctorSnapshot{}, apperrors.NotFound("doctor", nil)
	}
	snap := model.DoctorSnapshot{
		Doctor:          rec,
		Specialties:     append([]string(nil), st.specialties[id]...),
		SchedulesLoaded: withSchedules,
	}
	if withSchedules {
		for _, b := range st.schedules[id] {
			snap.Schedules = append(snap.Schedules, b)
		}
	}
	return snap, nil
}

// apply performs one row write. It enforces the same constraints the
// postgres schema does.
func (st *state) apply(op repository.Op) error {
	switch row := op.Row.(type) {
	case model.AppointmentRecord:
		_, exists := st.appointments[row.ID]
		if op.Kind == repository.OpInsert && exists {
			return apperrors.AlreadyExists(fmt.Sprintf("appointment %s already exists", row.ID))
		}
		if op.Kind != repository.OpInsert && !exists {
			return apperrors.Persistence("appointment was modified concurrently", fmt.Errorf("appointment %s not found", row.ID))
		}
		if op.Kind == repository.OpDelete {
			delete(st.appointments, row.ID)
			return nil
		}
		if row.Status == model.AppointmentStatusScheduled {
			if err := st.checkNoOverlap(row); err != nil {
				return err
			}
		}
		st.appointments[row.ID] = row
	case model.Review:
		existing, exists := st.reviews[row.AppointmentID]
		switch op.Kind {
		case repository.OpInsert:
			if exists {
				return apperrors.AlreadyExists("appointment has already been reviewed")
			}
			st.reviews[row.AppointmentID] = row
		case repository.OpUpdate:
			if !exists || existing.ID != row.ID {
				return apperrors.Persistence("review was modified concurrently", nil)
			}
			st.reviews[row.AppointmentID] = row
		case repository.OpDelete:
			if !exists || existing.ID != row.ID {
				return apperrors.Persistence("review was modified concurrently", nil)
			}
			delete(st.reviews, row.AppointmentID)
		}
	case model.Prescription:
		lines := st.prescriptions[row.AppointmentID]
		if lines == nil {
			lines = map[uuid.UUID]model.Prescription{}
			st.prescriptions[row.AppointmentID] = lines
		}
		_, exists := lines[row.MedicineID]
		switch op.Kind {
		case repository.OpInsert:
			if exists {
				return apperrors.AlreadyExists(fmt.Sprintf("medicine %s is already prescribed", row.MedicineID))
			}
			lines[row.MedicineID] = row
		case repository.OpUpdate:
			if !exists {
				return apperrors.Persistence("prescription was modified concurrently", nil)
			}
			lines[row.MedicineID] = row
		case repository.OpDelete:
			delete(lines, row.MedicineID)
		}
	case model.DoctorRecord:
		if _, exists := st.doctors[row.ID]; !exists {
			return apperrors.Persistence("doctor was modified concurrently", fmt.Errorf("doctor %s not found", row.ID))
		}
		st.doctors[row.ID] = row
	case model.DoctorSchedule:
		blocks := st.schedules[row.DoctorID]
		if blocks == nil {
			blocks = map[uuid.UUID]model.DoctorSchedule{}
			st.schedules[row.DoctorID] = blocks
		}
		switch op.Kind {
		case repository.OpInsert, repository.OpUpdate:
			for _, b := range blocks {
				if b.ID != row.ID && b.Overlaps(row) {
					return apperrors.SlotUnavailable("schedule overlaps an existing block")
				}
			}
			blocks[row.ID] = row
		case repository.OpDelete:
			delete(blocks, row.ID)
		}
	default:
		return apperrors.Internal(fmt.Errorf("unsupported row type %T", op.Row))
	}
	return nil
}

func (st *state) checkNoOverlap(row model.AppointmentRecord) error {
	slot := model.TimeRange{Start: row.StartTime, End: row.EndTime}
	for _, other := range st.appointments {
		if other.ID == row.ID || other.DoctorID != row.DoctorID || other.Status != model.AppointmentStatusScheduled {
			continue
		}
		if slot.Overlaps(model.TimeRange{Start: other.StartTime, End: other.EndTime}) {
			return apperrors.SlotUnavailable("the requested slot is no longer available")
		}
	}
	return nil
}

func sortOutbox(events []model.OutboxEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return bytes.Compare(events[i].ID[:], events[j].ID[:]) < 0
	})
}
