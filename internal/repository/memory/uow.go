package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type unitOfWork struct {
	store   *Store
	tracker *repository.Tracker
	locked  map[uuid.UUID]bool
	unlocks []func()
	done    bool
}

var errFinished = apperrors.Internal(fmt.Errorf("unit of work already finished"))

func (u *unitOfWork) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	if u.done {
		return errFinished
	}
	if u.locked[doctorID] {
		return nil
	}
	unlock, err := u.store.locks.Lock(ctx, doctorID)
	if err != nil {
		return apperrors.Persistence("timed out waiting for doctor lock", err)
	}
	u.locked[doctorID] = true
	u.unlocks = append(u.unlocks, unlock)
	return nil
}

func (u *unitOfWork) loadAppointment(id uuid.UUID, withReview, withPrescriptions bool) (*model.Appointment, error) {
	if u.done {
		return nil, errFinished
	}
	if a, ok := u.tracker.Appointment(id); ok {
		snap := a.Snapshot()
		if (withReview && !snap.ReviewLoaded) || (withPrescriptions && !snap.PrescriptionsLoaded) {
			return nil, apperrors.Internal(fmt.Errorf("appointment %s already loaded without the requested children", id))
		}
		return a, nil
	}
	u.store.mu.RLock()
	snap, err := u.store.data.appointmentSnapshot(id, withReview, withPrescriptions)
	u.store.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return u.tracker.AttachAppointment(model.RestoreAppointment(snap)), nil
}

func (u *unitOfWork) LoadAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return u.loadAppointment(id, false, false)
}

func (u *unitOfWork) LoadAppointmentWithReview(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return u.loadAppointment(id, true, false)
}

func (u *unitOfWork) LoadAppointmentWithPrescriptions(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return u.loadAppointment(id, false, true)
}

func (u *unitOfWork) loadDoctor(id uuid.UUID, withSchedules bool) (*model.Doctor, error) {
	if u.done {
		return nil, errFinished
	}
	if d, ok := u.tracker.Doctor(id); ok {
		if withSchedules && !d.Snapshot().SchedulesLoaded {
			return nil, apperrors.Internal(fmt.Errorf("doctor %s already loaded without schedules", id))
		}
		return d, nil
	}
	u.store.mu.RLock()
	snap, err := u.store.data.doctorSnapshot(id, withSchedules)
	u.store.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return u.tracker.AttachDoctor(model.RestoreDoctor(snap)), nil
}

func (u *unitOfWork) LoadDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	return u.loadDoctor(id, false)
}

func (u *unitOfWork) LoadDoctorWithSchedules(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	return u.loadDoctor(id, true)
}

func (u *unitOfWork) IsSlotAvailable(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	if u.done {
		return false, errFinished
	}
	slot := model.TimeRange{Start: start, End: end}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	for _, r := range u.store.data.appointments {
		if r.ID == excludeID || r.DoctorID != doctorID || r.Status != model.AppointmentStatusScheduled {
			continue
		}
		if slot.Overlaps(model.TimeRange{Start: r.StartTime, End: r.EndTime}) {
			return false, nil
		}
	}
	return true, nil
}

func (u *unitOfWork) AddAppointment(a *model.Appointment) error {
	if u.done {
		return errFinished
	}
	return u.tracker.AddAppointment(a)
}

func (u *unitOfWork) SaveChanges(ctx context.Context) (int, error) {
	if u.done {
		return 0, errFinished
	}
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Persistence("request cancelled before commit", err)
	}
	defer u.finish()

	pending := u.tracker.Pending()
	outbox := make([]model.OutboxEvent, 0, len(pending.Events))
	for _, e := range pending.Events {
		row, err := model.NewOutboxEvent(e)
		if err != nil {
			return 0, apperrors.Internal(err)
		}
		outbox = append(outbox, row)
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	next := u.store.data.clone()
	for _, op := range pending.Ops {
		if err := next.apply(op); err != nil {
			return 0, err
		}
	}
	for _, row := range outbox {
		next.outbox[row.ID] = row
	}
	u.store.data = next
	pending.Accept()
	return len(pending.Ops), nil
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.finish()
	return nil
}

func (u *unitOfWork) finish() {
	u.done = true
	for i := len(u.unlocks) - 1; i >= 0; i-- {
		u.unlocks[i]()
	}
	u.unlocks = nil
}
