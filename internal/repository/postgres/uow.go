package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type unitOfWork struct {
	store   *Store
	tx      *sqlx.Tx
	tracker *repository.Tracker
	done    bool
}

var errFinished = apperrors.Internal(fmt.Errorf("unit of work already finished"))

// LockDoctor takes a transaction scoped advisory lock keyed on the doctor id.
// It is released on commit or rollback.
func (u *unitOfWork) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	if u.done {
		return errFinished
	}
	if _, err := u.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, doctorID); err != nil {
		return translate(err, "lock doctor")
	}
	return nil
}

func (u *unitOfWork) loadAppointment(ctx context.Context, id uuid.UUID, withReview, withPrescriptions bool) (*model.Appointment, error) {
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
	snap, err := loadAppointment(ctx, u.tx, id, withReview, withPrescriptions, true)
	if err != nil {
		return nil, err
	}
	return u.tracker.AttachAppointment(model.RestoreAppointment(snap)), nil
}

func (u *unitOfWork) LoadAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return u.loadAppointment(ctx, id, false, false)
}

func (u *unitOfWork) LoadAppointmentWithReview(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return u.loadAppointment(ctx, id, true, false)
}

func (u *unitOfWork) LoadAppointmentWithPrescriptions(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return u.loadAppointment(ctx, id, false, true)
}

func (u *unitOfWork) loadDoctor(ctx context.Context, id uuid.UUID, withSchedules bool) (*model.Doctor, error) {
	if u.done {
		return nil, errFinished
	}
	if d, ok := u.tracker.Doctor(id); ok {
		if withSchedules && !d.Snapshot().SchedulesLoaded {
			return nil, apperrors.Internal(fmt.Errorf("doctor %s already loaded without schedules", id))
		}
		return d, nil
	}
	snap, err := loadDoctor(ctx, u.tx, id, withSchedules, true)
	if err != nil {
		return nil, err
	}
	return u.tracker.AttachDoctor(model.RestoreDoctor(snap)), nil
}

func (u *unitOfWork) LoadDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	return u.loadDoctor(ctx, id, false)
}

func (u *unitOfWork) LoadDoctorWithSchedules(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	return u.loadDoctor(ctx, id, true)
}

func (u *unitOfWork) IsSlotAvailable(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	if u.done {
		return false, errFinished
	}
	var taken bool
	err := u.tx.GetContext(ctx, &taken, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND status = $2 AND id <> $3
			  AND start_time < $5 AND end_time > $4
		)`,
		doctorID, string(model.AppointmentStatusScheduled), excludeID, start, end)
	if err != nil {
		return false, translate(err, "check slot availability")
	}
	return !taken, nil
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
	defer u.finish()

	pending := u.tracker.Pending()
	for _, op := range pending.Ops {
		if err := u.exec(ctx, op); err != nil {
			u.store.metrics.IncDatabase("save_changes", err)
			return 0, err
		}
	}
	for _, e := range pending.Events {
		row, err := model.NewOutboxEvent(e)
		if err != nil {
			return 0, apperrors.Internal(err)
		}
		if err := u.insertOutbox(ctx, row); err != nil {
			u.store.metrics.IncDatabase("save_changes", err)
			return 0, err
		}
	}
	if err := u.tx.Commit(); err != nil {
		err = translate(err, "commit")
		u.store.metrics.IncDatabase("save_changes", err)
		return 0, err
	}
	u.store.metrics.IncDatabase("save_changes", nil)
	pending.Accept()
	return len(pending.Ops), nil
}

func (u *unitOfWork) exec(ctx context.Context, op repository.Op) error {
	var ds interface {
		ToSQL() (string, []interface{}, error)
	}
	switch op.Kind {
	case repository.OpInsert:
		ds = dialect.Insert(op.Table).Rows(op.Row).Prepared(true)
	case repository.OpUpdate:
		key, err := rowKey(op)
		if err != nil {
			return err
		}
		ds = dialect.Update(op.Table).Set(op.Row).Where(key).Prepared(true)
	case repository.OpDelete:
		key, err := rowKey(op)
		if err != nil {
			return err
		}
		ds = dialect.Delete(op.Table).Where(key).Prepared(true)
	default:
		return apperrors.Internal(fmt.Errorf("unknown op kind %d", op.Kind))
	}

	query, args, err := toSQL(ds)
	if err != nil {
		return apperrors.Internal(err)
	}
	res, err := u.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(err, fmt.Sprintf("%s %s", op.Kind, op.Table))
	}
	if op.Kind == repository.OpInsert {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err, fmt.Sprintf("%s %s", op.Kind, op.Table))
	}
	if n == 0 {
		return apperrors.Persistence(fmt.Sprintf("%s %s affected no rows", op.Kind, op.Table), nil)
	}
	return nil
}

func rowKey(op repository.Op) (goqu.Ex, error) {
	switch row := op.Row.(type) {
	case model.AppointmentRecord:
		return goqu.Ex{"id": row.ID}, nil
	case model.Review:
		return goqu.Ex{"id": row.ID}, nil
	case model.Prescription:
		return goqu.Ex{"appointment_id": row.AppointmentID, "medicine_id": row.MedicineID}, nil
	case model.DoctorRecord:
		return goqu.Ex{"id": row.ID}, nil
	case model.DoctorSchedule:
		return goqu.Ex{"id": row.ID}, nil
	}
	return nil, apperrors.Internal(fmt.Errorf("unsupported row type %T for %s", op.Row, op.Table))
}

func (u *unitOfWork) insertOutbox(ctx context.Context, e model.OutboxEvent) error {
	query, args, err := toSQL(dialect.Insert("outbox_events").Rows(goqu.Record{
		"id":           e.ID,
		"event_type":   e.EventType,
		"aggregate_id": e.AggregateID,
		"payload":      string(e.Payload),
		"status":       string(e.Status),
		"retry_count":  e.RetryCount,
		"created_at":   e.CreatedAt,
		"updated_at":   e.UpdatedAt,
	}).Prepared(true))
	if err != nil {
		return apperrors.Internal(err)
	}
	if _, err := u.tx.ExecContext(ctx, query, args...); err != nil {
		return translate(err, "insert outbox event")
	}
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.finish()
	return nil
}

func (u *unitOfWork) finish() {
	if u.done {
		return
	}
	u.done = true
	// no-op once committed
	u.tx.Rollback()
}
