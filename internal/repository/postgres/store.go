package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

const (
	appointmentColumns = `id, patient_id, doctor_id, disease_id, start_time, end_time, status, fee,
		payment_status, notes, patient_notes, outcome, cancel_reason, created_at, updated_at`
	reviewColumns       = `id, appointment_id, patient_id, doctor_id, rating, comment, created_at, updated_at`
	prescriptionColumns = `appointment_id, medicine_id, dosage, frequency, created_at, updated_at`
	doctorColumns       = `id, experience_years, consultation_fee, is_active, rating, rating_total, review_count, created_at, updated_at`
	scheduleColumns     = `id, doctor_id, day_of_week, start_minute, end_minute, slot_duration_minutes, created_at`
)

// Store implements repository.Store on PostgreSQL. Double booking is
// prevented twice: commands hold a transaction scoped advisory lock per
// doctor, and the appointments table carries an exclusion constraint over
// scheduled slots.
type Store struct {
	BaseRepository
	lockTimeout time.Duration
	metrics     *metrics.Metrics
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sqlx.DB, lockTimeout time.Duration, m *metrics.Metrics) *Store {
	return &Store{
		BaseRepository: NewBaseRepository(db),
		lockTimeout:    lockTimeout,
		metrics:        m,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Begin(ctx context.Context) (repository.UnitOfWork, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, translate(err, "begin transaction")
	}
	if s.lockTimeout > 0 {
		ms := s.lockTimeout.Milliseconds()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)); err != nil {
			tx.Rollback()
			return nil, translate(err, "set lock timeout")
		}
	}
	return &unitOfWork{store: s, tx: tx, tracker: repository.NewTracker()}, nil
}

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	snap, err := loadAppointment(ctx, s.db, id, true, true, false)
	if err != nil {
		return nil, err
	}
	return model.RestoreAppointment(snap), nil
}

func (s *Store) ListAppointments(ctx context.Context, f model.AppointmentFilters) ([]*model.Appointment, error) {
	ds := dialect.From("appointments").Select(&model.AppointmentRecord{})
	if f.PatientID != uuid.Nil {
		ds = ds.Where(goqu.Ex{"patient_id": f.PatientID})
	}
	if f.DoctorID != uuid.Nil {
		ds = ds.Where(goqu.Ex{"doctor_id": f.DoctorID})
	}
	if f.Status != "" {
		ds = ds.Where(goqu.Ex{"status": string(f.Status)})
	}
	if !f.From.IsZero() {
		ds = ds.Where(goqu.C("start_time").Gte(f.From))
	}
	if !f.To.IsZero() {
		ds = ds.Where(goqu.C("start_time").Lt(f.To))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = model.DefaultListLimit
	}
	ds = ds.Order(goqu.I("start_time").Asc(), goqu.I("id").Asc()).Limit(uint(limit))
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	query, args, err := toSQL(ds.Prepared(true))
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	var recs []model.AppointmentRecord
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, translate(err, "list appointments")
	}
	if len(recs) == 0 {
		return []*model.Appointment{}, nil
	}

	ids := make([]uuid.UUID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	reviews, err := selectByAppointment[model.Review](ctx, s.db, "reviews", ids)
	if err != nil {
		return nil, err
	}
	lines, err := selectByAppointment[model.Prescription](ctx, s.db, "prescriptions", ids)
	if err != nil {
		return nil, err
	}
	reviewByAppt := make(map[uuid.UUID]model.Review, len(reviews))
	for _, r := range reviews {
		reviewByAppt[r.AppointmentID] = r
	}
	linesByAppt := make(map[uuid.UUID][]model.Prescription)
	for _, p := range lines {
		linesByAppt[p.AppointmentID] = append(linesByAppt[p.AppointmentID], p)
	}

	out := make([]*model.Appointment, 0, len(recs))
	for _, r := range recs {
		snap := model.AppointmentSnapshot{
			Appointment:         r,
			ReviewLoaded:        true,
			Prescriptions:       linesByAppt[r.ID],
			PrescriptionsLoaded: true,
		}
		if review, ok := reviewByAppt[r.ID]; ok {
			snap.Review = &review
		}
		out = append(out, model.RestoreAppointment(snap))
	}
	return out, nil
}

func selectByAppointment[T any](ctx context.Context, q sqlx.QueryerContext, table string, ids []uuid.UUID) ([]T, error) {
	var zero T
	query, args, err := toSQL(dialect.From(table).Select(&zero).Where(goqu.Ex{"appointment_id": ids}).Prepared(true))
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	var out []T
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, translate(err, "load "+table)
	}
	return out, nil
}

func (s *Store) ListBookedRanges(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]model.TimeRange, error) {
	var rows []struct {
		Start time.Time `db:"start_time"`
		End   time.Time `db:"end_time"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT start_time, end_time
		FROM appointments
		WHERE doctor_id = $1 AND status = $2 AND start_time < $4 AND end_time > $3
		ORDER BY start_time`,
		doctorID, string(model.AppointmentStatusScheduled), from, to)
	if err != nil {
		return nil, translate(err, "list booked ranges")
	}
	out := make([]model.TimeRange, len(rows))
	for i, r := range rows {
		out[i] = model.TimeRange{Start: r.Start.UTC(), End: r.End.UTC()}
	}
	return out, nil
}

func (s *Store) GetDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	snap, err := loadDoctor(ctx, s.db, id, true, false)
	if err != nil {
		return nil, err
	}
	return model.RestoreDoctor(snap), nil
}

func loadAppointment(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, withReview, withPrescriptions, forUpdate bool) (model.AppointmentSnapshot, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var snap model.AppointmentSnapshot
	if err := sqlx.GetContext(ctx, q, &snap.Appointment, query, id); err != nil {
		return snap, translate(err, "appointment")
	}
	snap.Appointment.StartTime = snap.Appointment.StartTime.UTC()
	snap.Appointment.EndTime = snap.Appointment.EndTime.UTC()
	snap.Appointment.CreatedAt = snap.Appointment.CreatedAt.UTC()
	snap.Appointment.UpdatedAt = snap.Appointment.UpdatedAt.UTC()

	if withReview {
		snap.ReviewLoaded = true
		var r model.Review
		err := sqlx.GetContext(ctx, q, &r, `SELECT `+reviewColumns+` FROM reviews WHERE appointment_id = $1`, id)
		switch {
		case err == nil:
			snap.Review = &r
		case err != sql.ErrNoRows:
			return snap, translate(err, "load review")
		}
	}
	if withPrescriptions {
		snap.PrescriptionsLoaded = true
		if err := sqlx.SelectContext(ctx, q, &snap.Prescriptions,
			`SELECT `+prescriptionColumns+` FROM prescriptions WHERE appointment_id = $1`, id); err != nil {
			return snap, translate(err, "load prescriptions")
		}
	}
	return snap, nil
}

func loadDoctor(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, withSchedules, forUpdate bool) (model.DoctorSnapshot, error) {
	query := `SELECT ` + doctorColumns + ` FROM doctors WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var snap model.DoctorSnapshot
	if err := sqlx.GetContext(ctx, q, &snap.Doctor, query, id); err != nil {
		return snap, translate(err, "doctor")
	}
	if err := sqlx.SelectContext(ctx, q, &snap.Specialties,
		`SELECT specialty FROM doctor_specialties WHERE doctor_id = $1 ORDER BY specialty`, id); err != nil {
		return snap, translate(err, "load specialties")
	}
	if withSchedules {
		snap.SchedulesLoaded = true
		if err := sqlx.SelectContext(ctx, q, &snap.Schedules,
			`SELECT `+scheduleColumns+` FROM doctor_schedules WHERE doctor_id = $1`, id); err != nil {
			return snap, translate(err, "load schedules")
		}
	}
	return snap, nil
}

// InsertDoctor registers a doctor with its specialties and schedule blocks
func (s *Store) InsertDoctor(ctx context.Context, d *model.Doctor) error {
	snap := d.Snapshot()
	return translate(s.WithTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := toSQL(dialect.Insert("doctors").Rows(snap.Doctor).Prepared(true))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		for _, sp := range snap.Specialties {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO doctor_specialties (doctor_id, specialty) VALUES ($1, $2)`, snap.Doctor.ID, sp); err != nil {
				return err
			}
		}
		for _, b := range snap.Schedules {
			query, args, err := toSQL(dialect.Insert("doctor_schedules").Rows(b).Prepared(true))
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	}), "insert doctor")
}
