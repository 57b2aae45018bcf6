package review

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/service"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

// Service manages the single review of a completed appointment and keeps
// the doctor's rating summary in step, in the same unit of work.
type Service struct {
	store   repository.Store
	opts    service.Options
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewService(store repository.Store, opts service.Options, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, opts: opts, metrics: m, log: log}
}

// load opens a unit of work under the doctor lock and loads the appointment
// with its review, the doctor, and checks the caller is the patient
func (s *Service) load(ctx context.Context, actor model.Actor, appointmentID uuid.UUID) (repository.UnitOfWork, *model.Appointment, *model.Doctor, error) {
	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := service.RequirePatient(actor, current.PatientID()); err != nil {
		return nil, nil, nil, err
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := uow.LockDoctor(ctx, current.DoctorID()); err != nil {
		uow.Rollback()
		return nil, nil, nil, err
	}
	appt, err := uow.LoadAppointmentWithReview(ctx, appointmentID)
	if err != nil {
		uow.Rollback()
		return nil, nil, nil, err
	}
	doctor, err := uow.LoadDoctor(ctx, appt.DoctorID())
	if err != nil {
		uow.Rollback()
		return nil, nil, nil, err
	}
	return uow, appt, doctor, nil
}

func (s *Service) AddReview(ctx context.Context, actor model.Actor, appointmentID uuid.UUID, in model.ReviewInput) (_ model.Review, err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "add_review", start, err,
			"appointment_id", appointmentID.String())
	}(time.Now())

	uow, appt, doctor, err := s.load(ctx, actor, appointmentID)
	if err != nil {
		return model.Review{}, err
	}
	defer uow.Rollback()

	now := s.opts.Clock()
	r, err := appt.AddReview(in, s.opts.CommentMaxLength(), now)
	if err != nil {
		return model.Review{}, err
	}
	if err := doctor.ApplyReviewAdded(r.Rating, now); err != nil {
		return model.Review{}, err
	}
	if _, err := service.Commit(ctx, uow, true); err != nil {
		return model.Review{}, err
	}

	s.metrics.IncReview("add")
	s.log.Info("review added",
		"appointment_id", appointmentID.String(),
		"doctor_id", doctor.ID().String(),
		"rating", r.Rating,
		"doctor_rating", doctor.DisplayRating())
	return r, nil
}

func (s *Service) UpdateReview(ctx context.Context, actor model.Actor, appointmentID uuid.UUID, in model.ReviewInput) (_ model.Review, err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "update_review", start, err,
			"appointment_id", appointmentID.String())
	}(time.Now())

	uow, appt, doctor, err := s.load(ctx, actor, appointmentID)
	if err != nil {
		return model.Review{}, err
	}
	defer uow.Rollback()

	now := s.opts.Clock()
	old, err := appt.UpdateReview(in, s.opts.CommentMaxLength(), now)
	if err != nil {
		return model.Review{}, err
	}
	if err := doctor.ApplyReviewUpdated(old, in.Rating, now); err != nil {
		return model.Review{}, err
	}
	if _, err := service.Commit(ctx, uow, false); err != nil {
		return model.Review{}, err
	}

	s.metrics.IncReview("update")
	return *appt.Review(), nil
}

func (s *Service) RemoveReview(ctx context.Context, actor model.Actor, appointmentID uuid.UUID) (_ model.Review, err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "remove_review", start, err,
			"appointment_id", appointmentID.String())
	}(time.Now())

	uow, appt, doctor, err := s.load(ctx, actor, appointmentID)
	if err != nil {
		return model.Review{}, err
	}
	defer uow.Rollback()

	now := s.opts.Clock()
	removed, err := appt.RemoveReview(now)
	if err != nil {
		return model.Review{}, err
	}
	if err := doctor.ApplyReviewRemoved(removed.Rating, now); err != nil {
		return model.Review{}, err
	}
	if _, err := service.Commit(ctx, uow, true); err != nil {
		return model.Review{}, err
	}

	s.metrics.IncReview("remove")
	return removed, nil
}
