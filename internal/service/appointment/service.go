package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/service"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type Service struct {
	store   repository.Store
	slots   service.SlotInvalidator
	opts    service.Options
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewService(store repository.Store, slots service.SlotInvalidator, opts service.Options, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:   store,
		slots:   slots,
		opts:    opts,
		metrics: m,
		log:     log,
	}
}

func (s *Service) invalidate(doctorID uuid.UUID) {
	if s.slots != nil {
		s.slots.Invalidate(doctorID)
	}
}

// CreateAppointment books a slot for the calling patient. The availability
// check and the insert run under the doctor lock.
func (s *Service) CreateAppointment(ctx context.Context, actor model.Actor, req model.CreateAppointmentRequest) (_ *model.Appointment, err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "create_appointment", start, err,
			"doctor_id", req.DoctorID.String(), "patient_id", actor.UserID.String())
	}(time.Now())

	if actor.Role != model.RolePatient {
		return nil, apperrors.Unauthorized("only patients can book appointments")
	}
	now := s.opts.Clock()
	if err := s.opts.CheckLeadTime(req.StartTime, now); err != nil {
		return nil, err
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	if err := uow.LockDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}
	doctor, err := uow.LoadDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsActive() {
		return nil, apperrors.InvalidState("doctor is not accepting appointments")
	}

	fee := doctor.ConsultationFee()
	if req.Fee != nil {
		fee = *req.Fee
	}
	appt, err := model.NewAppointment(model.NewAppointmentParams{
		PatientID: actor.UserID,
		DoctorID:  req.DoctorID,
		DiseaseID: req.DiseaseID,
		Start:     req.StartTime,
		End:       req.EndTime,
		Fee:       fee,
		Notes:     req.Notes,
	}, now)
	if err != nil {
		return nil, err
	}

	if err := s.requireFree(ctx, uow, appt, uuid.Nil); err != nil {
		return nil, err
	}
	if err := uow.AddAppointment(appt); err != nil {
		return nil, err
	}
	if _, err := service.Commit(ctx, uow, true); err != nil {
		if apperrors.Is(err, apperrors.ErrSlotUnavailable) {
			s.metrics.IncConflict()
		}
		return nil, err
	}

	s.metrics.IncBooked()
	s.invalidate(appt.DoctorID())
	s.log.Info("appointment booked",
		"appointment_id", appt.ID().String(),
		"doctor_id", appt.DoctorID().String(),
		"start", appt.Slot().Start)
	return appt, nil
}

func (s *Service) requireFree(ctx context.Context, uow repository.UnitOfWork, appt *model.Appointment, exclude uuid.UUID) error {
	slot := appt.Slot()
	free, err := uow.IsSlotAvailable(ctx, appt.DoctorID(), slot.Start, slot.End, exclude)
	if err != nil {
		return err
	}
	if !free {
		s.metrics.IncConflict()
		return apperrors.SlotUnavailable("the requested slot overlaps an existing appointment")
	}
	return nil
}

// begin peeks at the committed appointment to learn its doctor, then opens a
// unit of work holding that doctor's lock
func (s *Service) begin(ctx context.Context, appointmentID uuid.UUID) (repository.UnitOfWork, error) {
	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := uow.LockDoctor(ctx, current.DoctorID()); err != nil {
		uow.Rollback()
		return nil, err
	}
	return uow, nil
}

// DoctorUpdateAppointment applies a partial update by the treating doctor.
// A changed slot is checked for availability against every other booking.
func (s *Service) DoctorUpdateAppointment(ctx context.Context, actor model.Actor, id uuid.UUID, changes model.DoctorChanges) (_ *model.Appointment, err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "doctor_update_appointment", start, err,
			"appointment_id", id.String())
	}(time.Now())

	uow, err := s.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	appt, err := uow.LoadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := service.RequireDoctor(actor, appt.DoctorID()); err != nil {
		return nil, err
	}

	now := s.opts.Clock()
	before := appt.Slot()
	if changes.Start != nil || changes.End != nil {
		start := before.Start
		if changes.Start != nil {
			start = *changes.Start
		}
		if !start.Equal(before.Start) {
			if err := s.opts.CheckLeadTime(start, now); err != nil {
				return nil, err
			}
		}
	}
	statusBefore := appt.Status()
	if err := appt.DoctorUpdate(changes, now); err != nil {
		return nil, err
	}

	moved := !appt.Slot().Equal(before)
	if moved && appt.Status() == model.AppointmentStatusScheduled {
		if err := s.requireFree(ctx, uow, appt, appt.ID()); err != nil {
			return nil, err
		}
	}
	if _, err := service.Commit(ctx, uow, false); err != nil {
		return nil, err
	}

	if appt.Status() != statusBefore {
		s.metrics.IncTransition(string(appt.Status()))
	}
	if moved || appt.Status() != statusBefore {
		s.invalidate(appt.DoctorID())
	}
	return appt, nil
}

// PatientUpdateAppointment changes the patient's notes
func (s *Service) PatientUpdateAppointment(ctx context.Context, actor model.Actor, id uuid.UUID, req model.PatientUpdateAppointmentRequest) (_ *model.Appointment, err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "patient_update_appointment", start, err,
			"appointment_id", id.String())
	}(time.Now())

	uow, err := s.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	appt, err := uow.LoadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := service.RequirePatient(actor, appt.PatientID()); err != nil {
		return nil, err
	}
	if err := appt.PatientUpdate(req.PatientNotes, s.opts.Clock()); err != nil {
		return nil, err
	}
	if _, err := service.Commit(ctx, uow, false); err != nil {
		return nil, err
	}
	return appt, nil
}

// CancelAppointment cancels on behalf of the patient, the doctor or an admin
func (s *Service) CancelAppointment(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (_ *model.Appointment, err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "cancel_appointment", start, err,
			"appointment_id", id.String())
	}(time.Now())

	uow, err := s.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	appt, err := uow.LoadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := service.RequireParticipant(actor, appt); err != nil {
		return nil, err
	}
	if err := appt.Cancel(reason, s.opts.Clock()); err != nil {
		return nil, err
	}
	if _, err := service.Commit(ctx, uow, true); err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(model.AppointmentStatusCancelled))
	s.invalidate(appt.DoctorID())
	return appt, nil
}

// CompleteAppointment records the outcome of a scheduled appointment
func (s *Service) CompleteAppointment(ctx context.Context, actor model.Actor, id uuid.UUID, outcome model.Outcome) (_ *model.Appointment, err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "complete_appointment", start, err,
			"appointment_id", id.String())
	}(time.Now())

	uow, err := s.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	appt, err := uow.LoadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := service.RequireDoctor(actor, appt.DoctorID()); err != nil {
		return nil, err
	}
	if err := appt.Complete(outcome, s.opts.Clock()); err != nil {
		return nil, err
	}
	if _, err := service.Commit(ctx, uow, true); err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(model.AppointmentStatusCompleted))
	s.invalidate(appt.DoctorID())
	return appt, nil
}

// UpsertPrescription reconciles the prescription lines of an appointment
// with lines. Repeating the same call changes nothing.
func (s *Service) UpsertPrescription(ctx context.Context, actor model.Actor, id uuid.UUID, lines []model.PrescriptionLine) (_ *model.Appointment, _ model.PrescriptionDiff, err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "upsert_prescription", start, err,
			"appointment_id", id.String())
	}(time.Now())

	uow, err := s.begin(ctx, id)
	if err != nil {
		return nil, model.PrescriptionDiff{}, err
	}
	defer uow.Rollback()

	appt, err := uow.LoadAppointmentWithPrescriptions(ctx, id)
	if err != nil {
		return nil, model.PrescriptionDiff{}, err
	}
	if err := service.RequireDoctor(actor, appt.DoctorID()); err != nil {
		return nil, model.PrescriptionDiff{}, err
	}
	diff, err := appt.UpsertPrescriptions(lines, s.opts.Clock())
	if err != nil {
		return nil, model.PrescriptionDiff{}, err
	}
	if _, err := service.Commit(ctx, uow, !diff.Empty()); err != nil {
		return nil, model.PrescriptionDiff{}, err
	}
	return appt, diff, nil
}

func (s *Service) GetAppointment(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := service.RequireParticipant(actor, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *Service) ListAppointments(ctx context.Context, actor model.Actor, filters model.AppointmentFilters) ([]*model.Appointment, error) {
	filters, err := service.ScopeFilters(actor, filters)
	if err != nil {
		return nil, err
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && !filters.To.After(filters.From) {
		return nil, apperrors.Validation("to must be after from")
	}
	if filters.Limit < 0 || filters.Offset < 0 {
		return nil, apperrors.Validation("limit and offset cannot be negative")
	}
	return s.store.ListAppointments(ctx, filters)
}
