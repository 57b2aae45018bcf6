package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

// All repository interfaces in one file
type (
	// Store is the entry point to persisted booking state. Reads outside a
	// unit of work see committed data only.
	Store interface {
		AppointmentReader
		Begin(ctx context.Context) (UnitOfWork, error)
		Ping(ctx context.Context) error
	}

	AppointmentReader interface {
		// GetAppointment returns the appointment with its review and prescriptions
		GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		ListAppointments(ctx context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error)
		// ListBookedRanges returns the slots of scheduled appointments overlapping [from, to)
		ListBookedRanges(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]model.TimeRange, error)
		// GetDoctor returns the doctor with its schedule blocks
		GetDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
	}

	// UnitOfWork loads aggregates, tracks their changes and writes them,
	// together with the domain events they raised, in one transaction.
	// Loading the same aggregate twice returns the same instance.
	UnitOfWork interface {
		// LockDoctor serialises every booking command touching doctorID until
		// the unit of work ends. It must be called before any load.
		LockDoctor(ctx context.Context, doctorID uuid.UUID) error

		LoadAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		LoadAppointmentWithReview(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		LoadAppointmentWithPrescriptions(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		LoadDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
		LoadDoctorWithSchedules(ctx context.Context, id uuid.UUID) (*model.Doctor, error)

		// IsSlotAvailable reports whether no scheduled appointment of the
		// doctor other than excludeID overlaps [start, end)
		IsSlotAvailable(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)

		AddAppointment(a *model.Appointment) error

		// SaveChanges commits and returns the number of rows written
		SaveChanges(ctx context.Context) (int, error)
		// Rollback discards the unit of work. It is a no-op after SaveChanges.
		Rollback() error
	}

	OutboxRepository interface {
		// ClaimPending leases up to limit due events so concurrent relays
		// never publish the same event twice within the lease
		ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
