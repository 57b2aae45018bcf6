package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func seedDoctor(t *testing.T, s *Store) uuid.UUID {
	t.Helper()
	d, err := model.NewDoctor(model.NewDoctorParams{ID: uuid.New(), IsActive: true, ConsultationFee: 4000}, now)
	require.NoError(t, err)
	s.SeedDoctor(d)
	return d.ID()
}

func book(t *testing.T, doctorID uuid.UUID, startHour int) *model.Appointment {
	t.Helper()
	start := time.Date(2026, 3, 3, startHour, 0, 0, 0, time.UTC)
	a, err := model.NewAppointment(model.NewAppointmentParams{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		Start:     start,
		End:       start.Add(30 * time.Minute),
	}, now)
	require.NoError(t, err)
	return a
}

func TestUnitOfWork_InsertAndReload(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	doctorID := seedDoctor(t, s)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.LockDoctor(ctx, doctorID))
	a := book(t, doctorID, 10)
	require.NoError(t, uow.AddAppointment(a))
	n, err := uow.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, uow.Rollback(), "rollback after commit is a no-op")

	got, err := s.GetAppointment(ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, a.Snapshot().Appointment, got.Snapshot().Appointment)

	events := s.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventAppointmentBooked, events[0].EventType)
	assert.Equal(t, model.OutboxStatusPending, events[0].Status)
}

func TestUnitOfWork_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	doctorID := seedDoctor(t, s)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	a := book(t, doctorID, 10)
	require.NoError(t, uow.AddAppointment(a))
	require.NoError(t, uow.Rollback())

	_, err = s.GetAppointment(ctx, a.ID())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	_, err = uow.SaveChanges(ctx)
	assert.Error(t, err)
}

func TestUnitOfWork_IdentityMap(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	doctorID := seedDoctor(t, s)

	uow, _ := s.Begin(ctx)
	a := book(t, doctorID, 10)
	require.NoError(t, uow.AddAppointment(a))
	_, err := uow.SaveChanges(ctx)
	require.NoError(t, err)

	uow, _ = s.Begin(ctx)
	defer uow.Rollback()
	first, err := uow.LoadAppointmentWithReview(ctx, a.ID())
	require.NoError(t, err)
	second, err := uow.LoadAppointment(ctx, a.ID())
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = uow.LoadAppointmentWithPrescriptions(ctx, a.ID())
	assert.True(t, apperrors.Is(err, apperrors.ErrInternal))
}

func TestUnitOfWork_NoChangesWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	doctorID := seedDoctor(t, s)

	uow, _ := s.Begin(ctx)
	_, err := uow.LoadDoctorWithSchedules(ctx, doctorID)
	require.NoError(t, err)
	n, err := uow.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnitOfWork_CommitRejectsOverlapWithoutLocking(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	doctorID := seedDoctor(t, s)

	// two units of work that both skip the doctor lock and the slot check
	first, _ := s.Begin(ctx)
	second, _ := s.Begin(ctx)
	require.NoError(t, first.AddAppointment(book(t, doctorID, 10)))
	require.NoError(t, second.AddAppointment(book(t, doctorID, 10)))

	_, err := first.SaveChanges(ctx)
	require.NoError(t, err)
	_, err = second.SaveChanges(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotUnavailable))

	list, err := s.ListAppointments(ctx, model.AppointmentFilters{DoctorID: doctorID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Len(t, s.OutboxEvents(), 1, "a failed commit must not leave outbox rows")
}

func TestListAppointments_NegativeOffsetStartsAtFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	doctorID := seedDoctor(t, s)

	uow, _ := s.Begin(ctx)
	require.NoError(t, uow.AddAppointment(book(t, doctorID, 10)))
	require.NoError(t, uow.AddAppointment(book(t, doctorID, 11)))
	_, err := uow.SaveChanges(ctx)
	require.NoError(t, err)

	var list []*model.Appointment
	require.NotPanics(t, func() {
		list, err = s.ListAppointments(ctx, model.AppointmentFilters{DoctorID: doctorID, Offset: -3})
	})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestBegin_CancelledContextIsPersistenceError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStore().Begin(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrPersistence))
}

func TestUnitOfWork_IsSlotAvailable(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	doctorID := seedDoctor(t, s)

	uow, _ := s.Begin(ctx)
	a := book(t, doctorID, 10)
	require.NoError(t, uow.AddAppointment(a))
	_, err := uow.SaveChanges(ctx)
	require.NoError(t, err)

	uow, _ = s.Begin(ctx)
	defer uow.Rollback()
	at := func(h, m int) time.Time { return time.Date(2026, 3, 3, h, m, 0, 0, time.UTC) }

	ok, err := uow.IsSlotAvailable(ctx, doctorID, at(10, 15), at(10, 45), uuid.Nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = uow.IsSlotAvailable(ctx, doctorID, at(10, 30), at(11, 0), uuid.Nil)
	assert.True(t, ok)

	ok, _ = uow.IsSlotAvailable(ctx, doctorID, at(10, 0), at(10, 30), a.ID())
	assert.True(t, ok, "the appointment itself is excluded")

	ok, _ = uow.IsSlotAvailable(ctx, uuid.New(), at(10, 0), at(10, 30), uuid.Nil)
	assert.True(t, ok, "other doctor")
}

func TestKeyedMutex_SerialisesPerKey(t *testing.T) {
	k := newKeyedMutex()
	key := uuid.New()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, k.locks, "released keys are dropped")
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	k := newKeyedMutex()
	key := uuid.New()
	unlock, err := k.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOutbox_ClaimAndMark(t *testing.T) {
	ctx := context.Background()
	clock := now
	s := NewStore().WithClock(func() time.Time { return clock })
	doctorID := seedDoctor(t, s)

	uow, _ := s.Begin(ctx)
	require.NoError(t, uow.AddAppointment(book(t, doctorID, 10)))
	require.NoError(t, uow.AddAppointment(book(t, doctorID, 11)))
	_, err := uow.SaveChanges(ctx)
	require.NoError(t, err)

	claimed, err := s.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	again, err := s.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased events are not handed out twice")

	require.NoError(t, s.MarkProcessed(ctx, claimed[0].ID))
	retryAt := clock.Add(30 * time.Second)
	require.NoError(t, s.MarkFailed(ctx, claimed[1].ID, "broker down", &retryAt))

	clock = clock.Add(45 * time.Second)
	retried, err := s.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, claimed[1].ID, retried[0].ID)
	assert.Equal(t, 1, retried[0].RetryCount)

	deleted, err := s.DeleteProcessedBefore(ctx, clock)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
