package schedule

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/service"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

const defaultSlotCacheTTL = 30 * time.Second

type Service struct {
	store   repository.Store
	cache   *cache.Cache
	opts    service.Options
	metrics *metrics.Metrics
	log     *logger.Logger

	// generations is bumped by Invalidate; a listing computed under an older
	// generation is never cached
	mu          sync.Mutex
	generations map[uuid.UUID]uint64
}

var _ service.SlotInvalidator = (*Service)(nil)

func NewService(store repository.Store, opts service.Options, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	ttl := opts.SlotCacheTTL
	if ttl <= 0 {
		ttl = defaultSlotCacheTTL
	}
	return &Service{
		store:       store,
		cache:       cache.New(ttl, 2*ttl),
		opts:        opts,
		metrics:     m,
		log:         log,
		generations: map[uuid.UUID]uint64{},
	}
}

func cacheKey(doctorID uuid.UUID, day time.Time) string {
	return doctorID.String() + ":" + day.Format("2006-01-02")
}

// Invalidate drops every cached day of the doctor
func (s *Service) Invalidate(doctorID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[doctorID]++
	prefix := doctorID.String() + ":"
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
		}
	}
}

func (s *Service) generation(doctorID uuid.UUID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[doctorID]
}

// remember caches slots unless the doctor was invalidated since gen was read
func (s *Service) remember(key string, doctorID uuid.UUID, gen uint64, slots []model.TimeRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[doctorID] != gen {
		return
	}
	s.cache.Set(key, slots, cache.DefaultExpiration)
}

func (s *Service) GetDoctor(ctx context.Context, doctorID uuid.UUID) (*model.Doctor, error) {
	return s.store.GetDoctor(ctx, doctorID)
}

func (s *Service) AddDoctorSchedule(ctx context.Context, actor model.Actor, doctorID uuid.UUID, req model.AddScheduleRequest) (_ model.DoctorSchedule, err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "add_doctor_schedule", start, err,
			"doctor_id", doctorID.String())
	}(time.Now())

	if err := service.RequireDoctor(actor, doctorID); err != nil {
		return model.DoctorSchedule{}, err
	}
	block, err := blockFromRequest(req)
	if err != nil {
		return model.DoctorSchedule{}, err
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return model.DoctorSchedule{}, err
	}
	defer uow.Rollback()

	if err := uow.LockDoctor(ctx, doctorID); err != nil {
		return model.DoctorSchedule{}, err
	}
	doctor, err := uow.LoadDoctorWithSchedules(ctx, doctorID)
	if err != nil {
		return model.DoctorSchedule{}, err
	}
	added, err := doctor.AddSchedule(block, s.opts.Clock())
	if err != nil {
		return model.DoctorSchedule{}, err
	}
	if _, err := service.Commit(ctx, uow, true); err != nil {
		return model.DoctorSchedule{}, err
	}

	s.Invalidate(doctorID)
	return added, nil
}

func blockFromRequest(req model.AddScheduleRequest) (model.DoctorSchedule, error) {
	if req.DayOfWeek == nil {
		return model.DoctorSchedule{}, apperrors.Validation("day of week is required")
	}
	start, err := model.ParseClock(req.StartTime)
	if err != nil {
		return model.DoctorSchedule{}, err
	}
	end, err := model.ParseClock(req.EndTime)
	if err != nil {
		return model.DoctorSchedule{}, err
	}
	return model.DoctorSchedule{
		DayOfWeek:           time.Weekday(*req.DayOfWeek),
		StartTime:           start,
		EndTime:             end,
		SlotDurationMinutes: req.SlotDurationMinutes,
	}, nil
}

func (s *Service) RemoveDoctorSchedule(ctx context.Context, actor model.Actor, doctorID, scheduleID uuid.UUID) (err error) {
	defer func(start time.Time) {
		service.Observe(s.metrics, logger.FromContext(ctx, s.log), "remove_doctor_schedule", start, err,
			"doctor_id", doctorID.String(), "schedule_id", scheduleID.String())
	}(time.Now())

	if err := service.RequireDoctor(actor, doctorID); err != nil {
		return err
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.LockDoctor(ctx, doctorID); err != nil {
		return err
	}
	doctor, err := uow.LoadDoctorWithSchedules(ctx, doctorID)
	if err != nil {
		return err
	}
	if _, err := doctor.RemoveSchedule(scheduleID, s.opts.Clock()); err != nil {
		return err
	}
	if _, err := service.Commit(ctx, uow, true); err != nil {
		return err
	}

	s.Invalidate(doctorID)
	return nil
}

// AvailableSlots expands the doctor's blocks for the weekday of date into
// slots and drops those already booked, those starting before the lead time
// and those off the half-hour grid. Results are cached per doctor and day.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]model.TimeRange, error) {
	d := date.UTC()
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	key := cacheKey(doctorID, day)

	if cached, found := s.cache.Get(key); found {
		s.metrics.IncCache(true)
		return cloneSlots(cached.([]model.TimeRange)), nil
	}
	s.metrics.IncCache(false)
	gen := s.generation(doctorID)

	doctor, err := s.store.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	slots := []model.TimeRange{}
	if !doctor.IsActive() {
		s.remember(key, doctorID, gen, slots)
		return cloneSlots(slots), nil
	}

	booked, err := s.store.ListBookedRanges(ctx, doctorID, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}

	earliest := s.opts.Clock().Add(s.opts.MinLeadTime)
	for _, block := range doctor.Schedules() {
		for _, slot := range block.Slots(day) {
			if !model.OnHalfHour(slot.Start) || !model.OnHalfHour(slot.End) {
				continue
			}
			if !slot.Start.After(earliest) {
				continue
			}
			if overlapsAny(slot, booked) {
				continue
			}
			slots = append(slots, slot)
		}
	}

	s.remember(key, doctorID, gen, slots)
	return cloneSlots(slots), nil
}

func overlapsAny(slot model.TimeRange, booked []model.TimeRange) bool {
	for _, b := range booked {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}

func cloneSlots(slots []model.TimeRange) []model.TimeRange {
	out := make([]model.TimeRange, len(slots))
	copy(out, slots)
	return out
}
