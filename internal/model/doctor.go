package model

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Doctor is the aggregate holding the rating summary and the weekly
// schedule blocks. The rating is maintained incrementally from an integer
// sum of all attached ratings, so it is always the exact mean.
type Doctor struct {
	id              uuid.UUID
	experienceYears int
	consultationFee int64
	isActive        bool
	ratingTotal     int
	reviewCount     int
	specialties     []string
	createdAt       time.Time
	updatedAt       time.Time

	schedules       []DoctorSchedule
	schedulesLoaded bool

	events []Event
}

// NewDoctorParams is used when registering a doctor in a store
type NewDoctorParams struct {
	ID              uuid.UUID
	ExperienceYears int
	ConsultationFee int64
	IsActive        bool
	Specialties     []string
}

func NewDoctor(p NewDoctorParams, now time.Time) (*Doctor, error) {
	if p.ID == uuid.Nil {
		return nil, apperrors.Validation("doctor id is required")
	}
	if p.ExperienceYears < 0 {
		return nil, apperrors.Validation("experience years cannot be negative")
	}
	if p.ConsultationFee < 0 {
		return nil, apperrors.Validation("consultation fee cannot be negative")
	}
	now = now.UTC()
	return &Doctor{
		id:              p.ID,
		experienceYears: p.ExperienceYears,
		consultationFee: p.ConsultationFee,
		isActive:        p.IsActive,
		specialties:     append([]string(nil), p.Specialties...),
		createdAt:       now,
		updatedAt:       now,
		schedulesLoaded: true,
	}, nil
}

func (d *Doctor) ID() uuid.UUID          { return d.id }
func (d *Doctor) ExperienceYears() int   { return d.experienceYears }
func (d *Doctor) ConsultationFee() int64 { return d.consultationFee }
func (d *Doctor) IsActive() bool         { return d.isActive }
func (d *Doctor) ReviewCount() int       { return d.reviewCount }
func (d *Doctor) Specialties() []string  { return append([]string(nil), d.specialties...) }

// Rating is the full precision mean of the attached ratings, 0 with no reviews
func (d *Doctor) Rating() float64 {
	if d.reviewCount == 0 {
		return 0
	}
	return float64(d.ratingTotal) / float64(d.reviewCount)
}

// DisplayRating rounds the rating to two decimals
func (d *Doctor) DisplayRating() float64 {
	return math.Round(d.Rating()*100) / 100
}

// ApplyReviewAdded folds a new rating into the mean
func (d *Doctor) ApplyReviewAdded(rating int, now time.Time) error {
	if err := ValidateRating(rating); err != nil {
		return err
	}
	return d.setRating(d.ratingTotal+rating, d.reviewCount+1, now)
}

// ApplyReviewUpdated swaps oldRating for newRating, the count is unchanged
func (d *Doctor) ApplyReviewUpdated(oldRating, newRating int, now time.Time) error {
	if err := ValidateRating(oldRating); err != nil {
		return err
	}
	if err := ValidateRating(newRating); err != nil {
		return err
	}
	if oldRating == newRating {
		return nil
	}
	if d.reviewCount == 0 {
		return apperrors.InvalidState("doctor has no reviews to update")
	}
	return d.setRating(d.ratingTotal+newRating-oldRating, d.reviewCount, now)
}

// ApplyReviewRemoved takes rating back out of the mean. Removing the last
// review resets the summary to zero.
func (d *Doctor) ApplyReviewRemoved(rating int, now time.Time) error {
	if err := ValidateRating(rating); err != nil {
		return err
	}
	if d.reviewCount <= 1 {
		return d.setRating(0, 0, now)
	}
	return d.setRating(d.ratingTotal-rating, d.reviewCount-1, now)
}

// setRating stores the new summary. A total outside [count*MinRating,
// count*MaxRating] means the stored summary no longer matches the review
// rows; the change is refused and the doctor is left untouched.
func (d *Doctor) setRating(total, count int, now time.Time) error {
	if count > 0 && (total < count*MinRating || total > count*MaxRating) {
		return apperrors.InvalidState(fmt.Sprintf(
			"rating summary of doctor %s is inconsistent: total %d over %d reviews", d.id, total, count))
	}
	d.ratingTotal, d.reviewCount = total, count
	now = now.UTC()
	d.updatedAt = now
	d.raise(EventDoctorRatingChanged, now, map[string]interface{}{
		"rating":       d.DisplayRating(),
		"review_count": d.reviewCount,
	})
	return nil
}

// Schedules returns the blocks ordered by weekday and start time
func (d *Doctor) Schedules() []DoctorSchedule {
	out := append([]DoctorSchedule(nil), d.schedules...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (d *Doctor) requireSchedules() error {
	if !d.schedulesLoaded {
		return apperrors.Internal(fmt.Errorf("schedules of doctor %s were not loaded", d.id))
	}
	return nil
}

// AddSchedule adds a weekly block. A block overlapping another block on the
// same weekday is rejected with SlotUnavailable.
func (d *Doctor) AddSchedule(block DoctorSchedule, now time.Time) (DoctorSchedule, error) {
	if err := d.requireSchedules(); err != nil {
		return DoctorSchedule{}, err
	}
	if err := block.Validate(); err != nil {
		return DoctorSchedule{}, err
	}
	for _, existing := range d.schedules {
		if existing.Overlaps(block) {
			return DoctorSchedule{}, apperrors.SlotUnavailable(fmt.Sprintf(
				"schedule overlaps existing block %s-%s on %s",
				existing.StartTime, existing.EndTime, existing.DayOfWeek))
		}
	}

	now = now.UTC()
	block.ID = uuid.New()
	block.DoctorID = d.id
	block.CreatedAt = now
	d.schedules = append(d.schedules, block)
	d.updatedAt = now
	d.raise(EventScheduleAdded, now, map[string]interface{}{
		"schedule_id": block.ID.String(),
		"day_of_week": block.DayOfWeek.String(),
		"start_time":  block.StartTime.String(),
		"end_time":    block.EndTime.String(),
	})
	return block, nil
}

// RemoveSchedule drops the block with the given id
func (d *Doctor) RemoveSchedule(id uuid.UUID, now time.Time) (DoctorSchedule, error) {
	if err := d.requireSchedules(); err != nil {
		return DoctorSchedule{}, err
	}
	for i, s := range d.schedules {
		if s.ID != id {
			continue
		}
		d.schedules = append(d.schedules[:i:i], d.schedules[i+1:]...)
		now = now.UTC()
		d.updatedAt = now
		d.raise(EventScheduleRemoved, now, map[string]interface{}{
			"schedule_id": id.String(),
		})
		return s, nil
	}
	return DoctorSchedule{}, apperrors.NotFound("schedule", nil)
}

func (d *Doctor) PullEvents() []Event {
	events := d.events
	d.events = nil
	return events
}

func (d *Doctor) raise(eventType string, now time.Time, payload map[string]interface{}) {
	d.events = append(d.events, newEvent(eventType, d.id, now, payload))
}
