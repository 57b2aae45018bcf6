package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const minutesPerDay = 24 * 60

// ClockTime is a wall clock time of day in minutes since midnight (UTC)
type ClockTime int

// ParseClock parses "HH:MM". "24:00" is accepted as the end of the day.
func ParseClock(s string) (ClockTime, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, apperrors.Validationf("invalid time of day %q, expected HH:MM", s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 24 || m > 59 || (h == 24 && m != 0) {
		return 0, apperrors.Validationf("invalid time of day %q", s)
	}
	return ClockTime(h*60 + m), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// DoctorSchedule is a recurring weekly availability block
type DoctorSchedule struct {
	ID                  uuid.UUID    `db:"id" json:"id"`
	DoctorID            uuid.UUID    `db:"doctor_id" json:"doctor_id"`
	DayOfWeek           time.Weekday `db:"day_of_week" json:"day_of_week"`
	StartTime           ClockTime    `db:"start_minute" json:"start_time"`
	EndTime             ClockTime    `db:"end_minute" json:"end_time"`
	SlotDurationMinutes int          `db:"slot_duration_minutes" json:"slot_duration_minutes"`
	CreatedAt           time.Time    `db:"created_at" json:"created_at"`
}

// Validate checks the block on its own, without looking at its siblings
func (s DoctorSchedule) Validate() error {
	if s.DayOfWeek < time.Sunday || s.DayOfWeek > time.Saturday {
		return apperrors.Validationf("invalid day of week %d", int(s.DayOfWeek))
	}
	if s.StartTime < 0 || s.EndTime > minutesPerDay {
		return apperrors.Validation("schedule must lie within a single day")
	}
	if s.EndTime <= s.StartTime {
		return apperrors.Validation("schedule end time must be after start time")
	}
	if s.SlotDurationMinutes <= 0 {
		return apperrors.Validation("slot duration must be positive")
	}
	if s.SlotDurationMinutes > int(s.EndTime-s.StartTime) {
		return apperrors.Validation("slot duration exceeds the schedule block")
	}
	return nil
}

// Overlaps applies the half-open test to two blocks on the same weekday
func (s DoctorSchedule) Overlaps(o DoctorSchedule) bool {
	return s.DayOfWeek == o.DayOfWeek && s.StartTime < o.EndTime && o.StartTime < s.EndTime
}

// Slots expands the block into concrete ranges on date. It returns nothing
// when date falls on another weekday. A trailing partial slot is dropped.
func (s DoctorSchedule) Slots(date time.Time) []TimeRange {
	d := date.UTC()
	if d.Weekday() != s.DayOfWeek {
		return nil
	}
	midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	step := time.Duration(s.SlotDurationMinutes) * time.Minute
	end := midnight.Add(time.Duration(s.EndTime) * time.Minute)

	var slots []TimeRange
	for t := midnight.Add(time.Duration(s.StartTime) * time.Minute); !t.Add(step).After(end); t = t.Add(step) {
		slots = append(slots, TimeRange{Start: t, End: t.Add(step)})
	}
	return slots
}
