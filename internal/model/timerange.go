package model

import (
	"time"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// TimeRange is a half-open interval [Start, End)
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeRange validates a bookable range: end after start and both ends on
// an hour or half-hour boundary. Times are normalised to UTC.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if start.IsZero() || end.IsZero() {
		return TimeRange{}, apperrors.Validation("start and end times are required")
	}
	if !end.After(start) {
		return TimeRange{}, apperrors.Validation("end time must be after start time")
	}
	if !OnHalfHour(start) || !OnHalfHour(end) {
		return TimeRange{}, apperrors.Validation("appointment times must fall on :00 or :30")
	}
	return TimeRange{Start: start.UTC(), End: end.UTC()}, nil
}

// OnHalfHour reports whether t sits exactly on :00 or :30 (UTC)
func OnHalfHour(t time.Time) bool {
	u := t.UTC()
	if u.Second() != 0 || u.Nanosecond() != 0 {
		return false
	}
	return u.Minute() == 0 || u.Minute() == 30
}

// Overlaps uses the half-open test, so ranges that only touch do not overlap
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r TimeRange) Equal(o TimeRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}
