package model

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

func restoredDoctor(rating float64, count int) *Doctor {
	return RestoreDoctor(DoctorSnapshot{
		Doctor: DoctorRecord{
			ID:          uuid.New(),
			IsActive:    true,
			Rating:      rating,
			ReviewCount: count,
		},
		SchedulesLoaded: true,
	})
}

func TestDoctorRating_AddThenRemoveRestoresExactly(t *testing.T) {
	d := restoredDoctor(4.5, 10)

	require.NoError(t, d.ApplyReviewAdded(5, testNow))
	assert.Equal(t, 11, d.ReviewCount())
	assert.InDelta(t, 50.0/11.0, d.Rating(), 1e-12)
	assert.Equal(t, 4.55, d.DisplayRating())

	require.NoError(t, d.ApplyReviewRemoved(5, testNow))
	assert.Equal(t, 10, d.ReviewCount())
	assert.Equal(t, 4.5, d.Rating())
}

func TestDoctorRating_RemovingLastReviewResets(t *testing.T) {
	d := restoredDoctor(0, 0)
	require.NoError(t, d.ApplyReviewAdded(3, testNow))
	assert.Equal(t, 3.0, d.Rating())

	require.NoError(t, d.ApplyReviewRemoved(3, testNow))
	assert.Equal(t, 0.0, d.Rating())
	assert.Equal(t, 0, d.ReviewCount())
}

func TestDoctorRating_Update(t *testing.T) {
	d := restoredDoctor(0, 0)
	require.NoError(t, d.ApplyReviewAdded(2, testNow))
	require.NoError(t, d.ApplyReviewAdded(4, testNow))
	d.PullEvents()

	require.NoError(t, d.ApplyReviewUpdated(4, 4, testNow))
	assert.Empty(t, d.PullEvents(), "same rating is a no-op")

	require.NoError(t, d.ApplyReviewUpdated(2, 5, testNow))
	assert.Equal(t, 4.5, d.Rating())
	assert.Equal(t, 2, d.ReviewCount())

	empty := restoredDoctor(0, 0)
	assert.True(t, apperrors.Is(empty.ApplyReviewUpdated(1, 2, testNow), apperrors.ErrInvalidState))
}

func TestDoctorRating_RejectsOutOfRange(t *testing.T) {
	d := restoredDoctor(0, 0)
	assert.True(t, apperrors.Is(d.ApplyReviewAdded(0, testNow), apperrors.ErrValidation))
	assert.True(t, apperrors.Is(d.ApplyReviewAdded(6, testNow), apperrors.ErrValidation))
	assert.Equal(t, 0, d.ReviewCount())
}

func TestDoctorRating_MatchesTrueMeanOverRandomSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	d := restoredDoctor(0, 0)
	var attached []int

	for i := 0; i < 2000; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(attached) == 0:
			r := 1 + rng.Intn(5)
			require.NoError(t, d.ApplyReviewAdded(r, testNow))
			attached = append(attached, r)
		case op == 1:
			idx := rng.Intn(len(attached))
			r := 1 + rng.Intn(5)
			require.NoError(t, d.ApplyReviewUpdated(attached[idx], r, testNow))
			attached[idx] = r
		default:
			idx := rng.Intn(len(attached))
			require.NoError(t, d.ApplyReviewRemoved(attached[idx], testNow))
			attached = append(attached[:idx], attached[idx+1:]...)
		}

		require.Equal(t, len(attached), d.ReviewCount())
		if len(attached) == 0 {
			require.Equal(t, 0.0, d.Rating())
			continue
		}
		sum := 0
		for _, r := range attached {
			sum += r
		}
		mean := float64(sum) / float64(len(attached))
		require.InDelta(t, mean, d.Rating(), 1e-9)
		require.GreaterOrEqual(t, d.Rating(), 1.0)
		require.LessOrEqual(t, d.Rating(), 5.0)
	}
}

func TestRestoreDoctor_RecoversTotalFromLegacyRows(t *testing.T) {
	d := restoredDoctor(4.5, 10)
	snap := d.Snapshot()
	assert.Equal(t, 45, snap.Doctor.RatingTotal)
	assert.Equal(t, 4.5, snap.Doctor.Rating)
	assert.False(t, math.IsNaN(restoredDoctor(0, 0).Rating()))
}

func TestDoctorRating_RefusesInconsistentSummary(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	// two reviews stored as 5.0, but the row being removed says 1
	d := restoredDoctor(5.0, 2)
	err := d.ApplyReviewRemoved(1, now)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidState), err.Error())
	assert.Equal(t, 2, d.ReviewCount(), "summary untouched")
	assert.InDelta(t, 5.0, d.Rating(), 1e-9)
	assert.Empty(t, d.PullEvents())

	d = restoredDoctor(1.0, 3)
	err = d.ApplyReviewUpdated(5, 1, now)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidState))
	assert.InDelta(t, 1.0, d.Rating(), 1e-9)
	assert.Empty(t, d.PullEvents())
}

func block(day time.Weekday, start, end string, slot int) DoctorSchedule {
	s, _ := ParseClock(start)
	e, _ := ParseClock(end)
	return DoctorSchedule{DayOfWeek: day, StartTime: s, EndTime: e, SlotDurationMinutes: slot}
}

func TestDoctorSchedules_Overlap(t *testing.T) {
	d := restoredDoctor(0, 0)

	first, err := d.AddSchedule(block(time.Monday, "09:00", "12:00", 30), testNow)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.Equal(t, d.ID(), first.DoctorID)

	_, err = d.AddSchedule(block(time.Monday, "11:30", "13:00", 30), testNow)
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotUnavailable))

	_, err = d.AddSchedule(block(time.Monday, "12:00", "14:00", 30), testNow)
	assert.NoError(t, err, "touching blocks do not overlap")

	_, err = d.AddSchedule(block(time.Tuesday, "09:00", "12:00", 30), testNow)
	assert.NoError(t, err, "other weekday")

	assert.Len(t, d.Schedules(), 3)
}

func TestDoctorSchedules_Validation(t *testing.T) {
	tests := []struct {
		name  string
		block DoctorSchedule
	}{
		{"end before start", block(time.Monday, "12:00", "09:00", 30)},
		{"zero slot", block(time.Monday, "09:00", "12:00", 0)},
		{"slot longer than block", block(time.Monday, "09:00", "09:30", 45)},
		{"bad weekday", DoctorSchedule{DayOfWeek: 7, StartTime: 60, EndTime: 120, SlotDurationMinutes: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := restoredDoctor(0, 0)
			_, err := d.AddSchedule(tt.block, testNow)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "got %v", err)
			assert.Empty(t, d.Schedules())
		})
	}
}

func TestDoctorSchedules_Remove(t *testing.T) {
	d := restoredDoctor(0, 0)
	s, err := d.AddSchedule(block(time.Friday, "08:00", "10:00", 60), testNow)
	require.NoError(t, err)

	_, err = d.RemoveSchedule(uuid.New(), testNow)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	removed, err := d.RemoveSchedule(s.ID, testNow)
	require.NoError(t, err)
	assert.Equal(t, s, removed)
	assert.Empty(t, d.Schedules())
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, ClockTime(570), c)
	assert.Equal(t, "09:30", c.String())

	end, err := ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, ClockTime(1440), end)

	for _, bad := range []string{"9:30", "25:00", "12:60", "24:30", "ab:cd", "", "9:00a", "+9:00", "09-30"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestDoctorSchedule_Slots(t *testing.T) {
	s := block(time.Tuesday, "09:00", "10:45", 30)
	tuesday := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	slots := s.Slots(tuesday)
	require.Len(t, slots, 3)
	assert.True(t, slots[0].Start.Equal(at(9, 0)))
	assert.True(t, slots[2].End.Equal(at(10, 30)))

	assert.Empty(t, s.Slots(tuesday.AddDate(0, 0, 1)))
}
