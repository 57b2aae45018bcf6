package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 3, hour, minute, 0, 0, time.UTC)
}

func newScheduled(t *testing.T) *Appointment {
	t.Helper()
	a, err := NewAppointment(NewAppointmentParams{
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		Start:     at(10, 0),
		End:       at(10, 30),
		Fee:       5000,
	}, testNow)
	require.NoError(t, err)
	return a
}

func TestNewAppointment_Validation(t *testing.T) {
	patient, doctor := uuid.New(), uuid.New()

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		fee   int64
		code  apperrors.ErrorCode
	}{
		{"end before start", at(11, 0), at(10, 30), 0, apperrors.ErrValidation},
		{"end equals start", at(10, 0), at(10, 0), 0, apperrors.ErrValidation},
		{"start off boundary", at(10, 15), at(10, 30), 0, apperrors.ErrValidation},
		{"end off boundary", at(10, 0), at(10, 45), 0, apperrors.ErrValidation},
		{"seconds set", at(10, 0).Add(time.Second), at(10, 30), 0, apperrors.ErrValidation},
		{"start in the past", testNow.Add(-time.Hour), testNow, 0, apperrors.ErrValidation},
		{"negative fee", at(10, 0), at(10, 30), -1, apperrors.ErrValidation},
		{"valid half hour", at(10, 30), at(11, 0), 100, 0},
		{"valid multi hour", at(9, 0), at(11, 0), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAppointment(NewAppointmentParams{
				PatientID: patient,
				DoctorID:  doctor,
				Start:     tt.start,
				End:       tt.end,
				Fee:       tt.fee,
			}, testNow)
			if tt.code != 0 {
				assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
				assert.Nil(t, a)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, AppointmentStatusScheduled, a.Status())
			assert.Equal(t, PaymentStatusPending, a.PaymentStatus())
			assert.True(t, a.Slot().End.After(a.Slot().Start))
			assert.True(t, OnHalfHour(a.Slot().Start))
			assert.True(t, OnHalfHour(a.Slot().End))

			events := a.PullEvents()
			require.Len(t, events, 1)
			assert.Equal(t, EventAppointmentBooked, events[0].Type)
			assert.Empty(t, a.PullEvents())
		})
	}
}

func TestNewAppointment_NonUTCInputIsNormalised(t *testing.T) {
	loc := time.FixedZone("UTC+0530", 5*3600+1800)
	start := time.Date(2026, 3, 3, 15, 30, 0, 0, loc) // 10:00 UTC
	a, err := NewAppointment(NewAppointmentParams{
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		Start:     start,
		End:       start.Add(30 * time.Minute),
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, a.Slot().Start.Location())
	assert.True(t, a.Slot().Start.Equal(at(10, 0)))
}

func TestAppointment_TerminalStatesAreFinal(t *testing.T) {
	cancelled := newScheduled(t)
	require.NoError(t, cancelled.Cancel("patient request", testNow))

	completed := newScheduled(t)
	require.NoError(t, completed.Complete(OutcomeAttended, testNow))

	notes := "late"
	status := AppointmentStatusScheduled
	for _, a := range []*Appointment{cancelled, completed} {
		assert.True(t, apperrors.Is(a.Cancel("", testNow), apperrors.ErrInvalidState))
		assert.True(t, apperrors.Is(a.Complete(OutcomeAttended, testNow), apperrors.ErrInvalidState))
		assert.True(t, apperrors.Is(a.PatientUpdate("hello", testNow), apperrors.ErrInvalidState))
		assert.True(t, apperrors.Is(a.DoctorUpdate(DoctorChanges{Notes: &notes}, testNow), apperrors.ErrInvalidState))
		assert.True(t, apperrors.Is(a.DoctorUpdate(DoctorChanges{Status: &status}, testNow), apperrors.ErrInvalidState))
	}
	assert.Equal(t, AppointmentStatusCancelled, cancelled.Status())
	assert.Equal(t, "patient request", cancelled.CancelReason())
	assert.Equal(t, AppointmentStatusCompleted, completed.Status())
}

func TestAppointment_DoctorUpdatePartialFields(t *testing.T) {
	a := newScheduled(t)
	a.PullEvents()

	fee := int64(7500)
	notes := "bring previous reports"
	paid := PaymentStatusPaid
	require.NoError(t, a.DoctorUpdate(DoctorChanges{Fee: &fee, Notes: &notes, PaymentStatus: &paid}, testNow))

	assert.Equal(t, fee, a.Fee())
	assert.Equal(t, notes, a.Notes())
	assert.Equal(t, PaymentStatusPaid, a.PaymentStatus())
	assert.Equal(t, AppointmentStatusScheduled, a.Status())
	assert.True(t, a.Slot().Equal(TimeRange{Start: at(10, 0), End: at(10, 30)}))

	events := a.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentUpdated, events[0].Type)
}

func TestAppointment_DoctorUpdateRejectsBadTimesAtomically(t *testing.T) {
	a := newScheduled(t)
	fee := int64(1)
	badEnd := at(10, 20)

	err := a.DoctorUpdate(DoctorChanges{Fee: &fee, End: &badEnd}, testNow)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Equal(t, int64(5000), a.Fee(), "fee must not change when the update is rejected")

	past := testNow.Add(-2 * time.Hour)
	pastEnd := past.Add(30 * time.Minute)
	err = a.DoctorUpdate(DoctorChanges{Start: &past, End: &pastEnd}, testNow)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestAppointment_DoctorUpdateReschedule(t *testing.T) {
	a := newScheduled(t)
	a.PullEvents()
	start, end := at(14, 0), at(15, 0)

	require.NoError(t, a.DoctorUpdate(DoctorChanges{Start: &start, End: &end}, testNow))
	assert.True(t, a.Slot().Equal(TimeRange{Start: start, End: end}))

	var types []string
	for _, e := range a.PullEvents() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{EventAppointmentRescheduled, EventAppointmentUpdated}, types)
}

func TestAppointment_DoctorUpdateExtendsStartedAppointment(t *testing.T) {
	a := newScheduled(t)
	during := at(10, 15)

	end := at(10, 45)
	require.NoError(t, a.DoctorUpdate(DoctorChanges{End: &end}, during))
	assert.True(t, a.Slot().Equal(TimeRange{Start: at(10, 0), End: end}))

	sameStart := at(10, 0)
	later := at(11, 0)
	require.NoError(t, a.DoctorUpdate(DoctorChanges{Start: &sameStart, End: &later}, during))
	assert.True(t, a.Slot().End.Equal(later))

	earlier := at(9, 30)
	err := a.DoctorUpdate(DoctorChanges{Start: &earlier}, during)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "moving the start into the past is still rejected")
	assert.True(t, a.Slot().Start.Equal(at(10, 0)))
}

func TestAppointment_DoctorUpdateStatusTransitions(t *testing.T) {
	t.Run("complete with outcome", func(t *testing.T) {
		a := newScheduled(t)
		completed := AppointmentStatusCompleted
		noShow := OutcomeNoShow
		require.NoError(t, a.DoctorUpdate(DoctorChanges{Status: &completed, Outcome: &noShow}, testNow))
		assert.Equal(t, AppointmentStatusCompleted, a.Status())
		assert.Equal(t, OutcomeNoShow, a.Outcome())
	})

	t.Run("complete defaults to attended", func(t *testing.T) {
		a := newScheduled(t)
		completed := AppointmentStatusCompleted
		require.NoError(t, a.DoctorUpdate(DoctorChanges{Status: &completed}, testNow))
		assert.Equal(t, OutcomeAttended, a.Outcome())
	})

	t.Run("outcome without completion", func(t *testing.T) {
		a := newScheduled(t)
		attended := OutcomeAttended
		err := a.DoctorUpdate(DoctorChanges{Outcome: &attended}, testNow)
		assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	})

	t.Run("cancel with reason", func(t *testing.T) {
		a := newScheduled(t)
		status, reason, err := ParseAppointmentStatus("rejected")
		require.NoError(t, err)
		require.NoError(t, a.DoctorUpdate(DoctorChanges{Status: &status, CancelReason: &reason}, testNow))
		assert.Equal(t, AppointmentStatusCancelled, a.Status())
		assert.Equal(t, CancelReasonRejected, a.CancelReason())
	})
}

func TestParseAppointmentStatus(t *testing.T) {
	tests := []struct {
		in     string
		status AppointmentStatus
		reason string
		ok     bool
	}{
		{"scheduled", AppointmentStatusScheduled, "", true},
		{"Completed", AppointmentStatusCompleted, "", true},
		{"cancelled", AppointmentStatusCancelled, "", true},
		{"pending_confirmation", AppointmentStatusScheduled, "", true},
		{"rejected", AppointmentStatusCancelled, CancelReasonRejected, true},
		{"confirmed", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			status, reason, err := ParseAppointmentStatus(tt.in)
			if !tt.ok {
				assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestAppointment_PatientUpdateOnlyTouchesNotes(t *testing.T) {
	a := newScheduled(t)
	require.NoError(t, a.PatientUpdate("allergic to penicillin", testNow))
	assert.Equal(t, "allergic to penicillin", a.PatientNotes())
	assert.Equal(t, AppointmentStatusScheduled, a.Status())
}

func TestAppointment_SnapshotRoundTrip(t *testing.T) {
	a := newScheduled(t)
	disease := uuid.New()
	require.NoError(t, a.DoctorUpdate(DoctorChanges{DiseaseID: &disease}, testNow))
	_, err := a.UpsertPrescriptions([]PrescriptionLine{{MedicineID: uuid.New(), Dosage: "5mg", Frequency: "daily"}}, testNow)
	require.NoError(t, err)

	snap := a.Snapshot()
	restored := RestoreAppointment(snap)
	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, &disease, restored.DiseaseID())
	assert.Empty(t, restored.PullEvents())
}
