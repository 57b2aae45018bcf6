package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newAppointment(t *testing.T) *model.Appointment {
	t.Helper()
	a, err := model.NewAppointment(model.NewAppointmentParams{
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		Start:     time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 3, 3, 10, 30, 0, 0, time.UTC),
	}, now)
	require.NoError(t, err)
	return a
}

func kinds(ops []Op) []string {
	var out []string
	for _, op := range ops {
		out = append(out, op.Kind.String()+":"+op.Table)
	}
	return out
}

func TestDiffAppointment_NewAggregateInsertsEverything(t *testing.T) {
	a := newAppointment(t)
	_, err := a.UpsertPrescriptions([]model.PrescriptionLine{{MedicineID: uuid.New(), Dosage: "1", Frequency: "1"}}, now)
	require.NoError(t, err)

	ops := DiffAppointment(nil, a.Snapshot())
	assert.Equal(t, []string{"insert:appointments", "insert:prescriptions"}, kinds(ops))
}

func TestDiffAppointment_ReviewLifecycle(t *testing.T) {
	a := newAppointment(t)
	require.NoError(t, a.Complete(model.OutcomeAttended, now))
	before := a.Snapshot()

	_, err := a.AddReview(model.ReviewInput{Rating: 4}, 0, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"insert:reviews"}, kinds(DiffAppointment(&before, a.Snapshot())))

	withReview := a.Snapshot()
	_, err = a.RemoveReview(now)
	require.NoError(t, err)
	_, err = a.AddReview(model.ReviewInput{Rating: 2}, 0, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"delete:reviews", "insert:reviews"}, kinds(DiffAppointment(&withReview, a.Snapshot())))
}

func TestDiffAppointment_UnloadedChildrenAreIgnored(t *testing.T) {
	a := newAppointment(t)
	before := a.Snapshot()
	before.PrescriptionsLoaded = false
	before.Prescriptions = nil

	_, err := a.UpsertPrescriptions([]model.PrescriptionLine{{MedicineID: uuid.New(), Dosage: "1", Frequency: "1"}}, now)
	require.NoError(t, err)
	assert.Empty(t, DiffAppointment(&before, a.Snapshot()))
}

func TestDiffAppointment_PrescriptionReconciliation(t *testing.T) {
	a := newAppointment(t)
	keep, drop := uuid.New(), uuid.New()
	_, err := a.UpsertPrescriptions([]model.PrescriptionLine{
		{MedicineID: keep, Dosage: "1", Frequency: "1"},
		{MedicineID: drop, Dosage: "1", Frequency: "1"},
	}, now)
	require.NoError(t, err)
	before := a.Snapshot()

	_, err = a.UpsertPrescriptions([]model.PrescriptionLine{
		{MedicineID: keep, Dosage: "2", Frequency: "1"},
		{MedicineID: uuid.New(), Dosage: "1", Frequency: "1"},
	}, now)
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"delete:prescriptions", "update:prescriptions", "insert:prescriptions"},
		kinds(DiffAppointment(&before, a.Snapshot())))
}

func TestTracker_PendingOrdersDoctorsFirstAndDrainsEvents(t *testing.T) {
	tr := NewTracker()
	a := newAppointment(t)
	require.NoError(t, tr.AddAppointment(a))

	d := model.RestoreDoctor(model.DoctorSnapshot{Doctor: model.DoctorRecord{ID: a.DoctorID(), IsActive: true}})
	d = tr.AttachDoctor(d)
	require.NoError(t, d.ApplyReviewAdded(5, now))

	pending := tr.Pending()
	assert.Equal(t, []string{"update:doctors", "insert:appointments"}, kinds(pending.Ops))
	assert.Len(t, pending.Events, 2)

	pending.Accept()
	again := tr.Pending()
	assert.Empty(t, again.Ops)
	assert.Empty(t, again.Events)
}

func TestTracker_AddTwiceFails(t *testing.T) {
	tr := NewTracker()
	a := newAppointment(t)
	require.NoError(t, tr.AddAppointment(a))
	assert.Error(t, tr.AddAppointment(a))
}
