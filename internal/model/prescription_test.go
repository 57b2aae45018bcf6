package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

func TestUpsertPrescriptions_Reconciles(t *testing.T) {
	a := newScheduled(t)
	keep, drop, add := uuid.New(), uuid.New(), uuid.New()

	diff, err := a.UpsertPrescriptions([]PrescriptionLine{
		{MedicineID: keep, Dosage: "10mg", Frequency: "twice daily"},
		{MedicineID: drop, Dosage: "1 tab", Frequency: "nightly"},
	}, testNow)
	require.NoError(t, err)
	assert.Len(t, diff.Added, 2)

	diff, err = a.UpsertPrescriptions([]PrescriptionLine{
		{MedicineID: keep, Dosage: "20mg", Frequency: "twice daily"},
		{MedicineID: add, Dosage: "5ml", Frequency: "as needed"},
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{add}, diff.Added)
	assert.Equal(t, []uuid.UUID{keep}, diff.Updated)
	assert.Equal(t, []uuid.UUID{drop}, diff.Removed)

	lines := a.Prescriptions()
	require.Len(t, lines, 2)
	byID := map[uuid.UUID]Prescription{}
	for _, l := range lines {
		byID[l.MedicineID] = l
	}
	assert.Equal(t, "20mg", byID[keep].Dosage)
	assert.Equal(t, "5ml", byID[add].Dosage)
}

func TestUpsertPrescriptions_Idempotent(t *testing.T) {
	a := newScheduled(t)
	lines := []PrescriptionLine{
		{MedicineID: uuid.New(), Dosage: "10mg", Frequency: "daily"},
		{MedicineID: uuid.New(), Dosage: "2 tabs", Frequency: "weekly"},
	}

	_, err := a.UpsertPrescriptions(lines, testNow)
	require.NoError(t, err)
	first := a.Prescriptions()
	a.PullEvents()

	diff, err := a.UpsertPrescriptions(lines, testNow)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.Equal(t, first, a.Prescriptions())
	assert.Empty(t, a.PullEvents())
}

func TestUpsertPrescriptions_EmptyInputClears(t *testing.T) {
	a := newScheduled(t)
	_, err := a.UpsertPrescriptions([]PrescriptionLine{{MedicineID: uuid.New(), Dosage: "1", Frequency: "1"}}, testNow)
	require.NoError(t, err)

	diff, err := a.UpsertPrescriptions(nil, testNow)
	require.NoError(t, err)
	assert.Len(t, diff.Removed, 1)
	assert.Empty(t, a.Prescriptions())
}

func TestUpsertPrescriptions_Rejections(t *testing.T) {
	med := uuid.New()

	t.Run("duplicate medicine", func(t *testing.T) {
		a := newScheduled(t)
		_, err := a.UpsertPrescriptions([]PrescriptionLine{
			{MedicineID: med, Dosage: "1", Frequency: "1"},
			{MedicineID: med, Dosage: "2", Frequency: "2"},
		}, testNow)
		assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
		assert.Empty(t, a.Prescriptions())
	})

	t.Run("blank dosage", func(t *testing.T) {
		a := newScheduled(t)
		_, err := a.UpsertPrescriptions([]PrescriptionLine{{MedicineID: med, Dosage: " ", Frequency: "1"}}, testNow)
		assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	})

	t.Run("nil medicine", func(t *testing.T) {
		a := newScheduled(t)
		_, err := a.UpsertPrescriptions([]PrescriptionLine{{Dosage: "1", Frequency: "1"}}, testNow)
		assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	})

	t.Run("cancelled appointment", func(t *testing.T) {
		a := newScheduled(t)
		require.NoError(t, a.Cancel("", testNow))
		_, err := a.UpsertPrescriptions([]PrescriptionLine{{MedicineID: med, Dosage: "1", Frequency: "1"}}, testNow)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidState))
	})

	t.Run("completed appointment is allowed", func(t *testing.T) {
		a := newCompleted(t)
		_, err := a.UpsertPrescriptions([]PrescriptionLine{{MedicineID: med, Dosage: "1", Frequency: "1"}}, testNow)
		assert.NoError(t, err)
	})
}
