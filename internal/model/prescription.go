package model

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Prescription is one medication line. Within an appointment it is
// identified by its medicine id.
type Prescription struct {
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	MedicineID    uuid.UUID `db:"medicine_id" json:"medicine_id"`
	Dosage        string    `db:"dosage" json:"dosage"`
	Frequency     string    `db:"frequency" json:"frequency"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// PrescriptionLine is the desired state of one line
type PrescriptionLine struct {
	MedicineID uuid.UUID `json:"medicine_id" binding:"required"`
	Dosage     string    `json:"dosage" binding:"required,max=200"`
	Frequency  string    `json:"frequency" binding:"required,max=200"`
}

// PrescriptionDiff lists the medicine ids touched by a reconciliation
type PrescriptionDiff struct {
	Added   []uuid.UUID `json:"added"`
	Updated []uuid.UUID `json:"updated"`
	Removed []uuid.UUID `json:"removed"`
}

func (d PrescriptionDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// Prescriptions returns the current lines ordered by medicine id
func (a *Appointment) Prescriptions() []Prescription {
	out := make([]Prescription, 0, len(a.prescriptions))
	for _, p := range a.prescriptions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].MedicineID[:], out[j].MedicineID[:]) < 0
	})
	return out
}

// UpsertPrescriptions reconciles the current lines against lines. Lines
// missing from the input are removed, matching lines get the new dosage and
// frequency, new medicine ids are added. Applying the same input twice
// leaves the second call with an empty diff.
func (a *Appointment) UpsertPrescriptions(lines []PrescriptionLine, now time.Time) (PrescriptionDiff, error) {
	if !a.prescriptionsLoaded {
		return PrescriptionDiff{}, apperrors.Internal(fmt.Errorf("prescriptions of appointment %s were not loaded", a.id))
	}
	if a.status == AppointmentStatusCancelled {
		return PrescriptionDiff{}, apperrors.InvalidState("cannot prescribe for a cancelled appointment")
	}

	desired := make(map[uuid.UUID]PrescriptionLine, len(lines))
	for i, l := range lines {
		if l.MedicineID == uuid.Nil {
			return PrescriptionDiff{}, apperrors.Validationf("line %d: medicine id is required", i)
		}
		l.Dosage = strings.TrimSpace(l.Dosage)
		l.Frequency = strings.TrimSpace(l.Frequency)
		if l.Dosage == "" || l.Frequency == "" {
			return PrescriptionDiff{}, apperrors.Validationf("line %d: dosage and frequency are required", i)
		}
		if _, dup := desired[l.MedicineID]; dup {
			return PrescriptionDiff{}, apperrors.Validationf("medicine %s is listed more than once", l.MedicineID)
		}
		desired[l.MedicineID] = l
	}

	now = now.UTC()
	var diff PrescriptionDiff
	for id := range a.prescriptions {
		if _, keep := desired[id]; !keep {
			delete(a.prescriptions, id)
			diff.Removed = append(diff.Removed, id)
		}
	}
	for id, l := range desired {
		current, exists := a.prescriptions[id]
		switch {
		case !exists:
			a.prescriptions[id] = Prescription{
				AppointmentID: a.id,
				MedicineID:    id,
				Dosage:        l.Dosage,
				Frequency:     l.Frequency,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			diff.Added = append(diff.Added, id)
		case current.Dosage != l.Dosage || current.Frequency != l.Frequency:
			current.Dosage = l.Dosage
			current.Frequency = l.Frequency
			current.UpdatedAt = now
			a.prescriptions[id] = current
			diff.Updated = append(diff.Updated, id)
		}
	}
	sortIDs(diff.Added)
	sortIDs(diff.Updated)
	sortIDs(diff.Removed)

	if !diff.Empty() {
		a.raise(EventPrescriptionsChanged, now, map[string]interface{}{
			"patient_id": a.patientID.String(),
			"doctor_id":  a.doctorID.String(),
			"added":      len(diff.Added),
			"updated":    len(diff.Updated),
			"removed":    len(diff.Removed),
		})
	}
	return diff, nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
