package service

import (
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// RequireDoctor allows the doctor identified by doctorID and admins
func RequireDoctor(actor model.Actor, doctorID uuid.UUID) error {
	if actor.IsAdmin() || (actor.Role == model.RoleDoctor && actor.UserID == doctorID) {
		return nil
	}
	return apperrors.Unauthorized("only the treating doctor can do this")
}

// RequirePatient allows only the patient identified by patientID
func RequirePatient(actor model.Actor, patientID uuid.UUID) error {
	if actor.Role == model.RolePatient && actor.UserID == patientID {
		return nil
	}
	return apperrors.Unauthorized("only the patient of this appointment can do this")
}

// RequireParticipant allows the appointment's patient, its doctor and admins
func RequireParticipant(actor model.Actor, a *model.Appointment) error {
	switch {
	case actor.IsAdmin():
		return nil
	case actor.Role == model.RolePatient && actor.UserID == a.PatientID():
		return nil
	case actor.Role == model.RoleDoctor && actor.UserID == a.DoctorID():
		return nil
	}
	return apperrors.Unauthorized("caller is not a participant of this appointment")
}

// ScopeFilters restricts a listing to what the caller may see
func ScopeFilters(actor model.Actor, f model.AppointmentFilters) (model.AppointmentFilters, error) {
	switch actor.Role {
	case model.RoleAdmin:
		return f, nil
	case model.RolePatient:
		if f.PatientID != uuid.Nil && f.PatientID != actor.UserID {
			return f, apperrors.Unauthorized("patients can only list their own appointments")
		}
		f.PatientID = actor.UserID
		return f, nil
	case model.RoleDoctor:
		if f.DoctorID != uuid.Nil && f.DoctorID != actor.UserID {
			return f, apperrors.Unauthorized("doctors can only list their own appointments")
		}
		f.DoctorID = actor.UserID
		return f, nil
	}
	return f, apperrors.Unauthorized("unknown caller role")
}
