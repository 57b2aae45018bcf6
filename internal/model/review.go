package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const (
	MinRating = 1
	MaxRating = 5

	DefaultReviewCommentMaxLength = 1000
)

// Review is a patient's rating of a completed appointment
type Review struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Rating        int       `db:"rating" json:"rating"`
	Comment       string    `db:"comment" json:"comment"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ReviewInput is the patient supplied part of a review
type ReviewInput struct {
	Rating  int
	Comment string
}

func (in ReviewInput) validate(maxComment int) (string, error) {
	if err := ValidateRating(in.Rating); err != nil {
		return "", err
	}
	comment := strings.TrimSpace(in.Comment)
	if maxComment <= 0 {
		maxComment = DefaultReviewCommentMaxLength
	}
	if utf8.RuneCountInString(comment) > maxComment {
		return "", apperrors.Validationf("comment must be at most %d characters", maxComment)
	}
	return comment, nil
}

// ValidateRating checks a single rating value
func ValidateRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return apperrors.Validationf("rating must be between %d and %d", MinRating, MaxRating)
	}
	return nil
}

func (a *Appointment) requireReview() error {
	if !a.reviewLoaded {
		return apperrors.Internal(fmt.Errorf("review of appointment %s was not loaded", a.id))
	}
	return nil
}

// AddReview attaches the one review this appointment may have
func (a *Appointment) AddReview(in ReviewInput, maxComment int, now time.Time) (Review, error) {
	if err := a.requireReview(); err != nil {
		return Review{}, err
	}
	if a.review != nil {
		return Review{}, apperrors.AlreadyExists("appointment has already been reviewed")
	}
	if a.status != AppointmentStatusCompleted {
		return Review{}, apperrors.InvalidState("only completed appointments can be reviewed")
	}
	comment, err := in.validate(maxComment)
	if err != nil {
		return Review{}, err
	}

	now = now.UTC()
	r := Review{
		ID:            uuid.New(),
		AppointmentID: a.id,
		PatientID:     a.patientID,
		DoctorID:      a.doctorID,
		Rating:        in.Rating,
		Comment:       comment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	a.review = &r
	a.raise(EventReviewAdded, now, map[string]interface{}{
		"review_id": r.ID.String(),
		"doctor_id": a.doctorID.String(),
		"rating":    r.Rating,
	})
	return r, nil
}

// UpdateReview edits the existing review and returns the rating it replaced
func (a *Appointment) UpdateReview(in ReviewInput, maxComment int, now time.Time) (int, error) {
	if err := a.requireReview(); err != nil {
		return 0, err
	}
	if a.review == nil {
		return 0, apperrors.NotFound("review", nil)
	}
	comment, err := in.validate(maxComment)
	if err != nil {
		return 0, err
	}

	old := a.review.Rating
	if old == in.Rating && a.review.Comment == comment {
		return old, nil
	}
	now = now.UTC()
	a.review.Rating = in.Rating
	a.review.Comment = comment
	a.review.UpdatedAt = now
	a.raise(EventReviewUpdated, now, map[string]interface{}{
		"review_id":  a.review.ID.String(),
		"doctor_id":  a.doctorID.String(),
		"old_rating": old,
		"rating":     in.Rating,
	})
	return old, nil
}

// RemoveReview detaches the review and returns it so the doctor's aggregate
// can be rolled back with its rating.
func (a *Appointment) RemoveReview(now time.Time) (Review, error) {
	if err := a.requireReview(); err != nil {
		return Review{}, err
	}
	if a.review == nil {
		return Review{}, apperrors.NotFound("review", nil)
	}
	removed := *a.review
	a.review = nil
	a.raise(EventReviewRemoved, now.UTC(), map[string]interface{}{
		"review_id": removed.ID.String(),
		"doctor_id": a.doctorID.String(),
		"rating":    removed.Rating,
	})
	return removed, nil
}
