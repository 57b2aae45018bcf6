package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// SQLSTATE codes the store reacts to
const (
	codeUniqueViolation      = "23505"
	codeExclusionViolation   = "23P01"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// translate maps driver errors onto the application taxonomy. Errors that
// already carry a code pass through.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(op, nil)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeExclusionViolation:
			if pqErr.Constraint == "doctor_schedules_no_overlap" {
				return apperrors.SlotUnavailable("schedule overlaps an existing block")
			}
			return apperrors.SlotUnavailable("the requested slot is no longer available")
		case codeUniqueViolation:
			if pqErr.Table == "reviews" {
				return apperrors.AlreadyExists("appointment has already been reviewed")
			}
			return apperrors.AlreadyExists(pqErr.Message)
		case codeForeignKeyViolation:
			return apperrors.NotFound("referenced record", err)
		case codeCheckViolation:
			return apperrors.Validation(pqErr.Message)
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
			return apperrors.Persistence("database contention, retry the request", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Persistence("request cancelled during "+op, err)
	}
	return apperrors.Persistence("failed to "+op, err)
}
