// Package service holds what the booking command services share: options,
// caller authorization and the commit step of a unit of work.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type Options struct {
	MinLeadTime            time.Duration
	ReviewCommentMaxLength int
	SlotCacheTTL           time.Duration
	Now                    func() time.Time
}

func OptionsFromConfig(cfg config.BookingConfig) Options {
	return Options{
		MinLeadTime:            cfg.MinLeadTime(),
		ReviewCommentMaxLength: cfg.ReviewCommentMaxLength,
		SlotCacheTTL:           cfg.SlotCacheTTL(),
	}
}

// Clock returns the current time in UTC
func (o Options) Clock() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o Options) CommentMaxLength() int {
	if o.ReviewCommentMaxLength > 0 {
		return o.ReviewCommentMaxLength
	}
	return model.DefaultReviewCommentMaxLength
}

// CheckLeadTime rejects slots starting sooner than the configured lead time
func (o Options) CheckLeadTime(start, now time.Time) error {
	if o.MinLeadTime > 0 && start.Before(now.Add(o.MinLeadTime)) {
		return apperrors.Validationf("appointments must be booked at least %s in advance", o.MinLeadTime)
	}
	return nil
}

// SlotInvalidator drops cached availability of a doctor
type SlotInvalidator interface {
	Invalidate(doctorID uuid.UUID)
}

// Commit saves the unit of work. When mustWrite is set, a commit that wrote
// nothing is reported as a persistence failure.
func Commit(ctx context.Context, uow repository.UnitOfWork, mustWrite bool) (int, error) {
	n, err := uow.SaveChanges(ctx)
	if err != nil {
		return 0, err
	}
	if mustWrite && n == 0 {
		return 0, apperrors.Persistence("no changes were saved", nil)
	}
	return n, nil
}

// Observe records the latency and outcome of a command and logs failures
// that are not plain business rule rejections
func Observe(m *metrics.Metrics, log *logger.Logger, command string, start time.Time, err error, fields ...interface{}) {
	m.ObserveCommand(command, time.Since(start).Seconds(), err)
	if log == nil {
		return
	}
	if err == nil {
		log.Debug(command+" succeeded", fields...)
		return
	}
	fields = append(fields, "error_code", apperrors.CodeOf(err).String())
	switch apperrors.CodeOf(err) {
	case apperrors.ErrPersistence, apperrors.ErrInternal:
		log.Error(err, command+" failed", fields...)
	default:
		log.Info(command+" rejected", append(fields, "reason", err.Error())...)
	}
}
