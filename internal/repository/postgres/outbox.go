package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const outboxColumns = `id, event_type, aggregate_id, payload, status, error_message, retry_count,
	retry_at, created_at, processed_at, updated_at`

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{NewBaseRepository(db)}
}

// ClaimPending moves due events to processing and pushes retry_at out by the
// lease. Rows locked by another relay are skipped.
func (r *outboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error) {
	query := `
		UPDATE outbox_events
		SET status = $3, retry_at = NOW() + make_interval(secs => $2), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = $4
			   OR (status IN ($3, $5) AND retry_at IS NOT NULL AND retry_at <= NOW())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	var events []model.OutboxEvent
	err := r.db.SelectContext(ctx, &events, query,
		limit, lease.Seconds(),
		string(model.OutboxStatusProcessing),
		string(model.OutboxStatusPending),
		string(model.OutboxStatusFailed),
	)
	if err != nil {
		return nil, translate(err, "claim outbox events")
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $2, processed_at = NOW(), updated_at = NOW(), retry_at = NULL, error_message = NULL
		WHERE id = $1`,
		id, string(model.OutboxStatusProcessed))
	if err != nil {
		return translate(err, "mark outbox event processed")
	}
	return expectRow(res, "outbox event")
}

// MarkFailed records a failed delivery. A nil retryAt parks the event until
// an operator resets it.
func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, retryAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $2, error_message = $3, retry_at = $4, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1`,
		id, string(model.OutboxStatusFailed), errorMessage, retryAt)
	if err != nil {
		return translate(err, "mark outbox event failed")
	}
	return expectRow(res, "outbox event")
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox_events WHERE status = $1 AND processed_at < $2`,
		string(model.OutboxStatusProcessed), before)
	if err != nil {
		return 0, translate(err, "delete processed outbox events")
	}
	return res.RowsAffected()
}

func expectRow(res interface{ RowsAffected() (int64, error) }, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err, "update "+resource)
	}
	if n == 0 {
		return apperrors.NotFound(resource, nil)
	}
	return nil
}
