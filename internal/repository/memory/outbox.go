package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// ClaimPending leases due events. A claimed event becomes due again once
// its lease runs out without being marked.
func (s *Store) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var due []model.OutboxEvent
	for _, e := range s.data.outbox {
		if isDue(e, now) {
			due = append(due, e)
		}
	}
	sortOutbox(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	leaseUntil := now.Add(lease)
	for i := range due {
		due[i].Status = model.OutboxStatusProcessing
		due[i].RetryAt = &leaseUntil
		due[i].UpdatedAt = now
		s.data.outbox[due[i].ID] = due[i]
	}
	return due, nil
}

func isDue(e model.OutboxEvent, now time.Time) bool {
	switch e.Status {
	case model.OutboxStatusPending:
		return true
	case model.OutboxStatusFailed, model.OutboxStatusProcessing:
		return e.RetryAt != nil && !e.RetryAt.After(now)
	}
	return false
}

func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.outbox[id]
	if !ok {
		return apperrors.NotFound("outbox event", nil)
	}
	now := s.now().UTC()
	e.Status = model.OutboxStatusProcessed
	e.ProcessedAt = &now
	e.RetryAt = nil
	e.ErrorMessage = nil
	e.UpdatedAt = now
	s.data.outbox[id] = e
	return nil
}

// MarkFailed records a failed publish. A nil retryAt parks the event for good.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, retryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.outbox[id]
	if !ok {
		return apperrors.NotFound("outbox event", nil)
	}
	e.Status = model.OutboxStatusFailed
	e.ErrorMessage = &errorMessage
	e.RetryCount++
	e.RetryAt = retryAt
	e.UpdatedAt = s.now().UTC()
	s.data.outbox[id] = e
	return nil
}

func (s *Store) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.data.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(s.data.outbox, id)
			n++
		}
	}
	return n, nil
}
