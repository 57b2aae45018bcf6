package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/pkg/circuitbreaker"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	calls     int
	published []uuid.UUID
}

func (p *fakePublisher) PublishEvent(_ context.Context, e model.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, e.ID)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	clock     *clock
	store     *memory.Store
	publisher *fakePublisher
	metrics   *metrics.Metrics
	processor *OutboxProcessor
}

func newFixture(t *testing.T, cfg OutboxProcessorConfig) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	store := memory.NewStore().WithClock(c.Now)
	pub := &fakePublisher{}
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.Lease == 0 {
		cfg.Lease = 30 * time.Second
	}
	cfg.Now = c.Now

	p, err := NewOutboxProcessor(store, pub, cfg, nil, m)
	require.NoError(t, err)
	return &fixture{clock: c, store: store, publisher: pub, metrics: m, processor: p}
}

func (f *fixture) seed(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		created := f.clock.Now().Add(time.Duration(i) * time.Millisecond)
		ids[i] = uuid.New()
		f.store.SeedOutbox(model.OutboxEvent{
			ID:          ids[i],
			EventType:   model.EventAppointmentBooked,
			AggregateID: uuid.New(),
			Payload:     json.RawMessage(`{}`),
			Status:      model.OutboxStatusPending,
			CreatedAt:   created,
			UpdatedAt:   created,
		})
	}
	return ids
}

func (f *fixture) event(t *testing.T, id uuid.UUID) model.OutboxEvent {
	t.Helper()
	for _, e := range f.store.OutboxEvents() {
		if e.ID == id {
			return e
		}
	}
	t.Fatalf("event %s not found", id)
	return model.OutboxEvent{}
}

func TestProcessBatch_PublishesInCreationOrder(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{})
	ids := f.seed(3)

	n, err := f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, ids, f.publisher.published)
	for _, id := range ids {
		e := f.event(t, id)
		assert.Equal(t, model.OutboxStatusProcessed, e.Status)
		assert.NotNil(t, e.ProcessedAt)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.OutboxEventsProcessed))

	n, err = f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "processed events are not published again")
}

func TestProcessBatch_RespectsBatchSize(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{BatchSize: 2})
	ids := f.seed(3)

	n, err := f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ids, f.publisher.published)
}

func TestProcessBatch_FailedEventsBackOffThenPark(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		MaxDeliveries: 2,
	})
	ids := f.seed(1)
	f.publisher.err = errors.New("broker down")
	ctx := context.Background()

	n, err := f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, f.publisher.calls, "retried in process")

	e := f.event(t, ids[0])
	assert.Equal(t, model.OutboxStatusFailed, e.Status)
	assert.Equal(t, 1, e.RetryCount)
	require.NotNil(t, e.RetryAt)
	require.NotNil(t, e.ErrorMessage)
	assert.Equal(t, "broker down", *e.ErrorMessage)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OutboxRetries.WithLabelValues(model.EventAppointmentBooked)))

	// not due before the backoff elapses
	n, err = f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, f.publisher.calls)

	f.clock.Advance(time.Second)
	_, err = f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	e = f.event(t, ids[0])
	assert.Equal(t, 2, e.RetryCount)
	assert.Nil(t, e.RetryAt, "parked after the last allowed delivery")

	f.clock.Advance(time.Hour)
	f.publisher.err = nil
	n, err = f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "parked events are never claimed again")
}

func TestProcessBatch_OpenBreakerStopsRetries(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{RetryAttempts: 5, RetryDelay: time.Millisecond})
	ids := f.seed(1)
	f.publisher.err = circuitbreaker.ErrOpen

	_, err := f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.publisher.calls)
	assert.Equal(t, model.OutboxStatusFailed, f.event(t, ids[0]).Status)
}

func TestProcessBatch_RecoversAfterFailure(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{RetryDelay: 10 * time.Second})
	ids := f.seed(1)
	f.publisher.err = errors.New("broker down")
	ctx := context.Background()

	_, err := f.processor.ProcessBatch(ctx)
	require.NoError(t, err)

	f.publisher.err = nil
	f.clock.Advance(10 * time.Second)
	n, err := f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	e := f.event(t, ids[0])
	assert.Equal(t, model.OutboxStatusProcessed, e.Status)
	assert.Nil(t, e.ErrorMessage)
}

func TestCleanup_DeletesProcessedPastRetention(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{Retention: time.Hour})
	f.seed(2)
	ctx := context.Background()
	_, err := f.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	pending := f.seed(1)

	n, err := f.processor.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.processor.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining := f.store.OutboxEvents()
	require.Len(t, remaining, 1)
	assert.Equal(t, pending[0], remaining[0].ID)
}

func TestNewOutboxProcessor_RejectsInvalidConfig(t *testing.T) {
	valid := OutboxProcessorConfig{BatchSize: 1, PollInterval: time.Second, RetryAttempts: 1, Lease: time.Second}
	tests := []struct {
		name   string
		mutate func(*OutboxProcessorConfig)
	}{
		{"batch size", func(c *OutboxProcessorConfig) { c.BatchSize = 0 }},
		{"poll interval", func(c *OutboxProcessorConfig) { c.PollInterval = 0 }},
		{"retry attempts", func(c *OutboxProcessorConfig) { c.RetryAttempts = 0 }},
		{"retry delay", func(c *OutboxProcessorConfig) { c.RetryDelay = -time.Second }},
		{"lease", func(c *OutboxProcessorConfig) { c.Lease = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := NewOutboxProcessor(memory.NewStore(), &fakePublisher{}, cfg, nil, nil)
			assert.Error(t, err)
		})
	}

	_, err := NewOutboxProcessor(memory.NewStore(), &fakePublisher{}, valid, nil, nil)
	assert.NoError(t, err)
}

func TestStart_StopsOnCancel(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{PollInterval: time.Millisecond})
	f.seed(2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.processor.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		f.publisher.mu.Lock()
		defer f.publisher.mu.Unlock()
		return len(f.publisher.published) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}
