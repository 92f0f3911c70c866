package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox/registry"
)

type harness struct {
	repo    *stubRepo
	pub     *stubPublisher
	dlq     *stubDLQ
	metrics *stubMetrics
	svc     *Service
}

func newHarness(t *testing.T, resolver registryResolver, maxAttempts int, events ...models.OutboxEvent) *harness {
	t.Helper()
	h := &harness{
		repo:    &stubRepo{events: events},
		pub:     &stubPublisher{},
		dlq:     &stubDLQ{},
		metrics: &stubMetrics{},
	}
	svc, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: config.OutboxConfig{BatchSize: 10, PollIntervalMS: 10, MaxAttempts: maxAttempts}},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               stubDB{},
		PubSub:           stubPubSub{},
		Repository:       h.repo,
		Registry:         resolver,
		PublisherFactory: func(string) publisher { return h.pub },
		DLQRepository:    h.dlq,
		Metrics:          h.metrics,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func paymentRow(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString(), Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       raw,
		AttemptCount:  attempts,
	}
}

func settledResolver() staticResolver {
	return staticResolver{resolved: registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "settlements"},
		Envelope:   outbox.PayloadEnvelope{EventID: "evt-1", OccurredAt: time.Now()},
		Payload: &payloads.PaymentEvent{
			TransactionRef: "TS-REF-1",
			TableNumber:    7,
			Method:         enums.PaymentMethodCash,
			Status:         enums.PaymentStatusSuccess,
		},
	}}
}

func TestDrainPublishesWithOrderingKeyAndAttributes(t *testing.T) {
	row := paymentRow(t, 0)
	h := newHarness(t, settledResolver(), 5, row)

	n, err := h.svc.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, h.pub.sent, 1)
	msg := h.pub.sent[0]
	assert.Equal(t, row.AggregateID.String(), msg.OrderingKey)
	assert.Equal(t, "TS-REF-1", msg.Attributes["transaction_ref"])
	assert.Equal(t, "success", msg.Attributes["payment_status"])
	assert.Equal(t, "7", msg.Attributes["table_number"])
	assert.Equal(t, string(enums.EventPaymentSettled), msg.Attributes["event_type"])
	assert.Equal(t, []uuid.UUID{row.ID}, h.repo.published)
	assert.Equal(t, 1, h.metrics.published)
}

func TestDrainKeepsGoingAfterTransientFailure(t *testing.T) {
	first, second := paymentRow(t, 0), paymentRow(t, 0)
	h := newHarness(t, settledResolver(), 5, first, second)
	h.pub.errs = []error{errors.New("unavailable"), nil}

	n, err := h.svc.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uuid.UUID{first.ID}, h.repo.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, h.repo.published)
	assert.Equal(t, 1, h.metrics.retried)
	assert.Empty(t, h.dlq.entries)
}

func TestDrainDeadLettersUnresolvableRows(t *testing.T) {
	row := paymentRow(t, 0)
	h := newHarness(t, staticResolver{err: registry.NewNonRetryableError(errors.New("unknown event"))}, 5, row)

	_, err := h.svc.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, h.dlq.entries, 1)
	entry := h.dlq.entries[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.JSONEq(t, string(row.Payload), string(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonUndecodable, entry.ErrorReason)
	assert.Equal(t, []uuid.UUID{row.ID}, h.repo.terminal)
	assert.Empty(t, h.pub.sent)
}

func TestDrainDeadLettersOnLastAttempt(t *testing.T) {
	row := paymentRow(t, 1)
	h := newHarness(t, settledResolver(), 2, row)
	h.pub.errs = []error{errors.New("deadline exceeded")}

	_, err := h.svc.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, h.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, h.dlq.entries[0].ErrorReason)
	assert.Contains(t, *h.dlq.entries[0].ErrorMessage, "attempt 2 of 2")
	assert.Equal(t, 1, h.metrics.deadLettered)
	assert.Empty(t, h.repo.failed)
}

func TestDrainSurfacesBookkeepingErrors(t *testing.T) {
	h := newHarness(t, settledResolver(), 5, paymentRow(t, 0))
	h.repo.markErr = errors.New("connection reset")

	_, err := h.svc.drain(context.Background())
	assert.ErrorContains(t, err, "mark published")
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{Config: &config.Config{}})
	assert.ErrorContains(t, err, "logger is required")
}

func TestNewServiceDefaults(t *testing.T) {
	h := newHarness(t, settledResolver(), 0)
	assert.Equal(t, defaultMaxAttempts, h.svc.maxAttempts)
	assert.Equal(t, 10*time.Millisecond, h.svc.idle)
}

type stubRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	markErr   error
}

func (r *stubRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return r.events, nil
}

func (r *stubRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if r.markErr != nil {
		return r.markErr
	}
	r.published = append(r.published, id)
	return nil
}

func (r *stubRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	r.failed = append(r.failed, id)
	return nil
}

func (r *stubRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	r.terminal = append(r.terminal, id)
	return nil
}

type stubDB struct{}

func (stubDB) Ping(context.Context) error { return nil }

func (stubDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type stubPubSub struct{}

func (stubPubSub) Ping(context.Context) error { return nil }

func (stubPubSub) Publisher(string) *gcppubsub.Publisher { return nil }

type stubPublisher struct {
	errs []error
	sent []*gcppubsub.Message
}

func (p *stubPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.sent = append(p.sent, msg)
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	return stubResult{err: err}
}

type stubResult struct{ err error }

func (r stubResult) Get(context.Context) (string, error) { return "msg-1", r.err }

type staticResolver struct {
	resolved registry.ResolvedEvent
	err      error
}

func (r staticResolver) Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := r.resolved
	return &out, nil
}

type stubDLQ struct {
	entries []models.OutboxDLQ
}

func (d *stubDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	d.entries = append(d.entries, entry)
	return nil
}

type stubMetrics struct {
	published, retried, deadLettered int
}

func (m *stubMetrics) IncPublished(string)            { m.published++ }
func (m *stubMetrics) IncRetried(string)              { m.retried++ }
func (m *stubMetrics) IncDeadLettered(string, string) { m.deadLettered++ }
