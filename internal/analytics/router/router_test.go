package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableserve-backend/internal/analytics/types"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox/payloads"
)

func TestRouterUnsupportedEvent(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	env := types.Envelope{
		EventType: enums.OutboxEventType("unsupported"),
		Payload:   []byte(`{"foo":"bar"}`),
	}
	err := router.Handle(context.Background(), env)
	assert.True(t, errors.Is(err, ErrUnsupportedEventType), "got %v", err)
}

func TestRouterRoutesOverride(t *testing.T) {
	handler := &stubHandler{}
	router, writer := newTestRouter(t, map[enums.OutboxEventType]Handler{
		enums.EventPaymentInitiated: handler,
	})
	data, _ := json.Marshal(payloads.PaymentEvent{PaymentID: uuid.New()})
	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventPaymentInitiated, Payload: data})
	require.NoError(t, err)
	assert.True(t, handler.called)
	assert.Empty(t, writer.rows)
}

func TestRouterRejectsEmptyPayload(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventPaymentSettled})
	assert.Error(t, err)
}

func TestSettlementHandlerWritesRow(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	paymentID := uuid.New()
	guestID := uuid.New()
	couponID := uuid.New()
	paidAt := time.Date(2026, 5, 1, 19, 30, 0, 0, time.UTC)
	data, err := json.Marshal(payloads.PaymentEvent{
		PaymentID:      paymentID,
		TransactionRef: "TS-42",
		GuestID:        &guestID,
		TableNumber:    4,
		Method:         enums.PaymentMethodCardRedirect,
		Status:         enums.PaymentStatusSuccess,
		Amount:         90000,
		DiscountAmount: 10000,
		Currency:       enums.CurrencyVND,
		CouponID:       &couponID,
		OrderIDs:       []uuid.UUID{uuid.New(), uuid.New()},
		ResponseCode:   "00",
		PaidAt:         &paidAt,
	})
	require.NoError(t, err)

	env := types.Envelope{
		EventID:     "evt-1",
		EventType:   enums.EventPaymentSettled,
		AggregateID: paymentID.String(),
		OccurredAt:  paidAt,
		Payload:     data,
	}
	require.NoError(t, router.Handle(context.Background(), env))
	require.Len(t, writer.rows, 1)

	row := writer.rows[0]
	assert.Equal(t, "evt-1", row.EventID)
	assert.Equal(t, "payment_settled", row.EventType)
	assert.Equal(t, paymentID.String(), row.PaymentID)
	assert.Equal(t, int64(90000), row.AmountMinor)
	assert.Equal(t, int64(100000), row.GrossMinor)
	assert.Equal(t, int64(2), row.OrderCount)
	assert.Equal(t, guestID.String(), row.GuestID.StringVal)
	assert.True(t, row.GuestID.Valid)
	assert.Equal(t, "00", row.ResponseCode.StringVal)
	assert.True(t, row.PaidAt.Valid)
	assert.True(t, row.Payload.Valid)
}

func TestSettlementHandlerFallsBackToAggregateID(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	env := types.Envelope{
		EventType:   enums.EventPaymentInitiated,
		AggregateID: "agg-1",
		Payload:     []byte(`{"transaction_ref":"TS-1","status":"pending"}`),
	}
	require.NoError(t, router.Handle(context.Background(), env))
	require.Len(t, writer.rows, 1)
	assert.Equal(t, "agg-1", writer.rows[0].PaymentID)
	assert.False(t, writer.rows[0].PaidAt.Valid)
	assert.False(t, writer.rows[0].GuestID.Valid)
}

func newTestRouter(t *testing.T, overrides map[enums.OutboxEventType]Handler) (*Router, *fakeWriter) {
	t.Helper()
	writer := &fakeWriter{}
	router, err := NewRouter(writer, logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard}), overrides)
	require.NoError(t, err)
	return router, writer
}

type stubHandler struct {
	called bool
}

func (s *stubHandler) Handle(context.Context, types.Envelope, any) error {
	s.called = true
	return nil
}

type fakeWriter struct {
	rows []types.SettlementRow
}

func (f *fakeWriter) InsertSettlement(_ context.Context, row types.SettlementRow) error {
	f.rows = append(f.rows, row)
	return nil
}
