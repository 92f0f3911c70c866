package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox/payloads"
)

func settlementRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{SettlementTopic: "settlements"})
	require.NoError(t, err)
	return reg
}

func envelopeFor(t *testing.T, data string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Date(2026, 4, 2, 19, 30, 0, 0, time.UTC),
		Data:       json.RawMessage(data),
	})
	require.NoError(t, err)
	return raw
}

func TestResolveSettledPayment(t *testing.T) {
	paymentID, orderID := uuid.New(), uuid.New()
	data, err := json.Marshal(payloads.PaymentEvent{
		PaymentID:      paymentID,
		TransactionRef: "TS-1",
		Method:         enums.PaymentMethodCash,
		Status:         enums.PaymentStatusSuccess,
		Amount:         200,
		Currency:       enums.CurrencyVND,
		OrderIDs:       []uuid.UUID{orderID},
	})
	require.NoError(t, err)

	resolved, err := settlementRegistry(t).Resolve(models.OutboxEvent{
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregatePayment,
		AggregateID:   paymentID,
		Payload:       envelopeFor(t, string(data)),
	})
	require.NoError(t, err)

	assert.Equal(t, "settlements", resolved.Descriptor.Topic)
	assert.NotEmpty(t, resolved.Envelope.EventID)
	assert.False(t, resolved.Envelope.OccurredAt.IsZero())
	payload := resolved.Payload.(*payloads.PaymentEvent)
	assert.Equal(t, []uuid.UUID{orderID}, payload.OrderIDs)
	assert.EqualValues(t, 200, payload.Amount)
}

func TestResolveRejectsMalformedRows(t *testing.T) {
	cases := map[string]models.OutboxEvent{
		"unknown event type": {
			EventType: "order_shipped", AggregateType: enums.AggregatePayment, AggregateID: uuid.New(),
			Payload: envelopeFor(t, `{"reason":"none"}`),
		},
		"aggregate mismatch": {
			EventType: enums.EventPaymentFailed, AggregateType: "order", AggregateID: uuid.New(),
			Payload: envelopeFor(t, `{"transaction_ref":"TS-2"}`),
		},
		"missing aggregate id": {
			EventType: enums.EventPaymentInitiated, AggregateType: enums.AggregatePayment,
			Payload: envelopeFor(t, `{}`),
		},
		"null data": {
			EventType: enums.EventPaymentRejected, AggregateType: enums.AggregatePayment, AggregateID: uuid.New(),
			Payload: envelopeFor(t, `null`),
		},
		"not an envelope": {
			EventType: enums.EventPaymentSettled, AggregateType: enums.AggregatePayment, AggregateID: uuid.New(),
			Payload: json.RawMessage(`[1,2]`),
		},
	}

	reg := settlementRegistry(t)
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			require.Error(t, err)
			assert.True(t, IsNonRetryable(err), "%T", err)
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{SettlementTopic: "  "})
	assert.Error(t, err)
}
