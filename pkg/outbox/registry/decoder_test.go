package registry

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox/payloads"
)

func TestPaymentDecodersCoverEveryEvent(t *testing.T) {
	decoders := NewPaymentDecoders()
	paymentID := uuid.New()
	raw := json.RawMessage(`{"payment_id":"` + paymentID.String() + `","transaction_ref":"TS-9","amount":1500}`)

	for _, eventType := range enums.OutboxEventTypes() {
		out, err := decoders.Decode(eventType, 1, raw)
		require.NoError(t, err, eventType)
		event, ok := out.(*payloads.PaymentEvent)
		require.True(t, ok, "got %T", out)
		assert.Equal(t, paymentID, event.PaymentID)
		assert.Equal(t, int64(1500), event.Amount)
	}
}

func TestDecodeTreatsZeroVersionAsFirst(t *testing.T) {
	out, err := NewPaymentDecoders().Decode(enums.EventPaymentSettled, 0, json.RawMessage(`{"transaction_ref":"TS-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "TS-1", out.(*payloads.PaymentEvent).TransactionRef)
}

func TestDecodeUnknownVersion(t *testing.T) {
	_, err := NewPaymentDecoders().Decode(enums.EventPaymentSettled, 2, json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "v2")
}

func TestRegisterOverridesVersion(t *testing.T) {
	decoders := NewPaymentDecoders()
	decoders.Register(enums.EventPaymentFailed, 2, func(payload json.RawMessage) (any, error) {
		return string(payload), nil
	})

	out, err := decoders.Decode(enums.EventPaymentFailed, 2, json.RawMessage(`"v2"`))
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, out)
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := NewPaymentDecoders().Decode(enums.EventPaymentInitiated, 1, json.RawMessage(`{"amount":"lots"}`))
	assert.Error(t, err)
}
