package stripecheckout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
)

const (
	signingSecret = "whsec_test"
	refSecret     = "ref-secret"
	returnURL     = "https://api.example.com/api/v1/payments/stripe/return"
)

type fakeSessions struct {
	created  *stripe.CheckoutSessionParams
	sessions map[string]*stripe.CheckoutSession
	newErr   error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.created = params
	return &stripe.CheckoutSession{
		ID:                "cs_test_1",
		URL:               "https://checkout.stripe.com/c/pay/cs_test_1",
		ClientReferenceID: *params.ClientReferenceID,
	}, nil
}

func (f *fakeSessions) Get(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	session, ok := f.sessions[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "no such session"}
	}
	return session, nil
}

func newTestAdapter(t *testing.T, sessions *fakeSessions) *Adapter {
	t.Helper()
	adapter, err := New(sessions, signingSecret, refSecret, returnURL)
	require.NoError(t, err)
	return adapter
}

func testPayment() *models.Payment {
	return &models.Payment{
		ID:             uuid.New(),
		TableNumber:    7,
		Amount:         4500,
		Currency:       enums.CurrencyUSD,
		TransactionRef: "REF777",
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, signingSecret, refSecret, returnURL)
	assert.Error(t, err)
	_, err = New(&fakeSessions{}, "", refSecret, returnURL)
	assert.Error(t, err)
	_, err = New(&fakeSessions{}, signingSecret, " ", returnURL)
	assert.Error(t, err)
}

func TestBuildChargeCreatesSession(t *testing.T) {
	sessions := &fakeSessions{}
	adapter := newTestAdapter(t, sessions)

	result, err := adapter.BuildCharge(context.Background(), providers.ChargeRequest{Payment: testPayment()})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", result.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", result.RedirectURL)
	assert.Nil(t, result.Immediate)

	params := sessions.created
	require.NotNil(t, params)
	assert.Equal(t, "REF777", *params.ClientReferenceID)
	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *params.Mode)
	require.Len(t, params.LineItems, 1)
	assert.EqualValues(t, 4500, *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "usd", *params.LineItems[0].PriceData.Currency)
	assert.True(t, strings.HasSuffix(*params.SuccessURL, "&session_id={CHECKOUT_SESSION_ID}"))
	assert.Contains(t, *params.SuccessURL, "sig="+SignRef(refSecret, "REF777"))
	assert.Contains(t, *params.CancelURL, "cancelled=1")
	assert.Equal(t, "REF777", params.Metadata["transaction_ref"])
}

func TestBuildChargeMapsProviderErrors(t *testing.T) {
	adapter := newTestAdapter(t, &fakeSessions{newErr: errors.New("connection reset")})
	_, err := adapter.BuildCharge(context.Background(), providers.ChargeRequest{Payment: testPayment()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	adapter = newTestAdapter(t, &fakeSessions{newErr: &stripe.Error{HTTPStatusCode: http.StatusBadRequest}})
	_, err = adapter.BuildCharge(context.Background(), providers.ChargeRequest{Payment: testPayment()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestVerifyReturnPollsSession(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*stripe.CheckoutSession{
		"cs_paid": {
			ID:                "cs_paid",
			ClientReferenceID: "REF777",
			PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
			Status:            stripe.CheckoutSessionStatusComplete,
			AmountTotal:       4500,
			PaymentIntent:     &stripe.PaymentIntent{ID: "pi_1"},
		},
		"cs_open": {
			ID:                "cs_open",
			ClientReferenceID: "REF777",
			PaymentStatus:     stripe.CheckoutSessionPaymentStatusUnpaid,
			Status:            stripe.CheckoutSessionStatusOpen,
		},
		"cs_expired": {
			ID:                "cs_expired",
			ClientReferenceID: "REF777",
			PaymentStatus:     stripe.CheckoutSessionPaymentStatusUnpaid,
			Status:            stripe.CheckoutSessionStatusExpired,
		},
		"cs_other": {
			ID:                "cs_other",
			ClientReferenceID: "SOMEONE_ELSE",
			PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
		},
	}}
	adapter := newTestAdapter(t, sessions)
	sig := SignRef(refSecret, "REF777")
	query := func(session string) url.Values {
		return url.Values{"ref": {"REF777"}, "sig": {sig}, "session_id": {session}}
	}
	ctx := context.Background()

	result, err := adapter.VerifyReturn(ctx, query("cs_paid"))
	require.NoError(t, err)
	assert.True(t, result.SignatureValid)
	assert.Equal(t, providers.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "pi_1", result.ExternalTransactionID)
	require.NotNil(t, result.Amount)
	assert.EqualValues(t, 4500, *result.Amount)

	result, err = adapter.VerifyReturn(ctx, query("cs_open"))
	require.NoError(t, err)
	assert.Equal(t, providers.OutcomePending, result.Outcome)

	result, err = adapter.VerifyReturn(ctx, query("cs_expired"))
	require.NoError(t, err)
	assert.Equal(t, providers.OutcomeCancelled, result.Outcome)

	result, err = adapter.VerifyReturn(ctx, query("cs_other"))
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)

	_, err = adapter.VerifyReturn(ctx, query("cs_missing"))
	assert.Error(t, err)
}

func TestVerifyReturnRejectsBadSignature(t *testing.T) {
	adapter := newTestAdapter(t, &fakeSessions{})
	ctx := context.Background()

	result, err := adapter.VerifyReturn(ctx, url.Values{"ref": {"REF777"}, "sig": {"deadbeef"}, "session_id": {"cs_paid"}})
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)

	result, err = adapter.VerifyReturn(ctx, url.Values{"ref": {"REF777"}, "sig": {SignRef(refSecret, "REF777")}})
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)

	result, err = adapter.VerifyReturn(ctx, url.Values{"ref": {"REF777"}, "sig": {SignRef(refSecret, "REF777")}, "cancelled": {"1"}})
	require.NoError(t, err)
	assert.True(t, result.SignatureValid)
	assert.Equal(t, providers.OutcomePending, result.Outcome)
}

func signedEvent(t *testing.T, eventType, paymentStatus, status string) ([]byte, http.Header) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "type": %q,
  "api_version": "2025-01-27.acacia",
  "data": {"object": {
    "id": "cs_test_1",
    "object": "checkout.session",
    "client_reference_id": "REF777",
    "payment_status": %q,
    "status": %q,
    "amount_total": 4500,
    "payment_intent": "pi_1"
  }}
}`, eventType, paymentStatus, status))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    signingSecret,
		Timestamp: time.Now(),
	})
	headers := http.Header{}
	headers.Set(SignatureHeader, signed.Header)
	return payload, headers
}

func TestVerifyWebhookEvents(t *testing.T) {
	adapter := newTestAdapter(t, &fakeSessions{})
	ctx := context.Background()
	cases := []struct {
		eventType     string
		paymentStatus string
		status        string
		expected      providers.Outcome
	}{
		{"checkout.session.completed", "paid", "complete", providers.OutcomeSuccess},
		{"checkout.session.completed", "unpaid", "complete", providers.OutcomePending},
		{"checkout.session.async_payment_succeeded", "paid", "complete", providers.OutcomeSuccess},
		{"checkout.session.async_payment_failed", "unpaid", "complete", providers.OutcomeFailed},
		{"checkout.session.expired", "unpaid", "expired", providers.OutcomeCancelled},
		{"customer.created", "paid", "complete", providers.OutcomePending},
	}
	for _, tc := range cases {
		t.Run(tc.eventType+"/"+tc.paymentStatus, func(t *testing.T) {
			body, headers := signedEvent(t, tc.eventType, tc.paymentStatus, tc.status)
			result, err := adapter.VerifyWebhook(ctx, body, headers)
			require.NoError(t, err)
			assert.True(t, result.SignatureValid)
			assert.Equal(t, tc.expected, result.Outcome)
			assert.Equal(t, "REF777", result.TransactionRef)
			assert.Equal(t, "evt_1", result.EventID)
			assert.Equal(t, "pi_1", result.ExternalTransactionID)
		})
	}
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	adapter := newTestAdapter(t, &fakeSessions{})
	body, headers := signedEvent(t, "checkout.session.completed", "paid", "complete")
	tampered := []byte(strings.Replace(string(body), "4500", "1", 1))

	result, err := adapter.VerifyWebhook(context.Background(), tampered, headers)
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)
	assert.NotEqual(t, providers.OutcomeSuccess, result.Outcome)

	result, err = adapter.VerifyWebhook(context.Background(), body, http.Header{})
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)
}
