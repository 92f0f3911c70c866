// Package squarepay settles payments through Square. The charge is created
// server-side from a client card nonce and confirmed by payment webhooks.
package squarepay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
	"github.com/angelmondragon/tableserve-backend/pkg/square"
)

const Slug = "square"

// Gateway is the Square client surface the adapter depends on.
type Gateway interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	LocationID() string
	VerifyWebhookSignature(body []byte, signature string) bool
}

type Adapter struct {
	gateway Gateway
}

func New(gateway Gateway) (*Adapter, error) {
	if gateway == nil {
		return nil, fmt.Errorf("square gateway required")
	}
	return &Adapter{gateway: gateway}, nil
}

func (a *Adapter) Method() enums.PaymentMethod { return enums.PaymentMethodWebhookProcessor }

func (a *Adapter) Provider() string { return Slug }

// Preflight rejects requests without a card source before any payment row exists.
func (a *Adapter) Preflight(req providers.ChargeRequest) error {
	if strings.TrimSpace(req.SourceID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sourceId is required for square payments")
	}
	return nil
}

// BuildCharge creates an autocompleting Square payment referencing the
// transaction ref. The outcome arrives by webhook.
func (a *Adapter) BuildCharge(ctx context.Context, req providers.ChargeRequest) (*providers.ChargeResult, error) {
	if req.Payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment required")
	}
	if err := a.Preflight(req); err != nil {
		return nil, err
	}

	p := req.Payment
	note := ""
	if p.Note != nil {
		note = *p.Note
	}
	payment, err := a.gateway.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    p.Amount,
		Currency:       string(p.Currency),
		LocationID:     a.gateway.LocationID(),
		SourceID:       req.SourceID,
		IdempotencyKey: "ts-" + p.TransactionRef,
		Note:           note,
		ReferenceID:    p.TransactionRef,
		Autocomplete:   true,
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square create payment failed")
	}

	result := &providers.ChargeResult{}
	if payment != nil {
		result.ExternalTransactionID = deref(payment.ID)
		result.ExternalCustomerID = deref(payment.CustomerID)
	}
	return result, nil
}

func (a *Adapter) VerifyReturn(context.Context, url.Values) (*providers.VerifiedResult, error) {
	return nil, providers.Unsupported(Slug, "return")
}

type webhookEnvelope struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Data    struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Payment *sq.Payment `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyWebhook checks the HMAC header and maps payment.created/payment.updated.
func (a *Adapter) VerifyWebhook(_ context.Context, body []byte, headers http.Header) (*providers.VerifiedResult, error) {
	if !a.gateway.VerifyWebhookSignature(body, headers.Get(square.SignatureHeader)) {
		return providers.Invalid(Slug, "", map[string]any{"error": "signature verification failed"}), nil
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return providers.Invalid(Slug, "", map[string]any{"error": "malformed body"}), nil
	}
	raw := map[string]any{"event_id": envelope.EventID, "event_type": envelope.Type}

	payment := envelope.Data.Object.Payment
	if payment == nil {
		return &providers.VerifiedResult{
			Provider:       Slug,
			EventID:        envelope.EventID,
			ProviderStatus: envelope.Type,
			Outcome:        providers.OutcomePending,
			SignatureValid: true,
			Raw:            raw,
		}, nil
	}

	status := deref(payment.Status)
	result := &providers.VerifiedResult{
		Provider:              Slug,
		EventID:               envelope.EventID,
		TransactionRef:        deref(payment.ReferenceID),
		ProviderStatus:        status,
		Outcome:               outcomeFor(envelope.Type, status),
		SignatureValid:        true,
		ResponseCode:          status,
		ExternalTransactionID: deref(payment.ID),
		Raw:                   raw,
	}
	if payment.AmountMoney != nil && payment.AmountMoney.Amount != nil {
		amount := *payment.AmountMoney.Amount
		result.Amount = &amount
	}
	if details := payment.CardDetails; details != nil && details.Card != nil {
		if details.Card.CardBrand != nil {
			result.CardBrand = string(*details.Card.CardBrand)
		}
		result.Last4 = deref(details.Card.Last4)
	}
	raw["payment_id"] = result.ExternalTransactionID
	raw["status"] = status
	return result, nil
}

func outcomeFor(eventType, status string) providers.Outcome {
	switch eventType {
	case "payment.created", "payment.updated":
	default:
		return providers.OutcomePending
	}
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return providers.OutcomeSuccess
	case "FAILED":
		return providers.OutcomeFailed
	case "CANCELED":
		return providers.OutcomeCancelled
	default:
		return providers.OutcomePending
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
