// Package stripecheckout settles payments through Stripe hosted Checkout.
package stripecheckout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
)

const (
	Slug = "stripe"

	SignatureHeader = "Stripe-Signature"

	paramRef       = "ref"
	paramSessionID = "session_id"
	paramSig       = "sig"
	paramCancelled = "cancelled"
)

// SessionAPI is the subset of the Checkout Sessions client the adapter uses.
// *session.Client from client.API.CheckoutSessions satisfies it.
type SessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Adapter creates Checkout Sessions and verifies returns and webhooks.
type Adapter struct {
	sessions      SessionAPI
	signingSecret string
	refSecret     string
	returnURL     string
}

// New wires the adapter. refSecret signs the transaction ref carried on our
// own success URL; signingSecret verifies Stripe webhooks.
func New(sessions SessionAPI, signingSecret, refSecret, returnURL string) (*Adapter, error) {
	if sessions == nil {
		return nil, fmt.Errorf("stripe checkout sessions client required")
	}
	if strings.TrimSpace(signingSecret) == "" {
		return nil, fmt.Errorf("stripe webhook signing secret required")
	}
	if strings.TrimSpace(refSecret) == "" {
		return nil, fmt.Errorf("return signing secret required")
	}
	return &Adapter{
		sessions:      sessions,
		signingSecret: strings.TrimSpace(signingSecret),
		refSecret:     strings.TrimSpace(refSecret),
		returnURL:     strings.TrimSpace(returnURL),
	}, nil
}

func (a *Adapter) Method() enums.PaymentMethod { return enums.PaymentMethodHostedCheckout }

func (a *Adapter) Provider() string { return Slug }

func (a *Adapter) BuildCharge(ctx context.Context, req providers.ChargeRequest) (*providers.ChargeResult, error) {
	if req.Payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment required")
	}
	base := strings.TrimSpace(req.ReturnURL)
	if base == "" {
		base = a.returnURL
	}
	if base == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return url required")
	}

	p := req.Payment
	sig := SignRef(a.refSecret, p.TransactionRef)
	successURL, err := withQuery(base, map[string]string{paramRef: p.TransactionRef, paramSig: sig})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid return url")
	}
	// Stripe substitutes the placeholder after session creation; it must stay unescaped.
	successURL += "&" + paramSessionID + "={CHECKOUT_SESSION_ID}"
	cancelURL, err := withQuery(base, map[string]string{paramRef: p.TransactionRef, paramSig: sig, paramCancelled: "1"})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid return url")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(p.TransactionRef),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(string(p.Currency))),
					UnitAmount: stripe.Int64(p.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Table %d bill", p.TableNumber)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("transaction_ref", p.TransactionRef)
	params.AddMetadata("payment_id", p.ID.String())

	session, err := a.sessions.New(params)
	if err != nil {
		return nil, mapStripeError(err, "create checkout session")
	}

	result := &providers.ChargeResult{
		RedirectURL: session.URL,
		SessionID:   session.ID,
	}
	if session.Customer != nil {
		result.ExternalCustomerID = session.Customer.ID
	}
	return result, nil
}

// VerifyReturn checks our ref signature, then polls the session for its state.
// A cancel return leaves the payment pending until the session expires.
func (a *Adapter) VerifyReturn(ctx context.Context, query url.Values) (*providers.VerifiedResult, error) {
	ref := query.Get(paramRef)
	raw := map[string]any{paramRef: ref, paramSessionID: query.Get(paramSessionID)}
	if ref == "" || !VerifyRef(a.refSecret, ref, query.Get(paramSig)) {
		return providers.Invalid(Slug, ref, raw), nil
	}

	if query.Get(paramCancelled) != "" {
		return &providers.VerifiedResult{
			Provider:       Slug,
			TransactionRef: ref,
			ProviderStatus: "cancel_returned",
			Outcome:        providers.OutcomePending,
			SignatureValid: true,
			Raw:            raw,
		}, nil
	}

	sessionID := strings.TrimSpace(query.Get(paramSessionID))
	if sessionID == "" {
		return providers.Invalid(Slug, ref, raw), nil
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := a.sessions.Get(sessionID, params)
	if err != nil {
		return nil, mapStripeError(err, "get checkout session")
	}
	if session.ClientReferenceID != ref {
		return providers.Invalid(Slug, ref, raw), nil
	}
	return a.resultFromSession(session, "", raw), nil
}

// VerifyWebhook validates the Stripe-Signature header and maps checkout events.
func (a *Adapter) VerifyWebhook(_ context.Context, body []byte, headers http.Header) (*providers.VerifiedResult, error) {
	event, err := webhook.ConstructEventWithOptions(body, headers.Get(SignatureHeader), a.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return providers.Invalid(Slug, "", map[string]any{"error": "signature verification failed"}), nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return providers.Invalid(Slug, "", map[string]any{"event_id": event.ID, "error": "malformed session"}), nil
	}
	raw := map[string]any{"event_id": event.ID, "event_type": string(event.Type), "session_id": session.ID}

	result := a.resultFromSession(&session, event.ID, raw)
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		result.Outcome = providers.OutcomeFailed
	case stripe.EventTypeCheckoutSessionExpired:
		result.Outcome = providers.OutcomeCancelled
	default:
		result.Outcome = providers.OutcomePending
	}
	result.ProviderStatus = string(event.Type)
	return result, nil
}

func (a *Adapter) resultFromSession(session *stripe.CheckoutSession, eventID string, raw map[string]any) *providers.VerifiedResult {
	result := &providers.VerifiedResult{
		Provider:       Slug,
		EventID:        eventID,
		TransactionRef: session.ClientReferenceID,
		ProviderStatus: string(session.PaymentStatus),
		Outcome:        outcomeForSession(session),
		SignatureValid: true,
		ResponseCode:   string(session.PaymentStatus),
		Raw:            raw,
	}
	amount := session.AmountTotal
	result.Amount = &amount
	if session.PaymentIntent != nil {
		result.ExternalTransactionID = session.PaymentIntent.ID
	}
	return result
}

func outcomeForSession(session *stripe.CheckoutSession) providers.Outcome {
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return providers.OutcomeSuccess
	case session.Status == stripe.CheckoutSessionStatusExpired:
		return providers.OutcomeCancelled
	default:
		return providers.OutcomePending
	}
}

// SignRef returns the hex HMAC-SHA256 of ref.
func SignRef(secret, ref string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ref))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyRef(secret, ref, sig string) bool {
	if sig == "" {
		return false
	}
	return hmac.Equal([]byte(SignRef(secret, ref)), []byte(strings.ToLower(sig)))
}

func withQuery(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func mapStripeError(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != http.StatusTooManyRequests {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("stripe %s rejected", op))
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
}
