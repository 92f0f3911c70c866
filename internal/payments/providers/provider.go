// Package providers defines the contract every payment provider adapter
// implements and the static registry the settlement orchestrator resolves
// adapters from.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
)

// Outcome is the normalized provider result.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePending   Outcome = "pending"
)

// PaymentStatus maps a final outcome to the payment status it produces.
// Pending has no status and reports false.
func (o Outcome) PaymentStatus() (enums.PaymentStatus, bool) {
	switch o {
	case OutcomeSuccess:
		return enums.PaymentStatusSuccess, true
	case OutcomeFailed:
		return enums.PaymentStatusFailed, true
	case OutcomeCancelled:
		return enums.PaymentStatusCancelled, true
	default:
		return "", false
	}
}

// ChargeRequest is everything an adapter needs to start a charge. The payment
// row already exists and carries the final amount and transaction ref.
type ChargeRequest struct {
	Payment   *models.Payment
	Orders    []models.Order
	ReturnURL string
	SourceID  string
	ClientIP  string
}

// ChargeResult is what the adapter produced at dispatch time. Immediate is set
// only by providers that settle synchronously.
type ChargeResult struct {
	RedirectURL           string
	SessionID             string
	ExternalTransactionID string
	ExternalCustomerID    string
	Immediate             *Outcome
}

// VerifiedResult is a provider callback after signature verification.
// SignatureValid=false results are never treated as success.
type VerifiedResult struct {
	Provider              string
	EventID               string
	TransactionRef        string
	ProviderStatus        string
	Outcome               Outcome
	SignatureValid        bool
	ResponseCode          string
	ResponseMessage       string
	BankCode              string
	CardBrand             string
	Last4                 string
	ExternalTransactionID string
	Amount                *int64
	Raw                   map[string]any
}

// Adapter is implemented once per provider.
type Adapter interface {
	Method() enums.PaymentMethod
	Provider() string
	BuildCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	VerifyReturn(ctx context.Context, query url.Values) (*VerifiedResult, error)
	VerifyWebhook(ctx context.Context, body []byte, headers http.Header) (*VerifiedResult, error)
}

// Preflighter is implemented by adapters that can reject a charge request
// before the payment row is written.
type Preflighter interface {
	Preflight(req ChargeRequest) error
}

// Preflight runs the adapter's request checks when it has any.
func Preflight(adapter Adapter, req ChargeRequest) error {
	if p, ok := adapter.(Preflighter); ok {
		return p.Preflight(req)
	}
	return nil
}

// AckKind classifies how a webhook was handled so the adapter can answer in the
// provider's expected format.
type AckKind string

const (
	AckConfirmed        AckKind = "confirmed"
	AckAlreadyConfirmed AckKind = "already_confirmed"
	AckInvalidSignature AckKind = "invalid_signature"
	AckUnknownRef       AckKind = "unknown_ref"
	AckAmountMismatch   AckKind = "amount_mismatch"
)

// Acknowledger is implemented by adapters whose provider expects a specific
// webhook response body.
type Acknowledger interface {
	WebhookAck(kind AckKind) any
}

// AckBody returns the webhook response body for adapter.
func AckBody(adapter Adapter, kind AckKind) any {
	if ack, ok := adapter.(Acknowledger); ok {
		return ack.WebhookAck(kind)
	}
	return map[string]bool{"received": true}
}

// Unsupported is returned by adapters for flows their provider does not have.
func Unsupported(provider, flow string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "unsupported callback").
		WithDetails(map[string]any{"provider": provider, "flow": flow})
}

// Invalid builds the result for a callback that failed verification.
func Invalid(provider, ref string, raw map[string]any) *VerifiedResult {
	return &VerifiedResult{
		Provider:       provider,
		TransactionRef: ref,
		Outcome:        OutcomeFailed,
		SignatureValid: false,
		Raw:            raw,
	}
}

// Registry resolves adapters by payment method and by route slug.
type Registry struct {
	byMethod map[enums.PaymentMethod]Adapter
	bySlug   map[string]Adapter
}

// NewRegistry builds the static adapter table. Each method and slug may be
// registered once.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		byMethod: make(map[enums.PaymentMethod]Adapter, len(adapters)),
		bySlug:   make(map[string]Adapter, len(adapters)),
	}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		method := adapter.Method()
		if !method.IsValid() {
			return nil, fmt.Errorf("adapter %q has invalid method %q", adapter.Provider(), method)
		}
		if _, dup := r.byMethod[method]; dup {
			return nil, fmt.Errorf("payment method %q registered twice", method)
		}
		slug := adapter.Provider()
		if slug == "" {
			return nil, fmt.Errorf("adapter for %q has no provider slug", method)
		}
		if _, dup := r.bySlug[slug]; dup {
			return nil, fmt.Errorf("provider %q registered twice", slug)
		}
		r.byMethod[method] = adapter
		r.bySlug[slug] = adapter
	}
	return r, nil
}

func (r *Registry) ForMethod(method enums.PaymentMethod) (Adapter, error) {
	if r != nil {
		if adapter, ok := r.byMethod[method]; ok {
			return adapter, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method not available").
		WithDetails(map[string]any{"paymentMethod": method})
}

func (r *Registry) ForProvider(slug string) (Adapter, error) {
	if r != nil {
		if adapter, ok := r.bySlug[slug]; ok {
			return adapter, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment provider").
		WithDetails(map[string]any{"provider": slug})
}

// Methods lists the registered payment methods.
func (r *Registry) Methods() []enums.PaymentMethod {
	if r == nil {
		return nil
	}
	methods := make([]enums.PaymentMethod, 0, len(r.byMethod))
	for _, candidate := range []enums.PaymentMethod{
		enums.PaymentMethodCash,
		enums.PaymentMethodCardRedirect,
		enums.PaymentMethodHostedCheckout,
		enums.PaymentMethodWebhookProcessor,
	} {
		if _, ok := r.byMethod[candidate]; ok {
			methods = append(methods, candidate)
		}
	}
	return methods
}
