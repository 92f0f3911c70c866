package cash

import (
	"context"
	"net/http"
	"net/url"

	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
)

const Slug = "cash"

// Adapter settles at the table. Staff collect the money, so the charge is
// final as soon as it is recorded.
type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Method() enums.PaymentMethod { return enums.PaymentMethodCash }

func (a *Adapter) Provider() string { return Slug }

func (a *Adapter) BuildCharge(_ context.Context, req providers.ChargeRequest) (*providers.ChargeResult, error) {
	if req.Payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment required")
	}
	outcome := providers.OutcomeSuccess
	return &providers.ChargeResult{Immediate: &outcome}, nil
}

func (a *Adapter) VerifyReturn(context.Context, url.Values) (*providers.VerifiedResult, error) {
	return nil, providers.Unsupported(Slug, "return")
}

func (a *Adapter) VerifyWebhook(context.Context, []byte, http.Header) (*providers.VerifiedResult, error) {
	return nil, providers.Unsupported(Slug, "webhook")
}
