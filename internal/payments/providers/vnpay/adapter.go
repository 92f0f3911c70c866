// Package vnpay implements the card-network redirect gateway. Charges are
// signed redirect URLs; the browser return and the server-to-server IPN are
// signed with distinct secrets.
package vnpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
)

const (
	Slug = "vnpay"

	paramPrefix     = "vnp_"
	paramSecureHash = "vnp_SecureHash"
	paramHashType   = "vnp_SecureHashType"

	responseSuccess   = "00"
	responseCancelled = "24"

	dateLayout = "20060102150405"
)

var gatewayZone = time.FixedZone("ICT", 7*60*60)

// Adapter builds VNPay payment URLs and verifies its callbacks.
type Adapter struct {
	tmnCode      string
	returnSecret string
	ipnSecret    string
	paymentURL   string
	locale       string
	version      string
	returnURL    string
	now          func() time.Time
}

type Option func(*Adapter)

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// New validates cfg. returnURL is the default browser return endpoint.
func New(cfg config.VNPayConfig, returnURL string, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		tmnCode:      strings.TrimSpace(cfg.TmnCode),
		returnSecret: strings.TrimSpace(cfg.ReturnSecret),
		ipnSecret:    strings.TrimSpace(cfg.IPNSecret),
		paymentURL:   strings.TrimSpace(cfg.PaymentURL),
		locale:       strings.TrimSpace(cfg.Locale),
		version:      strings.TrimSpace(cfg.Version),
		returnURL:    strings.TrimSpace(returnURL),
		now:          time.Now,
	}
	switch {
	case a.tmnCode == "":
		return nil, fmt.Errorf("vnpay tmn code is required")
	case a.returnSecret == "":
		return nil, fmt.Errorf("vnpay return secret is required")
	case a.ipnSecret == "":
		return nil, fmt.Errorf("vnpay ipn secret is required")
	case a.ipnSecret == a.returnSecret:
		return nil, fmt.Errorf("vnpay ipn secret must differ from the return secret")
	case a.paymentURL == "":
		return nil, fmt.Errorf("vnpay payment url is required")
	}
	if a.locale == "" {
		a.locale = "vn"
	}
	if a.version == "" {
		a.version = "2.1.0"
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Adapter) Method() enums.PaymentMethod { return enums.PaymentMethodCardRedirect }

func (a *Adapter) Provider() string { return Slug }

// BuildCharge returns the signed gateway URL. No network call is made.
func (a *Adapter) BuildCharge(_ context.Context, req providers.ChargeRequest) (*providers.ChargeResult, error) {
	if req.Payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment required")
	}
	returnURL := strings.TrimSpace(req.ReturnURL)
	if returnURL == "" {
		returnURL = a.returnURL
	}
	if returnURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return url required")
	}
	clientIP := strings.TrimSpace(req.ClientIP)
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	p := req.Payment
	created := a.now().In(gatewayZone)
	params := url.Values{}
	params.Set("vnp_Version", a.version)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", a.tmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(p.Amount*100, 10))
	params.Set("vnp_CurrCode", string(p.Currency))
	params.Set("vnp_TxnRef", p.TransactionRef)
	params.Set("vnp_OrderInfo", fmt.Sprintf("Table %d payment %s", p.TableNumber, p.TransactionRef))
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", a.locale)
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", created.Format(dateLayout))
	params.Set("vnp_ExpireDate", created.Add(15*time.Minute).Format(dateLayout))

	signed := params.Encode()
	redirect := fmt.Sprintf("%s?%s&%s=%s", a.paymentURL, signed, paramSecureHash, Sign(a.returnSecret, signed))
	return &providers.ChargeResult{RedirectURL: redirect}, nil
}

// VerifyReturn checks the browser redirect with the return secret.
func (a *Adapter) VerifyReturn(_ context.Context, query url.Values) (*providers.VerifiedResult, error) {
	return a.verify(query, a.returnSecret), nil
}

// VerifyWebhook checks an IPN delivered as a form body with the IPN secret.
func (a *Adapter) VerifyWebhook(_ context.Context, body []byte, _ http.Header) (*providers.VerifiedResult, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return providers.Invalid(Slug, "", map[string]any{"error": "malformed body"}), nil
	}
	return a.verify(values, a.ipnSecret), nil
}

// WebhookAck answers IPNs in the RspCode format the gateway retries on.
func (a *Adapter) WebhookAck(kind providers.AckKind) any {
	switch kind {
	case providers.AckConfirmed:
		return map[string]string{"RspCode": "00", "Message": "Confirm Success"}
	case providers.AckAlreadyConfirmed:
		return map[string]string{"RspCode": "02", "Message": "Order already confirmed"}
	case providers.AckUnknownRef:
		return map[string]string{"RspCode": "01", "Message": "Order not found"}
	case providers.AckAmountMismatch:
		return map[string]string{"RspCode": "04", "Message": "Invalid amount"}
	case providers.AckInvalidSignature:
		return map[string]string{"RspCode": "97", "Message": "Invalid signature"}
	default:
		return map[string]string{"RspCode": "99", "Message": "Unknown error"}
	}
}

func (a *Adapter) verify(query url.Values, secret string) *providers.VerifiedResult {
	ref := query.Get("vnp_TxnRef")
	raw := rawParams(query)

	provided := strings.TrimSpace(query.Get(paramSecureHash))
	if provided == "" || ref == "" {
		return providers.Invalid(Slug, ref, raw)
	}
	expected := Sign(secret, canonical(query))
	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		return providers.Invalid(Slug, ref, raw)
	}

	code := query.Get("vnp_ResponseCode")
	txStatus := query.Get("vnp_TransactionStatus")
	result := &providers.VerifiedResult{
		Provider:              Slug,
		EventID:               query.Get("vnp_TransactionNo"),
		TransactionRef:        ref,
		ProviderStatus:        code,
		Outcome:               outcomeFor(code, txStatus),
		SignatureValid:        true,
		ResponseCode:          code,
		BankCode:              query.Get("vnp_BankCode"),
		CardBrand:             query.Get("vnp_CardType"),
		ExternalTransactionID: query.Get("vnp_TransactionNo"),
		ResponseMessage:       query.Get("vnp_OrderInfo"),
		Raw:                   raw,
	}
	if amount, err := strconv.ParseInt(query.Get("vnp_Amount"), 10, 64); err == nil {
		minor := amount / 100
		result.Amount = &minor
	}
	return result
}

func outcomeFor(responseCode, transactionStatus string) providers.Outcome {
	switch responseCode {
	case responseSuccess:
		if transactionStatus != "" && transactionStatus != responseSuccess {
			return providers.OutcomeFailed
		}
		return providers.OutcomeSuccess
	case responseCancelled:
		return providers.OutcomeCancelled
	default:
		return providers.OutcomeFailed
	}
}

// canonical re-encodes every vnp_ parameter except the hash fields, sorted by key.
func canonical(query url.Values) string {
	filtered := url.Values{}
	for key, values := range query {
		if !strings.HasPrefix(key, paramPrefix) || key == paramSecureHash || key == paramHashType {
			continue
		}
		if len(values) == 0 || values[0] == "" {
			continue
		}
		filtered.Set(key, values[0])
	}
	return filtered.Encode()
}

// Sign returns the lower-case hex HMAC-SHA512 of data.
func Sign(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignValues signs the canonical form of values. Used to build test callbacks.
func SignValues(secret string, values url.Values) string {
	return Sign(secret, canonical(values))
}

func rawParams(query url.Values) map[string]any {
	raw := make(map[string]any, len(query))
	for key := range query {
		if key == paramSecureHash {
			continue
		}
		raw[key] = query.Get(key)
	}
	return raw
}
