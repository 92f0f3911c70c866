package square

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errWebhookSecretRequired = errors.New("square webhook secret is required")
	errInvalidSquareEnv      = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errIdempotencyKey        = errors.New("square idempotency key is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    sq.Environments.Sandbox,
	productionEnv: sq.Environments.Production,
}

type paymentsAPI interface {
	Create(ctx context.Context, request *sq.CreatePaymentRequest, opts ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error)
}

// Client is the slice of Square the webhook-processor payment method uses:
// server-side card charges and webhook signature checks.
type Client struct {
	payments        paymentsAPI
	environment     string
	webhookSecret   string
	notificationURL string
	locationID      string
	logg            *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, errInvalidSquareEnv
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errWebhookSecretRequired
	}

	sdk := sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token))
	c := &Client{
		payments:        sdk.Payments,
		environment:     env,
		webhookSecret:   secret,
		notificationURL: strings.TrimSpace(cfg.NotificationURL),
		locationID:      strings.TrimSpace(cfg.LocationID),
		logg:            logg,
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	}
	return c, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// LocationID is the default location charges are created against.
func (c *Client) LocationID() string {
	if c == nil {
		return ""
	}
	return c.locationID
}

// CreatePayment charges a card source. Square dedupes on the idempotency key,
// so callers derive it from something stable such as the transaction ref.
func (c *Client) CreatePayment(ctx context.Context, params PaymentCreateParams) (*sq.Payment, error) {
	if strings.TrimSpace(params.IdempotencyKey) == "" {
		return nil, errIdempotencyKey
	}
	ctx = c.withFields(ctx, map[string]any{
		"operation":    "create_payment",
		"reference_id": params.ReferenceID,
		"amount":       params.AmountCents,
	})

	resp, err := c.payments.Create(ctx, params.request())
	if err != nil {
		mapped := mapSquareError(err, "create payment")
		if c.logg != nil {
			c.logg.Error(ctx, "square create payment failed", mapped)
		}
		return nil, mapped
	}

	payment := resp.GetPayment()
	if c.logg != nil {
		c.logg.Info(c.withFields(ctx, map[string]any{
			"square_payment_id": deref(payment.GetID()),
			"square_status":     deref(payment.GetStatus()),
		}), "square payment created")
	}
	return payment, nil
}

func (c *Client) withFields(ctx context.Context, fields map[string]any) context.Context {
	if c.logg == nil {
		return ctx
	}
	return c.logg.WithFields(ctx, fields)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
