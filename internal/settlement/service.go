// Package settlement turns a guest's unpaid orders into a payment, dispatches
// it to a provider and applies provider callbacks exactly once.
package settlement

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/internal/coupons"
	"github.com/angelmondragon/tableserve-backend/internal/orders"
	"github.com/angelmondragon/tableserve-backend/internal/payments"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/internal/realtime"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type couponLedger interface {
	Validate(ctx context.Context, tx *gorm.DB, input coupons.ValidateInput) (*coupons.Validation, error)
	Redeem(ctx context.Context, tx *gorm.DB, couponID uuid.UUID) (bool, error)
	Release(ctx context.Context, tx *gorm.DB, couponID uuid.UUID) error
	RecordUsage(ctx context.Context, tx *gorm.DB, usage *models.CouponUsage) error
}

type settlementMetrics interface {
	IncInitiated(method string)
	IncSettled(method, status string)
	IncCallback(provider, kind, result string)
}

type eventGuard interface {
	CheckAndMark(ctx context.Context, provider, eventID string) (bool, error)
	Forget(ctx context.Context, provider, eventID string) error
}

// Stage is where a settlement attempt sits in the orchestrator.
type Stage string

const (
	StageInitiated  Stage = "initiated"
	StageDispatched Stage = "dispatched"
	StageConfirmed  Stage = "confirmed"
	StageRejected   Stage = "rejected"
)

func stageFor(status enums.PaymentStatus) Stage {
	switch status {
	case enums.PaymentStatusSuccess:
		return StageConfirmed
	case enums.PaymentStatusPending:
		return StageDispatched
	default:
		return StageRejected
	}
}

// Actor is the authenticated caller. Guests act for themselves; staff act for
// any guest or table.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

func (a Actor) ref() *outbox.ActorRef {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	ref := &outbox.ActorRef{ActorID: &id, Role: a.Role.String()}
	if a.Role == enums.ActorRoleGuest {
		ref.GuestID = &id
	}
	return ref
}

// InitiateInput is a settlement request.
type InitiateInput struct {
	Actor       Actor
	GuestID     *uuid.UUID
	TableNumber *int
	Method      enums.PaymentMethod
	ReturnURL   string
	Currency    string
	Note        *string
	CouponID    *uuid.UUID
	CouponCode  string
	SourceID    string
	ClientIP    string
}

func (in InitiateInput) hasCoupon() bool {
	return (in.CouponID != nil && *in.CouponID != uuid.Nil) || strings.TrimSpace(in.CouponCode) != ""
}

type InitiateResult struct {
	Payment    payments.PaymentView `json:"payment"`
	PaymentURL string               `json:"paymentUrl,omitempty"`
	Orders     []orders.OrderView   `json:"orders"`
	Stage      Stage                `json:"-"`
}

// ProcessResult is the state of a payment after a callback was applied.
// Replayed means the payment was already terminal and nothing was written.
type ProcessResult struct {
	TransactionRef string
	Payment        *payments.PaymentView
	Orders         []orders.OrderView
	Stage          Stage
	Replayed       bool
	UnknownRef     bool
	SignatureValid bool
	AmountMismatch bool
	Ack            providers.AckKind
}

// CallbackResult adds the provider-specific acknowledgement body to a
// processed callback.
type CallbackResult struct {
	*ProcessResult
	Provider string
	Method   enums.PaymentMethod
	AckBody  any
}

// Succeeded reports whether the payment ended in success.
func (r *ProcessResult) Succeeded() bool {
	return r != nil && r.Payment != nil && r.Payment.Status == enums.PaymentStatusSuccess
}

// PaymentDetail is a payment with the orders it covers.
type PaymentDetail struct {
	Payment payments.PaymentView `json:"payment"`
	Orders  []orders.OrderView   `json:"orders"`
}

// PreviewInput asks what a coupon would take off the caller's open bill.
type PreviewInput struct {
	Actor       Actor
	GuestID     *uuid.UUID
	TableNumber *int
	CouponID    *uuid.UUID
	CouponCode  string
}

// Service is the settlement orchestrator.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	HandleReturn(ctx context.Context, provider string, query url.Values) (*CallbackResult, error)
	HandleWebhook(ctx context.Context, provider string, body []byte, headers http.Header) (*CallbackResult, error)
	Process(ctx context.Context, result *providers.VerifiedResult) (*ProcessResult, error)
	Cancel(ctx context.Context, actor Actor, paymentID uuid.UUID) (*ProcessResult, error)
	Get(ctx context.Context, actor Actor, paymentID uuid.UUID) (*PaymentDetail, error)
	List(ctx context.Context, actor Actor, params payments.ListParams) (*payments.ListResult, error)
	PreviewCoupon(ctx context.Context, input PreviewInput) (*coupons.Validation, error)
}

type service struct {
	tx              txRunner
	ordersRepo      orders.Repository
	paymentsRepo    payments.Repository
	ledger          couponLedger
	registry        *providers.Registry
	outbox          outboxPublisher
	notifier        realtime.Notifier
	logg            *logger.Logger
	metrics         settlementMetrics
	guard           eventGuard
	staffRoom       string
	defaultCurrency enums.Currency
	now             func() time.Time
}

type Option func(*service)

func WithMetrics(m settlementMetrics) Option {
	return func(s *service) { s.metrics = m }
}

// WithEventGuard enables the Redis fast path for webhook redeliveries.
func WithEventGuard(g eventGuard) Option {
	return func(s *service) { s.guard = g }
}

func WithStaffRoom(room string) Option {
	return func(s *service) {
		if strings.TrimSpace(room) != "" {
			s.staffRoom = strings.TrimSpace(room)
		}
	}
}

func WithDefaultCurrency(c enums.Currency) Option {
	return func(s *service) {
		if c.IsValid() {
			s.defaultCurrency = c
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the orchestrator from explicitly constructed collaborators.
func NewService(
	tx txRunner,
	ordersRepo orders.Repository,
	paymentsRepo payments.Repository,
	ledger couponLedger,
	registry *providers.Registry,
	publisher outboxPublisher,
	notifier realtime.Notifier,
	logg *logger.Logger,
	opts ...Option,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if paymentsRepo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("coupon ledger required")
	}
	if registry == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("realtime notifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	s := &service{
		tx:              tx,
		ordersRepo:      ordersRepo,
		paymentsRepo:    paymentsRepo,
		ledger:          ledger,
		registry:        registry,
		outbox:          publisher,
		notifier:        notifier,
		logg:            logg,
		staffRoom:       realtime.DefaultStaffRoom,
		defaultCurrency: enums.CurrencyVND,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
