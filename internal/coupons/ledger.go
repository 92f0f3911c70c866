package coupons

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/pkg/db"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
)

// Reason explains why a coupon cannot be applied.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonNotStarted        Reason = "not_started"
	ReasonExpired           Reason = "expired"
	ReasonBelowMinimum      Reason = "below_minimum"
	ReasonNotApplicable     Reason = "not_applicable"
	ReasonGuestRequired     Reason = "guest_required"
	ReasonGuestLimitReached Reason = "guest_limit_reached"
	ReasonExhausted         Reason = "exhausted"
)

// ValidateInput identifies a coupon by id or code and the order it would discount.
type ValidateInput struct {
	CouponID   *uuid.UUID
	Code       string
	OrderTotal int64
	DishIDs    []uuid.UUID
	GuestID    *uuid.UUID
}

// Validation is the outcome of a coupon check. An invalid coupon is a value, not an error.
type Validation struct {
	Valid          bool      `json:"valid"`
	CouponID       uuid.UUID `json:"couponId,omitempty"`
	Code           string    `json:"code,omitempty"`
	DiscountAmount int64     `json:"discountAmount"`
	FinalAmount    int64     `json:"finalAmount"`
	Reason         Reason    `json:"reason,omitempty"`
}

type redemptionMetrics interface {
	IncCoupon(outcome string)
}

// Ledger validates coupons and keeps usage_count consistent with payments.
type Ledger struct {
	repo    Repository
	now     func() time.Time
	metrics redemptionMetrics
}

type Option func(*Ledger)

// WithClock overrides the time source used for the validity window.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithMetrics(m redemptionMetrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

func NewLedger(repo Repository, opts ...Option) (*Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	l := &Ledger{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Validate runs the coupon checks in order and computes the discount. Pass a
// nil tx outside a transaction. Inside one, the coupon row stays locked until
// commit so concurrent redemptions see each other's pending payments.
func (l *Ledger) Validate(ctx context.Context, tx *gorm.DB, input ValidateInput) (*Validation, error) {
	repo := l.repo.WithTx(tx)
	if tx != nil {
		repo = repo.ForUpdate()
	}
	rejected := func(reason Reason, coupon *models.Coupon) *Validation {
		v := &Validation{
			FinalAmount: input.OrderTotal,
			Reason:      reason,
		}
		if coupon != nil {
			v.CouponID = coupon.ID
			v.Code = coupon.Code
		}
		return v
	}

	coupon, err := l.lookup(ctx, repo, input)
	if err != nil {
		if db.IsNotFound(err) {
			return rejected(ReasonNotFound, nil), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load coupon")
	}

	switch coupon.Status {
	case enums.CouponStatusActive:
	case enums.CouponStatusExpired:
		return rejected(ReasonExpired, coupon), nil
	default:
		return rejected(ReasonInactive, coupon), nil
	}

	now := l.now()
	if coupon.StartDate != nil && now.Before(*coupon.StartDate) {
		return rejected(ReasonNotStarted, coupon), nil
	}
	if coupon.EndDate != nil && now.After(*coupon.EndDate) {
		return rejected(ReasonExpired, coupon), nil
	}

	if coupon.MinOrderAmount != nil && input.OrderTotal < *coupon.MinOrderAmount {
		return rejected(ReasonBelowMinimum, coupon), nil
	}

	if coupon.ApplicableDishIDs != nil && !anyApplicable(coupon.ApplicableDishIDs, input.DishIDs) {
		return rejected(ReasonNotApplicable, coupon), nil
	}

	if coupon.MaxUsagePerGuest != nil {
		if input.GuestID == nil {
			return rejected(ReasonGuestRequired, coupon), nil
		}
		used, err := repo.CountGuestRedemptions(ctx, coupon.ID, *input.GuestID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count guest coupon usage")
		}
		if used >= int64(*coupon.MaxUsagePerGuest) {
			return rejected(ReasonGuestLimitReached, coupon), nil
		}
	}

	if coupon.MaxTotalUsage != nil && coupon.UsageCount >= *coupon.MaxTotalUsage {
		return rejected(ReasonExhausted, coupon), nil
	}

	discount := ComputeDiscount(coupon.DiscountType, coupon.DiscountValue, input.OrderTotal)
	return &Validation{
		Valid:          true,
		CouponID:       coupon.ID,
		Code:           coupon.Code,
		DiscountAmount: discount,
		FinalAmount:    input.OrderTotal - discount,
	}, nil
}

// Redeem takes one usage slot inside tx. False means the coupon hit its limit
// or was deactivated since validation.
func (l *Ledger) Redeem(ctx context.Context, tx *gorm.DB, couponID uuid.UUID) (bool, error) {
	ok, err := l.repo.WithTx(tx).RedeemIfWithinLimit(ctx, couponID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "redeem coupon")
	}
	if ok {
		l.observe("redeemed")
	} else {
		l.observe("exhausted")
	}
	return ok, nil
}

// Release returns the slot held by a payment that did not succeed.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, couponID uuid.UUID) error {
	released, err := l.repo.WithTx(tx).Release(ctx, couponID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release coupon")
	}
	if released {
		l.observe("released")
	}
	return nil
}

// RecordUsage appends the usage row for a settled payment. A second record
// for the same payment is a no-op.
func (l *Ledger) RecordUsage(ctx context.Context, tx *gorm.DB, usage *models.CouponUsage) error {
	if usage == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon usage required")
	}
	if err := l.repo.WithTx(tx).RecordUsage(ctx, usage); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record coupon usage")
	}
	return nil
}

func (l *Ledger) lookup(ctx context.Context, repo Repository, input ValidateInput) (*models.Coupon, error) {
	if input.CouponID != nil && *input.CouponID != uuid.Nil {
		return repo.FindByID(ctx, *input.CouponID)
	}
	if NormalizeCode(input.Code) == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return repo.FindByCode(ctx, input.Code)
}

func (l *Ledger) observe(outcome string) {
	if l.metrics != nil {
		l.metrics.IncCoupon(outcome)
	}
}

func anyApplicable(allowed []uuid.UUID, dishIDs []uuid.UUID) bool {
	for _, id := range dishIDs {
		for _, candidate := range allowed {
			if candidate == id {
				return true
			}
		}
	}
	return false
}
