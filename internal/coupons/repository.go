package coupons

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

// Repository persists coupons and their usage records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ForUpdate() Repository
	Create(ctx context.Context, coupon *models.Coupon) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	CountGuestRedemptions(ctx context.Context, couponID, guestID uuid.UUID) (int64, error)
	RedeemIfWithinLimit(ctx context.Context, couponID uuid.UUID) (bool, error)
	Release(ctx context.Context, couponID uuid.UUID) (bool, error)
	RecordUsage(ctx context.Context, usage *models.CouponUsage) error
	ListUsages(ctx context.Context, couponID uuid.UUID) ([]models.CouponUsage, error)
}

type repository struct {
	db   *gorm.DB
	lock bool
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, lock: r.lock}
}

// ForUpdate makes FindByID and FindByCode lock the coupon row until the
// surrounding transaction ends.
func (r *repository) ForUpdate() Repository {
	return &repository{db: r.db, lock: true}
}

func (r *repository) find(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx)
	if r.lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (r *repository) Create(ctx context.Context, coupon *models.Coupon) error {
	coupon.Code = NormalizeCode(coupon.Code)
	return r.db.WithContext(ctx).Create(coupon).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.find(ctx).Where("id = ?", id).First(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.find(ctx).Where("code = ?", NormalizeCode(code)).First(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

// CountGuestRedemptions counts the guest's recorded usages plus the guest's
// pending payments still holding a slot of the coupon.
func (r *repository) CountGuestRedemptions(ctx context.Context, couponID, guestID uuid.UUID) (int64, error) {
	var used int64
	if err := r.db.WithContext(ctx).
		Model(&models.CouponUsage{}).
		Where("coupon_id = ? AND guest_id = ?", couponID, guestID).
		Count(&used).Error; err != nil {
		return 0, err
	}

	var held int64
	if err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("coupon_id = ? AND guest_id = ? AND status = ?", couponID, guestID, enums.PaymentStatusPending).
		Count(&held).Error; err != nil {
		return 0, err
	}
	return used + held, nil
}

// RedeemIfWithinLimit takes one usage slot. It reports false when the coupon is
// inactive or already at max_total_usage.
func (r *repository) RedeemIfWithinLimit(ctx context.Context, couponID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND status = ? AND (max_total_usage IS NULL OR usage_count < max_total_usage)", couponID, enums.CouponStatusActive).
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count + 1"),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release gives back one usage slot. It never drives usage_count below zero.
func (r *repository) Release(ctx context.Context, couponID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND usage_count > 0", couponID).
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count - 1"),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RecordUsage inserts the usage row. A row already recorded for the payment is
// kept as it is.
func (r *repository) RecordUsage(ctx context.Context, usage *models.CouponUsage) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(usage).Error
}

func (r *repository) ListUsages(ctx context.Context, couponID uuid.UUID) ([]models.CouponUsage, error) {
	var rows []models.CouponUsage
	err := r.db.WithContext(ctx).
		Where("coupon_id = ?", couponID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
