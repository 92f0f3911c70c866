package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/tableserve-backend/pkg/db/types"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

// Coupon is a discount code with global and per-guest usage limits.
type Coupon struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code              string             `gorm:"column:code;not null;uniqueIndex"`
	DiscountType      enums.DiscountType `gorm:"column:discount_type;type:discount_type;not null"`
	DiscountValue     int64              `gorm:"column:discount_value;not null"`
	MinOrderAmount    *int64             `gorm:"column:min_order_amount"`
	ApplicableDishIDs dbtypes.UUIDArray  `gorm:"column:applicable_dish_ids;type:uuid[]"`
	MaxTotalUsage     *int               `gorm:"column:max_total_usage"`
	MaxUsagePerGuest  *int               `gorm:"column:max_usage_per_guest"`
	UsageCount        int                `gorm:"column:usage_count;not null;default:0"`
	StartDate         *time.Time         `gorm:"column:start_date"`
	EndDate           *time.Time         `gorm:"column:end_date"`
	Status            enums.CouponStatus `gorm:"column:status;type:coupon_status;not null;default:'active'"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CouponUsage is the append-only record of a coupon applied to a settled payment.
type CouponUsage struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CouponID       uuid.UUID         `gorm:"column:coupon_id;type:uuid;not null"`
	GuestID        *uuid.UUID        `gorm:"column:guest_id;type:uuid"`
	PaymentID      uuid.UUID         `gorm:"column:payment_id;type:uuid;not null;uniqueIndex"`
	OrderIDs       dbtypes.UUIDArray `gorm:"column:order_ids;type:uuid[];not null"`
	DiscountAmount int64             `gorm:"column:discount_amount;not null"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (u *CouponUsage) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
