package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

// Payment is one settlement attempt covering a set of orders.
type Payment struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	GuestID               *uuid.UUID          `gorm:"column:guest_id;type:uuid"`
	TableNumber           int                 `gorm:"column:table_number;not null"`
	Amount                int64               `gorm:"column:amount;not null"`
	PaymentMethod         enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	Status                enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	TransactionRef        string              `gorm:"column:transaction_ref;not null;uniqueIndex"`
	ExternalTransactionID *string             `gorm:"column:external_transaction_id"`
	ExternalSessionID     *string             `gorm:"column:external_session_id"`
	ExternalCustomerID    *string             `gorm:"column:external_customer_id"`
	ResponseCode          *string             `gorm:"column:response_code"`
	ResponseMessage       *string             `gorm:"column:response_message"`
	BankCode              *string             `gorm:"column:bank_code"`
	CardBrand             *string             `gorm:"column:card_brand"`
	Last4Digits           *string             `gorm:"column:last4_digits"`
	Currency              enums.Currency      `gorm:"column:currency;not null"`
	CouponID              *uuid.UUID          `gorm:"column:coupon_id;type:uuid"`
	DiscountAmount        *int64              `gorm:"column:discount_amount"`
	PaymentHandlerID      *uuid.UUID          `gorm:"column:payment_handler_id;type:uuid"`
	Note                  *string             `gorm:"column:note"`
	PaidAt                *time.Time          `gorm:"column:paid_at"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PaymentOrder links a payment to each order it settles.
type PaymentOrder struct {
	PaymentID uuid.UUID `gorm:"column:payment_id;type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;primaryKey"`
}
