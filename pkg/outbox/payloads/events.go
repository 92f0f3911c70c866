package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

// PaymentEvent is shared by every payment lifecycle event. Terminal events
// fill Status/PaidAt; initiated events leave them at their pending values.
type PaymentEvent struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	TransactionRef string              `json:"transaction_ref"`
	GuestID        *uuid.UUID          `json:"guest_id,omitempty"`
	TableNumber    int                 `json:"table_number"`
	Method         enums.PaymentMethod `json:"payment_method"`
	Status         enums.PaymentStatus `json:"status"`
	Amount         int64               `json:"amount"`
	DiscountAmount int64               `json:"discount_amount"`
	Currency       enums.Currency      `json:"currency"`
	CouponID       *uuid.UUID          `json:"coupon_id,omitempty"`
	OrderIDs       []uuid.UUID         `json:"order_ids"`
	ResponseCode   string              `json:"response_code,omitempty"`
	PaidAt         *time.Time          `json:"paid_at,omitempty"`
}
