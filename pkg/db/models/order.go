package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

// Order is one ordered line (dish snapshot x quantity) for a guest at a table.
type Order struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	GuestID        uuid.UUID         `gorm:"column:guest_id;type:uuid;not null"`
	TableNumber    int               `gorm:"column:table_number;not null"`
	DishSnapshotID uuid.UUID         `gorm:"column:dish_snapshot_id;type:uuid;not null"`
	Quantity       int               `gorm:"column:quantity;not null"`
	Status         enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	OrderHandlerID *uuid.UUID        `gorm:"column:order_handler_id;type:uuid"`
	PaymentID      *uuid.UUID        `gorm:"column:payment_id;type:uuid"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	DishSnapshot *DishSnapshot `gorm:"foreignKey:DishSnapshotID;references:ID"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// LineTotal returns the frozen price multiplied by quantity. The snapshot must be loaded.
func (o Order) LineTotal() int64 {
	if o.DishSnapshot == nil {
		return 0
	}
	return o.DishSnapshot.Price * int64(o.Quantity)
}
