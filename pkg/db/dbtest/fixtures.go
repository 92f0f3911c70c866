package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

// SeedOrder inserts a snapshot priced at price and one order of qty for the guest.
func SeedOrder(t *testing.T, conn *gorm.DB, guestID uuid.UUID, table int, price int64, qty int, status enums.OrderStatus) models.Order {
	t.Helper()
	return SeedOrderForDish(t, conn, guestID, table, uuid.New(), price, qty, status)
}

// SeedOrderForDish is SeedOrder with an explicit source dish id.
func SeedOrderForDish(t *testing.T, conn *gorm.DB, guestID uuid.UUID, table int, dishID uuid.UUID, price int64, qty int, status enums.OrderStatus) models.Order {
	t.Helper()
	snapshot := models.DishSnapshot{
		DishID: dishID,
		Name:   "Pho bo",
		Price:  price,
		Status: "available",
	}
	require.NoError(t, conn.Create(&snapshot).Error)

	order := models.Order{
		GuestID:        guestID,
		TableNumber:    table,
		DishSnapshotID: snapshot.ID,
		Quantity:       qty,
		Status:         status,
	}
	require.NoError(t, conn.Omit("DishSnapshot").Create(&order).Error)
	order.DishSnapshot = &snapshot
	return order
}

// SeedCoupon inserts an active coupon after applying mutate.
func SeedCoupon(t *testing.T, conn *gorm.DB, code string, mutate func(*models.Coupon)) models.Coupon {
	t.Helper()
	coupon := models.Coupon{
		Code:          code,
		DiscountType:  enums.DiscountTypeFixed,
		DiscountValue: 50,
		Status:        enums.CouponStatusActive,
	}
	if mutate != nil {
		mutate(&coupon)
	}
	require.NoError(t, conn.Create(&coupon).Error)
	return coupon
}
