package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tableserve-backend/internal/orders"
	"github.com/angelmondragon/tableserve-backend/internal/snapshots"
	"github.com/angelmondragon/tableserve-backend/pkg/db"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

var seedGuestID = uuid.MustParse("7b0f4a52-3a8e-4c4f-9a55-0f1f2d6c1a01")

var seedMenu = []snapshots.Dish{
	{ID: uuid.MustParse("0f8d6a3e-1c52-4c36-8e2d-5b4f0b8a7c11"), Name: "Pho bo", Price: 65000, Status: "available"},
	{ID: uuid.MustParse("4a9e2c71-8d3b-4f6a-b1e0-2c7d5f9e3a22"), Name: "Banh mi thit", Price: 35000, Status: "available"},
	{ID: uuid.MustParse("9c3b7e15-6f2a-4d8c-a4b9-1e6f3c8d5b33"), Name: "Ca phe sua da", Price: 29000, Status: "available"},
}

// seed places a demo guest's open bill and a welcome coupon for local testing.
func seed(ctx context.Context, client *db.Client, logg *logger.Logger) error {
	svc, err := snapshots.NewService(snapshots.NewRepository(client.DB()), orders.NewRepository(client.DB()), client)
	if err != nil {
		return fmt.Errorf("snapshot service: %w", err)
	}

	for i, dish := range seedMenu {
		order, err := svc.PlaceOrder(ctx, snapshots.PlaceOrderInput{
			GuestID:     seedGuestID,
			TableNumber: 12,
			Dish:        dish,
			Quantity:    i + 1,
		})
		if err != nil {
			return fmt.Errorf("place %s: %w", dish.Name, err)
		}
		logg.Info(logg.WithField(ctx, "order_id", order.ID.String()), "seeded order")
	}

	maxTotal := 100
	perGuest := 1
	coupon := models.Coupon{
		Code:             "WELCOME10",
		DiscountType:     enums.DiscountTypePercentage,
		DiscountValue:    10,
		MaxTotalUsage:    &maxTotal,
		MaxUsagePerGuest: &perGuest,
		Status:           enums.CouponStatusActive,
	}
	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&coupon).Error
	})
	if err != nil {
		return fmt.Errorf("seed coupon: %w", err)
	}

	logg.Info(logg.WithField(ctx, "guest_id", seedGuestID.String()), "seed complete")
	return nil
}
