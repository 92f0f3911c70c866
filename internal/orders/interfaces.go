package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

// Repository defines persistence operations for guest orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ForUpdate() Repository
	Create(ctx context.Context, order *models.Order) error
	FindUnpaidOrders(ctx context.Context, guestID uuid.UUID, tableNumber *int) ([]models.Order, error)
	FindUnpaidTableOrders(ctx context.Context, tableNumber int) ([]models.Order, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Order, error)
	FindByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Order, error)
	UpdateOrdersStatus(ctx context.Context, ids []uuid.UUID, status enums.OrderStatus, paymentID *uuid.UUID) (int64, error)
}
