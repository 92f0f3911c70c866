package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

type repository struct {
	db   *gorm.DB
	lock bool
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, lock: r.lock}
}

// ForUpdate makes the unpaid-order finders lock the rows they return until the
// surrounding transaction ends.
func (r *repository) ForUpdate() Repository {
	return &repository{db: r.db, lock: true}
}

func (r *repository) locking(q *gorm.DB) *gorm.DB {
	if r.lock {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("DishSnapshot").Create(order).Error
}

// FindUnpaidOrders returns the guest's payable orders with their snapshots, oldest first.
func (r *repository) FindUnpaidOrders(ctx context.Context, guestID uuid.UUID, tableNumber *int) ([]models.Order, error) {
	q := r.db.WithContext(ctx).
		Preload("DishSnapshot").
		Where("guest_id = ? AND status IN ?", guestID, enums.PayableOrderStatuses)
	if tableNumber != nil {
		q = q.Where("table_number = ?", *tableNumber)
	}
	var rows []models.Order
	if err := r.locking(q).Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindUnpaidTableOrders returns every payable order at the table regardless of guest.
func (r *repository) FindUnpaidTableOrders(ctx context.Context, tableNumber int) ([]models.Order, error) {
	var rows []models.Order
	err := r.locking(r.db.WithContext(ctx)).
		Preload("DishSnapshot").
		Where("table_number = ? AND status IN ?", tableNumber, enums.PayableOrderStatuses).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("DishSnapshot").
		Where("id IN ?", ids).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindByPayment returns every order linked to the payment, paid or not.
func (r *repository) FindByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("DishSnapshot").
		Joins("JOIN payment_orders ON payment_orders.order_id = orders.id").
		Where("payment_orders.payment_id = ?", paymentID).
		Order("orders.created_at ASC").
		Order("orders.id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateOrdersStatus moves the given orders to status. Only payable orders
// move; paid and rejected orders are left as they are.
func (r *repository) UpdateOrdersStatus(ctx context.Context, ids []uuid.UUID, status enums.OrderStatus, paymentID *uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if paymentID != nil {
		updates["payment_id"] = *paymentID
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id IN ? AND status IN ?", ids, enums.PayableOrderStatuses).
		Updates(updates)
	return res.RowsAffected, res.Error
}
