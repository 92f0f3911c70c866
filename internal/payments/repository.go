package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

// Repository persists payments and their order links.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	LinkOrders(ctx context.Context, paymentID uuid.UUID, orderIDs []uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByTransactionRef(ctx context.Context, ref string) (*models.Payment, error)
	FindByTransactionRefForUpdate(ctx context.Context, ref string) (*models.Payment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	LinkedOrderIDs(ctx context.Context, paymentID uuid.UUID) ([]uuid.UUID, error)
	FindPendingByOrdersForUpdate(ctx context.Context, orderIDs []uuid.UUID) ([]models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (int64, error)
	UpdateExternalRefs(ctx context.Context, id uuid.UUID, refs ExternalRefs) error
	List(ctx context.Context, query listQuery) ([]models.Payment, error)
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
}

// StatusUpdate moves a pending payment to a terminal status along with the
// provider metadata reported with it.
type StatusUpdate struct {
	Status                enums.PaymentStatus
	ResponseCode          *string
	ResponseMessage       *string
	BankCode              *string
	CardBrand             *string
	Last4Digits           *string
	ExternalTransactionID *string
	PaymentHandlerID      *uuid.UUID
	Note                  *string
	PaidAt                *time.Time
}

// ExternalRefs are the provider identifiers known after dispatch.
type ExternalRefs struct {
	SessionID     *string
	TransactionID *string
	CustomerID    *string
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) LinkOrders(ctx context.Context, paymentID uuid.UUID, orderIDs []uuid.UUID) error {
	if len(orderIDs) == 0 {
		return nil
	}
	links := make([]models.PaymentOrder, 0, len(orderIDs))
	for _, id := range orderIDs {
		links = append(links, models.PaymentOrder{PaymentID: paymentID, OrderID: id})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&links).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByTransactionRef(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("transaction_ref = ?", ref).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByTransactionRefForUpdate locks the payment row until the surrounding
// transaction ends. Callers must pass a transaction via WithTx.
func (r *repository) FindByTransactionRefForUpdate(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_ref = ?", ref).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindPendingByOrdersForUpdate locks every pending payment linked to any of
// the orders, oldest first.
func (r *repository) FindPendingByOrdersForUpdate(ctx context.Context, orderIDs []uuid.UUID) ([]models.Payment, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	linked := r.db.Model(&models.PaymentOrder{}).Select("payment_id").Where("order_id IN ?", orderIDs)
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status = ? AND id IN (?)", enums.PaymentStatusPending, linked).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) LinkedOrderIDs(ctx context.Context, paymentID uuid.UUID) ([]uuid.UUID, error) {
	var links []models.PaymentOrder
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Find(&links).Error; err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.OrderID)
	}
	return ids, nil
}

// UpdatePaymentStatus applies update only while the payment is still pending.
// Zero rows affected means another caller already finalized it.
func (r *repository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (int64, error) {
	values := map[string]any{
		"status":     update.Status,
		"updated_at": time.Now().UTC(),
	}
	setIf := func(column string, value *string) {
		if value != nil {
			values[column] = *value
		}
	}
	setIf("response_code", update.ResponseCode)
	setIf("response_message", update.ResponseMessage)
	setIf("bank_code", update.BankCode)
	setIf("card_brand", update.CardBrand)
	setIf("last4_digits", update.Last4Digits)
	setIf("external_transaction_id", update.ExternalTransactionID)
	setIf("note", update.Note)
	if update.PaymentHandlerID != nil {
		values["payment_handler_id"] = *update.PaymentHandlerID
	}
	if update.PaidAt != nil {
		values["paid_at"] = update.PaidAt.UTC()
	}

	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusPending).
		Updates(values)
	return res.RowsAffected, res.Error
}

func (r *repository) UpdateExternalRefs(ctx context.Context, id uuid.UUID, refs ExternalRefs) error {
	values := map[string]any{}
	if refs.SessionID != nil {
		values["external_session_id"] = *refs.SessionID
	}
	if refs.TransactionID != nil {
		values["external_transaction_id"] = *refs.TransactionID
	}
	if refs.CustomerID != nil {
		values["external_customer_id"] = *refs.CustomerID
	}
	if len(values) == 0 {
		return nil
	}
	values["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(values).Error
}

// List returns payments newest first using cursor pagination.
func (r *repository) List(ctx context.Context, opts listQuery) ([]models.Payment, error) {
	query := r.db.WithContext(ctx).Model(&models.Payment{})
	if opts.status != nil {
		query = query.Where("status = ?", *opts.status)
	}
	if opts.method != nil {
		query = query.Where("payment_method = ?", *opts.method)
	}
	if opts.guestID != nil {
		query = query.Where("guest_id = ?", *opts.guestID)
	}
	if opts.tableNumber != nil {
		query = query.Where("table_number = ?", *opts.tableNumber)
	}
	if opts.cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	var rows []models.Payment
	if err := query.Order("created_at DESC").Order("id DESC").Limit(opts.limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindStalePending returns pending payments created before the cutoff, oldest first.
func (r *repository) FindStalePending(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, before.UTC()).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.Payment
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
