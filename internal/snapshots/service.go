package snapshots

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/internal/orders"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Dish carries the live menu attributes to freeze at order time.
type Dish struct {
	ID          uuid.UUID
	Name        string
	Price       int64
	Description *string
	Image       *string
	Status      string
}

// PlaceOrderInput describes one ordered line.
type PlaceOrderInput struct {
	GuestID     uuid.UUID
	TableNumber int
	Dish        Dish
	Quantity    int
	HandlerID   *uuid.UUID
}

// Service freezes dish attributes and creates the order that owns the snapshot.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.DishSnapshot, error)
}

type service struct {
	repo   Repository
	orders orders.Repository
	tx     txRunner
}

func NewService(repo Repository, orderRepo orders.Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("snapshot repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, orders: orderRepo, tx: tx}, nil
}

func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if err := validatePlaceOrder(input); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		snapshot := &models.DishSnapshot{
			DishID:      input.Dish.ID,
			Name:        strings.TrimSpace(input.Dish.Name),
			Price:       input.Dish.Price,
			Description: input.Dish.Description,
			Image:       input.Dish.Image,
			Status:      input.Dish.Status,
		}
		if snapshot.Status == "" {
			snapshot.Status = "available"
		}
		if err := s.repo.WithTx(tx).Create(ctx, snapshot); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create dish snapshot")
		}

		row := &models.Order{
			GuestID:        input.GuestID,
			TableNumber:    input.TableNumber,
			DishSnapshotID: snapshot.ID,
			Quantity:       input.Quantity,
			Status:         enums.OrderStatusPending,
			OrderHandlerID: input.HandlerID,
		}
		if err := s.orders.WithTx(tx).Create(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}
		row.DishSnapshot = snapshot
		order = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.DishSnapshot, error) {
	snapshot, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dish snapshot not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load dish snapshot")
	}
	return snapshot, nil
}

func validatePlaceOrder(input PlaceOrderInput) error {
	switch {
	case input.GuestID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "guest id is required")
	case input.TableNumber <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "table number must be positive")
	case input.Dish.ID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "dish id is required")
	case strings.TrimSpace(input.Dish.Name) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "dish name is required")
	case input.Dish.Price < 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "dish price must not be negative")
	case input.Quantity <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}
