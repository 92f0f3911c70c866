package snapshots

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
)

// Repository persists dish snapshots. Snapshots are insert-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, snapshot *models.DishSnapshot) error
	Get(ctx context.Context, id uuid.UUID) (*models.DishSnapshot, error)
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

func (r *repository) Create(ctx context.Context, snapshot *models.DishSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.DishSnapshot, error) {
	var snapshot models.DishSnapshot
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&snapshot).Error; err != nil {
		return nil, err
	}
	return &snapshot, nil
}
