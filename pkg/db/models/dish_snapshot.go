package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DishSnapshot freezes the dish attributes an order was placed against.
type DishSnapshot struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DishID      uuid.UUID `gorm:"column:dish_id;type:uuid;not null"`
	Name        string    `gorm:"column:name;not null"`
	Price       int64     `gorm:"column:price;not null"`
	Description *string   `gorm:"column:description"`
	Image       *string   `gorm:"column:image"`
	Status      string    `gorm:"column:status;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (d *DishSnapshot) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
