package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

// DishView is the frozen dish data shown with an order.
type DishView struct {
	DishID uuid.UUID `json:"dishId"`
	Name   string    `json:"name"`
	Price  int64     `json:"price"`
	Image  *string   `json:"image,omitempty"`
}

// OrderView is the order shape returned to clients and pushed over realtime.
type OrderView struct {
	ID          uuid.UUID         `json:"id"`
	GuestID     uuid.UUID         `json:"guestId"`
	TableNumber int               `json:"tableNumber"`
	Quantity    int               `json:"quantity"`
	Status      enums.OrderStatus `json:"status"`
	PaymentID   *uuid.UUID        `json:"paymentId,omitempty"`
	Dish        *DishView         `json:"dish,omitempty"`
	LineTotal   int64             `json:"lineTotal"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// ToView maps an order (with snapshot loaded) to its client shape.
func ToView(o models.Order) OrderView {
	view := OrderView{
		ID:          o.ID,
		GuestID:     o.GuestID,
		TableNumber: o.TableNumber,
		Quantity:    o.Quantity,
		Status:      o.Status,
		PaymentID:   o.PaymentID,
		LineTotal:   o.LineTotal(),
		CreatedAt:   o.CreatedAt,
	}
	if o.DishSnapshot != nil {
		view.Dish = &DishView{
			DishID: o.DishSnapshot.DishID,
			Name:   o.DishSnapshot.Name,
			Price:  o.DishSnapshot.Price,
			Image:  o.DishSnapshot.Image,
		}
	}
	return view
}

func ToViews(rows []models.Order) []OrderView {
	views := make([]OrderView, 0, len(rows))
	for _, row := range rows {
		views = append(views, ToView(row))
	}
	return views
}

// Total sums price x quantity across orders.
func Total(rows []models.Order) int64 {
	var total int64
	for _, row := range rows {
		total += row.LineTotal()
	}
	return total
}

func IDs(rows []models.Order) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}

// DishIDs returns the distinct source dish ids referenced by the orders' snapshots.
func DishIDs(rows []models.Order) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(rows))
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		if row.DishSnapshot == nil {
			continue
		}
		id := row.DishSnapshot.DishID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
