// Package realtime fans settlement outcomes out to connected guests and staff.
package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/internal/orders"
)

const (
	EventPayment = "payment"

	DefaultStaffRoom = "staff"
)

// Message is one event delivered to a room.
type Message struct {
	Event  string             `json:"event"`
	Room   string             `json:"room"`
	Orders []orders.OrderView `json:"orders"`
	SentAt time.Time          `json:"sentAt"`
}

// Notifier publishes an event to every subscriber of room.
type Notifier interface {
	Publish(ctx context.Context, event, room string, payload []orders.OrderView) error
}

// Subscriber streams messages for a set of rooms until ctx ends or the
// returned cancel func is called.
type Subscriber interface {
	Subscribe(ctx context.Context, rooms ...string) (<-chan Message, func(), error)
}

// GuestRoom is the room a single guest listens on.
func GuestRoom(guestID uuid.UUID) string {
	return "guest:" + guestID.String()
}
