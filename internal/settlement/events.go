package settlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/internal/orders"
	"github.com/angelmondragon/tableserve-backend/internal/realtime"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox/payloads"
)

func eventFor(status enums.PaymentStatus) enums.OutboxEventType {
	switch status {
	case enums.PaymentStatusSuccess:
		return enums.EventPaymentSettled
	case enums.PaymentStatusRejected:
		return enums.EventPaymentRejected
	default:
		return enums.EventPaymentFailed
	}
}

func paymentEvent(p *models.Payment, orderIDs []uuid.UUID) payloads.PaymentEvent {
	event := payloads.PaymentEvent{
		PaymentID:      p.ID,
		TransactionRef: p.TransactionRef,
		GuestID:        p.GuestID,
		TableNumber:    p.TableNumber,
		Method:         p.PaymentMethod,
		Status:         p.Status,
		Amount:         p.Amount,
		Currency:       p.Currency,
		CouponID:       p.CouponID,
		OrderIDs:       orderIDs,
		PaidAt:         p.PaidAt,
	}
	if p.DiscountAmount != nil {
		event.DiscountAmount = *p.DiscountAmount
	}
	if p.ResponseCode != nil {
		event.ResponseCode = *p.ResponseCode
	}
	if event.OrderIDs == nil {
		event.OrderIDs = []uuid.UUID{}
	}
	return event
}

// notify pushes the settled orders to every guest on the bill and to staff.
// Delivery is best effort.
func (s *service) notify(ctx context.Context, payment *models.Payment, rows []models.Order) {
	views := orders.ToViews(rows)
	rooms := make([]string, 0, len(rows)+2)
	seen := make(map[uuid.UUID]struct{}, len(rows)+1)
	addGuest := func(id uuid.UUID) {
		if id == uuid.Nil {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		rooms = append(rooms, realtime.GuestRoom(id))
	}
	if payment.GuestID != nil {
		addGuest(*payment.GuestID)
	}
	for _, row := range rows {
		addGuest(row.GuestID)
	}
	rooms = append(rooms, s.staffRoom)

	for _, room := range rooms {
		if err := s.notifier.Publish(ctx, realtime.EventPayment, room, views); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "room", room), "realtime publish failed", err)
		}
	}
}
