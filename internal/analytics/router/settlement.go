package router

import (
	"context"
	"fmt"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/internal/analytics/types"
	"github.com/angelmondragon/tableserve-backend/internal/analytics/writer"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox/payloads"
)

type settlementHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newSettlementHandler(w Writer, logg *logger.Logger) *settlementHandler {
	return &settlementHandler{writer: w, logg: logg}
}

func (h *settlementHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.PaymentEvent)
	if !ok || event == nil {
		return fmt.Errorf("unexpected payload %T for %s", payload, envelope.EventType)
	}
	row, err := settlementRow(envelope, event)
	if err != nil {
		return err
	}
	if err := h.writer.InsertSettlement(ctx, row); err != nil {
		return fmt.Errorf("insert settlement row: %w", err)
	}
	return nil
}

func settlementRow(envelope types.Envelope, event *payloads.PaymentEvent) (types.SettlementRow, error) {
	encoded, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return types.SettlementRow{}, err
	}
	paymentID := envelope.AggregateID
	if event.PaymentID != uuid.Nil {
		paymentID = event.PaymentID.String()
	}
	row := types.SettlementRow{
		EventID:        envelope.EventID,
		EventType:      string(envelope.EventType),
		OccurredAt:     envelope.OccurredAt.UTC(),
		PaymentID:      paymentID,
		TransactionRef: event.TransactionRef,
		TableNumber:    int64(event.TableNumber),
		PaymentMethod:  string(event.Method),
		Status:         string(event.Status),
		Currency:       string(event.Currency),
		AmountMinor:    event.Amount,
		DiscountMinor:  event.DiscountAmount,
		GrossMinor:     event.Amount + event.DiscountAmount,
		OrderCount:     int64(len(event.OrderIDs)),
		Payload:        encoded,
	}
	if event.GuestID != nil {
		row.GuestID = cbigquery.NullString{StringVal: event.GuestID.String(), Valid: true}
	}
	if event.CouponID != nil {
		row.CouponID = cbigquery.NullString{StringVal: event.CouponID.String(), Valid: true}
	}
	if event.ResponseCode != "" {
		row.ResponseCode = cbigquery.NullString{StringVal: event.ResponseCode, Valid: true}
	}
	if event.PaidAt != nil {
		row.PaidAt = cbigquery.NullTimestamp{Timestamp: event.PaidAt.UTC(), Valid: true}
	}
	return row, nil
}
