package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// SettlementRow is one payment lifecycle event in the payment_settlements
// table. Optional columns use the bigquery Null* types.
type SettlementRow struct {
	EventID        string                  `bigquery:"event_id"`
	EventType      string                  `bigquery:"event_type"`
	OccurredAt     time.Time               `bigquery:"occurred_at"`
	PaymentID      string                  `bigquery:"payment_id"`
	TransactionRef string                  `bigquery:"transaction_ref"`
	GuestID        cbigquery.NullString    `bigquery:"guest_id"`
	TableNumber    int64                   `bigquery:"table_number"`
	PaymentMethod  string                  `bigquery:"payment_method"`
	Status         string                  `bigquery:"status"`
	Currency       string                  `bigquery:"currency"`
	AmountMinor    int64                   `bigquery:"amount_minor"`
	DiscountMinor  int64                   `bigquery:"discount_minor"`
	GrossMinor     int64                   `bigquery:"gross_minor"`
	CouponID       cbigquery.NullString    `bigquery:"coupon_id"`
	OrderCount     int64                   `bigquery:"order_count"`
	ResponseCode   cbigquery.NullString    `bigquery:"response_code"`
	PaidAt         cbigquery.NullTimestamp `bigquery:"paid_at"`
	Payload        cbigquery.NullJSON      `bigquery:"payload"`
}

// SettlementSchema is the table layout used when the worker creates the
// settlements table itself.
func SettlementSchema() cbigquery.Schema {
	required := func(name string, t cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: t, Required: true}
	}
	nullable := func(name string, t cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: t}
	}
	return cbigquery.Schema{
		required("event_id", cbigquery.StringFieldType),
		required("event_type", cbigquery.StringFieldType),
		required("occurred_at", cbigquery.TimestampFieldType),
		required("payment_id", cbigquery.StringFieldType),
		required("transaction_ref", cbigquery.StringFieldType),
		nullable("guest_id", cbigquery.StringFieldType),
		required("table_number", cbigquery.IntegerFieldType),
		required("payment_method", cbigquery.StringFieldType),
		required("status", cbigquery.StringFieldType),
		required("currency", cbigquery.StringFieldType),
		required("amount_minor", cbigquery.IntegerFieldType),
		required("discount_minor", cbigquery.IntegerFieldType),
		required("gross_minor", cbigquery.IntegerFieldType),
		nullable("coupon_id", cbigquery.StringFieldType),
		required("order_count", cbigquery.IntegerFieldType),
		nullable("response_code", cbigquery.StringFieldType),
		nullable("paid_at", cbigquery.TimestampFieldType),
		nullable("payload", cbigquery.JSONFieldType),
	}
}
