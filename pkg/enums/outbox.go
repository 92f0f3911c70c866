package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType is stored in outbox_events.aggregate_type.
type OutboxAggregateType string

const AggregatePayment OutboxAggregateType = "payment"

// OutboxEventType is stored in outbox_events.event_type and travels as the
// event_type message attribute.
type OutboxEventType string

const (
	EventPaymentInitiated OutboxEventType = "payment_initiated"
	EventPaymentSettled   OutboxEventType = "payment_settled"
	EventPaymentFailed    OutboxEventType = "payment_failed"
	EventPaymentRejected  OutboxEventType = "payment_rejected"
)

// OutboxDLQErrorReason explains why a row left the outbox without being
// published.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonUndecodable  OutboxDLQErrorReason = "undecodable"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)

var (
	aggregateTypes = []OutboxAggregateType{AggregatePayment}
	eventTypes     = []OutboxEventType{EventPaymentInitiated, EventPaymentSettled, EventPaymentFailed, EventPaymentRejected}
	dlqReasons     = []OutboxDLQErrorReason{OutboxDLQReasonUndecodable, OutboxDLQReasonNonRetryable, OutboxDLQReasonMaxAttempts}
)

func (a OutboxAggregateType) IsValid() bool  { return slices.Contains(aggregateTypes, a) }
func (e OutboxEventType) IsValid() bool      { return slices.Contains(eventTypes, e) }
func (r OutboxDLQErrorReason) IsValid() bool { return slices.Contains(dlqReasons, r) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	if a := OutboxAggregateType(value); a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("unknown aggregate type %q", value)
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("unknown event type %q", value)
}

// OutboxEventTypes returns a copy of every event type the outbox carries.
func OutboxEventTypes() []OutboxEventType {
	return slices.Clone(eventTypes)
}
