package worker

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/internal/analytics/router"
	"github.com/angelmondragon/tableserve-backend/internal/analytics/types"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

// consumer scopes idempotency markers for this worker in Redis.
const consumer = "settlement-analytics"

type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type claimTracker interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type disposition int

const (
	ack disposition = iota
	nack
)

// Service feeds settlement events from a Pub/Sub subscription into the
// analytics handler. Each event is handled at most once per idempotency TTL.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	claims       claimTracker
	logg         *logger.Logger
}

func NewService(subscription *gcppubsub.Subscriber, handler Handler, claims claimTracker, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case claims == nil:
		return nil, errors.New("idempotency tracker is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, claims: claims, logg: logg}, nil
}

// Run blocks in Receive until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		if s.process(ctx, msg) == nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process acks anything that can never succeed (bad envelopes, unknown
// events) and nacks transient failures so Pub/Sub redelivers.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) disposition {
	ctx = s.logg.WithFields(ctx, messageFields(msg))

	envelope, err := decodeEnvelope(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "invalid analytics envelope")
		return ack
	}
	ctx = s.logg.WithFields(ctx, envelope.LogFields())

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(ctx, "invalid event id")
		return ack
	}

	first, err := s.claims.Claim(ctx, consumer, eventID)
	switch {
	case err != nil:
		s.logg.Error(ctx, "idempotency check failed", err)
		return nack
	case !first:
		s.logg.Info(ctx, "event already processed")
		return ack
	}

	err = s.handler.Handle(ctx, envelope)
	switch {
	case err == nil:
		s.logg.Info(ctx, "analytics event handled")
		return ack
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Warn(ctx, "unsupported analytics event dropped")
		return ack
	}

	s.logg.Error(ctx, "handler error", err)
	if delErr := s.claims.Release(ctx, consumer, eventID); delErr != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", delErr.Error()), "idempotency marker not cleared")
	}
	return nack
}
