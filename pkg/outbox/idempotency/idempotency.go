// Package idempotency records which outbox events a consumer has already
// handled, so Pub/Sub redeliveries are acknowledged without side effects.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/pkg/redis"
)

// Tracker claims event ids per consumer under
// ts:idempotency:consumed:<consumer>:<event_id>.
type Tracker struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

func NewTracker(store redis.IdempotencyStore, ttl time.Duration) (*Tracker, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, fmt.Errorf("idempotency ttl %s is negative", ttl)
	}
	return &Tracker{store: store, ttl: ttl, now: time.Now}, nil
}

// Claim returns true when this call is the first to see eventID for consumer.
// The stored value is the claim time, which helps when inspecting keys by hand.
func (t *Tracker) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := t.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := t.store.SetNX(ctx, key, t.now().UTC().Format(time.RFC3339), t.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return claimed, nil
}

// Release drops a claim after the consumer failed, letting the redelivery run.
func (t *Tracker) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := t.key(consumer, eventID)
	if err != nil {
		return err
	}
	return t.store.Del(ctx, key)
}

func (t *Tracker) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return t.store.IdempotencyKey("consumed:"+consumer, eventID.String()), nil
}
