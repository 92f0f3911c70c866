// Package webhooks short-circuits provider webhook redeliveries before they
// reach the database.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/tableserve-backend/pkg/redis"
)

// Guard remembers provider event ids in Redis for ttl. It is only a fast
// path: settlement stays idempotent without it.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether provider already delivered eventID and marks it
// as seen otherwise.
func (g *Guard) CheckAndMark(ctx context.Context, provider, eventID string) (bool, error) {
	key, err := g.key(provider, eventID)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Forget clears the mark so a delivery that failed downstream can be retried.
func (g *Guard) Forget(ctx context.Context, provider, eventID string) error {
	key, err := g.key(provider, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(provider, eventID string) (string, error) {
	if provider == "" {
		return "", errors.New("provider is required")
	}
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey("webhook:"+provider, eventID), nil
}
