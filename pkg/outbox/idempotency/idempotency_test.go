package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	values map[string]any
	ttls   map[string]time.Duration
	err    error
}

func newMapStore() *mapStore {
	return &mapStore{values: map[string]any{}, ttls: map[string]time.Duration{}}
}

func (m *mapStore) Get(_ context.Context, key string) (string, error) {
	v, _ := m.values[key].(string)
	return v, nil
}

func (m *mapStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	m.ttls[key] = ttl
	return true, nil
}

func (m *mapStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *mapStore) IdempotencyKey(scope, id string) string {
	return "ts:idempotency:" + scope + ":" + id
}

func TestClaimOncePerConsumer(t *testing.T) {
	store := newMapStore()
	tracker, err := NewTracker(store, time.Hour)
	require.NoError(t, err)
	tracker.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	eventID := uuid.New()

	first, err := tracker.Claim(ctx, "settlement-analytics", eventID)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := tracker.Claim(ctx, "settlement-analytics", eventID)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := tracker.Claim(ctx, "receipts", eventID)
	require.NoError(t, err)
	assert.True(t, other, "claims are scoped per consumer")

	key := "ts:idempotency:consumed:settlement-analytics:" + eventID.String()
	assert.Equal(t, "2026-05-01T09:00:00Z", store.values[key])
	assert.Equal(t, time.Hour, store.ttls[key])
}

func TestReleaseAllowsReclaim(t *testing.T) {
	tracker, err := NewTracker(newMapStore(), time.Minute)
	require.NoError(t, err)
	ctx := context.Background()
	eventID := uuid.New()

	_, err = tracker.Claim(ctx, "settlement-analytics", eventID)
	require.NoError(t, err)
	require.NoError(t, tracker.Release(ctx, "settlement-analytics", eventID))

	claimed, err := tracker.Claim(ctx, "settlement-analytics", eventID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimErrors(t *testing.T) {
	store := newMapStore()
	tracker, err := NewTracker(store, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = tracker.Claim(ctx, "", uuid.New())
	assert.Error(t, err)
	_, err = tracker.Claim(ctx, "settlement-analytics", uuid.Nil)
	assert.Error(t, err)
	assert.Error(t, tracker.Release(ctx, "settlement-analytics", uuid.Nil))

	store.err = errors.New("redis down")
	_, err = tracker.Claim(ctx, "settlement-analytics", uuid.New())
	assert.ErrorIs(t, err, store.err)
}

func TestNewTrackerValidates(t *testing.T) {
	_, err := NewTracker(nil, time.Minute)
	assert.Error(t, err)
	_, err = NewTracker(newMapStore(), -time.Second)
	assert.Error(t, err)
}
