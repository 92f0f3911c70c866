package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	keys    map[string]time.Duration
	deleted []string
	err     error
}

func (m *memoryStore) Get(context.Context, string) (string, error) { return "", nil }

func (m *memoryStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.keys == nil {
		m.keys = map[string]time.Duration{}
	}
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = ttl
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "ts:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
		m.deleted = append(m.deleted, key)
	}
	return nil
}

func TestNewGuardValidation(t *testing.T) {
	_, err := NewGuard(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewGuard(&memoryStore{}, -time.Second)
	assert.Error(t, err)
}

func TestGuardMarksPerProvider(t *testing.T) {
	store := &memoryStore{}
	guard, err := NewGuard(store, 24*time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = guard.CheckAndMark(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = guard.CheckAndMark(ctx, "square", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen, "event ids are scoped per provider")

	assert.Equal(t, 24*time.Hour, store.keys["ts:idempotency:webhook:stripe:evt_1"])
}

func TestGuardForget(t *testing.T) {
	store := &memoryStore{}
	guard, err := NewGuard(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = guard.CheckAndMark(ctx, "vnpay", "REF1")
	require.NoError(t, err)
	require.NoError(t, guard.Forget(ctx, "vnpay", "REF1"))
	assert.Equal(t, []string{"ts:idempotency:webhook:vnpay:REF1"}, store.deleted)

	seen, err := guard.CheckAndMark(ctx, "vnpay", "REF1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGuardErrors(t *testing.T) {
	guard, err := NewGuard(&memoryStore{err: errors.New("redis down")}, time.Hour)
	require.NoError(t, err)

	_, err = guard.CheckAndMark(context.Background(), "stripe", "evt")
	assert.Error(t, err)
	_, err = guard.CheckAndMark(context.Background(), "", "evt")
	assert.Error(t, err)
	assert.Error(t, guard.Forget(context.Background(), "stripe", ""))
}
