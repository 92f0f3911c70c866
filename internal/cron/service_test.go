package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

type fakeLock struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.acquired++
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.released++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, registry *Registry, lock Lock, clock *manualClock) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: registry,
		Lock:     lock,
		Now:      clock.Now,
	})
	require.NoError(t, err)
	return service
}

func TestRunCycleRunsAllDueJobsAndCombinesErrors(t *testing.T) {
	ok := &testJob{name: "ok"}
	bad := &testJob{name: "bad", err: errors.New("boom")}
	worse := &testJob{name: "worse", err: errors.New("bang")}
	registry := NewRegistry()
	registry.Register(ok, 0)
	registry.Register(bad, 0)
	registry.Register(worse, 0)
	lock := &fakeLock{}
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	err := newTestService(t, registry, lock, clock).runCycle(context.Background())
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.ErrorContains(t, errs[0], "bad: boom")
	assert.ErrorContains(t, errs[1], "worse: bang")
	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, bad.runs)
	assert.Equal(t, 1, worse.runs)
	assert.Equal(t, 1, lock.released)
}

func TestRunCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	job := &testJob{name: "job"}
	registry := NewRegistry()
	registry.Register(job, 0)
	clock := &manualClock{now: time.Now()}

	err := newTestService(t, registry, &fakeLock{held: true}, clock).runCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, job.runs)
}

func TestRunCycleOnlyTakesLockWhenSomethingIsDue(t *testing.T) {
	job := &testJob{name: "daily"}
	registry := NewRegistry()
	registry.Register(job, 24*time.Hour)
	lock := &fakeLock{}
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	service := newTestService(t, registry, lock, clock)

	require.NoError(t, service.runCycle(context.Background()))
	clock.now = clock.now.Add(time.Hour)
	require.NoError(t, service.runCycle(context.Background()))

	assert.Equal(t, 1, job.runs)
	assert.Equal(t, 1, lock.acquired)
}

func TestNewServiceRequiresLoggerAndLock(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &fakeLock{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.New(logger.Options{Output: io.Discard})})
	assert.Error(t, err)
}
