package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

func TestOutboxRetentionJobDeletesPublishedAndDLQRows(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	published := &fakeRetentionRepo{deleted: 7}
	dlq := &fakeRetentionRepo{deleted: 2}
	job := newOutboxRetentionJob(t, published, dlq, 48*time.Hour)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectedCutoff := now.Add(-48 * time.Hour)
	if !published.lastCutoff.Equal(expectedCutoff) || !dlq.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s / %s", expectedCutoff, published.lastCutoff, dlq.lastCutoff)
	}
	if published.called != 1 || dlq.called != 1 {
		t.Fatalf("expected each repo called once, got %d/%d", published.called, dlq.called)
	}
}

func TestOutboxRetentionJobDefaultsRetention(t *testing.T) {
	job := newOutboxRetentionJob(t, &fakeRetentionRepo{}, nil, 0)
	if job.retention != defaultOutboxRetention {
		t.Fatalf("expected default retention, got %s", job.retention)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run without dlq repo: %v", err)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	job := newOutboxRetentionJob(t, &fakeRetentionRepo{err: errors.New("boom")}, &fakeRetentionRepo{}, time.Hour)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func newOutboxRetentionJob(t *testing.T, published, dlq *fakeRetentionRepo, retention time.Duration) *outboxRetentionJob {
	t.Helper()
	params := OutboxRetentionJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:        passthroughTx{},
		Outbox:    published,
		Retention: retention,
	}
	if dlq != nil {
		params.DLQ = dlq
	}
	jobIface, err := NewOutboxRetentionJob(params)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

type fakeRetentionRepo struct {
	lastCutoff time.Time
	called     int
	deleted    int64
	err        error
}

func (f *fakeRetentionRepo) DeletePublishedBefore(_ *gorm.DB, cutoff time.Time) (int64, error) {
	return f.record(cutoff)
}

func (f *fakeRetentionRepo) DeleteBefore(_ *gorm.DB, cutoff time.Time) (int64, error) {
	return f.record(cutoff)
}

func (f *fakeRetentionRepo) record(cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return f.deleted, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
