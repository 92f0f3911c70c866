package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/tableserve-backend/internal/analytics/router"
	"github.com/angelmondragon/tableserve-backend/internal/analytics/types"
	"github.com/angelmondragon/tableserve-backend/internal/analytics/worker"
	"github.com/angelmondragon/tableserve-backend/internal/analytics/writer"
	"github.com/angelmondragon/tableserve-backend/internal/bootstrap"
	"github.com/angelmondragon/tableserve-backend/pkg/bigquery"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/tableserve-backend/pkg/pubsub"
	"github.com/angelmondragon/tableserve-backend/pkg/redis"
)

const flushTimeout = 10 * time.Second

func main() {
	ctx, proc, stop := bootstrap.Start("analytics-worker")
	defer stop()

	proc.Exit(ctx, "analytics worker failed", run(ctx, proc))
	proc.Logger.Info(ctx, "analytics worker stopped")
}

func run(ctx context.Context, proc *bootstrap.Process) error {
	cfg, logg := proc.Config, proc.Logger

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer proc.Close(ctx, "redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	defer proc.Close(ctx, "pubsub client", pubsubClient.Close)

	subscription := pubsubClient.SettlementSubscription()
	if subscription == nil {
		return errors.New("settlement subscription not configured")
	}

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg, bigquery.TableSpec{
		Name:           cfg.BigQuery.SettlementsTable,
		Schema:         types.SettlementSchema(),
		PartitionField: "occurred_at",
		Clustering:     []string{"payment_method", "status"},
	})
	if err != nil {
		return fmt.Errorf("bigquery: %w", err)
	}
	defer proc.Close(ctx, "bigquery client", bqClient.Close)

	tracker, err := idempotency.NewTracker(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return err
	}
	rows, err := writer.New(bqClient, writer.Config{SettlementsTable: cfg.BigQuery.SettlementsTable})
	if err != nil {
		return err
	}
	handler, err := router.NewRouter(rows, logg, nil)
	if err != nil {
		return err
	}
	service, err := worker.NewService(subscription, handler, tracker, logg)
	if err != nil {
		return err
	}

	logg.Info(ctx, "analytics worker ready")
	runErr := proc.Run(ctx, service.Run)

	// ctx is already cancelled here; the buffered rows still need a deadline.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := rows.Flush(flushCtx); err != nil {
		logg.Error(ctx, "flush buffered settlement rows", err)
	}
	return runErr
}
