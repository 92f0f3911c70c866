package main

import (
	"context"
	"fmt"

	"github.com/angelmondragon/tableserve-backend/internal/bootstrap"
	"github.com/angelmondragon/tableserve-backend/internal/cron"
	"github.com/angelmondragon/tableserve-backend/internal/payments"
	"github.com/angelmondragon/tableserve-backend/pkg/db"
	"github.com/angelmondragon/tableserve-backend/pkg/metrics"
	"github.com/angelmondragon/tableserve-backend/pkg/migrate"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox"
	"github.com/angelmondragon/tableserve-backend/pkg/redis"
)

func main() {
	ctx, proc, stop := bootstrap.Start("cron-worker")
	defer stop()

	proc.Exit(ctx, "cron worker stopped unexpectedly", run(ctx, proc))
	proc.Logger.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, proc *bootstrap.Process) error {
	cfg, logg := proc.Config, proc.Logger

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer proc.Close(ctx, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer proc.Close(ctx, "redis", redisClient.Close)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.Interval)
	if err != nil {
		return err
	}

	stale, err := cron.NewStalePendingJob(cron.StalePendingJobParams{
		Logger:   logg,
		Payments: payments.NewRepository(dbClient.DB()),
		Metrics:  metrics.NewSettlementMetrics(proc.Metrics),
		After:    cfg.Settlement.StalePendingAfter,
	})
	if err != nil {
		return err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:    logg,
		DB:        dbClient,
		Outbox:    outbox.NewRepository(dbClient.DB()),
		DLQ:       outbox.NewDLQRepository(dbClient.DB()),
		Retention: cfg.Outbox.RetentionPeriod,
	})
	if err != nil {
		return err
	}

	jobs := cron.NewRegistry()
	jobs.Register(stale, cfg.Cron.StalePendingEvery)
	jobs.Register(retention, cfg.Cron.RetentionEvery)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(proc.Metrics),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting cron worker")
	return proc.Run(ctx, service.Run)
}

// One leader per environment.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
