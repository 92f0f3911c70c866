package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

const (
	defaultStalePendingAfter = 2 * time.Hour
	stalePendingScanLimit    = 500
	stalePendingLogged       = 20
)

type stalePaymentFinder interface {
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
}

type stalePendingGauge interface {
	SetStalePending(count int)
}

type StalePendingJobParams struct {
	Logger   *logger.Logger
	Payments stalePaymentFinder
	Metrics  stalePendingGauge
	After    time.Duration
}

// NewStalePendingJob reports payments stuck in pending. It never changes
// their status: a late provider callback must still be able to settle them.
func NewStalePendingJob(params StalePendingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	after := params.After
	if after <= 0 {
		after = defaultStalePendingAfter
	}
	return &stalePendingJob{
		logg:     params.Logger,
		payments: params.Payments,
		metrics:  params.Metrics,
		after:    after,
		now:      time.Now,
	}, nil
}

type stalePendingJob struct {
	logg     *logger.Logger
	payments stalePaymentFinder
	metrics  stalePendingGauge
	after    time.Duration
	now      func() time.Time
}

func (j *stalePendingJob) Name() string { return "stale-pending-payments" }

func (j *stalePendingJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	rows, err := j.payments.FindStalePending(ctx, cutoff, stalePendingScanLimit)
	if err != nil {
		return fmt.Errorf("find stale pending payments: %w", err)
	}
	if j.metrics != nil {
		j.metrics.SetStalePending(len(rows))
	}

	for i, payment := range rows {
		if i >= stalePendingLogged {
			break
		}
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"payment_id":      payment.ID.String(),
			"transaction_ref": payment.TransactionRef,
			"payment_method":  payment.PaymentMethod,
			"table_number":    payment.TableNumber,
			"pending_for":     j.now().UTC().Sub(payment.CreatedAt).Round(time.Minute).String(),
		}), "payment still pending")
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":      cutoff,
		"stale_count": len(rows),
	}), "stale pending sweep complete")
	return nil
}
