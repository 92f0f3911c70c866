package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/tableserve-backend/api/routes"
	"github.com/angelmondragon/tableserve-backend/internal/bootstrap"
	"github.com/angelmondragon/tableserve-backend/internal/coupons"
	"github.com/angelmondragon/tableserve-backend/internal/orders"
	"github.com/angelmondragon/tableserve-backend/internal/payments"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers/cash"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers/squarepay"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers/stripecheckout"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers/vnpay"
	"github.com/angelmondragon/tableserve-backend/internal/realtime"
	"github.com/angelmondragon/tableserve-backend/internal/settlement"
	"github.com/angelmondragon/tableserve-backend/internal/webhooks"
	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/db"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
	"github.com/angelmondragon/tableserve-backend/pkg/metrics"
	"github.com/angelmondragon/tableserve-backend/pkg/migrate"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox"
	"github.com/angelmondragon/tableserve-backend/pkg/redis"
	"github.com/angelmondragon/tableserve-backend/pkg/square"
	"github.com/angelmondragon/tableserve-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, proc, stop := bootstrap.Start("api")
	defer stop()

	proc.Exit(ctx, "api server stopped unexpectedly", run(ctx, proc))
	proc.Logger.Info(ctx, "api server stopped")
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

	settlementMetrics := metrics.NewSettlementMetrics(proc.Metrics)

	providerRegistry, err := buildProviders(ctx, cfg, logg)
	if err != nil {
		return fmt.Errorf("payment providers: %w", err)
	}
	ledger, err := coupons.NewLedger(coupons.NewRepository(dbClient.DB()), coupons.WithMetrics(settlementMetrics))
	if err != nil {
		return err
	}
	notifier, err := realtime.NewRedisNotifier(redisClient, logg)
	if err != nil {
		return err
	}
	guard, err := webhooks.NewGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		return err
	}
	currency, err := enums.ParseCurrency(cfg.Settlement.DefaultCurrency)
	if err != nil {
		return fmt.Errorf("default currency: %w", err)
	}

	settlementService, err := settlement.NewService(
		dbClient,
		orders.NewRepository(dbClient.DB()),
		payments.NewRepository(dbClient.DB()),
		ledger,
		providerRegistry,
		outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		notifier,
		logg,
		settlement.WithMetrics(settlementMetrics),
		settlement.WithEventGuard(guard),
		settlement.WithStaffRoom(cfg.Settlement.StaffRoom),
		settlement.WithDefaultCurrency(currency),
	)
	if err != nil {
		return err
	}

	// PORT and DYNO are set by the platform when deployed.
	port := cmp.Or(os.Getenv("PORT"), cfg.App.Port)
	methods := make([]string, 0, 4)
	for _, m := range providerRegistry.Methods() {
		methods = append(methods, string(m))
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"addr":     ":" + port,
		"instance": cmp.Or(os.Getenv("DYNO"), "local"),
		"methods":  strings.Join(methods, ","),
	})

	server := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			settlementService,
			notifier,
			promhttp.HandlerFor(proc.Metrics, promhttp.HandlerOpts{}),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logg.Info(ctx, "starting api server")
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// buildProviders registers cash plus every gateway whose credentials are
// configured.
func buildProviders(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*providers.Registry, error) {
	adapters := []providers.Adapter{cash.New()}
	returnBase := strings.TrimRight(cfg.Settlement.ReturnBaseURL, "/")

	if cfg.VNPay.Enabled() {
		adapter, err := vnpay.New(cfg.VNPay, returnBase+"/"+vnpay.Slug+"/return")
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Stripe.Enabled() {
		client, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, err
		}
		adapter, err := stripecheckout.New(
			client.API().CheckoutSessions,
			client.SigningSecret(),
			cfg.Settlement.ReturnSecret,
			returnBase+"/"+stripecheckout.Slug+"/return",
		)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Square.Enabled() {
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, err
		}
		adapter, err := squarepay.New(client)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}

	return providers.NewRegistry(adapters...)
}
