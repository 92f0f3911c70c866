// Package bootstrap is the startup plumbing every binary shares: .env and
// config loading, the service logger, signal handling and the Prometheus
// registry served next to the workers.
package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
	"github.com/angelmondragon/tableserve-backend/pkg/metrics"
)

type Process struct {
	Name    string
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *prometheus.Registry
}

// Start loads configuration for the named binary and returns a context that
// is cancelled on SIGINT or SIGTERM. It exits when config cannot be loaded.
func Start(name string) (context.Context, *Process, context.CancelFunc) {
	early := logger.New(logger.Options{ServiceName: name})
	if err := godotenv.Load(); err != nil {
		early.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		early.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = name

	proc := &Process{
		Name:   name,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: name,
			Env:         cfg.App.Env,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Format:      cfg.App.LogFormat,
		}),
		Metrics: newRegistry(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return proc.Logger.WithField(ctx, "serviceKind", name), proc, stop
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Close is meant for defer; failures are only logged.
func (p *Process) Close(ctx context.Context, resource string, closeFn func() error) {
	if err := closeFn(); err != nil {
		p.Logger.Error(ctx, "error closing "+resource, err)
	}
}

// Run serves the metrics port and every worker until ctx ends or one of them
// fails. A cancelled context is a clean stop.
func (p *Process) Run(ctx context.Context, workers ...func(context.Context) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return metrics.Serve(groupCtx, p.Config.Service.MetricsPort, p.Metrics)
	})
	for _, work := range workers {
		group.Go(func() error { return work(groupCtx) })
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Exit logs err and terminates with status 1. A nil err is a no-op.
func (p *Process) Exit(ctx context.Context, msg string, err error) {
	if err == nil {
		return
	}
	p.Logger.Error(ctx, msg, err)
	os.Exit(1)
}
