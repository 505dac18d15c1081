package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-checkout/internal/bootstrap"
	"github.com/angelmondragon/marketplace-checkout/internal/maintenance"
	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/pkg/metrics"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox"
)

const (
	serviceName   = "maintenance-worker"
	lockKeyFormat = "checkout:maintenance:lock:%s"
)

func main() {
	rt, err := bootstrap.Init(serviceName)
	if err != nil {
		os.Exit(1)
	}
	defer rt.Close()

	ctx, stop := rt.SignalContext()
	defer stop()

	dbClient, err := rt.Database(ctx)
	if err != nil {
		rt.Fatal(ctx, "failed to bootstrap database", err)
	}
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		rt.Fatal(ctx, "failed to bootstrap redis", err)
	}

	cfg := rt.Config.Maintenance
	conn := dbClient.DB()
	expiry, err := maintenance.NewOrderExpiryJob(orders.NewRepository(conn), cfg.PaymentWindow, cfg.ExpiryBatchSize, rt.Logger)
	if err != nil {
		rt.Fatal(ctx, "failed to create order expiry job", err)
	}
	retention, err := maintenance.NewOutboxRetentionJob(outbox.NewRepository(conn), cfg.OutboxRetention, rt.Logger)
	if err != nil {
		rt.Fatal(ctx, "failed to create outbox retention job", err)
	}
	lock, err := maintenance.NewRedisLock(redisClient, lockKey(rt.Config.App.Env), 0)
	if err != nil {
		rt.Fatal(ctx, "failed to create maintenance lock", err)
	}
	scheduler, err := maintenance.NewScheduler(maintenance.SchedulerParams{
		Logger:   rt.Logger,
		Registry: maintenance.NewRegistry(expiry, retention),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Interval,
	})
	if err != nil {
		rt.Fatal(ctx, "failed to create maintenance scheduler", err)
	}

	rt.ServeMetrics(ctx)
	rt.Logger.Info(ctx, "starting maintenance worker")

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "maintenance worker stopped unexpectedly", err)
	}

	rt.Logger.Info(ctx, "maintenance worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
