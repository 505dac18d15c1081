package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-checkout/internal/bootstrap"
	"github.com/angelmondragon/marketplace-checkout/pkg/metrics"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox/registry"
)

func main() {
	rt, err := bootstrap.Init("outbox-publisher")
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
	pubsubClient, err := rt.PubSub(ctx, false)
	if err != nil {
		rt.Fatal(ctx, "failed to bootstrap pubsub", err)
	}

	eventRegistry, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		rt.Fatal(ctx, "failed to build event registry", err)
	}
	service, err := NewService(ServiceParams{
		Config:     rt.Config,
		Logger:     rt.Logger,
		DB:         dbClient,
		PubSub:     pubsubClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Registry:   eventRegistry,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		rt.Fatal(ctx, "failed to create outbox publisher", err)
	}

	rt.ServeMetrics(ctx)
	rt.Logger.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "outbox publisher stopped unexpectedly", err)
	}

	rt.Logger.Info(ctx, "outbox publisher shutting down gracefully")
}
