package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-checkout/internal/bootstrap"
	"github.com/angelmondragon/marketplace-checkout/internal/fulfillment"
	"github.com/angelmondragon/marketplace-checkout/pkg/metrics"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox/registry"
)

const serviceName = "fulfillment-worker"

func main() {
	rt, err := bootstrap.Init(serviceName)
	if err != nil {
		os.Exit(1)
	}
	defer rt.Close()

	ctx, stop := rt.SignalContext()
	defer stop()
	ctx = rt.Logger.WithField(ctx, "subscription", rt.Config.PubSub.FulfillmentSubscription)

	dbClient, err := rt.Database(ctx)
	if err != nil {
		rt.Fatal(ctx, "failed to bootstrap database", err)
	}
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		rt.Fatal(ctx, "failed to bootstrap redis", err)
	}
	pubsubClient, err := rt.PubSub(ctx, true)
	if err != nil {
		rt.Fatal(ctx, "failed to bootstrap pubsub", err)
	}

	sellerRepo, err := bootstrap.Sellers(dbClient)
	if err != nil {
		rt.Fatal(ctx, "failed to create seller repository", err)
	}
	svc, err := rt.Fulfillment(dbClient, redisClient, sellerRepo, metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		rt.Fatal(ctx, "failed to create fulfillment service", err)
	}

	eventRegistry, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		rt.Fatal(ctx, "failed to build event registry", err)
	}
	manager, err := idempotency.NewManager(redisClient, rt.Config.Eventing.IdempotencyTTL)
	if err != nil {
		rt.Fatal(ctx, "failed to create idempotency manager", err)
	}
	consumer, err := fulfillment.NewConsumer(svc, pubsubClient.FulfillmentSubscription(), eventRegistry, manager, rt.Logger)
	if err != nil {
		rt.Fatal(ctx, "failed to create fulfillment consumer", err)
	}

	rt.ServeMetrics(ctx)
	rt.Logger.Info(ctx, "starting fulfillment worker")

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "fulfillment worker stopped unexpectedly", err)
	}

	rt.Logger.Info(ctx, "fulfillment worker shutting down gracefully")
}
