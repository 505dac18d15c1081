package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-checkout/api/routes"
	"github.com/angelmondragon/marketplace-checkout/internal/bootstrap"
	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/internal/products"
	"github.com/angelmondragon/marketplace-checkout/internal/promo"
	"github.com/angelmondragon/marketplace-checkout/internal/tax"
	"github.com/angelmondragon/marketplace-checkout/internal/taxrules"
	"github.com/angelmondragon/marketplace-checkout/pkg/metrics"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox"
)

const shutdownTimeout = 15 * time.Second

func main() {
	rt, err := bootstrap.Init("api")
	if err != nil {
		os.Exit(1)
	}
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	sigCtx, stop := rt.SignalContext()
	defer stop()
	ctx := logg.WithField(sigCtx, "addr", addr)

	dbClient, err := rt.Database(ctx)
	if err != nil {
		rt.Fatal(ctx, "failed to bootstrap database", err)
	}
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		rt.Fatal(ctx, "failed to bootstrap redis", err)
	}

	// The API serves its own registry on the router rather than the
	// default one the workers expose.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)
	fulfillmentMetrics := metrics.NewFulfillmentMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	rules, err := taxrules.LoadFile(cfg.Tax.RulesFile)
	if err != nil {
		rt.Fatal(ctx, "failed to load tax rules", err)
	}
	calc, err := tax.NewCalculator(rules, cfg.Tax)
	if err != nil {
		rt.Fatal(ctx, "failed to create tax calculator", err)
	}

	conn := dbClient.DB()
	sellerRepo, err := bootstrap.Sellers(dbClient)
	if err != nil {
		rt.Fatal(ctx, "failed to create seller repository", err)
	}
	promoEngine, err := promo.NewEngine(promo.NewRepository(conn), logg, checkoutMetrics)
	if err != nil {
		rt.Fatal(ctx, "failed to create promo engine", err)
	}
	ordersSvc, err := orders.NewService(
		orders.NewRepository(conn),
		dbClient,
		products.NewRepository(conn),
		calc,
		sellerRepo,
		promoEngine,
		outbox.NewService(outbox.NewRepository(conn), logg),
		cfg.Checkout,
		logg,
		checkoutMetrics,
	)
	if err != nil {
		rt.Fatal(ctx, "failed to create orders service", err)
	}
	fulfillmentSvc, err := rt.Fulfillment(dbClient, redisClient, sellerRepo, fulfillmentMetrics)
	if err != nil {
		rt.Fatal(ctx, "failed to create fulfillment service", err)
	}

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			redisClient,
			ordersSvc,
			fulfillmentSvc,
			httpMetrics,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logg.Info(ctx, "starting api server")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Fatal(ctx, "api server stopped unexpectedly", err)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
