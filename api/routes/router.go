package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/marketplace-checkout/api/controllers"
	checkoutcontrollers "github.com/angelmondragon/marketplace-checkout/api/controllers/checkout"
	ordercontrollers "github.com/angelmondragon/marketplace-checkout/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/marketplace-checkout/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-checkout/api/middleware"
	"github.com/angelmondragon/marketplace-checkout/internal/fulfillment"
	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/pkg/config"
	"github.com/angelmondragon/marketplace-checkout/pkg/db"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/metrics"
	"github.com/angelmondragon/marketplace-checkout/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	idempotencyStore redis.ResponseStore,
	ordersSvc orders.Service,
	fulfillmentSvc fulfillment.Service,
	httpMetrics *metrics.HTTPMetrics,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.Payments(ordersSvc, cfg.Payments.WebhookSecret, logg))
	})

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.With(middleware.OptionalAuth(cfg.JWT, logg)).Post("/quote", checkoutcontrollers.Quote(ordersSvc, logg))
		r.With(
			middleware.Auth(cfg.JWT, logg),
			middleware.RequireRole(logg, enums.RoleBuyer),
			middleware.Idempotency(idempotencyStore, logg),
		).Post("/orders", checkoutcontrollers.PlaceOrder(ordersSvc, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/", ordercontrollers.List(ordersSvc, logg))
		r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, fulfillmentSvc, logg))
		r.With(
			middleware.RequireRole(logg, enums.RoleSeller, enums.RoleAdmin),
			middleware.Idempotency(idempotencyStore, logg),
		).Post("/{orderId}/fulfillment", ordercontrollers.Fulfill(fulfillmentSvc, logg))
	})

	return r
}
