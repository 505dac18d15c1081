package bootstrap

import (
	"fmt"

	"github.com/angelmondragon/marketplace-checkout/internal/carrier"
	"github.com/angelmondragon/marketplace-checkout/internal/fulfillment"
	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/internal/products"
	"github.com/angelmondragon/marketplace-checkout/internal/sellers"
	"github.com/angelmondragon/marketplace-checkout/pkg/db"
	"github.com/angelmondragon/marketplace-checkout/pkg/metrics"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox"
	"github.com/angelmondragon/marketplace-checkout/pkg/redis"
)

// Sellers resolves seller profiles first and falls back to legacy user rows.
func Sellers(client *db.Client) (sellers.Repository, error) {
	conn := client.DB()
	chain, err := sellers.NewChain(sellers.NewProfileStore(conn), sellers.NewLegacyUserStore(conn))
	if err != nil {
		return nil, fmt.Errorf("create seller repository: %w", err)
	}
	return chain, nil
}

// Fulfillment builds the splitter shared by the API's manual override path
// and the fulfillment worker.
func (r *Runtime) Fulfillment(client *db.Client, cache *redis.Client, sellerRepo sellers.Repository, fm *metrics.FulfillmentMetrics) (fulfillment.Service, error) {
	carrierClient, err := carrier.NewClient(r.Config.Carrier, cache, r.Logger, fm)
	if err != nil {
		return nil, fmt.Errorf("create carrier client: %w", err)
	}

	conn := client.DB()
	svc, err := fulfillment.NewService(
		fulfillment.NewRepository(conn),
		orders.NewRepository(conn),
		client,
		products.NewRepository(conn),
		sellerRepo,
		carrierClient,
		outbox.NewService(outbox.NewRepository(conn), r.Logger),
		r.Config.Fulfillment,
		r.Logger,
		fm,
	)
	if err != nil {
		return nil, fmt.Errorf("create fulfillment service: %w", err)
	}
	return svc, nil
}
