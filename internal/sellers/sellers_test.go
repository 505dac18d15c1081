package sellers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-checkout/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
)

func ptr(s string) *string { return &s }

func TestChainPrefersProfilesThenLegacyUsers(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, conn.Create(&models.SellerProfile{
		Email:        "Weaver@Example.com",
		BusinessName: "Weaver Co",
		State:        ptr("Karnataka"),
		AddressLine1: ptr("12 Loom St"),
	}).Error)
	require.NoError(t, conn.Create(&models.MarketplaceUser{
		Email: "weaver@example.com", Name: "Old Weaver", Role: "vendor", State: ptr("Goa"),
	}).Error)
	require.NoError(t, conn.Create(&models.MarketplaceUser{
		Email: "potter@example.com", Name: "Potter", Role: "vendor", State: ptr("Delhi"),
	}).Error)
	require.NoError(t, conn.Create(&models.MarketplaceUser{
		Email: "buyer@example.com", Name: "Buyer", Role: "buyer", State: ptr("Kerala"),
	}).Error)

	chain, err := NewChain(NewProfileStore(conn), NewLegacyUserStore(conn))
	require.NoError(t, err)
	ctx := context.Background()

	seller, err := chain.FindByEmail(ctx, " WEAVER@example.com ")
	require.NoError(t, err)
	require.NotNil(t, seller)
	assert.Equal(t, "Karnataka", seller.State)
	assert.Equal(t, "seller_profiles", seller.Source)
	assert.Equal(t, "12 Loom St", seller.Address)

	seller, err = chain.FindByEmail(ctx, "potter@example.com")
	require.NoError(t, err)
	require.NotNil(t, seller)
	assert.Equal(t, "Delhi", seller.State)
	assert.Equal(t, "marketplace_users", seller.Source)

	seller, err = chain.FindByEmail(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.Nil(t, seller, "non-vendor accounts are not sellers")

	seller, err = chain.FindByEmail(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, seller)
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) FindByEmail(context.Context, string) (*Seller, error) {
	return nil, errors.New("connection refused")
}

func TestChainPropagatesSourceErrors(t *testing.T) {
	chain, err := NewChain(failingSource{})
	require.NoError(t, err)
	_, err = chain.FindByEmail(context.Background(), "x@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	_, err = NewChain()
	assert.Error(t, err)
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, AdminKey, KeyFor(models.Product{}))
	assert.Equal(t, AdminKey, KeyFor(models.Product{IsAdminProduct: true, CreatedByEmail: ptr("ops@example.com")}))
	assert.Equal(t, AdminKey, KeyFor(models.Product{CreatedByEmail: ptr("  ")}))
	assert.Equal(t, "weaver@example.com", KeyFor(models.Product{CreatedByEmail: ptr(" Weaver@Example.COM ")}))
}
