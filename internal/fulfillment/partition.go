package fulfillment

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-checkout/internal/sellers"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
)

// Group is the slice of an order shipped by one seller.
type Group struct {
	SellerKey string
	Items     []models.OrderItem
}

// ItemIDs lists the order item ids in the group.
func (g Group) ItemIDs() []string {
	ids := make([]string, 0, len(g.Items))
	for _, item := range g.Items {
		ids = append(ids, item.ID.String())
	}
	return ids
}

// Partition groups items by the seller that owns each product. Groups follow
// the order in which their seller first appears. Items whose product is no
// longer in the catalog keep the seller recorded at checkout.
func Partition(items []models.OrderItem, products map[uuid.UUID]models.Product) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, item := range items {
		key := item.SellerKey
		if p, ok := products[item.ProductID]; ok {
			key = sellers.KeyFor(p)
		}
		if key == "" {
			key = sellers.AdminKey
		}
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, Group{SellerKey: key})
		}
		groups[pos].Items = append(groups[pos].Items, item)
	}
	return groups
}

// PickupLocationName is the carrier location name provisioned for a seller.
func PickupLocationName(sellerKey string) string {
	sum := sha256.Sum256([]byte(sellerKey))
	return "seller-" + hex.EncodeToString(sum[:])[:12]
}
