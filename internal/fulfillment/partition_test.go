package fulfillment

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-checkout/internal/sellers"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
)

func TestPartitionGroupsBySellerInFirstAppearanceOrder(t *testing.T) {
	email := func(s string) *string { return &s }
	weaver := models.Product{ID: uuid.New(), CreatedByEmail: email("Weaver@Example.com")}
	potter := models.Product{ID: uuid.New(), CreatedByEmail: email("potter@example.com")}
	admin := models.Product{ID: uuid.New(), CreatedByEmail: email("ops@example.com"), IsAdminProduct: true}
	orphan := models.Product{ID: uuid.New()}
	products := map[uuid.UUID]models.Product{weaver.ID: weaver, potter.ID: potter, admin.ID: admin, orphan.ID: orphan}

	retired := uuid.New()
	items := []models.OrderItem{
		{ProductID: potter.ID},
		{ProductID: admin.ID},
		{ProductID: weaver.ID},
		{ProductID: potter.ID},
		{ProductID: orphan.ID},
		{ProductID: retired, SellerKey: "weaver@example.com"},
	}

	groups := Partition(items, products)
	want := []struct {
		key   string
		count int
	}{
		{"potter@example.com", 2},
		{sellers.AdminKey, 2},
		{"weaver@example.com", 2},
	}
	if len(groups) != len(want) {
		t.Fatalf("expected %d groups, got %d", len(want), len(groups))
	}
	for i, w := range want {
		if groups[i].SellerKey != w.key || len(groups[i].Items) != w.count {
			t.Fatalf("group %d: got %s with %d items, want %s with %d", i, groups[i].SellerKey, len(groups[i].Items), w.key, w.count)
		}
	}
}

func TestPartitionEmpty(t *testing.T) {
	if groups := Partition(nil, nil); len(groups) != 0 {
		t.Fatalf("expected no groups, got %v", groups)
	}
}

func TestPickupLocationNameIsStable(t *testing.T) {
	a := PickupLocationName("weaver@example.com")
	if a != PickupLocationName("weaver@example.com") {
		t.Fatalf("name should be deterministic")
	}
	if a == PickupLocationName("potter@example.com") {
		t.Fatalf("names should differ per seller")
	}
	if !strings.HasPrefix(a, "seller-") || len(a) != len("seller-")+12 {
		t.Fatalf("unexpected name %q", a)
	}
}
