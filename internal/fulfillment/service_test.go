package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/internal/carrier"
	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/internal/products"
	"github.com/angelmondragon/marketplace-checkout/internal/sellers"
	"github.com/angelmondragon/marketplace-checkout/pkg/config"
	"github.com/angelmondragon/marketplace-checkout/pkg/db"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox"
	"github.com/angelmondragon/marketplace-checkout/pkg/types"
)

type stubDirectory map[string]*sellers.Seller

func (d stubDirectory) FindByEmail(_ context.Context, email string) (*sellers.Seller, error) {
	return d[email], nil
}

type stubCarrier struct {
	mu         sync.Mutex
	failCreate map[string]bool
	pickups    []string
	creates    int
	nextID     int64
	invoiceErr error
}

func (c *stubCarrier) EnsurePickupLocation(_ context.Context, loc carrier.PickupLocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pickups = append(c.pickups, loc.Name)
	return nil
}

func (c *stubCarrier) CreateOrder(_ context.Context, req carrier.OrderRequest) (*carrier.CreatedOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	if c.failCreate[req.PickupLocation] {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "carrier create_order failed: upstream unavailable").
			WithDetails(map[string]any{"step": carrier.StepCreateOrder, "status": 502})
	}
	c.nextID++
	return &carrier.CreatedOrder{OrderID: 1000 + c.nextID, ShipmentID: 5000 + c.nextID, Status: "NEW"}, nil
}

func (c *stubCarrier) AssignAWB(_ context.Context, shipmentID int64) (*carrier.Assignment, error) {
	return &carrier.Assignment{AWBCode: fmt.Sprintf("AWB%d", shipmentID), CourierName: "Blue Dart"}, nil
}

func (c *stubCarrier) GenerateInvoice(_ context.Context, carrierOrderID int64) (string, error) {
	if c.invoiceErr != nil {
		return "", c.invoiceErr
	}
	return fmt.Sprintf("https://cdn.example.com/invoice/%d.pdf", carrierOrderID), nil
}

type fixture struct {
	conn    *gorm.DB
	orders  orders.Repository
	carrier *stubCarrier
	svc     Service
	order   models.Order
}

func f64(v float64) *float64 { return &v }

func newFixture(t *testing.T, status enums.OrderStatus, directory stubDirectory) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	ctx := context.Background()

	lamp := models.Product{
		Name: "Brass Lamp", Price: decimal.NewFromInt(1000), Stock: 4,
		Weight: f64(2), WeightUnit: strPtr("kg"),
		Height: f64(30), Width: f64(20), Length: f64(10), DimensionUnit: strPtr("cm"),
		CreatedByEmail: strPtr("Weaver@Example.com"),
	}
	rug := models.Product{
		Name: "Jute Rug", Price: decimal.NewFromInt(500), Stock: 1,
		Weight: f64(1.5), WeightUnit: strPtr("kg"),
		CreatedByEmail: strPtr("potter@example.com"),
	}
	tea := models.Product{
		Name: "Masala Tea", Price: decimal.NewFromInt(200), Stock: 10,
		Weight: f64(100), WeightUnit: strPtr("g"),
		IsAdminProduct: true,
	}
	for _, p := range []*models.Product{&lamp, &rug, &tea} {
		if err := conn.Create(p).Error; err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}

	order := models.Order{
		OrderNumber: "ORD-20260309-3F2C9A1B",
		BuyerEmail:  "asha@example.com",
		ShippingAddress: types.Address{
			Name: "Asha", Phone: "9000000000", Line1: "1 MG Road", City: "Bengaluru",
			State: "Karnataka", PostalCode: "560001", Country: "India",
		},
		Country:             "India",
		Subtotal:            decimal.NewFromInt(1900),
		TaxTotal:            decimal.Zero,
		DeliveryFee:         decimal.Zero,
		TotalBeforeDiscount: decimal.NewFromInt(1900),
		PromoDiscount:       decimal.Zero,
		Amount:              decimal.NewFromInt(1900),
		ItemCount:           3,
		Status:              status,
		Items: []models.OrderItem{
			orderItem(lamp, "weaver@example.com", 1),
			orderItem(rug, "potter@example.com", 1),
			orderItem(tea, sellers.AdminKey, 2),
		},
	}
	orderRepo := orders.NewRepository(conn)
	if err := orderRepo.Create(ctx, &order); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	if directory == nil {
		directory = stubDirectory{
			"weaver@example.com": {Email: "weaver@example.com", Name: "Weaver Co", City: "Mysuru", State: "Karnataka", Pincode: "570001"},
			"potter@example.com": {Email: "potter@example.com", Name: "Potter House", City: "Delhi", State: "Delhi", Pincode: "110001"},
		}
	}
	shipper := &stubCarrier{failCreate: map[string]bool{}}
	svc, err := NewService(
		NewRepository(conn),
		orderRepo,
		db.NewFromConn(conn),
		products.NewRepository(conn),
		directory,
		shipper,
		outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		config.FulfillmentConfig{
			PlatformPickupLocation: "Primary",
			Concurrency:            4,
			MinWeightKg:            0.5,
			MinLengthCm:            10,
			MinBreadthCm:           10,
			MinHeightCm:            10,
		},
		logger.Nop(),
		nil,
	)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return &fixture{conn: conn, orders: orderRepo, carrier: shipper, svc: svc, order: order}
}

func orderItem(p models.Product, sellerKey string, qty int) models.OrderItem {
	total := p.Price.Mul(decimal.NewFromInt(int64(qty)))
	return models.OrderItem{
		ProductID:  p.ID,
		SellerKey:  sellerKey,
		Name:       p.Name,
		Quantity:   qty,
		ListPrice:  p.Price,
		UnitPrice:  p.Price,
		LineTotal:  total,
		GSTPercent: decimal.Zero,
		GSTAmount:  decimal.Zero,
		CGST:       decimal.Zero,
		SGST:       decimal.Zero,
		IGST:       decimal.Zero,
	}
}

func (f *fixture) status(t *testing.T) enums.OrderStatus {
	t.Helper()
	order, err := f.orders.FindByID(context.Background(), f.order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return order.Status
}

func (f *fixture) shipmentEvents(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventShipmentCreated).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func sellerKeys(rows []models.Shipment) []string {
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.SellerKey)
	}
	return keys
}

func TestFulfillIsolatesFailingSeller(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPaid, nil)
	f.carrier.failCreate[PickupLocationName("potter@example.com")] = true

	res, err := f.svc.Fulfill(context.Background(), FulfillInput{OrderID: f.order.ID})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got := sellerKeys(res.Created); len(got) != 2 || got[0] != "weaver@example.com" || got[1] != sellers.AdminKey {
		t.Fatalf("unexpected created partitions %v", got)
	}
	if len(res.Failed) != 1 || res.Failed[0].SellerKey != "potter@example.com" || res.Failed[0].Step != carrier.StepCreateOrder {
		t.Fatalf("unexpected failures %+v", res.Failed)
	}
	if res.Failed[0].Status != 502 || res.Failed[0].Permanent() {
		t.Fatalf("carrier 502 should be retryable, got %+v", res.Failed[0])
	}
	if res.OrderStatus != enums.OrderStatusShipped || f.status(t) != enums.OrderStatusShipped {
		t.Fatalf("expected order shipped, got %s", res.OrderStatus)
	}
	if n := f.shipmentEvents(t); n != 2 {
		t.Fatalf("expected 2 shipment events, got %d", n)
	}

	delete(f.carrier.failCreate, PickupLocationName("potter@example.com"))
	retry, err := f.svc.Fulfill(context.Background(), FulfillInput{OrderID: f.order.ID})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(retry.Existing) != 2 || len(retry.Created) != 1 || retry.Created[0].SellerKey != "potter@example.com" {
		t.Fatalf("retry should only ship potter: existing=%v created=%v", sellerKeys(retry.Existing), sellerKeys(retry.Created))
	}
	if f.carrier.creates != 4 {
		t.Fatalf("expected 4 carrier orders, got %d", f.carrier.creates)
	}
	if len(f.carrier.pickups) != 2 {
		t.Fatalf("pickup locations should be provisioned once per seller, got %v", f.carrier.pickups)
	}
}

func TestFulfillFailuresLeaveOrderPaid(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPaid, nil)
	for _, key := range []string{"weaver@example.com", "potter@example.com"} {
		f.carrier.failCreate[PickupLocationName(key)] = true
	}
	f.carrier.failCreate["Primary"] = true

	res, err := f.svc.Fulfill(context.Background(), FulfillInput{OrderID: f.order.ID})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if len(res.Created) != 0 || len(res.Failed) != 3 {
		t.Fatalf("expected every partition to fail, got %+v", res)
	}
	if f.status(t) != enums.OrderStatusPaid {
		t.Fatalf("order status should be unchanged")
	}
	if n := f.shipmentEvents(t); n != 0 {
		t.Fatalf("expected no shipment events, got %d", n)
	}
}

func TestFulfillRequiresPaidOrder(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPending, nil)
	_, err := f.svc.Fulfill(context.Background(), FulfillInput{OrderID: f.order.ID})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	_, err = f.svc.Fulfill(context.Background(), FulfillInput{OrderID: uuid.New()})
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFulfillSellerRestriction(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPaid, nil)

	res, err := f.svc.Fulfill(context.Background(), FulfillInput{OrderID: f.order.ID, SellerKey: " Weaver@Example.com "})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got := sellerKeys(res.Created); len(got) != 1 || got[0] != "weaver@example.com" {
		t.Fatalf("expected only weaver, got %v", got)
	}

	res, err = f.svc.Fulfill(context.Background(), FulfillInput{OrderID: f.order.ID, SellerKey: "stranger@example.com"})
	if err != nil {
		t.Fatalf("unknown seller: %v", err)
	}
	if len(res.Created)+len(res.Existing)+len(res.Failed) != 0 {
		t.Fatalf("unknown seller should yield an empty result, got %+v", res)
	}
}

func TestFulfillMissingSellerProfile(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPaid, stubDirectory{
		"weaver@example.com": {Email: "weaver@example.com", State: "Karnataka"},
	})
	res, err := f.svc.Fulfill(context.Background(), FulfillInput{OrderID: f.order.ID})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].Step != stepSellerLookup {
		t.Fatalf("expected seller lookup failure, got %+v", res.Failed)
	}
	if res.Failed[0].Code != pkgerrors.CodeNotFound || !res.Failed[0].Permanent() {
		t.Fatalf("missing seller should be permanent, got %+v", res.Failed[0])
	}
}

func TestFulfillParcelDimensionsAndInvoice(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPaid, nil)
	f.carrier.invoiceErr = errors.New("invoice service down")

	res, err := f.svc.Fulfill(context.Background(), FulfillInput{OrderID: f.order.ID})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if len(res.Created) != 3 {
		t.Fatalf("invoice failures must not fail partitions, got %+v", res.Failed)
	}
	byKey := map[string]models.Shipment{}
	for _, sh := range res.Created {
		byKey[sh.SellerKey] = sh
		if sh.InvoiceURL != nil {
			t.Fatalf("invoice url should stay empty, got %s", *sh.InvoiceURL)
		}
	}

	lamp := byKey["weaver@example.com"]
	if lamp.ChargeableWeightKg != 2 || lamp.HeightCm != 30 || lamp.BreadthCm != 20 || lamp.LengthCm != 10 {
		t.Fatalf("unexpected lamp parcel %+v", lamp)
	}
	tea := byKey[sellers.AdminKey]
	if tea.ChargeableWeightKg != 0.5 || tea.LengthCm != 10 || tea.BreadthCm != 10 || tea.HeightCm != 10 {
		t.Fatalf("admin parcel should be raised to the minimums, got %+v", tea)
	}
	if tea.PickupLocation == nil || *tea.PickupLocation != "Primary" {
		t.Fatalf("admin stock ships from the platform location")
	}
	if tea.TrackingNumber == nil || *tea.TrackingNumber == "" {
		t.Fatalf("expected an awb on the admin shipment")
	}
}

func TestManualFulfill(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPaid, nil)
	ctx := context.Background()

	_, err := f.svc.ManualFulfill(ctx, ManualInput{
		OrderID: f.order.ID, SellerEmail: "stranger@example.com", TrackingNumber: "DL123", Courier: "Delhivery",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden for a seller without items, got %v", err)
	}

	_, err = f.svc.ManualFulfill(ctx, ManualInput{OrderID: f.order.ID, SellerEmail: "weaver@example.com"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	res, err := f.svc.ManualFulfill(ctx, ManualInput{
		OrderID: f.order.ID, SellerEmail: "Weaver@example.com", TrackingNumber: "DL123", Courier: "Delhivery",
	})
	if err != nil {
		t.Fatalf("manual fulfill: %v", err)
	}
	if res.OrderStatus != enums.OrderStatusShipped || len(res.Created) != 1 || !res.Created[0].Manual {
		t.Fatalf("unexpected manual result %+v", res)
	}
	if f.carrier.creates != 0 {
		t.Fatalf("manual fulfillment must not call the carrier")
	}

	res, err = f.svc.ManualFulfill(ctx, ManualInput{
		OrderID: f.order.ID, SellerEmail: "weaver@example.com", TrackingNumber: "DL456", Courier: "Delhivery",
	})
	if err != nil {
		t.Fatalf("manual update: %v", err)
	}
	if got := *res.Created[0].TrackingNumber; got != "DL456" {
		t.Fatalf("expected tracking to be replaced, got %s", got)
	}
	rows, err := f.svc.ListShipments(ctx, f.order.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single shipment row, got %d", len(rows))
	}
}
