package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-checkout/api/middleware"
	"github.com/angelmondragon/marketplace-checkout/internal/fulfillment"
	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/pagination"
)

type stubOrderReader struct {
	order *models.Order
	err   error
}

func (s stubOrderReader) Get(context.Context, uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

type stubLister struct {
	page   *orders.OrderPage
	email  string
	params pagination.Params
}

func (s *stubLister) ListForBuyer(_ context.Context, email string, params pagination.Params) (*orders.OrderPage, error) {
	s.email = email
	s.params = params
	return s.page, nil
}

type stubShipments struct {
	result    *fulfillment.FulfillResult
	err       error
	rows      []models.Shipment
	fulfilled *fulfillment.FulfillInput
	manual    *fulfillment.ManualInput
}

func (s *stubShipments) Fulfill(_ context.Context, in fulfillment.FulfillInput) (*fulfillment.FulfillResult, error) {
	s.fulfilled = &in
	return s.result, s.err
}

func (s *stubShipments) ManualFulfill(_ context.Context, in fulfillment.ManualInput) (*fulfillment.FulfillResult, error) {
	s.manual = &in
	return s.result, s.err
}

func (s *stubShipments) ListShipments(context.Context, uuid.UUID) ([]models.Shipment, error) {
	return s.rows, nil
}

func orderRequest(method string, orderID uuid.UUID, suffix, body string, email string, role enums.Role) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/api/v1/orders/"+orderID.String()+suffix, nil)
	} else {
		req = httptest.NewRequest(method, "/api/v1/orders/"+orderID.String()+suffix, strings.NewReader(body))
	}
	rc := chi.NewRouteContext()
	rc.URLParams.Add("orderId", orderID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	if role != "" {
		ctx = middleware.WithIdentity(ctx, "user-1", email, role)
	}
	return req.WithContext(ctx)
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD-1001",
		BuyerEmail:  "buyer@example.com",
		Status:      enums.OrderStatusPaid,
		Items: []models.OrderItem{
			{ID: uuid.New(), SellerKey: "weaver@example.com", Name: "Lamp", Quantity: 1},
			{ID: uuid.New(), SellerKey: "ADMIN", Name: "Tea", Quantity: 2},
		},
	}
}

func TestDetailReturnsItemsAndShipments(t *testing.T) {
	order := sampleOrder()
	tracking := "AWB123"
	shipments := &stubShipments{rows: []models.Shipment{{ID: uuid.New(), OrderID: order.ID, SellerKey: "weaver@example.com", TrackingNumber: &tracking, Status: enums.ShipmentStatusCreated}}}

	resp := httptest.NewRecorder()
	Detail(stubOrderReader{order: order}, shipments, logger.Nop())(resp, orderRequest(http.MethodGet, order.ID, "", "", "Buyer@Example.com", enums.RoleBuyer))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data orderResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Items) != 2 || len(envelope.Data.Shipments) != 1 {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
	if envelope.Data.Shipments[0].TrackingNumber == nil || *envelope.Data.Shipments[0].TrackingNumber != "AWB123" {
		t.Fatalf("expected tracking number in shipment")
	}
}

func TestDetailHidesOtherBuyersOrders(t *testing.T) {
	order := sampleOrder()
	resp := httptest.NewRecorder()
	Detail(stubOrderReader{order: order}, &stubShipments{}, logger.Nop())(resp, orderRequest(http.MethodGet, order.ID, "", "", "other@example.com", enums.RoleBuyer))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestDetailAllowsSellerWithItems(t *testing.T) {
	order := sampleOrder()
	resp := httptest.NewRecorder()
	Detail(stubOrderReader{order: order}, &stubShipments{}, logger.Nop())(resp, orderRequest(http.MethodGet, order.ID, "", "", "weaver@example.com", enums.RoleSeller))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestFulfillSellerCarrierPathIsScopedToSelf(t *testing.T) {
	orderID := uuid.New()
	shipments := &stubShipments{result: &fulfillment.FulfillResult{OrderID: orderID, OrderStatus: enums.OrderStatusShipped}}

	resp := httptest.NewRecorder()
	Fulfill(shipments, logger.Nop())(resp, orderRequest(http.MethodPost, orderID, "/fulfillment", "", "Weaver@Example.com", enums.RoleSeller))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if shipments.fulfilled == nil || shipments.fulfilled.SellerKey != "weaver@example.com" {
		t.Fatalf("expected carrier path scoped to seller, got %+v", shipments.fulfilled)
	}
	if shipments.manual != nil {
		t.Fatalf("manual path should not run")
	}
}

func TestFulfillSellerCannotNameAnotherSeller(t *testing.T) {
	shipments := &stubShipments{}
	resp := httptest.NewRecorder()
	Fulfill(shipments, logger.Nop())(resp, orderRequest(http.MethodPost, uuid.New(), "/fulfillment", `{"seller_email":"potter@example.com"}`, "weaver@example.com", enums.RoleSeller))

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
	if shipments.fulfilled != nil || shipments.manual != nil {
		t.Fatalf("service should not be called")
	}
}

func TestFulfillManualPath(t *testing.T) {
	orderID := uuid.New()
	shipments := &stubShipments{result: &fulfillment.FulfillResult{
		OrderID:     orderID,
		OrderStatus: enums.OrderStatusShipped,
		Created:     []models.Shipment{{ID: uuid.New(), SellerKey: "weaver@example.com", Manual: true, Status: enums.ShipmentStatusManual}},
	}}

	body := `{"tracking_number":" AWB-9 ","courier":"BlueDart"}`
	resp := httptest.NewRecorder()
	Fulfill(shipments, logger.Nop())(resp, orderRequest(http.MethodPost, orderID, "/fulfillment", body, "weaver@example.com", enums.RoleSeller))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if shipments.manual == nil {
		t.Fatalf("expected manual path")
	}
	if shipments.manual.TrackingNumber != "AWB-9" || shipments.manual.Courier != "BlueDart" || shipments.manual.SellerEmail != "weaver@example.com" {
		t.Fatalf("unexpected manual input %+v", shipments.manual)
	}

	var envelope struct {
		Data fulfillmentResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Created) != 1 || !envelope.Data.Created[0].Manual {
		t.Fatalf("expected one manual shipment, got %+v", envelope.Data)
	}
}

func TestFulfillAdminMayTargetSellerOrPlatform(t *testing.T) {
	orderID := uuid.New()
	shipments := &stubShipments{result: &fulfillment.FulfillResult{OrderID: orderID}}

	resp := httptest.NewRecorder()
	Fulfill(shipments, logger.Nop())(resp, orderRequest(http.MethodPost, orderID, "/fulfillment", `{"seller_email":"Potter@Example.com"}`, "ops@example.com", enums.RoleAdmin))
	if resp.Code != http.StatusOK || shipments.fulfilled.SellerKey != "potter@example.com" {
		t.Fatalf("expected admin to target potter, got %d %+v", resp.Code, shipments.fulfilled)
	}

	resp = httptest.NewRecorder()
	Fulfill(shipments, logger.Nop())(resp, orderRequest(http.MethodPost, orderID, "/fulfillment", `{"seller_email":"admin","tracking_number":"T1","courier":"Delhivery"}`, "ops@example.com", enums.RoleAdmin))
	if resp.Code != http.StatusOK || shipments.manual == nil || shipments.manual.SellerEmail != "ADMIN" {
		t.Fatalf("expected platform manual shipment, got %d %+v", resp.Code, shipments.manual)
	}
}

func TestFulfillPropagatesForbidden(t *testing.T) {
	shipments := &stubShipments{err: pkgerrors.New(pkgerrors.CodeForbidden, "no items in this order belong to the requesting seller")}
	resp := httptest.NewRecorder()
	Fulfill(shipments, logger.Nop())(resp, orderRequest(http.MethodPost, uuid.New(), "/fulfillment", `{"tracking_number":"T1","courier":"Delhivery"}`, "stranger@example.com", enums.RoleSeller))

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestFulfillRejectsBuyers(t *testing.T) {
	resp := httptest.NewRecorder()
	Fulfill(&stubShipments{}, logger.Nop())(resp, orderRequest(http.MethodPost, uuid.New(), "/fulfillment", "", "buyer@example.com", enums.RoleBuyer))

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestListPassesCallerAndCursor(t *testing.T) {
	lister := &stubLister{page: &orders.OrderPage{
		Orders:     []models.Order{*sampleOrder()},
		NextCursor: "next-page",
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=10&cursor=abc", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), "user-1", "buyer@example.com", enums.RoleBuyer))
	resp := httptest.NewRecorder()
	List(lister, logger.Nop()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if lister.email != "buyer@example.com" || lister.params.Limit != 10 || lister.params.Cursor != "abc" {
		t.Fatalf("unexpected call email=%q params=%+v", lister.email, lister.params)
	}
	var envelope struct {
		Data struct {
			Orders []struct {
				OrderNumber string `json:"order_number"`
				ItemCount   int    `json:"item_count"`
			} `json:"orders"`
			NextCursor string `json:"next_cursor"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Orders) != 1 || envelope.Data.Orders[0].OrderNumber != "ORD-1001" {
		t.Fatalf("unexpected orders %+v", envelope.Data.Orders)
	}
	if envelope.Data.NextCursor != "next-page" {
		t.Fatalf("expected next cursor, got %q", envelope.Data.NextCursor)
	}
}

func TestListRejectsBadLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=1000", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), "user-1", "buyer@example.com", enums.RoleBuyer))
	resp := httptest.NewRecorder()
	List(&stubLister{}, logger.Nop()).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
