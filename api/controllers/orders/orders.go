package orders

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-checkout/api/middleware"
	"github.com/angelmondragon/marketplace-checkout/api/responses"
	"github.com/angelmondragon/marketplace-checkout/api/validators"
	"github.com/angelmondragon/marketplace-checkout/internal/fulfillment"
	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/internal/sellers"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/pagination"
	"github.com/angelmondragon/marketplace-checkout/pkg/types"
)

type orderReader interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type orderLister interface {
	ListForBuyer(ctx context.Context, buyerEmail string, params pagination.Params) (*orders.OrderPage, error)
}

type shipmentService interface {
	Fulfill(ctx context.Context, in fulfillment.FulfillInput) (*fulfillment.FulfillResult, error)
	ManualFulfill(ctx context.Context, in fulfillment.ManualInput) (*fulfillment.FulfillResult, error)
	ListShipments(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error)
}

// Detail returns an order with its items and shipments. Buyers only see their
// own orders; sellers and admins may read any order they can fulfill.
func Detail(svc orderReader, shipments shipmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || shipments == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !canView(r.Context(), order) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		rows, err := shipments.ListShipments(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order, rows))
	}
}

// List returns the caller's own orders, newest first.
func List(svc orderLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		email := middleware.EmailFromContext(r.Context())
		if strings.TrimSpace(email) == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer email missing from token"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListForBuyer(r.Context(), email, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderListResponse(page))
	}
}

type fulfillmentRequest struct {
	TrackingNumber string `json:"tracking_number,omitempty"`
	Courier        string `json:"courier,omitempty"`
	SellerEmail    string `json:"seller_email,omitempty"`
}

// Fulfill ships an order. A tracking number or courier selects the manual
// path; otherwise the carrier is called for each seller partition.
func Fulfill(shipments shipmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if shipments == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload fulfillmentRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		sellerKey, err := requestingSeller(r.Context(), payload.SellerEmail)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tracking := validators.SanitizeString(payload.TrackingNumber, 128)
		courier := validators.SanitizeString(payload.Courier, 128)

		var result *fulfillment.FulfillResult
		if tracking != "" || courier != "" {
			result, err = shipments.ManualFulfill(r.Context(), fulfillment.ManualInput{
				OrderID:        orderID,
				SellerEmail:    sellerKey,
				TrackingNumber: tracking,
				Courier:        courier,
			})
		} else {
			result, err = shipments.Fulfill(r.Context(), fulfillment.FulfillInput{
				OrderID:   orderID,
				SellerKey: sellerKey,
			})
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newFulfillmentResponse(result))
	}
}

// requestingSeller resolves whose partitions the caller may ship. Sellers are
// pinned to their own email; admins may name any seller or none.
func requestingSeller(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	switch middleware.RoleFromContext(ctx) {
	case enums.RoleAdmin:
		if strings.EqualFold(requested, sellers.AdminKey) {
			return sellers.AdminKey, nil
		}
		return sellers.NormalizeEmail(requested), nil
	case enums.RoleSeller:
		self := sellers.NormalizeEmail(middleware.EmailFromContext(ctx))
		if self == "" {
			return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "seller email missing from token")
		}
		if requested != "" && sellers.NormalizeEmail(requested) != self {
			return "", pkgerrors.New(pkgerrors.CodeForbidden, "sellers may only fulfill their own items")
		}
		return self, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "seller or admin role required")
	}
}

func canView(ctx context.Context, order *models.Order) bool {
	email := sellers.NormalizeEmail(middleware.EmailFromContext(ctx))
	switch middleware.RoleFromContext(ctx) {
	case enums.RoleAdmin:
		return true
	case enums.RoleSeller:
		for _, item := range order.Items {
			if item.SellerKey == email {
				return true
			}
		}
		return false
	default:
		return email != "" && sellers.NormalizeEmail(order.BuyerEmail) == email
	}
}

type orderItemResponse struct {
	ID                   uuid.UUID       `json:"id"`
	ProductID            uuid.UUID       `json:"product_id"`
	SellerKey            string          `json:"seller_key"`
	Name                 string          `json:"name"`
	Quantity             int             `json:"quantity"`
	ListPrice            decimal.Decimal `json:"list_price"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	OfferDiscountPercent decimal.Decimal `json:"offer_discount_percent"`
	LineTotal            decimal.Decimal `json:"line_total"`
	GSTPercent           decimal.Decimal `json:"gst_percent"`
	GSTAmount            decimal.Decimal `json:"gst_amount"`
	CGST                 decimal.Decimal `json:"cgst"`
	SGST                 decimal.Decimal `json:"sgst"`
	IGST                 decimal.Decimal `json:"igst"`
	Size                 *string         `json:"size,omitempty"`
	Color                *string         `json:"color,omitempty"`
}

type shipmentResponse struct {
	ID                 uuid.UUID            `json:"id"`
	SellerKey          string               `json:"seller_key"`
	ItemIDs            []string             `json:"item_ids"`
	Status             enums.ShipmentStatus `json:"status"`
	Manual             bool                 `json:"manual"`
	PickupLocation     *string              `json:"pickup_location,omitempty"`
	CarrierOrderID     *string              `json:"carrier_order_id,omitempty"`
	CarrierShipmentID  *string              `json:"carrier_shipment_id,omitempty"`
	TrackingNumber     *string              `json:"tracking_number,omitempty"`
	CourierName        *string              `json:"courier_name,omitempty"`
	InvoiceURL         *string              `json:"invoice_url,omitempty"`
	ChargeableWeightKg float64              `json:"chargeable_weight_kg"`
	CreatedAt          time.Time            `json:"created_at"`
}

type orderResponse struct {
	ID                  uuid.UUID           `json:"id"`
	OrderNumber         string              `json:"order_number"`
	Status              enums.OrderStatus   `json:"status"`
	BuyerEmail          string              `json:"buyer_email"`
	ShippingAddress     types.Address       `json:"shipping_address"`
	Country             string              `json:"country"`
	Subtotal            decimal.Decimal     `json:"subtotal"`
	TaxTotal            decimal.Decimal     `json:"tax"`
	DeliveryFee         decimal.Decimal     `json:"delivery_fee"`
	TotalBeforeDiscount decimal.Decimal     `json:"total_before_discount"`
	PromoDiscount       decimal.Decimal     `json:"promo_discount"`
	Amount              decimal.Decimal     `json:"amount"`
	PromoCode           *string             `json:"promo_code,omitempty"`
	PaymentReference    *string             `json:"payment_reference,omitempty"`
	FailureReason       *string             `json:"failure_reason,omitempty"`
	Items               []orderItemResponse `json:"items"`
	Shipments           []shipmentResponse  `json:"shipments"`
	CreatedAt           time.Time           `json:"created_at"`
}

type orderSummaryResponse struct {
	ID          uuid.UUID         `json:"id"`
	OrderNumber string            `json:"order_number"`
	Status      enums.OrderStatus `json:"status"`
	Amount      decimal.Decimal   `json:"amount"`
	ItemCount   int               `json:"item_count"`
	CreatedAt   time.Time         `json:"created_at"`
}

type orderListResponse struct {
	Orders     []orderSummaryResponse `json:"orders"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type fulfillmentResponse struct {
	OrderID     uuid.UUID                      `json:"order_id"`
	OrderStatus enums.OrderStatus              `json:"order_status"`
	Created     []shipmentResponse             `json:"created"`
	Existing    []shipmentResponse             `json:"existing"`
	Failed      []fulfillment.PartitionFailure `json:"failed"`
}

func newOrderResponse(order *models.Order, shipments []models.Shipment) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:                   item.ID,
			ProductID:            item.ProductID,
			SellerKey:            item.SellerKey,
			Name:                 item.Name,
			Quantity:             item.Quantity,
			ListPrice:            item.ListPrice,
			UnitPrice:            item.UnitPrice,
			OfferDiscountPercent: item.OfferDiscountPercent,
			LineTotal:            item.LineTotal,
			GSTPercent:           item.GSTPercent,
			GSTAmount:            item.GSTAmount,
			CGST:                 item.CGST,
			SGST:                 item.SGST,
			IGST:                 item.IGST,
			Size:                 item.Size,
			Color:                item.Color,
		})
	}
	return orderResponse{
		ID:                  order.ID,
		OrderNumber:         order.OrderNumber,
		Status:              order.Status,
		BuyerEmail:          order.BuyerEmail,
		ShippingAddress:     order.ShippingAddress,
		Country:             order.Country,
		Subtotal:            order.Subtotal,
		TaxTotal:            order.TaxTotal,
		DeliveryFee:         order.DeliveryFee,
		TotalBeforeDiscount: order.TotalBeforeDiscount,
		PromoDiscount:       order.PromoDiscount,
		Amount:              order.Amount,
		PromoCode:           order.PromoCode,
		PaymentReference:    order.PaymentReference,
		FailureReason:       order.FailureReason,
		Items:               items,
		Shipments:           shipmentResponses(shipments),
		CreatedAt:           order.CreatedAt,
	}
}

func newOrderListResponse(page *orders.OrderPage) orderListResponse {
	out := orderListResponse{Orders: make([]orderSummaryResponse, 0, len(page.Orders)), NextCursor: page.NextCursor}
	for _, order := range page.Orders {
		out.Orders = append(out.Orders, orderSummaryResponse{
			ID:          order.ID,
			OrderNumber: order.OrderNumber,
			Status:      order.Status,
			Amount:      order.Amount,
			ItemCount:   order.ItemCount,
			CreatedAt:   order.CreatedAt,
		})
	}
	return out
}

func newFulfillmentResponse(result *fulfillment.FulfillResult) fulfillmentResponse {
	failed := result.Failed
	if failed == nil {
		failed = []fulfillment.PartitionFailure{}
	}
	return fulfillmentResponse{
		OrderID:     result.OrderID,
		OrderStatus: result.OrderStatus,
		Created:     shipmentResponses(result.Created),
		Existing:    shipmentResponses(result.Existing),
		Failed:      failed,
	}
}

func shipmentResponses(rows []models.Shipment) []shipmentResponse {
	out := make([]shipmentResponse, 0, len(rows))
	for _, sh := range rows {
		out = append(out, shipmentResponse{
			ID:                 sh.ID,
			SellerKey:          sh.SellerKey,
			ItemIDs:            sh.ItemIDs,
			Status:             sh.Status,
			Manual:             sh.Manual,
			PickupLocation:     sh.PickupLocation,
			CarrierOrderID:     sh.CarrierOrderID,
			CarrierShipmentID:  sh.CarrierShipmentID,
			TrackingNumber:     sh.TrackingNumber,
			CourierName:        sh.CourierName,
			InvoiceURL:         sh.InvoiceURL,
			ChargeableWeightKg: sh.ChargeableWeightKg,
			CreatedAt:          sh.CreatedAt,
		})
	}
	return out
}
