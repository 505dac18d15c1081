package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderPlacedEvent is emitted when a checkout commits a pending order.
type OrderPlacedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerEmail  string          `json:"buyer_email"`
	Amount      decimal.Decimal `json:"amount"`
	ItemCount   int             `json:"item_count"`
	PromoCode   *string         `json:"promo_code,omitempty"`
}

// OrderPaidEvent triggers fulfillment for a confirmed order.
type OrderPaidEvent struct {
	OrderID          uuid.UUID       `json:"order_id"`
	OrderNumber      string          `json:"order_number"`
	BuyerEmail       string          `json:"buyer_email"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference"`
	SellerKeys       []string        `json:"seller_keys"`
	PaidAt           time.Time       `json:"paid_at"`
}

// OrderPaymentFailedEvent records a rolled back confirmation.
type OrderPaymentFailedEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	OrderNumber      string    `json:"order_number"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	Reason           string    `json:"reason"`
}

// ShipmentCreatedEvent is emitted per seller shipment.
type ShipmentCreatedEvent struct {
	ShipmentID     uuid.UUID `json:"shipment_id"`
	OrderID        uuid.UUID `json:"order_id"`
	SellerKey      string    `json:"seller_key"`
	TrackingNumber *string   `json:"tracking_number,omitempty"`
	CourierName    *string   `json:"courier_name,omitempty"`
	Manual         bool      `json:"manual"`
}
