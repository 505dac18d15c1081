package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	"github.com/angelmondragon/marketplace-checkout/pkg/types"
)

// AppliedOffer is a per-item promotional offer taken before tax.
type AppliedOffer struct {
	ID              string          `json:"id,omitempty"`
	Title           string          `json:"title,omitempty"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// CartItem is one requested line.
type CartItem struct {
	ProductID uuid.UUID     `json:"product_id"`
	Quantity  int           `json:"quantity"`
	Size      *string       `json:"size,omitempty"`
	Color     *string       `json:"color,omitempty"`
	Offer     *AppliedOffer `json:"applied_offer,omitempty"`
}

// PricingRequest drives both Quote and Place.
type PricingRequest struct {
	BuyerEmail     string
	BuyerUserID    string
	Address        types.Address
	Country        string
	Items          []CartItem
	PromoCode      string
	IdempotencyKey string
}

// PromoBreakdown describes the code that was applied.
type PromoBreakdown struct {
	Code     string          `json:"code"`
	Type     enums.PromoType `json:"type"`
	Value    decimal.Decimal `json:"value"`
	Discount decimal.Decimal `json:"discount"`
}

// QuotedItem is the priced view of a single line.
type QuotedItem struct {
	ProductID            uuid.UUID       `json:"product_id"`
	Name                 string          `json:"name"`
	SellerKey            string          `json:"seller_key"`
	Quantity             int             `json:"quantity"`
	ListPrice            decimal.Decimal `json:"list_price"`
	OfferDiscountPercent decimal.Decimal `json:"offer_discount_percent"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	LineTotal            decimal.Decimal `json:"line_total"`
	GSTPercent           decimal.Decimal `json:"gst_percent"`
	GSTAmount            decimal.Decimal `json:"gst_amount"`
	CGST                 decimal.Decimal `json:"cgst"`
	SGST                 decimal.Decimal `json:"sgst"`
	IGST                 decimal.Decimal `json:"igst"`
	Stock                int             `json:"stock"`
	Size                 *string         `json:"size,omitempty"`
	Color                *string         `json:"color,omitempty"`
}

// Quote is the full breakdown returned by a dry run.
type Quote struct {
	Country             string          `json:"country"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	TaxTotal            decimal.Decimal `json:"tax"`
	DeliveryFee         decimal.Decimal `json:"delivery_fee"`
	TotalBeforeDiscount decimal.Decimal `json:"total_before_discount"`
	Discount            decimal.Decimal `json:"promo_discount"`
	Total               decimal.Decimal `json:"total"`
	Promo               *PromoBreakdown `json:"promo,omitempty"`
	Items               []QuotedItem    `json:"items"`
}

// Placement is the commit response.
type Placement struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	Status      enums.OrderStatus `json:"status"`
	Amount      decimal.Decimal   `json:"amount"`
	Duplicate   bool              `json:"duplicate"`
}

// OrderPage is one page of a buyer's order history. NextCursor is empty on
// the last page.
type OrderPage struct {
	Orders     []models.Order
	NextCursor string
}

// PaymentConfirmation is a captured payment reported by the payment provider.
type PaymentConfirmation struct {
	OrderID          uuid.UUID
	PaymentReference string
	ConfirmedAt      time.Time
}

// StockConflict is attached to CONFLICT errors raised for insufficient stock.
type StockConflict struct {
	ProductID      uuid.UUID `json:"product_id"`
	AvailableStock int       `json:"available_stock"`
	Requested      int       `json:"requested"`
}
