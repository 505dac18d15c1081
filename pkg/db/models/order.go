package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	"github.com/angelmondragon/marketplace-checkout/pkg/types"
)

// Order is a committed checkout. Monetary columns are in major units.
type Order struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber         string              `gorm:"column:order_number;not null;uniqueIndex"`
	BuyerEmail          string              `gorm:"column:buyer_email;not null;index"`
	BuyerUserID         *string             `gorm:"column:buyer_user_id"`
	ShippingAddress     types.Address       `gorm:"column:shipping_address;type:jsonb;not null"`
	Country             string              `gorm:"column:country;not null"`
	Subtotal            decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null"`
	TaxTotal            decimal.Decimal     `gorm:"column:tax_total;type:numeric(12,2);not null"`
	DeliveryFee         decimal.Decimal     `gorm:"column:delivery_fee;type:numeric(12,2);not null"`
	TotalBeforeDiscount decimal.Decimal     `gorm:"column:total_before_discount;type:numeric(12,2);not null"`
	PromoDiscount       decimal.Decimal     `gorm:"column:promo_discount;type:numeric(12,2);not null"`
	Amount              decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	PromoCode           *string             `gorm:"column:promo_code"`
	PromoType           *enums.PromoType    `gorm:"column:promo_type"`
	PromoValue          decimal.NullDecimal `gorm:"column:promo_value;type:numeric(12,2)"`
	ItemCount           int                 `gorm:"column:item_count;not null"`
	Status              enums.OrderStatus   `gorm:"column:status;not null;default:'pending'"`
	IdempotencyKey      *string             `gorm:"column:idempotency_key"`
	PaymentReference    *string             `gorm:"column:payment_reference"`
	FailureReason       *string             `gorm:"column:failure_reason"`
	CompletedAt         *time.Time          `gorm:"column:completed_at"`
	Items               []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderItem snapshots a priced line at commit time.
type OrderItem struct {
	ID                   uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	LineNo               int             `gorm:"column:line_no;not null"`
	ProductID            uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	SellerKey            string          `gorm:"column:seller_key;not null"`
	Name                 string          `gorm:"column:name;not null"`
	Quantity             int             `gorm:"column:quantity;not null"`
	ListPrice            decimal.Decimal `gorm:"column:list_price;type:numeric(12,2);not null"`
	UnitPrice            decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	OfferID              *string         `gorm:"column:offer_id"`
	OfferTitle           *string         `gorm:"column:offer_title"`
	OfferDiscountPercent decimal.Decimal `gorm:"column:offer_discount_percent;type:numeric(5,2);not null;default:0"`
	Size                 *string         `gorm:"column:size"`
	Color                *string         `gorm:"column:color"`
	LineTotal            decimal.Decimal `gorm:"column:line_total;type:numeric(12,2);not null"`
	GSTPercent           decimal.Decimal `gorm:"column:gst_percent;type:numeric(5,2);not null"`
	GSTAmount            decimal.Decimal `gorm:"column:gst_amount;type:numeric(12,2);not null"`
	CGST                 decimal.Decimal `gorm:"column:cgst;type:numeric(12,2);not null"`
	SGST                 decimal.Decimal `gorm:"column:sgst;type:numeric(12,2);not null"`
	IGST                 decimal.Decimal `gorm:"column:igst;type:numeric(12,2);not null"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
