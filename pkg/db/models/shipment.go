package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
)

// Shipment is the per-seller fulfillment unit of an order. (order_id,
// seller_key) is unique.
type Shipment struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	SellerKey          string               `gorm:"column:seller_key;not null"`
	ItemIDs            []string             `gorm:"column:item_ids;type:jsonb;serializer:json"`
	PickupLocation     *string              `gorm:"column:pickup_location"`
	CarrierOrderID     *string              `gorm:"column:carrier_order_id"`
	CarrierShipmentID  *string              `gorm:"column:carrier_shipment_id"`
	TrackingNumber     *string              `gorm:"column:tracking_number"`
	CourierName        *string              `gorm:"column:courier_name"`
	InvoiceURL         *string              `gorm:"column:invoice_url"`
	ChargeableWeightKg float64              `gorm:"column:chargeable_weight_kg;not null;default:0"`
	LengthCm           float64              `gorm:"column:length_cm;not null;default:0"`
	BreadthCm          float64              `gorm:"column:breadth_cm;not null;default:0"`
	HeightCm           float64              `gorm:"column:height_cm;not null;default:0"`
	Status             enums.ShipmentStatus `gorm:"column:status;not null"`
	Manual             bool                 `gorm:"column:manual;not null;default:false"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shipment) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// PickupLocation records a carrier pickup location provisioned for a seller.
type PickupLocation struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerKey    string    `gorm:"column:seller_key;not null;uniqueIndex"`
	LocationName string    `gorm:"column:location_name;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (p *PickupLocation) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
