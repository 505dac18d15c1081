package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is the catalog row consumed by checkout. Catalog management lives
// elsewhere; checkout only reads it and decrements stock.
type Product struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name           string              `gorm:"column:name;not null"`
	Price          decimal.Decimal     `gorm:"column:price;type:numeric(12,2);not null"`
	Stock          int                 `gorm:"column:stock;not null;default:0"`
	Category       *string             `gorm:"column:category"`
	GSTPercent     decimal.NullDecimal `gorm:"column:gst_percent;type:numeric(5,2)"`
	Weight         *float64            `gorm:"column:weight"`
	WeightUnit     *string             `gorm:"column:weight_unit"`
	Height         *float64            `gorm:"column:height"`
	Width          *float64            `gorm:"column:width"`
	Length         *float64            `gorm:"column:length"`
	DimensionUnit  *string             `gorm:"column:dimension_unit"`
	CreatedByEmail *string             `gorm:"column:created_by_email"`
	SellerState    *string             `gorm:"column:seller_state"`
	IsAdminProduct bool                `gorm:"column:is_admin_product;not null;default:false"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
