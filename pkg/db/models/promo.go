package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
)

// PromoCode is stored upper-case; Code is unique.
type PromoCode struct {
	ID                    uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code                  string          `gorm:"column:code;not null;uniqueIndex"`
	Type                  enums.PromoType `gorm:"column:type;not null"`
	Value                 decimal.Decimal `gorm:"column:value;type:numeric(12,2);not null"`
	Active                bool            `gorm:"column:active;not null;default:true"`
	StartsAt              *time.Time      `gorm:"column:starts_at"`
	EndsAt                *time.Time      `gorm:"column:ends_at"`
	MaxRedemptions        *int            `gorm:"column:max_redemptions"`
	MaxRedemptionsPerUser *int            `gorm:"column:max_redemptions_per_user"`
	Country               *string         `gorm:"column:country"`
	UsageCount            int             `gorm:"column:usage_count;not null;default:0"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PromoCode) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// PromoCodeUsage is one redemption, written alongside the usage_count bump.
type PromoCodeUsage struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PromoCodeID uuid.UUID       `gorm:"column:promo_code_id;type:uuid;not null"`
	Code        string          `gorm:"column:code;not null"`
	BuyerEmail  string          `gorm:"column:buyer_email;not null"`
	OrderID     uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	Discount    decimal.Decimal `gorm:"column:discount;type:numeric(12,2);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (u *PromoCodeUsage) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
