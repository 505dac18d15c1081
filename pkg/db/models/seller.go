package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SellerProfile is the primary seller store.
type SellerProfile struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"column:email;not null;uniqueIndex"`
	BusinessName string    `gorm:"column:business_name;not null"`
	ContactName  *string   `gorm:"column:contact_name"`
	Phone        *string   `gorm:"column:phone"`
	AddressLine1 *string   `gorm:"column:address_line1"`
	AddressLine2 *string   `gorm:"column:address_line2"`
	City         *string   `gorm:"column:city"`
	State        *string   `gorm:"column:state"`
	Pincode      *string   `gorm:"column:pincode"`
	Country      *string   `gorm:"column:country"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SellerProfile) TableName() string { return "seller_profiles" }

func (s *SellerProfile) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// MarketplaceUser is the legacy account store; vendor rows double as seller
// records for sellers onboarded before seller profiles existed.
type MarketplaceUser struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string    `gorm:"column:email;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;not null"`
	Role      string    `gorm:"column:role;not null"`
	Phone     *string   `gorm:"column:phone"`
	Address   *string   `gorm:"column:address"`
	City      *string   `gorm:"column:city"`
	State     *string   `gorm:"column:state"`
	Pincode   *string   `gorm:"column:pincode"`
	Country   *string   `gorm:"column:country"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (MarketplaceUser) TableName() string { return "marketplace_users" }

func (u *MarketplaceUser) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
