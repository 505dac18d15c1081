// Package sellers resolves seller identity by email across every backing
// store that may know the seller. Callers see a single Repository.
package sellers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
)

// Seller is the subset of seller data checkout needs for tax and pickup.
type Seller struct {
	Email   string
	Name    string
	Phone   string
	Address string
	City    string
	State   string
	Pincode string
	Country string
	Source  string
}

// Repository finds a seller by email. A miss is (nil, nil).
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Seller, error)
}

// Source is one backing store in a Chain.
type Source interface {
	Repository
	Name() string
}

// Chain searches its sources in order and returns the first hit.
type Chain struct {
	sources []Source
}

func NewChain(sources ...Source) (*Chain, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one seller source required")
	}
	for i, s := range sources {
		if s == nil {
			return nil, fmt.Errorf("seller source %d is nil", i)
		}
	}
	return &Chain{sources: sources}, nil
}

func (c *Chain) FindByEmail(ctx context.Context, email string) (*Seller, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	for _, src := range c.sources {
		seller, err := src.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("seller lookup in %s: %w", src.Name(), err)
		}
		if seller != nil {
			seller.Source = src.Name()
			return seller, nil
		}
	}
	return nil, nil
}

// AdminKey groups stock owned by the platform or created without a seller.
const AdminKey = "ADMIN"

// KeyFor returns the partition key for a product: its creator's normalized
// email, or AdminKey.
func KeyFor(p models.Product) string {
	if p.IsAdminProduct || p.CreatedByEmail == nil {
		return AdminKey
	}
	if email := NormalizeEmail(*p.CreatedByEmail); email != "" {
		return email
	}
	return AdminKey
}

// NormalizeEmail trims and lower-cases an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ProfileStore reads the seller_profiles table.
type ProfileStore struct {
	db *gorm.DB
}

func NewProfileStore(db *gorm.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func (s *ProfileStore) Name() string { return "seller_profiles" }

func (s *ProfileStore) FindByEmail(ctx context.Context, email string) (*Seller, error) {
	var row models.SellerProfile
	err := s.db.WithContext(ctx).Where("lower(email) = ?", NormalizeEmail(email)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(row.BusinessName)
	if name == "" {
		name = str(row.ContactName)
	}
	address := strings.TrimSpace(strings.Join([]string{str(row.AddressLine1), str(row.AddressLine2)}, " "))
	return &Seller{
		Email:   NormalizeEmail(row.Email),
		Name:    name,
		Phone:   str(row.Phone),
		Address: address,
		City:    str(row.City),
		State:   str(row.State),
		Pincode: str(row.Pincode),
		Country: str(row.Country),
	}, nil
}

// LegacyUserStore reads vendor accounts from marketplace_users, the store
// sellers lived in before seller profiles existed.
type LegacyUserStore struct {
	db *gorm.DB
}

func NewLegacyUserStore(db *gorm.DB) *LegacyUserStore {
	return &LegacyUserStore{db: db}
}

func (s *LegacyUserStore) Name() string { return "marketplace_users" }

func (s *LegacyUserStore) FindByEmail(ctx context.Context, email string) (*Seller, error) {
	var row models.MarketplaceUser
	err := s.db.WithContext(ctx).
		Where("lower(email) = ? AND role IN ?", NormalizeEmail(email), []string{"vendor", "seller"}).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Seller{
		Email:   NormalizeEmail(row.Email),
		Name:    row.Name,
		Phone:   str(row.Phone),
		Address: str(row.Address),
		City:    str(row.City),
		State:   str(row.State),
		Pincode: str(row.Pincode),
		Country: str(row.Country),
	}, nil
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
