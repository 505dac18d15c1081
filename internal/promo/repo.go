package promo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
)

// Repository persists promo codes and their usage ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, code string) (*models.PromoCode, error)
	CountBuyerUsages(ctx context.Context, promoID uuid.UUID, buyerEmail string) (int64, error)
	CreateUsage(ctx context.Context, usage *models.PromoCodeUsage) error
	IncrementUsage(ctx context.Context, promoID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByCode returns nil when no row matches.
func (r *repository) FindByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := r.db.WithContext(ctx).Where("code = ?", strings.ToUpper(code)).First(&promo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

func (r *repository) CountBuyerUsages(ctx context.Context, promoID uuid.UUID, buyerEmail string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PromoCodeUsage{}).
		Where("promo_code_id = ? AND lower(buyer_email) = ?", promoID, strings.ToLower(strings.TrimSpace(buyerEmail))).
		Count(&count).Error
	return count, err
}

func (r *repository) CreateUsage(ctx context.Context, usage *models.PromoCodeUsage) error {
	return r.db.WithContext(ctx).Create(usage).Error
}

func (r *repository) IncrementUsage(ctx context.Context, promoID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.PromoCode{}).
		Where("id = ?", promoID).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
