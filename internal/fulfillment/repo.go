package fulfillment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
)

// UniqueShipmentConstraint allows one shipment per seller per order.
const UniqueShipmentConstraint = "ux_shipments_order_seller"

// Repository persists shipments and the pickup locations provisioned for sellers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error)
	FindByOrderAndSeller(ctx context.Context, orderID uuid.UUID, sellerKey string) (*models.Shipment, error)
	CreateShipment(ctx context.Context, shipment *models.Shipment) error
	UpsertManual(ctx context.Context, shipment *models.Shipment) error
	FindPickupLocation(ctx context.Context, sellerKey string) (*models.PickupLocation, error)
	SavePickupLocation(ctx context.Context, loc *models.PickupLocation) error
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

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error) {
	var rows []models.Shipment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, seller_key ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindByOrderAndSeller(ctx context.Context, orderID uuid.UUID, sellerKey string) (*models.Shipment, error) {
	var row models.Shipment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND seller_key = ?", orderID, sellerKey).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) CreateShipment(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

// UpsertManual records a seller-supplied tracking number, replacing the
// tracking details of any shipment the seller already has on the order.
func (r *repository) UpsertManual(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}, {Name: "seller_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tracking_number", "courier_name", "status", "manual", "item_ids", "updated_at",
			}),
		}).
		Create(shipment).Error
}

func (r *repository) FindPickupLocation(ctx context.Context, sellerKey string) (*models.PickupLocation, error) {
	var row models.PickupLocation
	err := r.db.WithContext(ctx).Where("seller_key = ?", sellerKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SavePickupLocation is a no-op when the seller already has a location.
func (r *repository) SavePickupLocation(ctx context.Context, loc *models.PickupLocation) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "seller_key"}}, DoNothing: true}).
		Create(loc).Error
}
