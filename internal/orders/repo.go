package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	"github.com/angelmondragon/marketplace-checkout/pkg/pagination"
)

// UniqueIdempotencyConstraint guards one order per (buyer, idempotency key).
const UniqueIdempotencyConstraint = "ux_orders_buyer_idempotency_key"

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIdempotencyKey(ctx context.Context, buyerEmail, key string) (*models.Order, error)
	FindRecentPending(ctx context.Context, buyerEmail string, since time.Time) ([]models.Order, error)
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ListByBuyer(ctx context.Context, buyerEmail string, limit int, cursor *pagination.Cursor) ([]models.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
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

// Create inserts the order, then its items with the order id stamped on them.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	conn := r.db.WithContext(ctx)
	if err := conn.Omit(clause.Associations).Create(order).Error; err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		order.Items[i].LineNo = i + 1
	}
	return conn.Create(&order.Items).Error
}

// FindByID loads the order with its items. Missing rows return gorm.ErrRecordNotFound.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, buyerEmail, key string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("buyer_email = ? AND idempotency_key = ?", buyerEmail, key).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindRecentPending lists the buyer's pending orders created at or after since,
// newest first.
func (r *repository) FindRecentPending(ctx context.Context, buyerEmail string, since time.Time) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("buyer_email = ? AND status = ? AND created_at >= ?", buyerEmail, enums.OrderStatusPending, since.UTC()).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// FindPendingBefore lists unpaid orders created before cutoff, oldest first.
func (r *repository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff.UTC()).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// ListByBuyer returns up to limit+1 of a buyer's orders, newest first,
// starting after cursor.
func (r *repository) ListByBuyer(ctx context.Context, buyerEmail string, limit int, cursor *pagination.Cursor) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("buyer_email = ?", buyerEmail).
		Scopes(pagination.After(cursor, limit)).
		Find(&rows).Error
	return rows, err
}

// TransitionStatus applies updates only while the order is still in from. It
// reports false when another writer moved the order first.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
