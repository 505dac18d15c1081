package maintenance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/types"
)

func seedOrder(t *testing.T, conn *gorm.DB, n int, status enums.OrderStatus, createdAt time.Time) models.Order {
	t.Helper()
	order := models.Order{
		OrderNumber: fmt.Sprintf("ORD-%04d", n),
		BuyerEmail:  "asha@example.com",
		ShippingAddress: types.Address{
			Name: "Asha", Phone: "9000000000", Line1: "1 MG Road", City: "Bengaluru",
			State: "Karnataka", PostalCode: "560001", Country: "India",
		},
		Country:             "India",
		Subtotal:            decimal.NewFromInt(100),
		TaxTotal:            decimal.NewFromInt(18),
		DeliveryFee:         decimal.Zero,
		TotalBeforeDiscount: decimal.NewFromInt(118),
		PromoDiscount:       decimal.Zero,
		Amount:              decimal.NewFromInt(118),
		ItemCount:           1,
		Status:              status,
		CreatedAt:           createdAt,
	}
	require.NoError(t, conn.Create(&order).Error)
	return order
}

func TestOrderExpiryCancelsStalePendingOrders(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Now().UTC()
	stale := seedOrder(t, conn, 1, enums.OrderStatusPending, now.Add(-72*time.Hour))
	fresh := seedOrder(t, conn, 2, enums.OrderStatusPending, now.Add(-time.Hour))
	paid := seedOrder(t, conn, 3, enums.OrderStatusPaid, now.Add(-72*time.Hour))

	job, err := NewOrderExpiryJob(orders.NewRepository(conn), 48*time.Hour, 10, logger.Nop())
	require.NoError(t, err)
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))

	statusOf := func(id uuid.UUID) models.Order {
		var row models.Order
		require.NoError(t, conn.First(&row, "id = ?", id).Error)
		return row
	}
	expired := statusOf(stale.ID)
	assert.Equal(t, enums.OrderStatusCancelled, expired.Status)
	require.NotNil(t, expired.FailureReason)
	assert.Equal(t, ExpiredReason, *expired.FailureReason)
	assert.Equal(t, enums.OrderStatusPending, statusOf(fresh.ID).Status)
	assert.Equal(t, enums.OrderStatusPaid, statusOf(paid.ID).Status)
}

type flakyOrderStore struct {
	pending []models.Order
	failOn  uuid.UUID
	moved   []uuid.UUID
}

func (f *flakyOrderStore) FindPendingBefore(context.Context, time.Time, int) ([]models.Order, error) {
	return f.pending, nil
}

func (f *flakyOrderStore) TransitionStatus(_ context.Context, id uuid.UUID, _, _ enums.OrderStatus, _ map[string]any) (bool, error) {
	if id == f.failOn {
		return false, errors.New("deadlock")
	}
	f.moved = append(f.moved, id)
	return true, nil
}

func TestOrderExpiryContinuesPastFailures(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	store := &flakyOrderStore{
		pending: []models.Order{{ID: first}, {ID: second}},
		failOn:  first,
	}
	job, err := NewOrderExpiryJob(store, 0, 0, logger.Nop())
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), first.String())
	assert.Equal(t, []uuid.UUID{second}, store.moved)
	assert.Equal(t, defaultPaymentWindow, job.window)
	assert.Equal(t, defaultExpiryBatchSize, job.batchSize)
}
