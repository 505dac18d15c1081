package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
)

const (
	defaultPaymentWindow   = 48 * time.Hour
	defaultExpiryBatchSize = 200

	// ExpiredReason is stored as the failure reason on expired orders.
	ExpiredReason = "payment window elapsed"
)

type pendingOrderStore interface {
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
}

// OrderExpiryJob cancels orders that never received a payment confirmation
// within the payment window. Stock is only decremented at payment, so an
// expired order holds nothing that needs releasing.
type OrderExpiryJob struct {
	logg      *logger.Logger
	orders    pendingOrderStore
	window    time.Duration
	batchSize int
	now       func() time.Time
}

func NewOrderExpiryJob(orders pendingOrderStore, window time.Duration, batchSize int, logg *logger.Logger) (*OrderExpiryJob, error) {
	if orders == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if window <= 0 {
		window = defaultPaymentWindow
	}
	if batchSize <= 0 {
		batchSize = defaultExpiryBatchSize
	}
	return &OrderExpiryJob{
		logg:      logg,
		orders:    orders,
		window:    window,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

func (j *OrderExpiryJob) Name() string { return "order-expiry" }

func (j *OrderExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.window)
	pending, err := j.orders.FindPendingBefore(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("query pending orders: %w", err)
	}

	var errs error
	expired := 0
	for _, order := range pending {
		// A webhook may confirm the order between the read and this update;
		// the guarded transition lets the payment win.
		ok, err := j.orders.TransitionStatus(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusCancelled, map[string]any{
			"failure_reason": ExpiredReason,
			"completed_at":   now,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		if ok {
			expired++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"scanned": len(pending),
		"expired": expired,
	}), "pending order expiry complete")
	return errs
}
