package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox/payloads"
)

// FailureStockConflict is recorded when the guarded decrement misses a line.
const FailureStockConflict = "stock_conflict"

// ConfirmPayment decrements stock for every line and marks the order paid in
// one transaction. If any line cannot be covered the whole transaction rolls
// back and the order is moved to failed separately.
func (s *service) ConfirmPayment(ctx context.Context, in PaymentConfirmation) (*models.Order, error) {
	if in.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ref := strings.TrimSpace(in.PaymentReference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	paidAt := in.ConfirmedAt.UTC()
	if in.ConfirmedAt.IsZero() {
		paidAt = s.now()
	}
	ctx = s.logg.WithOrderID(ctx, in.OrderID.String())

	var (
		result   *models.Order
		conflict *StockConflict
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, in.OrderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case enums.OrderStatusPaid:
			result = order
			return nil
		case enums.OrderStatusPending:
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
				WithDetails(map[string]any{"status": order.Status})
		}

		for _, item := range order.Items {
			ok, err := s.catalog.DecrementStock(ctx, tx, item.ProductID, item.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrement stock")
			}
			if !ok {
				conflict = &StockConflict{ProductID: item.ProductID, Requested: item.Quantity}
				return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock at payment confirmation").
					WithDetails(conflict)
			}
		}

		moved, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusPaid, map[string]any{
			"payment_reference": ref,
			"completed_at":      paidAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed during payment confirmation")
		}
		order.Status = enums.OrderStatusPaid
		order.PaymentReference = &ref
		order.CompletedAt = &paidAt

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderPaidEvent{
				OrderID:          order.ID,
				OrderNumber:      order.OrderNumber,
				BuyerEmail:       order.BuyerEmail,
				Amount:           order.Amount,
				PaymentReference: ref,
				SellerKeys:       SellerKeys(order.Items),
				PaidAt:           paidAt,
			},
			OccurredAt: paidAt,
		}); err != nil {
			return err
		}
		result = order
		return nil
	})

	if conflict != nil {
		if current, lookupErr := s.catalog.FindByIDs(ctx, []uuid.UUID{conflict.ProductID}); lookupErr == nil {
			conflict.AvailableStock = current[conflict.ProductID].Stock
		}
		s.recordPayment("stock_conflict")
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"product_id": conflict.ProductID.String(),
			"requested":  conflict.Requested,
			"available":  conflict.AvailableStock,
		}), "stock guard missed at payment confirmation, order rolled back")
		if _, markErr := s.markFailed(ctx, in.OrderID, ref, FailureStockConflict); markErr != nil {
			s.logg.Error(ctx, "failed to mark order failed after stock conflict", markErr)
		}
		return nil, err
	}
	if err != nil {
		s.recordPayment("error")
		return nil, err
	}
	s.recordPayment(string(enums.PaymentStatusCaptured))
	s.logg.Info(ctx, "payment confirmed")
	return result, nil
}

// MarkPaymentFailed records a declined payment. Already failed orders are
// returned unchanged.
func (s *service) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, paymentReference, reason string) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "payment_failed"
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	order, err := s.markFailed(ctx, orderID, strings.TrimSpace(paymentReference), reason)
	if err != nil {
		return nil, err
	}
	s.recordPayment(string(enums.PaymentStatusFailed))
	return order, nil
}

func (s *service) markFailed(ctx context.Context, orderID uuid.UUID, ref, reason string) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.Status == enums.OrderStatusFailed {
			result = order
			return nil
		}
		if !CanTransition(order.Status, enums.OrderStatusFailed) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be marked failed").
				WithDetails(map[string]any{"status": order.Status})
		}
		updates := map[string]any{"failure_reason": reason}
		if ref != "" {
			updates["payment_reference"] = ref
		}
		moved, err := repo.TransitionStatus(ctx, orderID, order.Status, enums.OrderStatusFailed, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order failed")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed while marking failed")
		}
		order.Status = enums.OrderStatusFailed
		order.FailureReason = &reason
		if ref != "" {
			order.PaymentReference = &ref
		}
		result = order
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderPaymentFailedEvent{
				OrderID:          order.ID,
				OrderNumber:      order.OrderNumber,
				PaymentReference: ref,
				Reason:           reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Warn(s.logg.WithField(ctx, "reason", reason), "order marked failed")
	return result, nil
}

// SellerKeys lists the distinct seller keys of items in first-seen order.
func SellerKeys(items []models.OrderItem) []string {
	seen := map[string]struct{}{}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.SellerKey]; ok {
			continue
		}
		seen[item.SellerKey] = struct{}{}
		keys = append(keys, item.SellerKey)
	}
	return keys
}

func (s *service) recordPayment(status string) {
	if s.metrics != nil {
		s.metrics.IncPayment(status)
	}
}
