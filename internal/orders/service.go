package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/internal/promo"
	"github.com/angelmondragon/marketplace-checkout/internal/sellers"
	"github.com/angelmondragon/marketplace-checkout/internal/tax"
	"github.com/angelmondragon/marketplace-checkout/pkg/config"
	"github.com/angelmondragon/marketplace-checkout/pkg/db"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-checkout/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productCatalog interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
	DecrementStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) (bool, error)
}

type promoEngine interface {
	Evaluate(ctx context.Context, in promo.EvaluateInput) (*promo.Applied, error)
	Redeem(ctx context.Context, tx *gorm.DB, applied *promo.Applied, buyerEmail string, orderID uuid.UUID) error
}

type checkoutRecorder interface {
	ObserveCheckout(mode, outcome string, elapsed time.Duration)
	IncPayment(status string)
}

// Service prices carts, commits orders and settles payments.
type Service interface {
	Quote(ctx context.Context, req PricingRequest) (*Quote, error)
	Place(ctx context.Context, req PricingRequest) (*Placement, error)
	ConfirmPayment(ctx context.Context, in PaymentConfirmation) (*models.Order, error)
	MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, paymentReference, reason string) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListForBuyer(ctx context.Context, buyerEmail string, params pagination.Params) (*OrderPage, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	catalog productCatalog
	calc    *tax.Calculator
	sellers sellers.Repository
	promos  promoEngine
	outbox  outbox.Emitter
	cfg     config.CheckoutConfig
	logg    *logger.Logger
	metrics checkoutRecorder
	now     func() time.Time
}

// NewService wires the order assembler. metrics may be nil.
func NewService(
	repo Repository,
	tx txRunner,
	catalog productCatalog,
	calc *tax.Calculator,
	sellerRepo sellers.Repository,
	promos promoEngine,
	emitter outbox.Emitter,
	cfg config.CheckoutConfig,
	logg *logger.Logger,
	metrics checkoutRecorder,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("product catalog required")
	}
	if calc == nil {
		return nil, fmt.Errorf("tax calculator required")
	}
	if sellerRepo == nil {
		return nil, fmt.Errorf("seller repository required")
	}
	if promos == nil {
		return nil, fmt.Errorf("promo engine required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if cfg.DeliveryFee < 0 {
		return nil, fmt.Errorf("delivery fee must not be negative")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:    repo,
		tx:      tx,
		catalog: catalog,
		calc:    calc,
		sellers: sellerRepo,
		promos:  promos,
		outbox:  emitter,
		cfg:     cfg,
		logg:    logg,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Quote(ctx context.Context, req PricingRequest) (*Quote, error) {
	start := time.Now()
	quote, err := s.quote(ctx, req)
	s.observe("dry_run", outcomeOf(err, "quoted"), start)
	return quote, err
}

func (s *service) quote(ctx context.Context, req PricingRequest) (*Quote, error) {
	if err := validateRequest(req, false); err != nil {
		return nil, err
	}
	products, err := s.loadProducts(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	priced, err := s.price(ctx, req, products)
	if err != nil {
		return nil, err
	}
	return priced.quote, nil
}

func (s *service) Place(ctx context.Context, req PricingRequest) (*Placement, error) {
	start := time.Now()
	placement, err := s.place(ctx, req)
	outcome := outcomeOf(err, "placed")
	if err == nil && placement.Duplicate {
		outcome = "duplicate"
	}
	s.observe("commit", outcome, start)
	return placement, err
}

func (s *service) place(ctx context.Context, req PricingRequest) (*Placement, error) {
	if err := validateRequest(req, true); err != nil {
		return nil, err
	}
	buyer := sellers.NormalizeEmail(req.BuyerEmail)
	key := strings.TrimSpace(req.IdempotencyKey)
	ctx = s.logg.WithBuyer(ctx, buyer)

	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, buyer, key)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup idempotent order")
		}
		if existing != nil {
			s.logg.Info(s.logg.WithOrderID(ctx, existing.ID.String()), "idempotency key replayed existing order")
			return duplicatePlacement(existing), nil
		}
	}

	products, err := s.loadProducts(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	if err := checkStock(req.Items, products); err != nil {
		return nil, err
	}
	priced, err := s.price(ctx, req, products)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if key == "" && s.cfg.DuplicateWindow > 0 {
		existing, err := s.findRecentDuplicate(ctx, buyer, priced.quote.TotalBeforeDiscount, len(priced.items), now)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logg.Warn(s.logg.WithOrderID(ctx, existing.ID.String()), "duplicate submission within window returned existing order")
			return duplicatePlacement(existing), nil
		}
	}

	order := buildOrder(req, buyer, key, priced, now)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		if err := s.promos.Redeem(ctx, tx, priced.applied, buyer, order.ID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{Email: buyer, Role: string(enums.RoleBuyer)},
			Data: payloads.OrderPlacedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerEmail:  buyer,
				Amount:      order.Amount,
				ItemCount:   order.ItemCount,
				PromoCode:   order.PromoCode,
			},
		})
	})
	if err != nil {
		if key != "" && db.IsUniqueViolation(err, UniqueIdempotencyConstraint) {
			winner, lookupErr := s.repo.FindByIdempotencyKey(ctx, buyer, key)
			if lookupErr == nil && winner != nil {
				s.logg.Info(s.logg.WithOrderID(ctx, winner.ID.String()), "concurrent placement lost idempotency race")
				return duplicatePlacement(winner), nil
			}
		}
		s.logg.Error(ctx, "failed to persist order", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist order")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
		"amount":       order.Amount.String(),
	}), "order placed")

	return &Placement{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Amount:      order.Amount,
	}, nil
}

// findRecentDuplicate matches on the pre-discount total: a replayed cart whose
// promo was already redeemed by the first submission prices higher.
func (s *service) findRecentDuplicate(ctx context.Context, buyer string, preDiscount decimal.Decimal, itemCount int, now time.Time) (*models.Order, error) {
	recent, err := s.repo.FindRecentPending(ctx, buyer, now.Add(-s.cfg.DuplicateWindow))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup recent orders")
	}
	for i := range recent {
		if recent[i].TotalBeforeDiscount.Equal(preDiscount) && recent[i].ItemCount == itemCount {
			return &recent[i], nil
		}
	}
	return nil, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.loadOrder(ctx, s.repo, orderID)
}

func (s *service) ListForBuyer(ctx context.Context, buyerEmail string, params pagination.Params) (*OrderPage, error) {
	buyer := sellers.NormalizeEmail(buyerEmail)
	if buyer == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer email required")
	}
	limit, cursor, err := params.Resolve()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByBuyer(ctx, buyer, limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}

	page := &OrderPage{}
	page.Orders, page.NextCursor = pagination.Page(rows, limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return page, nil
}

func (s *service) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

func (s *service) loadProducts(ctx context.Context, items []CartItem) (map[uuid.UUID]models.Product, error) {
	ids := make([]uuid.UUID, 0, len(items))
	seen := map[uuid.UUID]struct{}{}
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalog.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load products")
	}
	missing := []string{}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown products in cart").
			WithDetails(map[string]any{"missing_product_ids": missing})
	}
	return products, nil
}

func (s *service) observe(mode, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveCheckout(mode, outcome, time.Since(start))
	}
}

func validateRequest(req PricingRequest, commit bool) error {
	if commit && strings.TrimSpace(req.BuyerEmail) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer email required")
	}
	if len(req.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	for i, item := range req.Items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d].product_id required", i))
		}
		if item.Quantity < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d].quantity must be at least 1", i))
		}
	}
	return nil
}

// checkStock compares the summed requested quantity per product with the
// current stock. It is advisory; ConfirmPayment enforces it atomically.
func checkStock(items []CartItem, products map[uuid.UUID]models.Product) error {
	requested := map[uuid.UUID]int{}
	order := []uuid.UUID{}
	for _, item := range items {
		if _, ok := requested[item.ProductID]; !ok {
			order = append(order, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}
	for _, id := range order {
		product := products[id]
		if product.Stock < requested[id] {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
				WithDetails(StockConflict{ProductID: id, AvailableStock: product.Stock, Requested: requested[id]})
		}
	}
	return nil
}

func duplicatePlacement(order *models.Order) *Placement {
	return &Placement{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Amount:      order.Amount,
		Duplicate:   true,
	}
}

func outcomeOf(err error, success string) string {
	if err == nil {
		return success
	}
	return strings.ToLower(string(pkgerrors.CodeOf(err)))
}
